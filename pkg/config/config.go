package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr   = "0.0.0.0:8080"
	DefaultSignalingURL = "ws://localhost:8080/ws"
	DefaultRealtimeURL  = "wss://api.openai.com/v1/realtime"
	DefaultModel        = "gpt-4o-realtime-preview-2024-10-01"
	DefaultVoice        = "nova"
	DefaultInstructions = "You are a helpful assistant. Talk naturally and warmly."
	DefaultCodec        = "pcmu"
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

// Speech holds the upstream speech service settings.
type Speech struct {
	APIKey       string  `yaml:"api_key"`
	URL          string  `yaml:"url"`
	Model        string  `yaml:"model"`
	Voice        string  `yaml:"voice"`
	Instructions string  `yaml:"instructions"`
	VADThreshold float64 `yaml:"vad_threshold"`
	PrefixPadMs  int     `yaml:"prefix_padding_ms"`
	SilenceMs    int     `yaml:"silence_duration_ms"`
}

// ICE holds STUN/TURN settings in the same comma separated form as the environment.
type ICE struct {
	StunServers    string `yaml:"stun_servers"`
	TurnServers    string `yaml:"turn_servers"`
	TurnUsername   string `yaml:"turn_username"`
	TurnCredential string `yaml:"turn_credential"`
}

type Config struct {
	ListenAddr       string `yaml:"listen_addr"`
	TLSEnabled       bool   `yaml:"tls_enabled"`
	SignalingURL     string `yaml:"signaling_url"`
	AudioCodec       string `yaml:"audio_codec"`
	LogLevel         string `yaml:"log_level"`
	DiscoveryEnabled bool   `yaml:"discovery_enabled"`
	Speech           Speech `yaml:"speech"`
	ICE              ICE    `yaml:"ice"`
}

// Default returns a configuration populated with built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:   DefaultListenAddr,
		SignalingURL: DefaultSignalingURL,
		AudioCodec:   DefaultCodec,
		LogLevel:     "info",
		Speech: Speech{
			URL:          DefaultRealtimeURL,
			Model:        DefaultModel,
			Voice:        DefaultVoice,
			Instructions: DefaultInstructions,
			VADThreshold: 0.5,
			PrefixPadMs:  300,
			SilenceMs:    500,
		},
		ICE: ICE{
			StunServers: "stun:stun.l.google.com:19302",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setBool(&c.TLSEnabled, "TLS_ENABLED")
	setString(&c.SignalingURL, "SIGNALING_URL")
	setString(&c.AudioCodec, "AUDIO_CODEC")
	setString(&c.LogLevel, "LOG_LEVEL")
	setBool(&c.DiscoveryEnabled, "DISCOVERY_ENABLED")

	setString(&c.Speech.APIKey, "OPENAI_API_KEY")
	setString(&c.Speech.URL, "OPENAI_REALTIME_URL")
	setString(&c.Speech.Model, "OPENAI_MODEL")
	setString(&c.Speech.Voice, "OPENAI_VOICE")
	setString(&c.Speech.Instructions, "OPENAI_INSTRUCTIONS")

	setString(&c.ICE.StunServers, "STUN_SERVERS")
	setString(&c.ICE.TurnServers, "TURN_SERVERS")
	setString(&c.ICE.TurnUsername, "TURN_USERNAME")
	setString(&c.ICE.TurnCredential, "TURN_CREDENTIAL")
}

// ValidateServer checks the settings the relay server cannot run without.
func (c Config) ValidateServer() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is empty")
	}
	if c.Speech.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ValidateClient checks the settings a host or guest peer cannot run without.
func (c Config) ValidateClient() error {
	if c.SignalingURL == "" {
		return errors.New("signaling url is empty")
	}
	if len(c.StunServers()) == 0 {
		return errors.New("no STUN servers configured")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-boolean environment value")
		return
	}
	*dst = b
}

func getServersFromString(envServers string) []string {
	var servers []string
	for _, server := range strings.Split(envServers, ",") {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}
	return servers
}

// StunServers returns the configured STUN servers as ICE servers.
func (c Config) StunServers() []webrtc.ICEServer {
	serverList := getServersFromString(c.ICE.StunServers)
	stunServers := make([]webrtc.ICEServer, len(serverList))
	for i, server := range serverList {
		stunServers[i] = webrtc.ICEServer{
			URLs: []string{server},
		}
	}
	return stunServers
}

// TurnServers returns the configured TURN servers with credentials attached.
func (c Config) TurnServers() []webrtc.ICEServer {
	serverList := getServersFromString(c.ICE.TurnServers)
	if len(serverList) == 0 {
		log.Debug().Msg("TURN server configuration missing, relayed candidates unavailable")
	}
	turnServers := make([]webrtc.ICEServer, len(serverList))
	for i, server := range serverList {
		turnServers[i] = webrtc.ICEServer{
			URLs:       []string{server},
			Username:   c.ICE.TurnUsername,
			Credential: c.ICE.TurnCredential,
		}
	}
	return turnServers
}
