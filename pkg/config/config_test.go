package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/stun"
)

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	yamlData := "listen_addr: 127.0.0.1:9000\nspeech:\n  voice: shimmer\n  model: from-yaml\nice:\n  turn_servers: turn:a:3478, turn:b:3478\n  turn_username: u\n  turn_credential: p\n"
	if err := os.WriteFile(path, []byte(yamlData), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_MODEL", "from-env")
	t.Setenv("TLS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Speech.Voice != "shimmer" {
		t.Errorf("Voice = %q, want shimmer", cfg.Speech.Voice)
	}
	if cfg.Speech.Model != "from-env" {
		t.Errorf("Model = %q, env should win over yaml", cfg.Speech.Model)
	}
	if !cfg.TLSEnabled {
		t.Error("TLSEnabled = false, want true")
	}
	if cfg.Speech.SilenceMs != 500 {
		t.Errorf("SilenceMs = %d, default should survive", cfg.Speech.SilenceMs)
	}

	turn := cfg.TurnServers()
	if len(turn) != 2 {
		t.Fatalf("got %d TURN servers, want 2", len(turn))
	}
	for _, server := range turn {
		if len(server.URLs) == 0 {
			t.Error("TURN server has no URLs")
		}
		if server.Username != "u" || server.Credential != "p" {
			t.Errorf("TURN credentials = %q/%q", server.Username, server.Credential)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateServer(); err != ErrMissingAPIKey {
		t.Errorf("ValidateServer without key = %v, want ErrMissingAPIKey", err)
	}
	cfg.Speech.APIKey = "sk-test"
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("ValidateServer: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Errorf("ValidateClient: %v", err)
	}
	cfg.ICE.StunServers = " , "
	if err := cfg.ValidateClient(); err == nil {
		t.Error("ValidateClient with no STUN servers should fail")
	}
}

func TestStunAddress(t *testing.T) {
	tests := map[string]string{
		"stun:stun.l.google.com:19302": "stun.l.google.com:19302",
		"stun:example.org":             "example.org:3478",
	}
	for in, want := range tests {
		got, err := stunAddress(in)
		if err != nil || got != want {
			t.Errorf("stunAddress(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := stunAddress("turn:x"); err == nil {
		t.Error("stunAddress accepted a turn url")
	}
}

// serveStun answers binding requests on a loopback socket.
func serveStun(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1024)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			udpAddr := addr.(*net.UDPAddr)
			resp, err := stun.Build(req, stun.BindingSuccess,
				&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port})
			if err != nil {
				continue
			}
			conn.WriteTo(resp.Raw, addr)
		}
	}()
	return "stun:" + conn.LocalAddr().String()
}

func TestProbeSTUN(t *testing.T) {
	url := serveStun(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mapped, err := ProbeSTUN(ctx, url)
	if err != nil {
		t.Fatalf("ProbeSTUN(%s): %v", url, err)
	}
	host, _, err := net.SplitHostPort(mapped)
	if err != nil || host != "127.0.0.1" {
		t.Errorf("mapped address = %q, want 127.0.0.1:<port>", mapped)
	}

	cfg := Default()
	cfg.ICE.StunServers = url
	if n := cfg.ProbeAll(ctx); n != 1 {
		t.Errorf("ProbeAll = %d, want 1", n)
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("certificate chain is empty")
	}
}
