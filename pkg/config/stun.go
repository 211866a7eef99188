package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun"
	"github.com/rs/zerolog/log"
)

const stunProbeTimeout = 5 * time.Second

var ErrNotBindingSuccess = errors.New("stun: response is not a binding success")

// stunAddress turns "stun:host[:port]" into a dialable host:port.
func stunAddress(stunURL string) (string, error) {
	address, ok := strings.CutPrefix(stunURL, "stun:")
	if !ok {
		return "", fmt.Errorf("stun: unsupported url %q", stunURL)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "3478")
	}
	return address, nil
}

// ProbeSTUN sends one binding request to the server and returns the reflexive address it reports.
func ProbeSTUN(ctx context.Context, stunURL string) (string, error) {
	address, err := stunAddress(stunURL)
	if err != nil {
		return "", err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return "", fmt.Errorf("stun: dial %s: %w", address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(stunProbeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err = conn.Write(request.Raw); err != nil {
		return "", fmt.Errorf("stun: write request: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("stun: read response: %w", err)
	}

	var response stun.Message
	response.Raw = buf[:n]
	if err = response.Decode(); err != nil {
		return "", fmt.Errorf("stun: decode response: %w", err)
	}
	if response.Type != stun.BindingSuccess || response.TransactionID != request.TransactionID {
		return "", ErrNotBindingSuccess
	}

	var mapped stun.XORMappedAddress
	if err := mapped.GetFrom(&response); err != nil {
		return "", fmt.Errorf("stun: mapped address: %w", err)
	}
	return mapped.String(), nil
}

// ProbeAll logs which configured STUN servers answer. It never fails the caller.
func (c Config) ProbeAll(ctx context.Context) int {
	available := 0
	for _, server := range c.StunServers() {
		for _, url := range server.URLs {
			mapped, err := ProbeSTUN(ctx, url)
			if err != nil {
				log.Warn().Err(err).Str("server", url).Msg("STUN server not reachable")
				continue
			}
			available++
			log.Info().Str("server", url).Str("mapped", mapped).Msg("STUN server reachable")
		}
	}
	return available
}
