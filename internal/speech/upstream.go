package speech

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"voice-relay/pkg/config"
	"voice-relay/pkg/connection"
)

// DialFunc opens an upstream realtime session.
type DialFunc func(ctx context.Context, cfg config.Speech) (*connection.Socket, error)

// DialRealtime connects to the realtime endpoint with bearer auth.
func DialRealtime(ctx context.Context, cfg config.Speech) (*connection.Socket, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	if cfg.Model != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	return connection.Dial(ctx, u.String(), header)
}
