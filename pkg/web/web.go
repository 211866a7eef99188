package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"voice-relay/pkg/config"
	"voice-relay/pkg/system"

	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Serve runs handler on addr until ctx ends. With useTLS a self-signed
// certificate for localhost and the LAN address is generated.
func Serve(ctx context.Context, addr string, handler http.Handler, useTLS bool) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ServeListener(ctx, ln, handler, useTLS)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler, useTLS bool) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheme := "http"
	if useTLS {
		// generate self signed certificate for HTTPS
		cert, err := config.GenerateSelfSignedCert()
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to create certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		scheme = "https"
	}

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	log.Info().
		Str("local", fmt.Sprintf("%s://localhost:%s", scheme, port)).
		Str("lan", fmt.Sprintf("%s://%s:%s", scheme, system.GetLocalIP(), port)).
		Msg("Web server listening")

	errc := make(chan error, 1)
	go func() {
		if useTLS {
			errc <- server.ServeTLS(ln, "", "")
		} else {
			errc <- server.Serve(ln)
		}
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Web server shutdown")
		}
		return nil
	}
}
