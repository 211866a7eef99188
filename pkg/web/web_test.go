package web

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestServeListener(t *testing.T) {
	for _, useTLS := range []bool{false, true} {
		name := "http"
		if useTLS {
			name = "https"
		}
		t.Run(name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "ok")
			})
			go func() { done <- ServeListener(ctx, ln, handler, useTLS) }()

			client := &http.Client{
				Timeout:   5 * time.Second,
				Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
			}
			url := name + "://" + ln.Addr().String() + "/"

			var body []byte
			deadline := time.Now().Add(5 * time.Second)
			for {
				resp, err := client.Get(url)
				if err == nil {
					body, _ = io.ReadAll(resp.Body)
					resp.Body.Close()
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("GET %s: %v", url, err)
				}
				time.Sleep(20 * time.Millisecond)
			}
			if string(body) != "ok" {
				t.Fatalf("body = %q", body)
			}

			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("ServeListener: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("server did not stop")
			}
		})
	}
}
