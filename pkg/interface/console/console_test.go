package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"voice-relay/internal/signaling"
)

func TestConsoleCommands(t *testing.T) {
	var muted []bool
	cleared := 0
	statusCalls := 0
	ctl := Controls{
		SetMuted: func(m bool) { muted = append(muted, m) },
		Clear:    func() { cleared++ },
		Status: func() Status {
			statusCalls++
			return Status{Role: "guest", Room: "abc123", Phase: "connected", Speaker: "ai", Level: 40, Health: "healthy"}
		},
	}
	in := strings.NewReader("mute\nstatus\nunmute\nbogus\nclear\nquit\nmute\n")
	var out bytes.Buffer

	if err := New(in, &out, ctl).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(muted) != 2 || !muted[0] || muted[1] {
		t.Fatalf("mute calls = %v", muted)
	}
	if cleared != 1 || statusCalls != 1 {
		t.Fatalf("cleared=%d status=%d", cleared, statusCalls)
	}
	text := out.String()
	for _, want := range []string{"abc123", "Unknown command: bogus", "Exiting..."} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestConsoleStopsOnContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(r, &bytes.Buffer{}, Controls{}).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMeter(t *testing.T) {
	tests := []struct {
		level  int
		filled int
	}{
		{-5, 0}, {0, 0}, {45, 4}, {100, 10}, {250, 10},
	}
	for _, tt := range tests {
		if got := strings.Count(Meter(tt.level), "█"); got != tt.filled {
			t.Errorf("Meter(%d) filled %d cells, want %d", tt.level, got, tt.filled)
		}
	}
}

func TestRenderRooms(t *testing.T) {
	if got := RenderRooms(nil); !strings.Contains(got, "No open rooms") {
		t.Fatalf("empty list rendered %q", got)
	}
	out := RenderRooms([]signaling.RoomInfo{{RoomID: "abc123", HostName: "Alice", MaxGuests: 1, CreatedAt: time.Now()}})
	for _, want := range []string{"abc123", "Alice", "0/1"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
