package discovery

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestAnnouncementFrameRoundTrip(t *testing.T) {
	want := Announcement{Name: "lab", SignalingURL: "ws://10.0.0.2:8080/ws", Rooms: 3}
	var buf bytes.Buffer
	if err := WriteAnnouncement(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAnnouncement(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadAnnouncementRejectsOversizedFrame(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], maxFrameSize+1)
	if _, err := ReadAnnouncement(bytes.NewReader(header[:])); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestQueryLoopbackAnnouncer(t *testing.T) {
	if testing.Short() {
		t.Skip("uses local network")
	}
	cfg := DefaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.MDNS = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rooms := 0
	a := NewAnnouncer(cfg, func() Announcement {
		rooms++
		return Announcement{Name: "test", SignalingURL: "ws://127.0.0.1:8080/ws", Rooms: rooms}
	})
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Close()

	client, err := newHost(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	got, err := Query(ctx, client, a.AddrInfo(), cfg.ProtocolID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.SignalingURL != "ws://127.0.0.1:8080/ws" || got.Rooms != 1 {
		t.Fatalf("announcement = %+v", got)
	}
}

func TestFindWithoutMethodsReportsNotFound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.MDNS = false
	cfg.DHT = false
	if _, err := Find(context.Background(), cfg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
