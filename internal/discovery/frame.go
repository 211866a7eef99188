package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const maxFrameSize = 64 * 1024

var ErrFrameTooLarge = errors.New("discovery: frame too large")

// Announcement is what a signaling server tells peers that ask for it.
type Announcement struct {
	Name         string `msgpack:"name"`
	SignalingURL string `msgpack:"url"`
	Rooms        int    `msgpack:"rooms"`
	TLS          bool   `msgpack:"tls"`
}

// WriteAnnouncement writes a as a length-prefixed msgpack frame.
func WriteAnnouncement(w io.Writer, a Announcement) error {
	body, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode announcement: %w", err)
	}
	if len(body) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadAnnouncement reads one frame written by WriteAnnouncement.
func ReadAnnouncement(r io.Reader) (Announcement, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Announcement{}, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return Announcement{}, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Announcement{}, fmt.Errorf("read frame: %w", err)
	}
	var a Announcement
	if err := msgpack.Unmarshal(body, &a); err != nil {
		return Announcement{}, fmt.Errorf("decode announcement: %w", err)
	}
	return a, nil
}
