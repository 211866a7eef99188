package codec

import (
	"testing"

	"voice-relay/internal/audio/config"
)

func TestMuLawRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000, 32767, -32768}
	for _, s := range samples {
		got := MuLawToLinear16(Linear16ToMuLaw(s))
		if (s > 100 && got <= 0) || (s < -100 && got >= 0) {
			t.Errorf("sign lost: %d -> %d", s, got)
		}
		diff := int(got) - int(s)
		if diff < 0 {
			diff = -diff
		}
		abs := int(s)
		if abs < 0 {
			abs = -abs
		}
		// mu-law quantisation error grows with magnitude
		limit := abs/16 + 8
		if abs > muClip {
			limit = abs - muClip + abs/16
		}
		if diff > limit {
			t.Errorf("round trip %d -> %d, error %d > %d", s, got, diff, limit)
		}
	}
}

func TestMuLawSilence(t *testing.T) {
	if b := Linear16ToMuLaw(0); b != 0xFF {
		t.Errorf("encode(0) = %#x, want 0xff", b)
	}
	if v := MuLawToLinear16(0xFF); v != 0 {
		t.Errorf("decode(0xff) = %d, want 0", v)
	}
}

func TestFactory(t *testing.T) {
	enc, dec, err := New(config.NewPCMUConfig())
	if err != nil {
		t.Fatalf("New(pcmu): %v", err)
	}
	frame := make([]int16, config.FrameSamplesPCM)
	payload, err := enc.Encode(frame)
	if err != nil || len(payload) != len(frame) {
		t.Fatalf("Encode: %d bytes, %v", len(payload), err)
	}
	pcm, err := dec.Decode(payload)
	if err != nil || len(pcm) != len(frame) {
		t.Fatalf("Decode: %d samples, %v", len(pcm), err)
	}

	if _, _, err := New(config.AudioConfig{Type: "flac"}); err != ErrUnknownCodec {
		t.Errorf("unknown codec err = %v", err)
	}
}
