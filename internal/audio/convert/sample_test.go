package convert

import (
	"encoding/base64"
	"math"
	"testing"
)

func TestPCM16RoundTrip(t *testing.T) {
	src := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.999, -0.999, 1, -1, 0.0001, -0.0001}
	got := DecodePCM16(EncodePCM16(src))
	if len(got) != len(src) {
		t.Fatalf("len = %d, want %d", len(got), len(src))
	}
	const step = 1.0 / 32767
	for i := range src {
		if diff := math.Abs(float64(got[i] - src[i])); diff > step {
			t.Errorf("sample %d: %v -> %v, diff %g exceeds one step", i, src[i], got[i], diff)
		}
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	pcm := BytesToInt16(EncodePCM16([]float32{2, -2, 1, -1}))
	want := []int16{32767, -32768, 32767, -32768}
	for i, w := range want {
		if pcm[i] != w {
			t.Errorf("sample %d = %d, want %d", i, pcm[i], w)
		}
	}
}

func TestEncodeConstantBlock(t *testing.T) {
	block := make([]float32, 4096)
	for i := range block {
		block[i] = 0.5
	}
	out := EncodePCM16(block)
	if len(out) != 8192 {
		t.Fatalf("encoded length = %d, want 8192", len(out))
	}
	for i, s := range BytesToInt16(out) {
		if s != 16383 {
			t.Fatalf("sample %d = %d, want 16383", i, s)
		}
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		n, in, out int
	}{
		{4096, 48000, 16000},
		{4096, 44100, 16000},
		{1000, 24000, 8000},
		{7, 48000, 16000},
		{160, 8000, 16000},
		{480, 24000, 48000},
		{0, 48000, 16000},
	}
	for _, tt := range tests {
		src := make([]float32, tt.n)
		got := Resample(src, tt.in, tt.out)
		want := tt.n * tt.out / tt.in
		if len(got) != want {
			t.Errorf("Resample(%d, %d->%d) len = %d, want %d", tt.n, tt.in, tt.out, len(got), want)
		}
	}
}

func TestResamplePicksNearestPrecedingSample(t *testing.T) {
	src := []float32{0, 1, 2, 3, 4, 5, 6, 7, 8}
	got := Resample(src, 48000, 16000)
	want := []float32{0, 3, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("down[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	up := Resample([]float32{1, 2}, 8000, 16000)
	wantUp := []float32{1, 1, 2, 2}
	for i := range wantUp {
		if up[i] != wantUp[i] {
			t.Errorf("up[%d] = %v, want %v", i, up[i], wantUp[i])
		}
	}

	same := Resample(src, 16000, 16000)
	same[0] = 42
	if src[0] == 42 {
		t.Error("equal-rate resample must copy")
	}
}

func TestAmplitudeAndLevel(t *testing.T) {
	pcm := Int16ToBytes([]int16{10, -200, 150})
	if got := MaxAmplitude(pcm); got != 200 {
		t.Errorf("MaxAmplitude = %d, want 200", got)
	}
	if Level(0) != 0 || Level(32767) != 100 || Level(40000) != 100 {
		t.Errorf("Level bounds wrong: %d %d %d", Level(0), Level(32767), Level(40000))
	}
	if got := Level(16384); got != 50 {
		t.Errorf("Level(16384) = %d, want 50", got)
	}
}

func TestDecodeBase64PCM16(t *testing.T) {
	raw := Int16ToBytes([]int16{0, 32767, -32768})
	got, err := DecodeBase64PCM16(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 || got[1] != 1 || got[2] != -1 {
		t.Errorf("decoded = %v", got)
	}
	if _, err := DecodeBase64PCM16("!!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if _, err := DecodeBase64PCM16(base64.StdEncoding.EncodeToString([]byte{1, 2, 3})); err == nil {
		t.Error("odd length accepted")
	}
}
