package convert

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	} else if v < -1 {
		return -1
	}
	return v
}

// Float32ToInt16 clamps to [-1, 1] and scales negative samples by 32768, positive by 32767.
func Float32ToInt16(src []float32) []int16 {
	dst := make([]int16, len(src))
	for i, v := range src {
		v = clamp(v)
		if v < 0 {
			dst[i] = int16(v * 0x8000)
		} else {
			dst[i] = int16(v * 0x7fff)
		}
	}
	return dst
}

// Int16ToFloat32 is the inverse scaling of Float32ToInt16.
func Int16ToFloat32(src []int16) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		if v < 0 {
			dst[i] = float32(v) / 0x8000
		} else {
			dst[i] = float32(v) / 0x7fff
		}
	}
	return dst
}

// Int16ToBytes convert int16 sample to byte (Little Endian)
func Int16ToBytes(src []int16) []byte {
	dst := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], uint16(v))
	}
	return dst
}

// BytesToInt16 reads little-endian samples; a trailing odd byte is ignored.
func BytesToInt16(src []byte) []int16 {
	dst := make([]int16, len(src)/2)
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2 : i*2+2]))
	}
	return dst
}

// EncodePCM16 converts float samples to little-endian signed 16-bit PCM.
func EncodePCM16(src []float32) []byte {
	return Int16ToBytes(Float32ToInt16(src))
}

// DecodePCM16 converts little-endian signed 16-bit PCM to float samples.
func DecodePCM16(src []byte) []float32 {
	return Int16ToFloat32(BytesToInt16(src))
}

// DecodeBase64PCM16 decodes one base64 fragment of PCM16 audio.
func DecodeBase64PCM16(fragment string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(fragment)
	if err != nil {
		return nil, fmt.Errorf("decode audio fragment: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("decode audio fragment: odd byte count %d", len(raw))
	}
	return DecodePCM16(raw), nil
}

// Resample converts between rates by nearest-sample selection, without filtering.
// The output holds exactly floor(len(src)*outRate/inRate) samples.
func Resample(src []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate {
		dst := make([]float32, len(src))
		copy(dst, src)
		return dst
	}
	n := len(src) * outRate / inRate
	dst := make([]float32, n)
	for i := range dst {
		dst[i] = src[i*inRate/outRate]
	}
	return dst
}

// MaxAmplitude returns the largest absolute sample value in a PCM16 buffer.
func MaxAmplitude(pcm []byte) int {
	maxAmp := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > maxAmp {
			maxAmp = v
		}
	}
	return maxAmp
}

// Level maps an amplitude to a 0-100 meter reading.
func Level(amplitude int) int {
	level := int(math.Round(float64(amplitude) * 100 / math.MaxInt16))
	return min(max(level, 0), 100)
}
