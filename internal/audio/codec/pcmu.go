package codec

// G.711 mu-law
const (
	muBias = 0x84
	muClip = 32635
)

type PCMUEncoder struct{}

func (PCMUEncoder) Encode(pcm []int16) ([]byte, error) {
	return EncodePCM16ToMuLaw(pcm), nil
}

type PCMUDecoder struct{}

func (PCMUDecoder) Decode(mu []byte) ([]int16, error) {
	return DecodeMuLawToPCM16(mu), nil
}

func Linear16ToMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muClip {
		s = muClip
	}
	s += muBias
	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

func MuLawToLinear16(mu byte) int16 {
	mu = ^mu
	sign := mu & 0x80
	exponent := (mu >> 4) & 0x07
	mantissa := int32(mu & 0x0F)
	value := ((mantissa<<3)+muBias)<<exponent - muBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

func EncodePCM16ToMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = Linear16ToMuLaw(s)
	}
	return out
}

func DecodeMuLawToPCM16(mu []byte) []int16 {
	out := make([]int16, len(mu))
	for i, b := range mu {
		out[i] = MuLawToLinear16(b)
	}
	return out
}
