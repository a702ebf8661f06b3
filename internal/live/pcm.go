package live

import "math"

// Audio frames cross this package as float samples in [-1, 1] and cross the
// wire as little-endian 16-bit PCM.

func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func PCM16ToFloat(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		out[i] = float32(v) / 32768
	}
	return out
}

// RMS returns the root-mean-square amplitude of a frame, clamped to [0, 1].
// It drives the speaking-volume visualization.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	v := math.Sqrt(sum / float64(len(samples)))
	if v > 1 {
		v = 1
	}
	return v
}
