// Package encoder converts captured audio samples into the PCM16 frames the
// transcription backend expects.
package encoder

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// PCM16 converts mono float samples to 16-bit signed little-endian PCM,
// clipping to the int16 range.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Base64 frames a PCM chunk for the JSON transport.
func Base64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Level computes the RMS of a PCM16 buffer, normalized to [0, 1].
// Used for the TUI audio meter.
func Level(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sumSquares float64
	n := len(pcm) / 2
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}
