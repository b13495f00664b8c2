// Package audio holds the pure encoding utilities shared by capture and
// playback: float PCM conversion, chunked base64, and WAV container
// synthesis.
package audio

import (
	"encoding/base64"
	"strings"
)

// base64ChunkSize bounds how much input is encoded per window. The value is
// divisible by 3 so chunk outputs carry no padding and concatenate into one
// valid base64 stream.
const base64ChunkSize = 32766

// Float32ToPCM16 converts floating-point samples to 16-bit PCM. Samples are
// clamped to [-1, 1] and scaled by 0x8000 for negative values and 0x7fff for
// non-negative ones.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7fff)
		}
	}
	return out
}

// PCM16ToBytes serializes samples little-endian, two bytes per sample.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// EncodeBase64 encodes a byte buffer in bounded windows so very large
// buffers never materialize a second full-size intermediate.
func EncodeBase64(data []byte) string {
	var b strings.Builder
	b.Grow(base64.StdEncoding.EncodedLen(len(data)))
	for off := 0; off < len(data); off += base64ChunkSize {
		end := off + base64ChunkSize
		if end > len(data) {
			end = len(data)
		}
		b.WriteString(base64.StdEncoding.EncodeToString(data[off:end]))
	}
	return b.String()
}

// DecodeBase64 decodes a base64 string produced by EncodeBase64 or any
// standard encoder.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
