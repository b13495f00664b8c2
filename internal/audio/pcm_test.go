package audio

import (
	"bytes"
	"testing"
)

func TestFloat32ToPCM16Scaling(t *testing.T) {
	samples := []float32{0, 1, -1, 0.5, -0.5, 2.0, -2.0}
	out := Float32ToPCM16(samples)

	expected := []int16{0, 0x7fff, -0x8000, 0x3fff, -0x4000, 0x7fff, -0x8000}
	for i, want := range expected {
		if out[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, out[i])
		}
	}
}

func TestPCM16ToBytesLittleEndian(t *testing.T) {
	out := PCM16ToBytes([]int16{0x0102, -2})

	expected := []byte{0x02, 0x01, 0xfe, 0xff}
	if !bytes.Equal(out, expected) {
		t.Errorf("Expected %v, got %v", expected, out)
	}
}

func TestBase64RoundTrip(t *testing.T) {
	// Sizes straddling the chunking window, plus small and empty buffers.
	sizes := []int{0, 1, 3, 100, base64ChunkSize - 1, base64ChunkSize,
		base64ChunkSize + 1, 0x8000 - 1, 0x8000, 0x8000 + 1, 3 * base64ChunkSize}

	for _, size := range sizes {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i * 7)
		}

		encoded := EncodeBase64(data)
		decoded, err := DecodeBase64(encoded)
		if err != nil {
			t.Fatalf("Size %d: decode failed: %v", size, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("Size %d: round trip mismatch", size)
		}
	}
}

func TestDecodeBase64Malformed(t *testing.T) {
	if _, err := DecodeBase64("!!not base64!!"); err == nil {
		t.Error("Expected error for malformed base64 input")
	}
}
