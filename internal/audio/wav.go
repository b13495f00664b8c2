package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// WAVHeader is the canonical 44-byte RIFF/WAVE header.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Format is the PCM layout carried in a fragment's mime type.
type Format struct {
	SampleRate    int
	BitsPerSample int
	NumChannels   int
}

const (
	defaultSampleRate    = 24000
	defaultBitsPerSample = 16
)

// ParseAudioMIME extracts sample rate and bit depth from mime strings of the
// form "audio/L16;rate=24000". Unknown or missing parameters fall back to
// 24000 Hz, 16-bit mono.
func ParseAudioMIME(mimeType string) Format {
	format := Format{
		SampleRate:    defaultSampleRate,
		BitsPerSample: defaultBitsPerSample,
		NumChannels:   1,
	}

	parts := strings.Split(mimeType, ";")
	if len(parts) > 0 {
		if sub, ok := strings.CutPrefix(strings.TrimSpace(parts[0]), "audio/L"); ok {
			if bits, err := strconv.Atoi(sub); err == nil && bits > 0 {
				format.BitsPerSample = bits
			}
		}
	}
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(key, "rate") {
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				format.SampleRate = rate
			}
		}
	}
	return format
}

// ConvertToWAV decodes the base64 PCM fragments, concatenates them in order,
// and prepends a WAV header derived from the mime type. Fragments that fail
// to decode are skipped rather than aborting the turn; the skip count is
// reported so callers can log it.
func ConvertToWAV(fragments []string, mimeType string) ([]byte, int, error) {
	format := ParseAudioMIME(mimeType)

	var pcm bytes.Buffer
	skipped := 0
	for _, fragment := range fragments {
		if fragment == "" {
			continue
		}
		data, err := DecodeBase64(fragment)
		if err != nil {
			skipped++
			continue
		}
		pcm.Write(data)
	}

	if pcm.Len() == 0 {
		return nil, skipped, fmt.Errorf("no playable audio data in %d fragments", len(fragments))
	}

	dataSize := uint32(pcm.Len())
	channels := uint16(format.NumChannels)
	bits := uint16(format.BitsPerSample)
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate) * uint32(channels) * uint32(bits) / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+pcm.Len()))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, skipped, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm.Bytes())

	return buf.Bytes(), skipped, nil
}
