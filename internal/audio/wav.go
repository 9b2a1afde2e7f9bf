// internal/audio/wav.go
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// HeaderSize is the size of the canonical PCM WAV header
const HeaderSize = 44

// MediaType of the produced container
const MediaType = "audio/wav"

var (
	ErrInvalidPayload = errors.New("audio payload is not valid base64")
	ErrEmptyPayload   = errors.New("audio payload is empty")
	ErrInvalidHeader  = errors.New("not a canonical PCM WAV header")
)

// Format describes linear PCM sample layout
type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

// GeminiPCM is the raw speech format returned by the TTS backend: 24kHz mono 16-bit
var GeminiPCM = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// ByteRate returns bytes per second
func (f Format) ByteRate() uint32 {
	return f.SampleRate * uint32(f.Channels) * uint32(f.BitsPerSample) / 8
}

// BlockAlign returns bytes per sample frame
func (f Format) BlockAlign() uint16 {
	return f.Channels * f.BitsPerSample / 8
}

// Header is the decoded form of a canonical WAV header
type Header struct {
	Format
	AudioFormat uint16
	ChunkSize   uint32
	DataLength  uint32
}

// DecodeBase64PCM strips whitespace from the transport string and decodes it
func DecodeBase64PCM(payload string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return data, nil
}

// WriteHeader writes the 44-byte header for dataLen bytes of PCM in format f
func WriteHeader(w io.Writer, dataLen uint32, f Format) error {
	var hdr [HeaderSize]byte
	le := binary.LittleEndian

	copy(hdr[0:4], "RIFF")
	le.PutUint32(hdr[4:8], 36+dataLen)
	copy(hdr[8:12], "WAVE")

	copy(hdr[12:16], "fmt ")
	le.PutUint32(hdr[16:20], 16)
	le.PutUint16(hdr[20:22], 1) // PCM
	le.PutUint16(hdr[22:24], f.Channels)
	le.PutUint32(hdr[24:28], f.SampleRate)
	le.PutUint32(hdr[28:32], f.ByteRate())
	le.PutUint16(hdr[32:34], f.BlockAlign())
	le.PutUint16(hdr[34:36], f.BitsPerSample)

	copy(hdr[36:40], "data")
	le.PutUint32(hdr[40:44], dataLen)

	_, err := w.Write(hdr[:])
	return err
}

// EncodeWAV prepends a canonical header to raw PCM bytes
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyPayload
	}
	if uint64(len(pcm)) > uint64(^uint32(0))-36 {
		return nil, fmt.Errorf("pcm payload too large: %d bytes", len(pcm))
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	if err := WriteHeader(buf, uint32(len(pcm)), f); err != nil {
		return nil, err
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// WAVFromBase64 turns a base64 PCM transport string into a playable WAV stream
func WAVFromBase64(payload string) ([]byte, error) {
	pcm, err := DecodeBase64PCM(payload)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(pcm, GeminiPCM)
}

// ParseHeader decodes a canonical 44-byte PCM header
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return Header{}, ErrInvalidHeader
	}

	le := binary.LittleEndian
	if le.Uint32(b[16:20]) != 16 {
		return Header{}, fmt.Errorf("%w: unexpected fmt chunk size %d", ErrInvalidHeader, le.Uint32(b[16:20]))
	}

	return Header{
		Format: Format{
			Channels:      le.Uint16(b[22:24]),
			SampleRate:    le.Uint32(b[24:28]),
			BitsPerSample: le.Uint16(b[34:36]),
		},
		AudioFormat: le.Uint16(b[20:22]),
		ChunkSize:   le.Uint32(b[4:8]),
		DataLength:  le.Uint32(b[40:44]),
	}, nil
}

// Duration estimates playback length in seconds
func (h Header) Duration() float64 {
	rate := h.ByteRate()
	if rate == 0 {
		return 0
	}
	return float64(h.DataLength) / float64(rate)
}
