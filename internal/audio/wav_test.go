package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"
)

func TestSilencePayloadSizes(t *testing.T) {
	silence := make([]byte, 2400)
	payload := base64.StdEncoding.EncodeToString(silence)

	wav, err := WAVFromBase64(payload)
	if err != nil {
		t.Fatalf("WAVFromBase64: %v", err)
	}
	if len(wav) != 2444 {
		t.Fatalf("expected 2444 bytes, got %d", len(wav))
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 2400 {
		t.Fatalf("data size = %d; want 2400", got)
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != 2436 {
		t.Fatalf("chunk size = %d; want 2436", got)
	}
	if !bytes.Equal(wav[HeaderSize:], silence) {
		t.Fatal("sample data not copied verbatim")
	}
}

func TestHeaderLayout(t *testing.T) {
	wav, err := EncodeWAV([]byte{1, 2, 3, 4}, GeminiPCM)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	want := []byte{
		'R', 'I', 'F', 'F', 40, 0, 0, 0, 'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ', 16, 0, 0, 0, 1, 0, 1, 0,
		0xC0, 0x5D, 0, 0, // 24000
		0x80, 0xBB, 0, 0, // 48000
		2, 0, 16, 0,
		'd', 'a', 't', 'a', 4, 0, 0, 0,
		1, 2, 3, 4,
	}
	if !bytes.Equal(wav, want) {
		t.Fatalf("unexpected bytes\n got %v\nwant %v", wav, want)
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x12, 0x34}, 500)
	a, err := EncodeWAV(pcm, GeminiPCM)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	b, err := EncodeWAV(pcm, GeminiPCM)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if !bytes.Equal(a[:HeaderSize], b[:HeaderSize]) {
		t.Fatal("headers differ between runs")
	}
}

func TestParseHeaderRoundTrip(t *testing.T) {
	pcm := make([]byte, 4800)
	wav, err := EncodeWAV(pcm, GeminiPCM)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	h, err := ParseHeader(wav)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.SampleRate != 24000 || h.Channels != 1 || h.BitsPerSample != 16 {
		t.Fatalf("unexpected format %+v", h.Format)
	}
	if h.AudioFormat != 1 {
		t.Fatalf("audio format = %d; want 1", h.AudioFormat)
	}
	if h.DataLength != uint32(len(pcm)) {
		t.Fatalf("data length = %d; want %d", h.DataLength, len(pcm))
	}
	if d := h.Duration(); d != 0.1 {
		t.Fatalf("duration = %v; want 0.1", d)
	}
}

func TestDecodeBase64PCM(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    []byte
		wantErr error
	}{
		{"plain", "AQID", []byte{1, 2, 3}, nil},
		{"whitespace", " AQ\nI\tD \r\n", []byte{1, 2, 3}, nil},
		{"invalid", "!!not base64!!", nil, ErrInvalidPayload},
		{"empty", "", nil, ErrEmptyPayload},
		{"only whitespace", " \n ", nil, ErrEmptyPayload},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := DecodeBase64PCM(c.payload)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("DecodeBase64PCM(%q) error = %v; want %v", c.payload, err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBase64PCM(%q): %v", c.payload, err)
			}
			if !bytes.Equal(got, c.want) {
				t.Fatalf("DecodeBase64PCM(%q) = %v; want %v", c.payload, got, c.want)
			}
		})
	}
}

func TestParseHeaderRejectsGarbage(t *testing.T) {
	if _, err := ParseHeader([]byte("RIFF")); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader for short input, got %v", err)
	}
	bad := make([]byte, HeaderSize)
	if _, err := ParseHeader(bad); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader for zeroed header, got %v", err)
	}
}

func TestEncodeWAVRejectsEmpty(t *testing.T) {
	if _, err := EncodeWAV(nil, GeminiPCM); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}
