package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Corphon/Lumina/internal/errors"
)

func TestLuminaClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if r.Method == http.MethodPost {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
			}
		}
		switch r.URL.Path {
		case "/api/generate-script":
			if req["topic"] != "Tides" {
				t.Errorf("unexpected topic %q", req["topic"])
			}
			w.Write([]byte(`{"title":"Tides","summary":"s","scenes":[{"id":1,"heading":"h","explanation":"e","imagePrompt":"p","voiceoverText":"v","imageUrl":"leak"}]}`))
		case "/api/generate-image":
			w.Write([]byte(`{"image":"data:image/jpeg;base64,AA=="}`))
		case "/api/generate-speech":
			w.Write([]byte(`{"audio":"AAAA"}`))
		case "/api/history":
			w.Write([]byte(`{"topics":["Tides","Moons"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewLuminaClient(srv.URL + "/")
	ctx := context.Background()

	script, err := c.GenerateScript(ctx, "Tides")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if script.Scenes[0].ImageURL != "" {
		t.Fatal("asset handles from the wire must be stripped")
	}

	img, err := c.GenerateImage(ctx, "p")
	if err != nil || img != "data:image/jpeg;base64,AA==" {
		t.Fatalf("GenerateImage = %q, %v", img, err)
	}

	pcm, err := c.GenerateSpeech(ctx, "v")
	if err != nil || pcm != "AAAA" {
		t.Fatalf("GenerateSpeech = %q, %v", pcm, err)
	}

	topics, err := c.History(ctx)
	if err != nil || len(topics) != 2 {
		t.Fatalf("History = %v, %v", topics, err)
	}
}

func TestLuminaClientFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate-script":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"Internal Server Error"}`))
		case "/api/generate-image":
			w.Write([]byte(`not json`))
		case "/api/generate-speech":
			w.Write([]byte(`{"audio":""}`))
		}
	}))
	defer srv.Close()

	c := NewLuminaClient(srv.URL)
	ctx := context.Background()

	if _, err := c.GenerateScript(ctx, "x"); !apperrors.IsUpstreamError(err) {
		t.Fatalf("script: expected upstream error, got %v", err)
	}
	if _, err := c.GenerateImage(ctx, "x"); !apperrors.IsUpstreamError(err) {
		t.Fatalf("image: expected upstream error, got %v", err)
	}
	if _, err := c.GenerateSpeech(ctx, "x"); !apperrors.IsUpstreamError(err) {
		t.Fatalf("speech: expected upstream error, got %v", err)
	}
}
