package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Corphon/Lumina/internal/audio"
	"github.com/Corphon/Lumina/internal/models"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	pcm := base64.StdEncoding.EncodeToString(make([]byte, 4800))
	image := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate-script", func(w http.ResponseWriter, r *http.Request) {
		script := models.ExplainerScript{Title: "Black Holes"}
		for i := 1; i <= 4; i++ {
			script.Scenes = append(script.Scenes, models.Scene{
				ID:            i,
				Heading:       fmt.Sprintf("Part %d", i),
				Explanation:   "explanation",
				ImagePrompt:   "prompt",
				VoiceoverText: "voice",
			})
		}
		json.NewEncoder(w).Encode(script)
	})
	mux.HandleFunc("/api/generate-image", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"image": image})
	})
	mux.HandleFunc("/api/generate-speech", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"audio": pcm})
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"topics": {"Black Holes", "Tides"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestGenerateAgainstServerWritesAssets(t *testing.T) {
	srv := newFakeServer(t)
	out := t.TempDir()

	stdout, stderr, err := runCLI(t, "", "--server", srv.URL, "generate", "-o", out, "Black", "Holes")
	if err != nil {
		t.Fatalf("generate: %v (stderr: %s)", err, stderr)
	}
	if !strings.Contains(stdout, "4 scenes") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if !strings.Contains(stderr, "assets: 8/8 succeeded") {
		t.Fatalf("unexpected stderr %q", stderr)
	}

	data, err := os.ReadFile(filepath.Join(out, "script.json"))
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	var script models.ExplainerScript
	if err := json.Unmarshal(data, &script); err != nil {
		t.Fatalf("decode script: %v", err)
	}
	if script.Scenes[0].ImageURL != "scene-1.jpg" || script.Scenes[0].AudioURL != "scene-1.wav" {
		t.Fatalf("scene 1 assets = %q, %q", script.Scenes[0].ImageURL, script.Scenes[0].AudioURL)
	}

	wav, err := os.ReadFile(filepath.Join(out, "scene-4.wav"))
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	header, err := audio.ParseHeader(wav)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if header.DataLength != 4800 || header.SampleRate != 24000 {
		t.Fatalf("unexpected header %+v", header)
	}
}

func TestHistoryAgainstServer(t *testing.T) {
	srv := newFakeServer(t)
	stdout, _, err := runCLI(t, "", "--server", srv.URL, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if stdout != "1. Black Holes\n2. Tides\n" {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestWAVCommand(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, 480))
	stdout, _, err := runCLI(t, payload+"\n", "wav")
	if err != nil {
		t.Fatalf("wav: %v", err)
	}
	if len(stdout) != audio.HeaderSize+480 || !strings.HasPrefix(stdout, "RIFF") {
		t.Fatalf("unexpected wav output of %d bytes", len(stdout))
	}

	if _, _, err := runCLI(t, "not base64!", "wav"); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestGenerateRequiresTopic(t *testing.T) {
	if _, _, err := runCLI(t, "", "--server", "http://127.0.0.1:1", "generate"); err == nil {
		t.Fatal("expected argument error")
	}
}
