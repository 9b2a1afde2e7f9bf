package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, WARNING)

	logger.Info("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at WARNING level, got %q", buf.String())
	}

	child := logger.With(map[string]interface{}{"run_id": "r1"})
	child.Warn("image failed", map[string]interface{}{"scene": 3})

	line := buf.String()
	for _, want := range []string{"[WARNING]", "image failed", "run_id=r1", "scene=3"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}
	if strings.Index(line, "run_id=") > strings.Index(line, "scene=") {
		t.Fatalf("fields should be sorted: %q", line)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"WARN":    WARNING,
		"warning": WARNING,
		"error":   ERROR,
		"":        INFO,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q) = %v; want %v", in, got, want)
		}
	}
}
