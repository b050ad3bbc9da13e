package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dbchat/dbchat/internal/config"
)

func TestLogWriterWithoutFileReturnsConsole(t *testing.T) {
	var console bytes.Buffer
	w, closer := LogWriter(config.Config{}, &console)
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if console.String() != "hello" {
		t.Fatalf("console = %q", console.String())
	}
}

func TestLogWriterTeesIntoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbchat.log")
	var console bytes.Buffer
	cfg := config.Config{Observability: config.ObservabilityConfig{LogFile: path, LogJSON: true}}
	w, closer := LogWriter(cfg, &console)

	logger := NewLogger(cfg, w)
	logger.Error("turn_failed")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(raw), "turn_failed") || !strings.Contains(console.String(), "turn_failed") {
		t.Fatalf("file = %q console = %q", raw, console.String())
	}
}
