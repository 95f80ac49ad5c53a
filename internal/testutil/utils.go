package testutil

import (
	"io"
	"log"
	"strings"
	"testing"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// TestLogger returns a logger that writes through the test's log buffer, so
// server output only surfaces for failing (or verbose) runs. Once the test
// finishes the logger is silenced, since straggler goroutines may still hold
// a reference to it.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(testWriter{t: t}, "", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}
