package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	// Save original stdout
	origStdout := os.Stdout

	// Create a pipe to capture output
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}

	// Redirect stdout to pipe
	os.Stdout = w

	// Drain concurrently so large outputs do not block the writer
	done := make(chan struct{})
	var buf bytes.Buffer
	go func() {
		defer close(done)
		_, _ = buf.ReadFrom(r)
	}()

	// Run function
	fnErr := fn()

	// Close write end and restore stdout
	w.Close()
	os.Stdout = origStdout
	<-done
	r.Close()

	return buf.String(), fnErr
}

// resetFlags restores every global flag to its default.
func resetFlags() {
	verbose, quiet, jsonOut, configPath = false, false, false, ""
	stressGoroutines, stressBlocks, stressSize, stressLimit, stressValidate = 4, 1000, 64, 0, false
	dumpSize, dumpFill = 4096, 0xAB
	watchWorkers, watchSize, watchInterval = 2, 256, 250*time.Millisecond
}

// decodeJSON unmarshals output into v and fails the test on invalid JSON
func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}
