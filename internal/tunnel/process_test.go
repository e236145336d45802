package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestProcessStartResolvesOnRegisteredLine(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "echo 'Registered tunnel connection' 1>&2\nsleep 5\n")

	p := newProcess(script, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestProcessStartFailsWhenHelperExitsEarly(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "exit 1\n")

	p := newProcess(script, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.start(ctx); err == nil {
		t.Fatal("expected start to fail when helper exits before registering")
	}
}
