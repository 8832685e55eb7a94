package segment

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeFakeEncoderBinary(t *testing.T, listing string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder binary is a shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-encoder")
	script := "#!/bin/sh\ncat <<'EOF'\n" + listing + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake encoder: %v", err)
	}
	return path
}

func TestSelectorPrefersHardwareEncoderWhenListed(t *testing.T) {
	path := writeFakeEncoderBinary(t, "V..... h264_nvenc           NVIDIA NVENC H.264\nV..... libx264              libx264 H.264")
	sel := &Selector{binPath: path}

	chosen, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.ID != "h264_nvenc" {
		t.Fatalf("expected h264_nvenc to be preferred, got %q", chosen.ID)
	}
}

func TestSelectorFallsBackToSoftwareEncoder(t *testing.T) {
	path := writeFakeEncoderBinary(t, "V..... libx264              libx264 H.264")
	sel := &Selector{binPath: path}

	chosen, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.ID != "libx264" {
		t.Fatalf("expected libx264 fallback, got %q", chosen.ID)
	}
}

func TestSelectorOnlyProbesOnce(t *testing.T) {
	path := writeFakeEncoderBinary(t, "V..... libx264              libx264 H.264")
	sel := &Selector{binPath: path}

	first, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Remove the binary; a second Select must still succeed from cache
	// rather than re-invoking the (now missing) binary.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove fake encoder: %v", err)
	}
	second, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("expected cached result on second Select, got error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected cached selection %q, got %q", first.ID, second.ID)
	}
}
