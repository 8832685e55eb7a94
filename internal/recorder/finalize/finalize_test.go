package finalize

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// writeFakeEncoder returns the path to a shell script that emulates just
// enough of the encoder's decoder-probe and concat-demuxer behavior for
// these tests: any segment path containing "bad" fails decodability, and
// any concat manifest referencing a path containing "corrupt" fails the
// whole concat (so the recovery ladder has something to drop).
func writeFakeEncoder(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder is a shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-encoder")
	script := `#!/bin/sh
mode=""
manifest=""
last=""
prev=""
for a in "$@"; do
  case "$a" in
    -frames:v) mode="probe" ;;
  esac
  if [ "$prev" = "-i" ]; then manifest="$a"; fi
  prev="$a"
  last="$a"
done

if [ "$mode" = "probe" ]; then
  case "$manifest" in
    *bad*) exit 1 ;;
    *) exit 0 ;;
  esac
fi

# Otherwise this is a concat invocation: manifest is the -i argument, last
# is the output path.
if grep -q corrupt "$manifest"; then
  exit 1
fi
echo fake-concat-output > "$last"
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake encoder: %v", err)
	}
	return path
}

func writeSegment(t *testing.T, dir, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write segment %s: %v", name, err)
	}
	return path
}

func TestFinalizeSingleSegmentRenames(t *testing.T) {
	encoder := writeFakeEncoder(t)
	dir := t.TempDir()
	seg := writeSegment(t, dir, "segment_0001.mp4", "sole segment data")
	final := filepath.Join(t.TempDir(), "final.mp4") // outside the workspace Finalize removes

	result, err := Finalize(context.Background(), Config{
		EncoderPath:     encoder,
		SegmentPaths:    []string{seg},
		FinalOutputPath: final,
		WorkspaceDir:    dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RecoveryUsed != "" {
		t.Fatalf("expected no recovery for a single segment, got %q", result.RecoveryUsed)
	}
	if _, err := os.Stat(final); err != nil {
		t.Fatalf("expected final output to exist: %v", err)
	}
}

func TestFinalizeDropsUndecodableSegmentBeforeConcat(t *testing.T) {
	encoder := writeFakeEncoder(t)
	dir := t.TempDir()
	good1 := writeSegment(t, dir, "segment_0001.mp4", "good one")
	bad := writeSegment(t, dir, "segment_bad_0002.mp4", "corrupt bytes")
	good2 := writeSegment(t, dir, "segment_0003.mp4", "good two")
	final := filepath.Join(t.TempDir(), "final.mp4") // outside the workspace Finalize removes

	result, err := Finalize(context.Background(), Config{
		EncoderPath:     encoder,
		SegmentPaths:    []string{good1, bad, good2},
		FinalOutputPath: final,
		WorkspaceDir:    dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, d := range result.SegmentsDropped {
		if d == bad {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the undecodable segment to be reported dropped, got %v", result.SegmentsDropped)
	}
	if _, err := os.Stat(final); err != nil {
		t.Fatalf("expected final output to exist: %v", err)
	}
}

func TestFinalizeConcatsMultipleGoodSegments(t *testing.T) {
	encoder := writeFakeEncoder(t)
	dir := t.TempDir()
	s1 := writeSegment(t, dir, "segment_0001.mp4", "one")
	s2 := writeSegment(t, dir, "segment_0002.mp4", "two")
	s3 := writeSegment(t, dir, "segment_0003.mp4", "three")
	final := filepath.Join(dir, "final.mp4")

	result, err := Finalize(context.Background(), Config{
		EncoderPath:     encoder,
		SegmentPaths:    []string{s1, s2, s3},
		FinalOutputPath: final,
		WorkspaceDir:    dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RecoveryUsed != "" {
		t.Fatalf("expected a clean concat with no recovery, got %q", result.RecoveryUsed)
	}
}

func TestFinalizeRecoversByDroppingCorruptInteriorSegment(t *testing.T) {
	encoder := writeFakeEncoder(t)
	dir := t.TempDir()
	s1 := writeSegment(t, dir, "segment_0001.mp4", "one")
	corrupt := writeSegment(t, dir, "segment_corrupt_0002.mp4", "two")
	s3 := writeSegment(t, dir, "segment_0003.mp4", "three")
	final := filepath.Join(dir, "final.mp4")

	// All three pass the decodability probe (only "bad"-named paths fail
	// that), but the concat manifest referencing the corrupt one fails
	// outright, forcing the recovery ladder.
	result, err := Finalize(context.Background(), Config{
		EncoderPath:     encoder,
		SegmentPaths:    []string{s1, corrupt, s3},
		FinalOutputPath: final,
		WorkspaceDir:    dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RecoveryUsed == "" {
		t.Fatal("expected a recovery recipe to have been used")
	}
	if !strings.HasPrefix(result.RecoveryUsed, "drop-interior") {
		t.Fatalf("expected the interior-drop recipe to win first, got %q", result.RecoveryUsed)
	}
}

func TestWriteConcatManifestEscapesSingleQuotes(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "concat.txt")
	if err := writeConcatManifest(manifest, []string{"/tmp/seg's.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(manifest)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !strings.Contains(string(data), `seg'\''s.mp4`) {
		t.Fatalf("expected escaped single quote in manifest, got: %s", data)
	}
}

func TestFilterNonEmptyExcludesEmptyAndMissingFiles(t *testing.T) {
	dir := t.TempDir()
	nonEmpty := writeSegment(t, dir, "has-data.mp4", "x")
	empty := writeSegment(t, dir, "empty.mp4", "")
	missing := filepath.Join(dir, "does-not-exist.mp4")

	got := filterNonEmpty([]string{nonEmpty, empty, missing})
	if len(got) != 1 || got[0] != nonEmpty {
		t.Fatalf("expected only the non-empty existing file, got %v", got)
	}
}
