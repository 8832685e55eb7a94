// Package finalize implements the Segment Finalizer: turning 1..N recorded
// segment files into a single output MP4, with a recovery ladder for
// segments a stream-copy concat can't swallow whole.
package finalize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/breeze-rmm/recorder/internal/logging"
)

var log = logging.L("finalize")

// Config is everything the finalizer needs for one session's segment list.
type Config struct {
	EncoderPath     string
	SegmentPaths    []string // in write order
	FinalOutputPath string
	WorkspaceDir    string // removed unconditionally after Finalize returns
}

// Result reports what happened.
type Result struct {
	FinalPath      string
	RecoveryUsed   string // empty unless the recovery ladder was needed
	SegmentsDropped []string
}

// Finalize produces a single MP4 at cfg.FinalOutputPath from cfg.SegmentPaths,
// and always removes cfg.WorkspaceDir afterward regardless of outcome.
func Finalize(ctx context.Context, cfg Config) (*Result, error) {
	defer removeWorkspace(cfg.WorkspaceDir)

	candidates := filterNonEmpty(cfg.SegmentPaths)
	if len(candidates) == 0 {
		return nil, errors.New("no non-empty segment files to finalize")
	}

	decodable, dropped := filterDecodable(ctx, cfg.EncoderPath, candidates)
	if len(decodable) == 0 {
		return nil, errors.New("no decodable segment files to finalize")
	}

	result := &Result{FinalPath: cfg.FinalOutputPath, SegmentsDropped: dropped}

	if len(decodable) == 1 {
		if err := renameOrCopy(decodable[0], cfg.FinalOutputPath); err != nil {
			return nil, fmt.Errorf("place single segment as final output: %w", err)
		}
		return result, nil
	}

	if err := concat(ctx, cfg.EncoderPath, decodable, cfg.FinalOutputPath, cfg.WorkspaceDir); err == nil {
		return result, nil
	}

	recovered, recipe, err := recover(ctx, cfg.EncoderPath, decodable, cfg.FinalOutputPath, cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("concat failed and no recovery recipe succeeded: %w", err)
	}
	result.RecoveryUsed = recipe
	result.SegmentsDropped = append(result.SegmentsDropped, recovered...)
	log.Warn("concat required recovery", "recipe", recipe, "dropped", recovered)
	return result, nil
}

func filterNonEmpty(paths []string) []string {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// filterDecodable probes each candidate by invoking the encoder binary as a
// decoder, reading a single frame into a null sink; a failing probe excludes
// the segment and is warned, not fatal.
func filterDecodable(ctx context.Context, encoderPath string, paths []string) (ok []string, dropped []string) {
	for _, p := range paths {
		if probeDecodable(ctx, encoderPath, p) {
			ok = append(ok, p)
		} else {
			log.Warn("segment failed decodability probe, excluding", "path", p)
			dropped = append(dropped, p)
		}
	}
	return ok, dropped
}

func probeDecodable(ctx context.Context, encoderPath, path string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(probeCtx, encoderPath,
		"-v", "error",
		"-i", path,
		"-frames:v", "1",
		"-f", "null",
		"-",
	)
	return cmd.Run() == nil
}

func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source for copy fallback: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination for copy fallback: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy segment to final path: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close copied final output: %w", err)
	}
	return os.Remove(src)
}

func concat(ctx context.Context, encoderPath string, segments []string, finalPath, workspaceDir string) error {
	manifestPath := filepath.Join(workspaceDir, "concat.txt")
	if err := writeConcatManifest(manifestPath, segments); err != nil {
		return err
	}

	concatCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(concatCtx, encoderPath,
		"-hide_banner", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		"-movflags", "+faststart",
		finalPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("concat stream-copy failed: %w: %s", err, stderr.String())
	}
	return nil
}

// writeConcatManifest writes one "file '...'" entry per segment, with path
// separators normalized to forward slashes and single quotes escaped, as
// ffmpeg's concat demuxer requires.
func writeConcatManifest(manifestPath string, segments []string) error {
	f, err := os.Create(manifestPath)
	if err != nil {
		return fmt.Errorf("create concat manifest: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, seg := range segments {
		normalized := filepath.ToSlash(seg)
		escaped := strings.ReplaceAll(normalized, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", escaped); err != nil {
			return fmt.Errorf("write concat manifest entry: %w", err)
		}
	}
	return w.Flush()
}

// recover attempts the interior-drop, then longest-prefix, then
// longest-suffix ladder, in that order, stopping at the first recipe that
// produces a final file. It returns the segment paths that recipe dropped
// and a short name for the recipe used.
func recover(ctx context.Context, encoderPath string, segments []string, finalPath, workspaceDir string) ([]string, string, error) {
	n := len(segments)

	for i := 1; i < n-1; i++ {
		trial := append(append([]string{}, segments[:i]...), segments[i+1:]...)
		if concat(ctx, encoderPath, trial, finalPath, workspaceDir) == nil {
			return []string{segments[i]}, fmt.Sprintf("drop-interior-%d", i), nil
		}
	}

	for k := n - 1; k >= 1; k-- {
		trial := segments[:k]
		if concat(ctx, encoderPath, trial, finalPath, workspaceDir) == nil {
			return segments[k:], fmt.Sprintf("prefix-%d", k), nil
		}
	}

	for k := 1; k < n; k++ {
		trial := segments[k:]
		if concat(ctx, encoderPath, trial, finalPath, workspaceDir) == nil {
			return segments[:k], fmt.Sprintf("suffix-%d", n-k), nil
		}
	}

	return nil, "", errors.New("exhausted interior-drop, prefix, and suffix recovery recipes")
}

func removeWorkspace(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove segment workspace", "dir", dir, "error", err)
	}
}
