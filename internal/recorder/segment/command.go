package segment

import (
	"fmt"
	"strconv"
)

// buildArgs assembles the encoder command line for one segment. audioAddr is
// empty when the segment has no audio input. The input/filter/output order
// mirrors spec.md's prescribed assembly: audio input (if any) before video
// input, a single filter chain fixing frame rate and pixel format (plus a
// rescale for Window/Black), then rate-control and muxer flags.
func buildArgs(cfg Config, audioAddr string) []string {
	var args []string
	args = append(args, "-hide_banner", "-y")

	audioInputIdx := -1
	videoInputIdx := 0
	if audioAddr != "" {
		args = append(args,
			"-f", "s16le",
			"-ar", "48000",
			"-ac", "2",
			"-i", "tcp://"+audioAddr,
		)
		audioInputIdx = 0
		videoInputIdx = 1
	}

	switch cfg.Mode {
	case ModeBlack:
		args = append(args,
			"-f", "lavfi",
			"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", cfg.Width, cfg.Height, cfg.RequestedFrameRate),
		)
	default: // ModeMonitor, ModeWindow
		args = append(args,
			"-f", "gdigrab",
			"-framerate", strconv.Itoa(cfg.RequestedFrameRate),
		)
		if cfg.Mode == ModeWindow {
			args = append(args,
				"-offset_x", strconv.Itoa(int(cfg.OffsetX)),
				"-offset_y", strconv.Itoa(int(cfg.OffsetY)),
				"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			)
		}
		args = append(args, "-i", "desktop")
	}

	args = append(args, "-map", strconv.Itoa(videoInputIdx)+":v")
	if audioInputIdx >= 0 {
		args = append(args, "-map", strconv.Itoa(audioInputIdx)+":a")
	}

	filter := fmt.Sprintf("fps=%d,format=yuv420p", cfg.OutputFrameRate)
	if cfg.Mode == ModeWindow || cfg.Mode == ModeBlack {
		filter += fmt.Sprintf(",scale=%d:%d", cfg.Width, cfg.Height)
	}
	args = append(args, "-vf", filter)

	args = append(args, "-c:v", cfg.EncoderID)
	if cfg.Preset != "" {
		args = append(args, "-preset", cfg.Preset)
	}
	args = append(args,
		"-b:v", strconv.FormatInt(cfg.BitrateBPS, 10),
		"-maxrate", strconv.FormatInt(cfg.BitrateBPS, 10),
		"-bufsize", strconv.FormatInt(2*cfg.BitrateBPS, 10),
		"-vsync", "cfr",
		"-max_muxing_queue_size", "4096",
		"-movflags", "+faststart",
	)

	if audioInputIdx >= 0 {
		args = append(args, "-c:a", "aac")
	}

	args = append(args, cfg.OutputPath)
	return args
}
