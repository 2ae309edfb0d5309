package system

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeDuration returns the container duration of path in seconds.
func ProbeDuration(ctx context.Context, ffprobe, path string) (float64, error) {
	out, err := runProbe(ctx, ffprobe, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, err
	}
	return parseSeconds(out)
}

// ProbeStreamDuration returns the duration of the first stream of kind
// ("v" or "a"); falls back to the container duration when the stream does
// not carry one.
func ProbeStreamDuration(ctx context.Context, ffprobe, path, kind string) (float64, error) {
	out, err := runProbe(ctx, ffprobe, "-v", "error", "-select_streams", kind+":0", "-show_entries", "stream=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	if err == nil {
		if d, perr := parseSeconds(out); perr == nil {
			return d, nil
		}
	}
	return ProbeDuration(ctx, ffprobe, path)
}

// VideoStream describes the first video stream of a file.
type VideoStream struct {
	Width, Height int
	FPS           float64
	Duration      float64
}

// ProbeVideo reads size, frame rate and duration of the first video stream.
func ProbeVideo(ctx context.Context, ffprobe, path string) (VideoStream, error) {
	out, err := runProbe(ctx, ffprobe, "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,duration",
		"-of", "default=noprint_wrappers=1", path)
	if err != nil {
		return VideoStream{}, err
	}
	return parseVideoStream(out)
}

func parseVideoStream(out string) (VideoStream, error) {
	var vs VideoStream
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "width":
			vs.Width, _ = strconv.Atoi(v)
		case "height":
			vs.Height, _ = strconv.Atoi(v)
		case "r_frame_rate":
			vs.FPS = parseRate(v)
		case "duration":
			vs.Duration, _ = strconv.ParseFloat(v, 64)
		}
	}
	if vs.Width <= 0 || vs.Height <= 0 || vs.FPS <= 0 {
		return vs, fmt.Errorf("no usable video stream in probe output %q", out)
	}
	return vs, nil
}

// parseRate parses "30000/1001" or "25".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(out string) (float64, error) {
	s := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("duration not available")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

func runProbe(ctx context.Context, ffprobe string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, ffprobe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", ffprobe, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
