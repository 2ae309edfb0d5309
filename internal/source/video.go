package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/web1havv/edsurf/internal/effects"
	"github.com/web1havv/edsurf/internal/system"
)

// VideoSource decodes a video file through one ffmpeg process that already
// scales and crops to the output size.
type VideoSource struct {
	path    string
	ffmpeg  string
	ffprobe string
	stream  system.VideoStream
	blur    int
	dim     float64
	maxSecs float64
	fps     int // output rate, 0 = native
}

func NewVideoSource(path string, opts Options) (*VideoSource, error) {
	ffmpeg, ffprobe := opts.FFmpeg, opts.FFprobe
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	vs, err := system.ProbeVideo(ctx, ffprobe, path)
	if err != nil {
		return nil, err
	}
	return &VideoSource{
		path:    path,
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		stream:  vs,
		blur:    opts.Blur,
		dim:     opts.Dim,
		maxSecs: opts.MaxSeconds,
		fps:     opts.FPS,
	}, nil
}

func (v *VideoSource) Name() string { return v.path }
func (v *VideoSource) Hold() bool   { return false }
func (v *VideoSource) Close() error { return nil }

func (v *VideoSource) FPS() float64 {
	if v.fps > 0 {
		return float64(v.fps)
	}
	return v.stream.FPS
}

// frameLimit is how many frames to decode: the whole clip, or enough to
// cover maxSecs, capped by maxFrames.
func (v *VideoSource) frameLimit(maxFrames int) int {
	n := maxFrames
	fps := v.FPS()
	if v.stream.Duration > 0 {
		if all := int(math.Ceil(v.stream.Duration * fps)); all < n {
			n = all
		}
	}
	if v.maxSecs > 0 {
		if need := int(math.Ceil(v.maxSecs*fps)) + 1; need < n {
			n = need
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (v *VideoSource) decodeArgs(size image.Point, frames int) []string {
	filter := effects.BackgroundFilter(effects.BackgroundParams{
		Width:  size.X,
		Height: size.Y,
		Blur:   v.blur,
		Dim:    v.dim,
		FPS:    float64(v.fps),
	})
	return []string{
		"-v", "error",
		"-i", v.path,
		"-an",
		"-vf", filter,
		"-frames:v", fmt.Sprintf("%d", frames),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
}

func (v *VideoSource) Load(ctx context.Context, size image.Point, maxFrames int) ([]*image.RGBA, error) {
	limit := v.frameLimit(maxFrames)
	cmd := exec.CommandContext(ctx, v.ffmpeg, v.decodeArgs(size, limit)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	frames, readErr := readRawFrames(stdout, size, limit)
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg decode error: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return frames, nil
}

// readRawFrames reads packed RGBA frames until EOF or limit.
func readRawFrames(r io.Reader, size image.Point, limit int) ([]*image.RGBA, error) {
	frameSize := size.X * size.Y * 4
	var frames []*image.RGBA
	for len(frames) < limit {
		img := image.NewRGBA(image.Rectangle{Max: size})
		_, err := io.ReadFull(r, img.Pix[:frameSize])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", len(frames), err)
		}
		frames = append(frames, img)
	}
	// drain so ffmpeg can exit
	_, _ = io.Copy(io.Discard, r)
	return frames, nil
}
