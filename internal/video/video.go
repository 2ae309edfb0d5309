package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/web1havv/edsurf/internal/failure"
)

// EncodeParams describes the raw frames written to an encoder.
type EncodeParams struct {
	Size image.Point
	FPS  int
}

// FrameSink receives frames in presentation order. Close flushes and
// waits for the encoder; Abort kills it and removes the partial file.
type FrameSink interface {
	WriteFrame(img *image.RGBA) error
	Close() error
	Abort()
}

type Encoder interface {
	Open(ctx context.Context, p EncodeParams, path string) (FrameSink, error)
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
}

type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ProbeVideoDuration(ctx context.Context, path string) (float64, error)
}

type FFmpegEncoder struct {
	Binary       string
	Codec        string
	Quality      int // 0 = codec default
	Preset       string
	AudioCodec   string
	AudioBitrate string
}

// NewEncoder returns an encoder bound to the verified codec of tc.
func (tc *Toolchain) NewEncoder(quality int, preset, audioCodec, audioBitrate string) *FFmpegEncoder {
	return &FFmpegEncoder{
		Binary:       tc.FFmpeg,
		Codec:        tc.Codec,
		Quality:      quality,
		Preset:       preset,
		AudioCodec:   audioCodec,
		AudioBitrate: audioBitrate,
	}
}

// QualityArgs maps a quality setting to the rate control flags of codec.
func QualityArgs(codec string, quality int, preset string) []string {
	switch codec {
	case "h264_videotoolbox":
		// bitrate in units of 100 kbit/s, 75 -> 7.5 Mbit/s
		if quality == 0 {
			quality = 75
		}
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		if quality == 0 {
			quality = 28
		}
		return []string{"-cq", strconv.Itoa(quality)}
	case "libopenh264":
		if quality == 0 {
			quality = 60
		}
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "mpeg4":
		if quality == 0 {
			quality = 3
		}
		return []string{"-q:v", strconv.Itoa(quality)}
	default: // libx264
		if quality == 0 {
			quality = 23
		}
		if preset == "" {
			preset = "medium"
		}
		return []string{"-crf", strconv.Itoa(quality), "-preset", preset}
	}
}

func (e *FFmpegEncoder) encodeArgs(p EncodeParams, path string) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", p.Size.X, p.Size.Y),
		"-framerate", strconv.Itoa(p.FPS),
		"-i", "-",
		"-an",
		"-c:v", e.Codec,
		"-pix_fmt", "yuv420p",
	}
	args = append(args, QualityArgs(e.Codec, e.Quality, e.Preset)...)
	return append(args, "-r", strconv.Itoa(p.FPS), "-movflags", "+faststart", path)
}

func (e *FFmpegEncoder) muxArgs(videoPath, audioPath, outPath string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", videoPath}
	if audioPath == "" {
		return append(args, "-map", "0:v:0", "-c:v", "copy", "-movflags", "+faststart", outPath)
	}
	codec := e.AudioCodec
	if codec == "" {
		codec = "aac"
	}
	args = append(args, "-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", codec,
	)
	if e.AudioBitrate != "" {
		args = append(args, "-b:a", e.AudioBitrate)
	}
	return append(args, "-shortest", "-movflags", "+faststart", outPath)
}

// Open starts ffmpeg reading raw RGBA frames on stdin.
func (e *FFmpegEncoder) Open(ctx context.Context, p EncodeParams, path string) (FrameSink, error) {
	const op = "video.Open"
	cmd := exec.CommandContext(ctx, e.Binary, e.encodeArgs(p, path)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, failure.Wrap(failure.EncodingFailed, op, err, "stdin pipe")
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, failure.Wrap(failure.EncodingUnavailable, op, err, "start %s", e.Binary)
	}
	return &ffmpegSink{cmd: cmd, stdin: stdin, stderr: stderr, path: path, size: p.Size}, nil
}

// Mux copies the encoded video and encodes the audio track into outPath.
// An empty audioPath produces a silent copy.
func (e *FFmpegEncoder) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	out, err := exec.CommandContext(ctx, e.Binary, e.muxArgs(videoPath, audioPath, outPath)...).CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		if ctx.Err() != nil {
			return failure.Wrap(failure.Cancelled, "video.Mux", ctx.Err(), "mux")
		}
		return failure.Wrap(failure.EncodingFailed, "video.Mux", err, "ffmpeg mux: %s", tail(out, 500))
	}
	return nil
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	path   string
	size   image.Point
	once   sync.Once
}

func (s *ffmpegSink) WriteFrame(img *image.RGBA) error {
	if img.Bounds().Size() != s.size {
		return failure.New(failure.EncodingFailed, "video.WriteFrame", "frame is %v, encoder expects %v", img.Bounds().Size(), s.size)
	}
	if err := writeRawRGBA(s.stdin, img); err != nil {
		return failure.Wrap(failure.EncodingFailed, "video.WriteFrame", err, "ffmpeg: %s", s.stderr.String())
	}
	return nil
}

func (s *ffmpegSink) Close() error {
	var err error
	s.once.Do(func() {
		cerr := s.stdin.Close()
		werr := s.cmd.Wait()
		if werr != nil || cerr != nil {
			os.Remove(s.path)
			err = failure.Wrap(failure.EncodingFailed, "video.Close", errors.Join(werr, cerr), "ffmpeg: %s", s.stderr.String())
		}
	})
	return err
}

func (s *ffmpegSink) Abort() {
	s.once.Do(func() {
		s.stdin.Close()
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
		os.Remove(s.path)
	})
}

// writeRawRGBA writes tightly packed RGBA rows, copying when img has a
// stride or origin ffmpeg would not expect.
func writeRawRGBA(w io.Writer, img *image.RGBA) error {
	b := img.Bounds()
	if img.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		packed := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(packed, packed.Bounds(), img, b.Min, draw.Src)
		img = packed
	}
	_, err := w.Write(img.Pix)
	return err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tail(t.buf, t.limit)
}
