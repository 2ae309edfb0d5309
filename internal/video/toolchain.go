package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/system"
)

// Toolchain is a verified ffmpeg/ffprobe pair and the encoder that passed
// the smoke test on this host.
type Toolchain struct {
	FFmpeg  string
	FFprobe string // empty when no ffprobe was found
	Codec   string
}

type DiscoverOptions struct {
	Binary      string
	ProbeBinary string
	Fallbacks   []string
	// Encoders in order of preference.
	Encoders []string

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Discover picks the first usable ffmpeg binary and the first preferred
// encoder that can actually encode a frame.
func Discover(ctx context.Context, opts DiscoverOptions, log *zap.Logger) (*Toolchain, error) {
	const op = "video.Discover"
	if opts.lookPath == nil {
		opts.lookPath = exec.LookPath
	}
	if opts.run == nil {
		opts.run = combinedOutput
	}
	if log == nil {
		log = zap.NewNop()
	}

	bin, err := findBinary(opts.lookPath, candidates(opts.Binary, "ffmpeg", opts.Fallbacks))
	if err != nil {
		return nil, failure.Wrap(failure.EncodingUnavailable, op, err, "ffmpeg")
	}

	out, err := opts.run(ctx, bin, "-hide_banner", "-encoders")
	if err != nil {
		return nil, failure.Wrap(failure.EncodingUnavailable, op, err, "%s -encoders", bin)
	}
	available := parseEncoders(out)

	tc := &Toolchain{FFmpeg: bin}
	for _, name := range opts.Encoders {
		if !available[name] {
			log.Debug("энкодер отсутствует", zap.String("encoder", name))
			continue
		}
		if out, err := opts.run(ctx, bin, smokeArgs(name)...); err != nil {
			log.Warn("энкодер не прошёл проверку", zap.String("encoder", name), zap.Error(err), zap.String("stderr", tail(out, 300)))
			continue
		}
		tc.Codec = name
		break
	}
	if ctx.Err() != nil {
		return nil, failure.Wrap(failure.Cancelled, op, ctx.Err(), "encoder discovery")
	}
	if tc.Codec == "" {
		return nil, failure.New(failure.EncodingUnavailable, op, "none of %v works with %s", opts.Encoders, bin)
	}

	probeCandidates := candidates(opts.ProbeBinary, "ffprobe", []string{filepath.Join(filepath.Dir(bin), "ffprobe")})
	if p, err := findBinary(opts.lookPath, probeCandidates); err == nil {
		tc.FFprobe = p
	} else {
		log.Warn("ffprobe не найден, длительность аудио берётся из задания", zap.Error(err))
	}

	log.Info("кодировщик выбран", zap.String("ffmpeg", tc.FFmpeg), zap.String("ffprobe", tc.FFprobe), zap.String("encoder", tc.Codec))
	return tc, nil
}

// candidates lists the configured path first, then ./name and the given
// fallbacks, then name itself for a $PATH lookup.
func candidates(configured, name string, fallbacks []string) []string {
	var list []string
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			list = append(list, p)
		}
	}
	add(configured)
	add("./" + name)
	for _, f := range fallbacks {
		add(f)
	}
	add(name)
	return list
}

func findBinary(lookPath func(string) (string, error), list []string) (string, error) {
	var errs []string
	for _, c := range list {
		p, err := lookPath(c)
		if err == nil {
			return p, nil
		}
		errs = append(errs, c)
	}
	return "", fmt.Errorf("not found: %s", strings.Join(errs, ", "))
}

// parseEncoders reads the table printed by `ffmpeg -encoders`. Entries
// follow a line of dashes; each has a flag column and a name.
func parseEncoders(out []byte) map[string]bool {
	set := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	body := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !body {
			body = strings.HasPrefix(line, "---")
			continue
		}
		f := strings.Fields(line)
		if len(f) >= 2 && strings.HasPrefix(f[0], "V") {
			set[f[1]] = true
		}
	}
	return set
}

// smokeArgs encodes a few frames of a synthetic source and discards them.
func smokeArgs(codec string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=c=black:s=256x256:r=30:d=0.2",
		"-frames:v", "5",
		"-pix_fmt", "yuv420p",
		"-c:v", codec,
		"-f", "null", "-",
	}
}

// ProbeDuration returns the container duration of path.
func (tc *Toolchain) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if tc.FFprobe == "" {
		return 0, failure.New(failure.EncodingUnavailable, "video.ProbeDuration", "no ffprobe")
	}
	return system.ProbeDuration(ctx, tc.FFprobe, path)
}

// ProbeVideoDuration returns the duration of the first video stream.
func (tc *Toolchain) ProbeVideoDuration(ctx context.Context, path string) (float64, error) {
	if tc.FFprobe == "" {
		return 0, failure.New(failure.EncodingUnavailable, "video.ProbeVideoDuration", "no ffprobe")
	}
	return system.ProbeStreamDuration(ctx, tc.FFprobe, path, "v")
}

func combinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
