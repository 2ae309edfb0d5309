package engine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/web1havv/edsurf/internal/config"
	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/timeline"
	"github.com/web1havv/edsurf/internal/video"
)

type fakeBackend struct {
	mu            sync.Mutex
	fps           int
	audioDuration float64
	videoDuration float64 // 0 = frames written / fps
	opened        int
	frames        int
	aborted       bool
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(_ context.Context, p video.EncodeParams, path string) (video.FrameSink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	return &fakeSink{b: b, path: path, size: p.Size}, nil
}

func (b *fakeBackend) Mux(_ context.Context, videoPath, _, outPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("muxed"), 0644)
}

func (b *fakeBackend) ProbeDuration(context.Context, string) (float64, error) {
	return b.audioDuration, nil
}

func (b *fakeBackend) ProbeVideoDuration(context.Context, string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.videoDuration > 0 {
		return b.videoDuration, nil
	}
	return float64(b.frames) / float64(b.fps), nil
}

func (b *fakeBackend) factory() BackendFactory {
	return func(context.Context, *config.Config, *zap.Logger) (Backend, error) { return b, nil }
}

type fakeSink struct {
	b    *fakeBackend
	path string
	size image.Point
}

func (s *fakeSink) WriteFrame(img *image.RGBA) error {
	if img.Bounds().Size() != s.size {
		return failure.New(failure.EncodingFailed, "fake", "size %v", img.Bounds().Size())
	}
	s.b.mu.Lock()
	s.b.frames++
	s.b.mu.Unlock()
	return nil
}

func (s *fakeSink) Close() error { return os.WriteFile(s.path, []byte("video"), 0644) }

func (s *fakeSink) Abort() {
	s.b.mu.Lock()
	s.b.aborted = true
	s.b.mu.Unlock()
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 40))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{0xff, 0, 0, 0xff})
	writePNG(t, filepath.Join(dir, "b.png"), color.RGBA{0, 0, 0xff, 0xff})

	cfg := config.Default()
	cfg.Video.Width, cfg.Video.Height, cfg.Video.FPS = 64, 96, 10
	cfg.Render.Workers = 3
	cfg.Overlay.Margin = 4
	cfg.Captions.TopMargin = 4
	cfg.Captions.SideMargin = 2
	cfg.Captions.Padding = 2
	cfg.Captions.CornerRadius = 2
	cfg.Speakers = map[string]config.SpeakerConfig{
		"anna": {DisplayName: "Anna", Asset: filepath.Join(dir, "a.png"), Anchor: "left", Plate: "#C83232"},
		"ben":  {DisplayName: "Ben", Asset: filepath.Join(dir, "b.png"), Anchor: "right", Plate: "#3264C8"},
		"cara": {DisplayName: "Cara", Asset: filepath.Join(dir, "a.png"), Anchor: "left", Plate: "#32C832"},
	}
	cfg.Pairs = map[string][]string{"anna_ben": {"anna", "ben"}}
	cfg.Paths.OutputDir = filepath.Join(dir, "out")
	cfg.Paths.TempDir = dir
	return cfg
}

const dialogue = "**Anna:** Welcome back to the show, today we talk about video.\n**Ben:** Thanks for having me."

func newEngine(t *testing.T, cfg *config.Config, b BackendFactory) *Engine {
	e := New(cfg, zaptest.NewLogger(t))
	e.Backend = b
	return e
}

func TestRunProducesVideo(t *testing.T) {
	cfg := testConfig(t)
	fb := &fakeBackend{fps: 10}
	art := filepath.Join(cfg.Paths.OutputDir, "timing.yaml")
	job := &Job{ID: "ok", Pair: "anna_ben", Script: dialogue, AudioDuration: 2, Background: "color:#202020", Artifact: art}

	report, err := newEngine(t, cfg, fb.factory()).Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if report.Frames != 20 || fb.frames != 20 {
		t.Errorf("frames: report %d, encoder %d, want round(2*10)=20", report.Frames, fb.frames)
	}
	if report.Output != filepath.Join(cfg.Paths.OutputDir, "ok.mp4") {
		t.Errorf("output = %q", report.Output)
	}
	if _, err := os.Stat(report.Output); err != nil {
		t.Errorf("output missing: %v", err)
	}
	if _, err := os.Stat(art); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
	if report.Timing != timeline.Proportional || report.Encoder != "fake" {
		t.Errorf("report = %+v", report)
	}
	if len(report.FailedFrames) != 0 {
		t.Errorf("failed frames %v", report.FailedFrames)
	}
	entries, _ := os.ReadDir(cfg.Paths.OutputDir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".part" {
			t.Errorf("partial file left behind: %s", e.Name())
		}
	}

	// the saved timing renders again without a script
	again := &Job{ID: "again", Pair: "anna_ben", AudioDuration: 2, Background: "color:#202020", ReuseArtifact: art}
	fb2 := &fakeBackend{fps: 10}
	if _, err := newEngine(t, cfg, fb2.factory()).Run(context.Background(), again); err != nil {
		t.Fatalf("re-render: %v", err)
	}
	if fb2.frames != 20 {
		t.Errorf("re-render wrote %d frames", fb2.frames)
	}
}

func TestRunProbesAudio(t *testing.T) {
	cfg := testConfig(t)
	audio := filepath.Join(t.TempDir(), "voice.mp3")
	if err := os.WriteFile(audio, []byte("id3"), 0644); err != nil {
		t.Fatal(err)
	}
	fb := &fakeBackend{fps: 10, audioDuration: 3.04}
	job := &Job{Pair: "anna_ben", Script: dialogue, Audio: audio, Background: "color:#000000"}

	report, err := newEngine(t, cfg, fb.factory()).Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if report.Frames != 30 || report.Duration != 3.04 {
		t.Errorf("frames %d duration %v", report.Frames, report.Duration)
	}
	if job.ID == "" {
		t.Error("job id not assigned")
	}
}

func TestRunEncoderUnavailable(t *testing.T) {
	cfg := testConfig(t)
	unavailable := func(context.Context, *config.Config, *zap.Logger) (Backend, error) {
		return nil, failure.New(failure.EncodingUnavailable, "test", "no encoder")
	}
	job := &Job{ID: "noenc", Pair: "anna_ben", Script: dialogue, AudioDuration: 2, Background: "color:#000000"}

	report, err := newEngine(t, cfg, unavailable).Run(context.Background(), job)
	if !failure.Is(err, failure.EncodingUnavailable) {
		t.Fatalf("expected EncodingUnavailable, got %v", err)
	}
	if _, serr := os.Stat(job.Output); !os.IsNotExist(serr) {
		t.Errorf("output must not exist: %v", serr)
	}
	for _, s := range report.Stages {
		if s.Name == stageRender || s.Name == stageBackground {
			t.Errorf("stage %s ran after discovery failed", s.Name)
		}
	}
}

func TestRunRejectsEarly(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		kind failure.Kind
	}{
		{"unknown pair", Job{Pair: "anna_zed", Script: dialogue, AudioDuration: 2, Background: "color:#000000"}, failure.ConfigError},
		{"speaker outside pair", Job{Pair: "anna_ben", Script: "**Ben:** hi\n**Cara:** hey", AudioDuration: 2, Background: "color:#000000"}, failure.ParseError},
		{"missing audio file", Job{Pair: "anna_ben", Script: dialogue, Audio: "/no/such.mp3", Background: "color:#000000"}, failure.AssetMissing},
		{"missing background", Job{Pair: "anna_ben", Script: dialogue, AudioDuration: 2, Background: "/no/such/dir"}, failure.AssetMissing},
		{"segment count mismatch", Job{Pair: "anna_ben", Script: dialogue, AudioDuration: 2, SegmentDurations: []float64{2}, Background: "color:#000000"}, failure.TimelineError},
		{"no script", Job{Pair: "anna_ben", AudioDuration: 2, Background: "color:#000000"}, failure.ConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{fps: 10}
			job := tt.job
			_, err := newEngine(t, testConfig(t), fb.factory()).Run(context.Background(), &job)
			if !failure.Is(err, tt.kind) {
				t.Fatalf("got %v, want %v", err, tt.kind)
			}
			if fb.opened != 0 {
				t.Errorf("encoder opened before validation finished")
			}
		})
	}
}

func TestRunVerifiesDuration(t *testing.T) {
	cfg := testConfig(t)
	fb := &fakeBackend{fps: 10, videoDuration: 2.5}
	job := &Job{ID: "short", Pair: "anna_ben", Script: dialogue, AudioDuration: 2, Background: "color:#000000"}
	_, err := newEngine(t, cfg, fb.factory()).Run(context.Background(), job)
	if !failure.Is(err, failure.EncodingFailed) {
		t.Fatalf("expected EncodingFailed, got %v", err)
	}
	if _, serr := os.Stat(job.Output); !os.IsNotExist(serr) {
		t.Errorf("output must not exist after a failed check")
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(t)
	fb := &fakeBackend{fps: 10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := &Job{ID: "cancel", Pair: "anna_ben", Script: dialogue, AudioDuration: 2, Background: "color:#000000"}
	_, err := newEngine(t, cfg, fb.factory()).Run(ctx, job)
	if !failure.Is(err, failure.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if _, serr := os.Stat(job.Output); !os.IsNotExist(serr) {
		t.Errorf("cancelled job left %s", job.Output)
	}
}
