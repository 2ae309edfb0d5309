package engine

import (
	"context"
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/web1havv/edsurf/internal/artifact"
	"github.com/web1havv/edsurf/internal/assets"
	"github.com/web1havv/edsurf/internal/captions"
	"github.com/web1havv/edsurf/internal/compositor"
	"github.com/web1havv/edsurf/internal/config"
	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/script"
	"github.com/web1havv/edsurf/internal/source"
	"github.com/web1havv/edsurf/internal/speaker"
	"github.com/web1havv/edsurf/internal/system"
	"github.com/web1havv/edsurf/internal/timeline"
	"github.com/web1havv/edsurf/internal/video"
)

const (
	stageParse      = "parse"
	stageAssets     = "assets"
	stageEncoder    = "encoder"
	stageAudio      = "audio"
	stageTimeline   = "timeline"
	stageCaptions   = "captions"
	stageBackground = "background"
	stageRender     = "render"
	stageMux        = "mux"
	stagePublish    = "publish"
)

// Backend is the external encoder and prober of a job.
type Backend interface {
	video.Encoder
	video.Prober
	Name() string
}

// BackendFactory discovers a Backend. It runs before any frame is drawn.
type BackendFactory func(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error)

// Publisher uploads finished files.
type Publisher interface {
	Publish(ctx context.Context, jobID string, paths ...string) error
}

type Engine struct {
	Config    *config.Config
	Log       *zap.Logger
	Backend   BackendFactory // nil = ffmpeg discovery
	Publisher Publisher      // nil = no publishing
}

func New(cfg *config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Config: cfg, Log: log}
}

// run is the state of one job as it moves through the stages.
type run struct {
	e      *Engine
	cfg    *config.Config
	job    *Job
	log    *zap.Logger
	report *Report

	reg      *speaker.Registry
	pair     speaker.Pair
	segments []script.Segment
	saved    *artifact.Artifact
	overlays assets.Set
	backend  Backend
	duration float64
	tl       *timeline.Timeline
	cues     []captions.Cue
	bg       *source.Background
}

// Run executes job end to end. The output file exists only if Run returns
// a nil error.
func (e *Engine) Run(ctx context.Context, job *Job) (*Report, error) {
	start := time.Now()
	cfg := e.Config
	if err := job.Normalize(cfg.Paths.OutputDir); err != nil {
		return &Report{JobID: job.ID}, err
	}
	r := &run{
		e:      e,
		cfg:    cfg,
		job:    job,
		log:    e.Log.With(zap.String("job_id", job.ID)),
		report: &Report{JobID: job.ID},
	}
	defer func() { r.report.Elapsed = time.Since(start) }()

	r.log.Info("задание запущено", zap.String("pair", job.Pair), zap.String("output", job.Output))

	// everything that can fail cheaply runs before the first frame
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{stageParse, r.parse},
		{stageAssets, r.loadAssets},
		{stageEncoder, r.discover},
		{stageAudio, r.probeAudio},
		{stageTimeline, r.buildTimeline},
		{stageCaptions, r.scheduleCaptions},
		{stageBackground, r.loadBackground},
	}
	for _, s := range steps {
		if err := r.stage(ctx, s.name, cfg.Render.StageTimeout, s.fn); err != nil {
			r.log.Error("задание прервано", zap.String("stage", s.name), zap.Error(err))
			return r.report, err
		}
	}

	if err := r.produce(ctx); err != nil {
		r.log.Error("задание прервано", zap.Error(err))
		return r.report, err
	}

	if e.Publisher != nil && (job.Publish || cfg.Storage.Enabled) {
		files := []string{job.Output}
		if r.report.Artifact != "" {
			files = append(files, r.report.Artifact)
		}
		err := r.stage(ctx, stagePublish, cfg.Render.StageTimeout, func(ctx context.Context) error {
			return e.Publisher.Publish(ctx, job.ID, files...)
		})
		if err != nil {
			// the video stays in place when the upload fails
			r.log.Error("публикация не удалась", zap.Error(err))
		}
	}

	r.report.Elapsed = time.Since(start)
	r.report.Log(r.log)
	return r.report, nil
}

// stage runs fn under its own deadline and records its wall time.
func (r *run) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t0 := time.Now()
	err := fn(sctx)
	r.report.Stages = append(r.report.Stages, StageTiming{Name: name, Elapsed: time.Since(t0)})
	r.log.Debug("этап завершён", zap.String("stage", name), zap.Duration("elapsed", time.Since(t0)), zap.Error(err))
	return classify(ctx, sctx, name, err)
}

// classify maps cancellation and deadlines to their failure kinds.
func classify(parent, stage context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	op := "engine." + name
	switch {
	case parent.Err() != nil:
		return &failure.Error{Kind: failure.Cancelled, Op: op, Message: "job cancelled", Err: err}
	case errors.Is(stage.Err(), context.DeadlineExceeded):
		return &failure.Error{Kind: failure.RenderTimeout, Op: op, Message: "stage deadline exceeded", Err: err}
	}
	return err
}

func (r *run) parse(_ context.Context) error {
	reg, err := r.cfg.Registry()
	if err != nil {
		return err
	}
	r.reg = reg
	pair, err := reg.Pair(r.job.Pair)
	if err != nil {
		return failure.Wrap(failure.ConfigError, "engine.parse", err, "pair %q", r.job.Pair)
	}
	r.pair = pair

	if r.job.ReuseArtifact != "" {
		a, err := artifact.Read(r.job.ReuseArtifact)
		if err != nil {
			return err
		}
		for _, e := range a.Timeline.Entries {
			if !pair.Contains(e.Speaker) {
				return failure.New(failure.TimelineError, "engine.parse", "artifact speaker %q is not in pair %s", e.Speaker, pair)
			}
		}
		r.saved = a
		r.log.Info("используется сохранённый тайминг", zap.String("artifact", r.job.ReuseArtifact))
		return nil
	}

	text, err := r.job.ScriptText()
	if err != nil {
		return err
	}
	segs, stats, err := script.ParseWithStats(text, pair, reg)
	if err != nil {
		return err
	}
	r.segments = segs
	r.log.Info("сценарий разобран",
		zap.Int("segments", len(segs)),
		zap.Bool("labelled", stats.Labelled),
		zap.Int("dropped_lines", stats.Dropped))
	return nil
}

func (r *run) loadAssets(_ context.Context) error {
	set, err := assets.LoadPair(r.reg, r.pair, assets.Options{
		FrameSize:   r.frameSize(),
		HeightRatio: r.cfg.Overlay.HeightRatio,
		Margin:      r.cfg.Overlay.Margin,
		Mask:        r.cfg.Overlay.Mask,
	})
	if err != nil {
		return err
	}
	r.overlays = set
	for _, o := range set {
		r.log.Debug("оверлей загружен", zap.Stringer("overlay", o))
	}
	return nil
}

func (r *run) discover(ctx context.Context) error {
	factory := r.e.Backend
	if factory == nil {
		factory = FFmpegBackend
	}
	b, err := factory(ctx, r.cfg, r.log)
	if err != nil {
		return failure.Wrap(failure.EncodingUnavailable, "engine.discover", err, "encoder discovery")
	}
	r.backend = b
	r.report.Encoder = b.Name()
	return nil
}

// probeAudio fixes D, the duration of the job.
func (r *run) probeAudio(ctx context.Context) error {
	const op = "engine.probeAudio"
	job := r.job
	if job.Audio == "" {
		r.duration = job.AudioDuration
	} else {
		if _, err := os.Stat(job.Audio); err != nil {
			return failure.Wrap(failure.AssetMissing, op, err, "audio %s", job.Audio)
		}
		d, err := r.backend.ProbeDuration(ctx, job.Audio)
		switch {
		case err == nil:
			r.duration = d
		case job.AudioDuration > 0:
			r.log.Warn("длительность аудио не определена, используется значение из задания", zap.Error(err), zap.Float64("duration", job.AudioDuration))
			r.duration = job.AudioDuration
		default:
			return failure.Wrap(failure.AssetMissing, op, err, "probe %s", job.Audio)
		}
	}
	if r.duration <= 0 || math.IsNaN(r.duration) || math.IsInf(r.duration, 0) {
		return failure.New(failure.TimelineError, op, "audio duration %v", r.duration)
	}
	r.report.Duration = r.duration
	return nil
}

func (r *run) buildTimeline(_ context.Context) error {
	fps := r.cfg.Video.FPS
	if r.saved != nil {
		if err := r.saved.Fit(r.duration, fps); err != nil {
			return err
		}
		r.tl = r.saved.Timeline
	} else {
		tl, err := timeline.Build(r.segments, timeline.Options{
			TotalDuration:    r.duration,
			FPS:              fps,
			Unit:             timeline.Unit(r.cfg.Timing.WeightUnit),
			SegmentDurations: r.job.SegmentDurations,
			Tolerance:        r.cfg.Timing.DurationTolerance,
		})
		if err != nil {
			return err
		}
		r.tl = tl
	}
	if err := r.tl.Validate(1 / float64(fps)); err != nil {
		return err
	}
	r.report.Timing = r.tl.Source
	r.report.Frames = r.tl.FrameCount()
	r.log.Info("таймлайн построен",
		zap.Int("entries", len(r.tl.Entries)),
		zap.String("timing", string(r.tl.Source)),
		zap.Float64("rescale", r.tl.Rescale),
		zap.Int("frames", r.report.Frames))
	if r.tl.Source == timeline.Proportional {
		r.log.Info("границы реплик оценены по длине текста")
	}
	return nil
}

func (r *run) scheduleCaptions(_ context.Context) error {
	if r.saved != nil && len(r.saved.Cues) > 0 {
		r.cues = r.saved.Cues
	} else {
		cues, err := captions.Schedule(r.tl, captions.Options{
			MaxChars:    r.cfg.Timing.MaxCueChars,
			MinDuration: r.cfg.Timing.MinCueDuration,
			MaxDuration: r.cfg.Timing.MaxCueDuration,
		})
		if err != nil {
			return err
		}
		r.cues = cues
	}
	if err := captions.Validate(r.tl, r.cues, 1/float64(r.cfg.Video.FPS)); err != nil {
		return err
	}

	if path := r.job.Artifact; path != "" {
		a := &artifact.Artifact{JobID: r.job.ID, Pair: r.pair.String(), Timeline: r.tl, Cues: r.cues}
		if err := artifact.Write(a, path); err != nil {
			return failure.Wrap(failure.EncodingFailed, "engine.artifact", err, "write %s", path)
		}
		r.report.Artifact = path
	}
	r.log.Info("субтитры распределены", zap.Int("cues", len(r.cues)))
	return nil
}

func (r *run) loadBackground(ctx context.Context) error {
	cfg := r.cfg
	src, err := source.Open(r.job.Background, source.Options{
		FFmpeg:        cfg.FFmpeg.Binary,
		FFprobe:       cfg.FFmpeg.ProbeBinary,
		SlideDuration: cfg.Backdrop.SlideDuration,
		DPI:           cfg.Backdrop.DPI,
		Blur:          cfg.Backdrop.Blur,
		Dim:           cfg.Backdrop.Dim,
		MaxSeconds:    cfg.Backdrop.MaxSeconds,
		FPS:           cfg.Video.FPS,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	// never decode more source frames than D covers or memory holds
	size := r.frameSize()
	budget := system.MemoryBudget(cfg.Render.MemoryFraction)
	need := source.FramesFor(src, r.duration)
	limit := min(system.FramesWithin(budget, size.X, size.Y, need), need)
	bg, err := source.Preload(ctx, src, size, max(limit, 1))
	if err != nil {
		return err
	}
	r.bg = bg
	r.log.Info("фон загружен",
		zap.String("background", bg.Name),
		zap.Int("frames", len(bg.Frames)),
		zap.Float64("fps", bg.FPS),
		zap.Uint64("memory_budget", budget))
	return nil
}

func (r *run) frameSize() image.Point {
	return image.Pt(r.cfg.Video.Width, r.cfg.Video.Height)
}

func (r *run) compositor() (*compositor.Compositor, error) {
	cfg := r.cfg
	res := compositor.Resources{
		Timeline:   r.tl,
		Overlays:   r.overlays,
		Profiles:   r.reg,
		Background: r.bg,
	}
	if cfg.Captions.Enabled {
		res.Captions = captions.NewTrack(r.cues)
	}
	badgeAnchor := speaker.TopRight
	if cfg.QR.Enabled && r.job.QR != "" {
		badge, err := compositor.QRBadge(r.job.QR, cfg.QR.Size)
		if err != nil {
			return nil, failure.Wrap(failure.AssetMissing, "engine.qr", err, "qr badge")
		}
		res.Badge = badge
		if a, err := speaker.ParseAnchor(cfg.QR.Anchor); err == nil {
			badgeAnchor = a
		}
	}
	cc := cfg.Captions
	return compositor.New(res, compositor.Options{
		Size:             r.frameSize(),
		FPS:              cfg.Video.FPS,
		OverlayMargin:    cfg.Overlay.Margin,
		EntranceDuration: cfg.Overlay.EntranceDuration,
		EntranceOffset:   int(cfg.Overlay.EntranceOffset * float64(cfg.Video.Height)),
		Caption: compositor.CaptionStyle{
			FontPath:     cc.FontPath,
			FontSize:     cfg.ScaledFontSize(),
			TopMargin:    cc.TopMargin,
			SideMargin:   cc.SideMargin,
			Padding:      cc.Padding,
			CornerRadius: cc.CornerRadius,
			LineSpacing:  cc.LineSpacing,
			OutlineWidth: cc.OutlineWidth,
			ShadowOffset: cc.ShadowOffset,
			PlateAlpha:   cc.PlateAlpha,
			MaxLines:     cc.MaxLines,
		},
		BadgeAnchor: badgeAnchor,
		BadgeMargin: cfg.QR.Margin,
	})
}

// produce renders, encodes and muxes into a temp directory, then moves the
// result into place.
func (r *run) produce(ctx context.Context) error {
	cfg := r.cfg
	comp, err := r.compositor()
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp(cfg.Paths.TempDir, "edsurf_"+r.job.ID+"_")
	if err != nil {
		return failure.Wrap(failure.EncodingFailed, "engine.produce", err, "temp dir")
	}
	defer os.RemoveAll(tmp)

	videoPath := filepath.Join(tmp, "video.mp4")
	budget := time.Duration(cfg.Render.RealtimeFactor*r.duration*float64(time.Second)) + cfg.Render.StageTimeout
	err = r.stage(ctx, stageRender, budget, func(ctx context.Context) error {
		return r.render(ctx, comp, videoPath)
	})
	if err != nil {
		return err
	}

	out := r.job.Output
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return failure.Wrap(failure.EncodingFailed, "engine.produce", err, "output dir")
	}
	// the partial file sits next to the target so the rename stays on one
	// filesystem
	partial := filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".part")
	defer os.Remove(partial)

	err = r.stage(ctx, stageMux, cfg.Render.StageTimeout, func(ctx context.Context) error {
		if err := r.backend.Mux(ctx, videoPath, r.job.Audio, partial); err != nil {
			return err
		}
		return r.verify(ctx, partial)
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.Cancelled, "engine.produce", err, "job cancelled")
	}
	if err := os.Rename(partial, out); err != nil {
		return failure.Wrap(failure.EncodingFailed, "engine.produce", err, "move %s", out)
	}
	r.report.Output = out
	r.log.Info("видео готово", zap.String("output", out))
	return nil
}

func (r *run) render(ctx context.Context, comp *compositor.Compositor, videoPath string) error {
	cfg := r.cfg
	sink, err := r.backend.Open(ctx, video.EncodeParams{Size: comp.Size(), FPS: cfg.Video.FPS}, videoPath)
	if err != nil {
		return err
	}

	n := comp.FrameCount()
	plan := renderPlan{
		frames:    n,
		size:      comp.Size(),
		workers:   system.Workers(cfg.Render.Workers, n),
		depth:     cfg.Render.QueueDepth,
		threshold: cfg.Render.FailureThreshold,
		newWorker: func() (composer, func(), error) {
			w, err := comp.NewWorker()
			if err != nil {
				return nil, nil, err
			}
			return w, func() { w.Close() }, nil
		},
		fallback: comp.Background,
	}
	r.log.Info("рендеринг кадров", zap.Int("frames", n), zap.Int("workers", plan.workers), zap.Int("queue_depth", plan.depth))

	failed, err := renderFrames(ctx, plan, sink, r.log)
	r.report.FailedFrames = failed
	if err != nil {
		sink.Abort()
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}
	if len(failed) > 0 {
		r.log.Warn("часть кадров заменена предыдущими", zap.Ints("frames", failed))
	}
	return nil
}

// verify checks that the muxed video track lasts D within one frame.
func (r *run) verify(ctx context.Context, path string) error {
	got, err := r.backend.ProbeVideoDuration(ctx, path)
	if err != nil {
		if failure.Is(err, failure.EncodingUnavailable) {
			r.log.Warn("проверка длительности пропущена", zap.Error(err))
			return nil
		}
		return failure.Wrap(failure.EncodingFailed, "engine.verify", err, "probe %s", path)
	}
	tol := 1/float64(r.cfg.Video.FPS) + 1e-3
	if math.Abs(got-r.duration) > tol {
		return failure.New(failure.EncodingFailed, "engine.verify", "video lasts %.3fs, audio %.3fs", got, r.duration)
	}
	return nil
}

// ffmpegBackend joins the discovered toolchain with its encoder.
type ffmpegBackend struct {
	*video.FFmpegEncoder
	tc *video.Toolchain
}

func (b *ffmpegBackend) Name() string { return b.tc.Codec }

func (b *ffmpegBackend) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return b.tc.ProbeDuration(ctx, path)
}

func (b *ffmpegBackend) ProbeVideoDuration(ctx context.Context, path string) (float64, error) {
	return b.tc.ProbeVideoDuration(ctx, path)
}

// FFmpegBackend discovers ffmpeg and a working H.264 encoder on this host.
func FFmpegBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error) {
	tc, err := video.Discover(ctx, video.DiscoverOptions{
		Binary:      cfg.FFmpeg.Binary,
		ProbeBinary: cfg.FFmpeg.ProbeBinary,
		Fallbacks:   cfg.FFmpeg.Fallbacks,
		Encoders:    cfg.Video.Encoders,
	}, log)
	if err != nil {
		return nil, err
	}
	enc := tc.NewEncoder(cfg.Video.Quality, cfg.Video.Preset, cfg.Video.AudioCodec, cfg.Video.AudioBitrate)
	return &ffmpegBackend{FFmpegEncoder: enc, tc: tc}, nil
}
