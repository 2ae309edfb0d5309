package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/web1havv/edsurf/internal/timeline"
)

// Report describes a finished or failed job.
type Report struct {
	JobID        string
	Output       string // empty unless the job succeeded
	Artifact     string
	Duration     float64
	Frames       int
	FailedFrames []int
	Timing       timeline.Source
	Encoder      string
	Stages       []StageTiming
	Elapsed      time.Duration
}

type StageTiming struct {
	Name    string
	Elapsed time.Duration
}

// EffectiveFPS is frames produced per second of wall time.
func (r *Report) EffectiveFPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Elapsed.Seconds()
}

func (r *Report) stage(name string) time.Duration {
	for _, s := range r.Stages {
		if s.Name == name {
			return s.Elapsed
		}
	}
	return 0
}

// Log writes the performance report.
func (r *Report) Log(log *zap.Logger) {
	fields := []zap.Field{
		zap.String("job_id", r.JobID),
		zap.String("output", r.Output),
		zap.Float64("duration", r.Duration),
		zap.Int("frames", r.Frames),
		zap.Int("failed_frames", len(r.FailedFrames)),
		zap.String("timing", string(r.Timing)),
		zap.String("encoder", r.Encoder),
		zap.Duration("total", r.Elapsed),
		zap.Duration("render", r.stage(stageRender)),
		zap.Duration("mux", r.stage(stageMux)),
		zap.Float64("effective_fps", r.EffectiveFPS()),
	}
	log.Info("отчёт о производительности", fields...)
}
