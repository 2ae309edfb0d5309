package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/web1havv/edsurf/internal/failure"
)

// Job is one render request, usually read from a yaml manifest.
type Job struct {
	ID         string `yaml:"id"`
	Pair       string `yaml:"pair" validate:"required"`
	Script     string `yaml:"script" validate:"required_without_all=ScriptPath ReuseArtifact"`
	ScriptPath string `yaml:"script_path"`
	Audio      string `yaml:"audio" validate:"required_without=AudioDuration"`
	// AudioDuration is used when there is no audio track or it cannot be
	// probed.
	AudioDuration    float64   `yaml:"audio_duration" validate:"gte=0"`
	SegmentDurations []float64 `yaml:"segment_durations" validate:"dive,gt=0"`
	Background       string    `yaml:"background" validate:"required"`
	Output           string    `yaml:"output"`
	Artifact         string    `yaml:"artifact"`
	ReuseArtifact    string    `yaml:"reuse_artifact"`
	QR               string    `yaml:"qr"`
	Publish          bool      `yaml:"publish"`
}

var validate = validator.New()

// LoadJob reads a manifest. Relative paths inside it are resolved against
// the manifest's directory.
func LoadJob(path string) (*Job, error) {
	const op = "engine.LoadJob"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.ConfigError, op, err, "read %s", path)
	}
	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, failure.Wrap(failure.ConfigError, op, err, "parse %s", path)
	}
	if j.ID == "" {
		j.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	dir := filepath.Dir(path)
	for _, p := range []*string{&j.ScriptPath, &j.Audio, &j.Output, &j.Artifact, &j.ReuseArtifact} {
		*p = resolve(dir, *p)
	}
	if !strings.HasPrefix(j.Background, "color:") {
		j.Background = resolve(dir, j.Background)
	}
	return &j, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Normalize fills the job id and output path and validates the manifest.
func (j *Job) Normalize(outputDir string) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Output == "" {
		j.Output = filepath.Join(outputDir, j.ID+".mp4")
	}
	if err := validate.Struct(j); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return failure.New(failure.ConfigError, "engine.Job", "job %s: %s", j.ID, strings.Join(msgs, "; "))
		}
		return failure.Wrap(failure.ConfigError, "engine.Job", err, "job %s", j.ID)
	}
	return nil
}

// ScriptText returns the inline script or the contents of ScriptPath.
func (j *Job) ScriptText() (string, error) {
	if j.Script != "" {
		return j.Script, nil
	}
	data, err := os.ReadFile(j.ScriptPath)
	if err != nil {
		return "", failure.Wrap(failure.AssetMissing, "engine.Job", err, "script %s", j.ScriptPath)
	}
	return string(data), nil
}
