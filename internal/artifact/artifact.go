// Package artifact saves the timing of a render so it can be inspected or
// rendered again without re-timing.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/web1havv/edsurf/internal/captions"
	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/timeline"
)

const Version = "1"

// Artifact is the timeline and cue list of one job
type Artifact struct {
	Version  string             `yaml:"version" json:"version"`
	JobID    string             `yaml:"job_id" json:"job_id"`
	Pair     string             `yaml:"pair" json:"pair"`
	Timeline *timeline.Timeline `yaml:"timeline" json:"timeline"`
	Cues     []captions.Cue     `yaml:"cues" json:"cues"`
}

// Write stores a as yaml, or as json when path ends in .json
func Write(a *Artifact, path string) error {
	if a.Version == "" {
		a.Version = Version
	}
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(a, "", "  ")
	} else {
		data, err = yaml.Marshal(a)
	}
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Read loads an artifact and checks that its timeline and cues are
// consistent.
func Read(path string) (*Artifact, error) {
	const op = "artifact.Read"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.AssetMissing, op, err, "artifact %s", path)
	}

	var a Artifact
	if isJSON(path) {
		err = json.Unmarshal(data, &a)
	} else {
		err = yaml.Unmarshal(data, &a)
	}
	if err != nil {
		return nil, failure.Wrap(failure.TimelineError, op, err, "decode %s", path)
	}
	if a.Version != Version {
		return nil, failure.New(failure.TimelineError, op, "unsupported artifact version %q", a.Version)
	}
	if a.Timeline == nil {
		return nil, failure.New(failure.TimelineError, op, "%s has no timeline", path)
	}
	tol := 1 / float64(max(a.Timeline.FPS, 1))
	if err := a.Timeline.Validate(tol); err != nil {
		return nil, err
	}
	if len(a.Cues) > 0 {
		if err := captions.Validate(a.Timeline, a.Cues, tol); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// Fit checks that the saved timeline matches an audio track of duration d
// within one frame.
func (a *Artifact) Fit(d float64, fps int) error {
	tl := a.Timeline
	if tl.FPS != fps {
		return failure.New(failure.TimelineError, "artifact.Fit", "artifact is %d fps, job is %d", tl.FPS, fps)
	}
	if diff := tl.Duration - d; diff > 1/float64(fps) || -diff > 1/float64(fps) {
		return failure.New(failure.TimelineError, "artifact.Fit", "artifact covers %.3fs, audio is %.3fs", tl.Duration, d)
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
