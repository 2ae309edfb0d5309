package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/speaker"
)

// EnvPrefix is the prefix of environment overrides, e.g. EDSURF_WORKERS.
const EnvPrefix = "EDSURF"

// Load reads a yaml file over Default(). An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.ConfigError, "config.Load", err, "read %s", path)
	}
	// yaml merges into the populated defaults; maps are merged key by key
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, failure.Wrap(failure.ConfigError, "config.Load", err, "parse %s", path)
	}
	return cfg, nil
}

// envOverlay holds the settings that can be overridden from the environment.
// Pointer fields stay nil when the variable is unset.
type envOverlay struct {
	LogLevel    *string        `envconfig:"LOG_LEVEL"`
	LogFormat   *string        `envconfig:"LOG_FORMAT"`
	FFmpeg      *string        `envconfig:"FFMPEG"`
	FFprobe     *string        `envconfig:"FFPROBE"`
	Workers     *int           `envconfig:"WORKERS"`
	QueueDepth  *int           `envconfig:"QUEUE_DEPTH"`
	FPS         *int           `envconfig:"FPS"`
	Quality     *int           `envconfig:"QUALITY"`
	Timeout     *time.Duration `envconfig:"STAGE_TIMEOUT"`
	OutputDir   *string        `envconfig:"OUTPUT_DIR"`
	TempDir     *string        `envconfig:"TEMP_DIR"`
	JobsDir     *string        `envconfig:"JOBS_DIR"`
	FontPath    *string        `envconfig:"FONT_PATH"`
	Storage     *bool          `envconfig:"STORAGE_ENABLED"`
	S3Endpoint  *string        `envconfig:"S3_ENDPOINT"`
	S3AccessKey *string        `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey *string        `envconfig:"S3_SECRET_KEY"`
	S3Bucket    *string        `envconfig:"S3_BUCKET"`
	S3UseSSL    *bool          `envconfig:"S3_USE_SSL"`
}

// ApplyEnv loads envFile (if it exists) into the process environment and
// applies EDSURF_* overrides to cfg.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return failure.Wrap(failure.ConfigError, "config.ApplyEnv", err, "load %s", envFile)
		}
	}

	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return failure.Wrap(failure.ConfigError, "config.ApplyEnv", err, "environment")
	}

	setString(&cfg.Logging.Level, env.LogLevel)
	setString(&cfg.Logging.Format, env.LogFormat)
	setString(&cfg.FFmpeg.Binary, env.FFmpeg)
	setString(&cfg.FFmpeg.ProbeBinary, env.FFprobe)
	setInt(&cfg.Render.Workers, env.Workers)
	setInt(&cfg.Render.QueueDepth, env.QueueDepth)
	setInt(&cfg.Video.FPS, env.FPS)
	setInt(&cfg.Video.Quality, env.Quality)
	if env.Timeout != nil {
		cfg.Render.StageTimeout = *env.Timeout
	}
	setString(&cfg.Paths.OutputDir, env.OutputDir)
	setString(&cfg.Paths.TempDir, env.TempDir)
	setString(&cfg.Paths.JobsDir, env.JobsDir)
	setString(&cfg.Captions.FontPath, env.FontPath)
	if env.Storage != nil {
		cfg.Storage.Enabled = *env.Storage
	}
	setString(&cfg.Storage.Endpoint, env.S3Endpoint)
	setString(&cfg.Storage.AccessKeyID, env.S3AccessKey)
	setString(&cfg.Storage.SecretAccessKey, env.S3SecretKey)
	setString(&cfg.Storage.Bucket, env.S3Bucket)
	if env.S3UseSSL != nil {
		cfg.Storage.UseSSL = *env.S3UseSSL
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

var validate = validator.New()

// Validate checks field constraints and the cross-references between
// speakers and pairs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return failure.New(failure.ConfigError, "config.Validate", "%s", strings.Join(msgs, "; "))
		}
		return failure.Wrap(failure.ConfigError, "config.Validate", err, "invalid config")
	}

	// yuv420p needs even dimensions
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return failure.New(failure.ConfigError, "config.Validate", "resolution %dx%d must be even", c.Video.Width, c.Video.Height)
	}

	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Registry builds the closed speaker set of this configuration.
func (c *Config) Registry() (*speaker.Registry, error) {
	ids := make([]string, 0, len(c.Speakers))
	for id := range c.Speakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	profiles := make([]speaker.Profile, 0, len(ids))
	for _, id := range ids {
		sc := c.Speakers[id]
		p, err := sc.profile(speaker.ID(id))
		if err != nil {
			return nil, failure.Wrap(failure.ConfigError, "config.Registry", err, "speaker %q", id)
		}
		profiles = append(profiles, p)
	}

	pairs := make(map[string][]speaker.ID, len(c.Pairs))
	for name, members := range c.Pairs {
		ps := make([]speaker.ID, len(members))
		for i, m := range members {
			ps[i] = speaker.ID(m)
		}
		pairs[name] = ps
	}

	reg, err := speaker.NewRegistry(profiles, pairs)
	if err != nil {
		return nil, failure.Wrap(failure.ConfigError, "config.Registry", err, "speakers")
	}
	return reg, nil
}

func (sc SpeakerConfig) profile(id speaker.ID) (speaker.Profile, error) {
	anchor, err := speaker.ParseAnchor(sc.Anchor)
	if err != nil {
		return speaker.Profile{}, err
	}
	plate, err := speaker.ParseColor(sc.Plate)
	if err != nil {
		return speaker.Profile{}, err
	}
	text, err := colorOr(sc.Text, "#FFFFFF")
	if err != nil {
		return speaker.Profile{}, err
	}
	outline, err := colorOr(sc.Outline, "#000000")
	if err != nil {
		return speaker.Profile{}, err
	}
	return speaker.Profile{
		ID:          id,
		DisplayName: sc.DisplayName,
		Aliases:     sc.Aliases,
		AssetPath:   sc.Asset,
		Anchor:      anchor,
		Plate:       plate,
		Text:        text,
		Outline:     outline,
	}, nil
}

func colorOr(s, def string) (color.RGBA, error) {
	if s == "" {
		s = def
	}
	return speaker.ParseColor(s)
}
