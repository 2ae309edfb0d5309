package config

import (
	"time"
)

// Config is the full configuration record of a render job. A Config is
// built once per job and never shared mutably between jobs.
type Config struct {
	Video    VideoConfig              `yaml:"video"`
	FFmpeg   FFmpegConfig             `yaml:"ffmpeg"`
	Timing   TimingConfig             `yaml:"timing"`
	Render   RenderConfig             `yaml:"render"`
	Captions CaptionConfig            `yaml:"captions"`
	Overlay  OverlayConfig            `yaml:"overlay"`
	Backdrop BackdropConfig           `yaml:"background"`
	QR       QRConfig                 `yaml:"qr"`
	Speakers map[string]SpeakerConfig `yaml:"speakers" validate:"min=2,dive"`
	Pairs    map[string][]string      `yaml:"pairs" validate:"dive,len=2"`
	Paths    PathsConfig              `yaml:"paths"`
	Logging  LoggingConfig            `yaml:"logging"`
	Storage  StorageConfig            `yaml:"storage"`
}

type VideoConfig struct {
	Width        int      `yaml:"width" validate:"gt=0,lte=7680"`
	Height       int      `yaml:"height" validate:"gt=0,lte=7680"`
	FPS          int      `yaml:"fps" validate:"gt=0,lte=120"`
	Quality      int      `yaml:"quality" validate:"gte=0"` // 0 = per-encoder default
	Preset       string   `yaml:"preset"`
	Encoders     []string `yaml:"encoders" validate:"min=1,dive,required"`
	AudioCodec   string   `yaml:"audio_codec" validate:"required"`
	AudioBitrate string   `yaml:"audio_bitrate"`
}

type FFmpegConfig struct {
	Binary      string   `yaml:"binary"`
	ProbeBinary string   `yaml:"probe_binary"`
	Fallbacks   []string `yaml:"fallbacks"`
}

type TimingConfig struct {
	WeightUnit        string  `yaml:"weight_unit" validate:"oneof=chars words"`
	MaxCueChars       int     `yaml:"max_cue_chars" validate:"gte=10"`
	MinCueDuration    float64 `yaml:"min_cue_duration" validate:"gte=0"`
	MaxCueDuration    float64 `yaml:"max_cue_duration" validate:"gt=0"`
	DurationTolerance float64 `yaml:"duration_tolerance" validate:"gte=0,lte=1"`
}

type RenderConfig struct {
	Workers          int           `yaml:"workers" validate:"gte=0"` // 0 = logical CPUs
	QueueDepth       int           `yaml:"queue_depth" validate:"gte=1"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gte=0,lte=1"`
	RealtimeFactor   float64       `yaml:"realtime_factor" validate:"gt=0"`
	StageTimeout     time.Duration `yaml:"stage_timeout" validate:"gt=0"`
	MemoryFraction   float64       `yaml:"memory_fraction" validate:"gt=0,lte=1"`
}

type CaptionConfig struct {
	Enabled      bool    `yaml:"enabled"`
	FontPath     string  `yaml:"font_path"` // empty = embedded Go Bold
	FontSize     float64 `yaml:"font_size" validate:"gt=0"`
	TopMargin    int     `yaml:"top_margin" validate:"gte=0"`
	SideMargin   int     `yaml:"side_margin" validate:"gte=0"`
	Padding      int     `yaml:"padding" validate:"gte=0"`
	CornerRadius int     `yaml:"corner_radius" validate:"gte=0"`
	LineSpacing  int     `yaml:"line_spacing" validate:"gte=0"`
	OutlineWidth int     `yaml:"outline_width" validate:"gte=0"`
	ShadowOffset int     `yaml:"shadow_offset" validate:"gte=0"`
	PlateAlpha   float64 `yaml:"plate_alpha" validate:"gte=0,lte=1"`
	MaxLines     int     `yaml:"max_lines" validate:"gte=1"`
}

type OverlayConfig struct {
	HeightRatio      float64 `yaml:"height_ratio" validate:"gt=0,lte=1"`
	Margin           int     `yaml:"margin" validate:"gte=0"`
	Mask             string  `yaml:"mask" validate:"oneof=alpha circle none"`
	EntranceDuration float64 `yaml:"entrance_duration" validate:"gte=0"`
	EntranceOffset   float64 `yaml:"entrance_offset" validate:"gte=0,lte=1"`
}

// BackdropConfig controls how the background is decoded.
type BackdropConfig struct {
	SlideDuration float64 `yaml:"slide_duration" validate:"gt=0"` // per image or PDF page
	DPI           int     `yaml:"dpi" validate:"gte=36,lte=600"`
	Blur          int     `yaml:"blur" validate:"gte=0"`
	Dim           float64 `yaml:"dim" validate:"gte=0,lte=1"`
	MaxSeconds    float64 `yaml:"max_seconds" validate:"gte=0"` // 0 = whole video
}

type QRConfig struct {
	Enabled bool   `yaml:"enabled"`
	Size    int    `yaml:"size" validate:"gte=32"`
	Margin  int    `yaml:"margin" validate:"gte=0"`
	Anchor  string `yaml:"anchor" validate:"oneof=top-left top-right bottom-left bottom-right"`
}

type SpeakerConfig struct {
	DisplayName string   `yaml:"display_name" validate:"required"`
	Aliases     []string `yaml:"aliases"`
	Asset       string   `yaml:"asset" validate:"required"`
	Anchor      string   `yaml:"anchor" validate:"required"`
	Plate       string   `yaml:"plate" validate:"required"`
	Text        string   `yaml:"text"`
	Outline     string   `yaml:"outline"`
}

type PathsConfig struct {
	OutputDir string `yaml:"output_dir" validate:"required"`
	TempDir   string `yaml:"temp_dir"`
	JobsDir   string `yaml:"jobs_dir"`
	AudioDir  string `yaml:"audio_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type StorageConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint" validate:"required_if=Enabled true"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix"`
	UseSSL          bool   `yaml:"use_ssl"`
	Retries         int    `yaml:"retries" validate:"gte=0,lte=10"`
}

// ScaledFontSize scales the caption font with the output resolution,
// relative to the 1080x1920 reference frame.
func (c *Config) ScaledFontSize() float64 {
	sx := float64(c.Video.Width) / 1080
	sy := float64(c.Video.Height) / 1920
	s := sx
	if sy < s {
		s = sy
	}
	return c.Captions.FontSize * s
}

// FrameInterval is the duration of one output frame in seconds.
func (c *Config) FrameInterval() float64 {
	return 1 / float64(c.Video.FPS)
}
