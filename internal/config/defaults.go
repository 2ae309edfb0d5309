package config

import "time"

// Default returns the stock configuration: a 1080x1920 vertical short at
// 30 FPS with the built-in speaker table.
func Default() *Config {
	return &Config{
		Video: VideoConfig{
			Width:        1080,
			Height:       1920,
			FPS:          30,
			Preset:       "medium",
			Encoders:     []string{"h264_videotoolbox", "h264_nvenc", "libx264", "libopenh264", "mpeg4"},
			AudioCodec:   "aac",
			AudioBitrate: "192k",
		},
		FFmpeg: FFmpegConfig{
			Binary:      "ffmpeg",
			ProbeBinary: "ffprobe",
			Fallbacks:   []string{"./ffmpeg", "/usr/local/bin/ffmpeg", "/opt/homebrew/bin/ffmpeg"},
		},
		Timing: TimingConfig{
			WeightUnit:        "chars",
			MaxCueChars:       50,
			MinCueDuration:    0.6,
			MaxCueDuration:    4.0,
			DurationTolerance: 0.05,
		},
		Render: RenderConfig{
			QueueDepth:       16,
			FailureThreshold: 0.05,
			RealtimeFactor:   10,
			StageTimeout:     2 * time.Minute,
			MemoryFraction:   0.5,
		},
		Captions: CaptionConfig{
			Enabled:      true,
			FontSize:     72,
			TopMargin:    200,
			SideMargin:   60,
			Padding:      15,
			CornerRadius: 15,
			LineSpacing:  20,
			OutlineWidth: 3,
			ShadowOffset: 2,
			PlateAlpha:   0.8,
			MaxLines:     3,
		},
		Overlay: OverlayConfig{
			HeightRatio:      0.4,
			Margin:           50,
			Mask:             "alpha",
			EntranceDuration: 0.25,
			EntranceOffset:   0.08,
		},
		Backdrop: BackdropConfig{
			SlideDuration: 3,
			DPI:           150,
			MaxSeconds:    60,
		},
		QR: QRConfig{
			Size:   220,
			Margin: 40,
			Anchor: "top-right",
		},
		Speakers: defaultSpeakers(),
		Pairs: map[string][]string{
			"trump_mrbeast": {"trump", "mrbeast"},
			"baburao_samay": {"baburao", "samay"},
			"samay_arpit":   {"samay", "arpit"},
			"modi_trump":    {"modi", "trump"},
			"elon_trump":    {"elon", "trump"},
		},
		Paths: PathsConfig{
			OutputDir: "output",
			JobsDir:   "input/jobs",
			AudioDir:  "input/audio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Prefix:  "videos/",
			Retries: 3,
		},
	}
}

// Colours are the rendered (RGB) values of the original caption palette.
func defaultSpeakers() map[string]SpeakerConfig {
	sp := func(name, anchor, plate string, aliases ...string) SpeakerConfig {
		return SpeakerConfig{
			DisplayName: name,
			Aliases:     aliases,
			Anchor:      anchor,
			Plate:       plate,
			Text:        "#FFFFFF",
			Outline:     "#000000",
		}
	}
	m := map[string]SpeakerConfig{
		"elon":       sp("Elon", "right", "#FF9632", "Elon Musk"),
		"trump":      sp("Trump", "left", "#C83232", "Donald Trump"),
		"baburao":    sp("Baburao", "left", "#32C832", "Babu Rao"),
		"samay":      sp("Samay", "right", "#3264C8", "Samay Raina"),
		"arpit":      sp("Arpit", "left", "#963296", "Arpit Bala"),
		"modi":       sp("Modi", "right", "#C86400", "Narendra Modi", "PM Modi"),
		"mrbeast":    sp("MrBeast", "right", "#00C864", "Mr Beast", "Jimmy"),
		"ronaldo":    sp("Ronaldo", "left", "#C86400", "Cristiano Ronaldo", "CR7"),
		"ishowspeed": sp("IShowSpeed", "right", "#C800C8", "Speed"),
	}
	for id, s := range m {
		s.Asset = "assets/" + id + ".png"
		m[id] = s
	}
	return m
}
