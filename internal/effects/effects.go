// Package effects builds the ffmpeg filter chains applied while decoding a
// video background.
package effects

import (
	"fmt"
	"strings"
)

type BackgroundParams struct {
	Width, Height int
	Blur          int     // box blur radius, 0 = off
	Dim           float64 // 0..1 brightness reduction
	FPS           float64 // resample to this rate, 0 = keep source rate
}

// BackgroundFilter scales the source to cover Width x Height and crops the
// centre, then applies optional blur and dimming.
func BackgroundFilter(p BackgroundParams) string {
	parts := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase:flags=bicubic", p.Width, p.Height),
		fmt.Sprintf("crop=%d:%d", p.Width, p.Height),
		"setsar=1",
	}
	if p.FPS > 0 {
		parts = append(parts, fmt.Sprintf("fps=%g", p.FPS))
	}
	if p.Blur > 0 {
		parts = append(parts, fmt.Sprintf("boxblur=%d:1", p.Blur))
	}
	if p.Dim > 0 {
		d := p.Dim
		if d > 1 {
			d = 1
		}
		parts = append(parts, fmt.Sprintf("eq=brightness=%.3f", -d/2))
	}
	return strings.Join(parts, ",")
}
