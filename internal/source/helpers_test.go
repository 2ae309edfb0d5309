package source

import "github.com/web1havv/edsurf/internal/system"

func streamOf(fps, dur float64) system.VideoStream {
	return system.VideoStream{Width: 1920, Height: 1080, FPS: fps, Duration: dur}
}
