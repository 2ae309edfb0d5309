package source

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	_ "golang.org/x/image/webp"

	"github.com/web1havv/edsurf/internal/renderer"
	"github.com/web1havv/edsurf/internal/system"
)

// ImageSource is a single still or a directory of stills in name order.
type ImageSource struct {
	name  string
	paths []string
	slide float64
	dim   float64
}

func NewImageSource(path string, slide, dim float64) (*ImageSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() && system.HasExtension(entry.Name(), system.ImageExtensions) {
				paths = append(paths, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{path}
	}

	return &ImageSource{name: path, paths: paths, slide: slide, dim: dim}, nil
}

func (s *ImageSource) Name() string   { return s.name }
func (s *ImageSource) FPS() float64   { return 1 / s.slide }
func (s *ImageSource) Hold() bool     { return true }
func (s *ImageSource) PageCount() int { return len(s.paths) }
func (s *ImageSource) Close() error   { return nil }

func (s *ImageSource) Load(ctx context.Context, size image.Point, maxFrames int) ([]*image.RGBA, error) {
	n := len(s.paths)
	if n > maxFrames {
		n = maxFrames
	}
	frames := make([]*image.RGBA, 0, n)
	for _, p := range s.paths[:n] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := decodeFile(p)
		if err != nil {
			return nil, err
		}
		frame := renderer.Cover(img, size)
		renderer.Dim(frame, s.dim)
		frames = append(frames, frame)
	}
	return frames, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}
