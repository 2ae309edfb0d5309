// Package source loads the looping background of a video into memory.
//
// Every source is decoded up front into an addressable frame array: go-fitz
// documents and ffmpeg pipes are single-owner, while the render workers read
// frames concurrently.
package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/renderer"
	"github.com/web1havv/edsurf/internal/speaker"
	"github.com/web1havv/edsurf/internal/system"
)

// Source decodes background frames at the output size.
type Source interface {
	Name() string
	// FPS is the rate of the decoded frames. Still sources report
	// 1/slide duration.
	FPS() float64
	// Hold reports whether frames are stills shown for their whole slot.
	Hold() bool
	Load(ctx context.Context, size image.Point, maxFrames int) ([]*image.RGBA, error)
	Close() error
}

// Options control how a background path is opened.
type Options struct {
	FFmpeg        string
	FFprobe       string
	SlideDuration float64 // seconds per image or PDF page
	DPI           int     // PDF raster resolution
	Blur          int
	Dim           float64
	// MaxSeconds bounds how much of a video background is decoded.
	MaxSeconds float64
	// FPS resamples video backgrounds while decoding, 0 = native rate.
	FPS int
}

// Open picks a source for path: "color:#RRGGBB", a PDF, a video file, an
// image file or a directory of images.
func Open(path string, opts Options) (Source, error) {
	const op = "source.Open"
	if opts.SlideDuration <= 0 {
		opts.SlideDuration = 4
	}
	if opts.DPI <= 0 {
		opts.DPI = 150
	}

	if hex, ok := strings.CutPrefix(path, "color:"); ok {
		c, err := speaker.ParseColor(hex)
		if err != nil {
			return nil, failure.Wrap(failure.AssetMissing, op, err, "background colour")
		}
		return &ColorSource{Color: c}, nil
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, failure.Wrap(failure.AssetMissing, op, err, "background %s", path)
	}

	var src Source
	switch {
	case fi.IsDir():
		src, err = NewImageSource(path, opts.SlideDuration, opts.Dim)
	case system.HasExtension(path, []string{".pdf"}):
		src, err = NewFitzPDFSource(path, opts.DPI, opts.SlideDuration, opts.Dim)
	case system.HasExtension(path, system.VideoExtensions) || system.HasExtension(path, []string{".gif"}):
		src, err = NewVideoSource(path, opts)
	case system.HasExtension(path, system.ImageExtensions):
		src, err = NewImageSource(path, opts.SlideDuration, opts.Dim)
	default:
		err = fmt.Errorf("unsupported background type %q", path)
	}
	if err != nil {
		return nil, failure.Wrap(failure.AssetMissing, op, err, "background %s", path)
	}
	return src, nil
}

// FramesFor is the number of src frames that cover d seconds.
func FramesFor(src Source, d float64) int {
	return int(math.Ceil(d*src.FPS()-1e-9)) + 1
}

// Background is a decoded, read-only frame loop.
type Background struct {
	Name   string
	Frames []*image.RGBA
	FPS    float64
	Hold   bool
}

// Preload decodes src at size, keeping at most maxFrames frames.
func Preload(ctx context.Context, src Source, size image.Point, maxFrames int) (*Background, error) {
	const op = "source.Preload"
	if maxFrames < 1 {
		maxFrames = 1
	}
	frames, err := src.Load(ctx, size, maxFrames)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.Wrap(failure.Cancelled, op, ctx.Err(), "background %s", src.Name())
		}
		return nil, failure.Wrap(failure.AssetMissing, op, err, "background %s", src.Name())
	}
	if len(frames) == 0 {
		return nil, failure.New(failure.AssetMissing, op, "background %s has no frames", src.Name())
	}
	for i, f := range frames {
		if f.Bounds().Size() != size {
			return nil, failure.New(failure.AssetMissing, op, "background frame %d is %v, want %v", i, f.Bounds().Size(), size)
		}
	}
	return &Background{Name: src.Name(), Frames: frames, FPS: src.FPS(), Hold: src.Hold()}, nil
}

// Index maps output frame i at outFPS to a background frame, wrapping
// around. Equal rates map one to one; other rates use the nearest
// background frame in time (stills hold their slot).
func (b *Background) Index(i, outFPS int) int {
	n := len(b.Frames)
	if n <= 1 {
		return 0
	}
	var k int
	switch {
	case b.Hold:
		k = int(math.Floor(float64(i)*b.FPS/float64(outFPS) + 1e-9))
	case math.Abs(b.FPS-float64(outFPS)) < 1e-6:
		k = i
	default:
		k = int(math.Round(float64(i) * b.FPS / float64(outFPS)))
	}
	return k % n
}

// Frame returns the background frame for output frame i.
func (b *Background) Frame(i, outFPS int) *image.RGBA {
	return b.Frames[b.Index(i, outFPS)]
}

// ColorSource is a single solid frame.
type ColorSource struct {
	Color color.RGBA
}

func (c *ColorSource) Name() string {
	return fmt.Sprintf("color:#%02x%02x%02x", c.Color.R, c.Color.G, c.Color.B)
}
func (c *ColorSource) FPS() float64 { return 1 }
func (c *ColorSource) Hold() bool   { return true }
func (c *ColorSource) Close() error { return nil }

func (c *ColorSource) Load(_ context.Context, size image.Point, _ int) ([]*image.RGBA, error) {
	return []*image.RGBA{renderer.Solid(size, c.Color)}, nil
}

// FitzPDFSource renders document pages as slides.
type FitzPDFSource struct {
	doc   *fitz.Document
	path  string
	dpi   int
	slide float64
	dim   float64
}

func NewFitzPDFSource(path string, dpi int, slide, dim float64) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path, dpi: dpi, slide: slide, dim: dim}, nil
}

func (f *FitzPDFSource) Name() string   { return f.path }
func (f *FitzPDFSource) FPS() float64   { return 1 / f.slide }
func (f *FitzPDFSource) Hold() bool     { return true }
func (f *FitzPDFSource) PageCount() int { return f.doc.NumPage() }

func (f *FitzPDFSource) Load(ctx context.Context, size image.Point, maxFrames int) ([]*image.RGBA, error) {
	n := f.doc.NumPage()
	if n > maxFrames {
		n = maxFrames
	}
	frames := make([]*image.RGBA, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := f.doc.ImageDPI(i, float64(f.dpi))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i, err)
		}
		frame := renderer.Cover(img, size)
		renderer.Dim(frame, f.dim)
		frames = append(frames, frame)
	}
	return frames, nil
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}
