// Package assets loads the speaker overlay images of a job.
package assets

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/webp"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/renderer"
	"github.com/web1havv/edsurf/internal/speaker"
)

// Mask modes.
const (
	MaskAlpha  = "alpha"  // blend with the image's own alpha channel
	MaskCircle = "circle" // additionally clip to an inscribed disc
	MaskNone   = "none"   // draw the image as an opaque rectangle
)

// Overlay is a speaker image scaled for the output frame. Image and Mask
// are shared read-only by all render workers; the mask is applied when the
// frame is composed.
type Overlay struct {
	Speaker speaker.ID
	Image   *image.RGBA
	Mask    *image.Alpha // nil = no clipping
	Opaque  bool         // draw without blending
	Anchor  speaker.Anchor
}

type Options struct {
	FrameSize   image.Point
	HeightRatio float64 // overlay height relative to frame height
	Margin      int
	Mask        string
}

// Set is the overlays of one job, keyed by speaker.
type Set map[speaker.ID]*Overlay

// Profiles looks up speaker profiles.
type Profiles interface {
	Profile(id speaker.ID) (speaker.Profile, bool)
}

// LoadPair loads the overlays of both speakers of pair.
func LoadPair(reg Profiles, pair speaker.Pair, opts Options) (Set, error) {
	set := make(Set, 2)
	for _, id := range pair {
		p, ok := reg.Profile(id)
		if !ok {
			return nil, failure.New(failure.AssetMissing, "assets.LoadPair", "no profile for speaker %q", id)
		}
		o, err := Load(p, opts)
		if err != nil {
			return nil, err
		}
		set[id] = o
	}
	return set, nil
}

// Load decodes and scales the overlay of one speaker.
func Load(p speaker.Profile, opts Options) (*Overlay, error) {
	const op = "assets.Load"
	if p.AssetPath == "" {
		return nil, failure.New(failure.AssetMissing, op, "speaker %q has no image configured", p.ID)
	}
	img, err := decode(p.AssetPath)
	if err != nil {
		return nil, failure.Wrap(failure.AssetMissing, op, err, "speaker %q image %s", p.ID, p.AssetPath)
	}
	return FromImage(p, img, opts)
}

// FromImage builds an overlay from an already decoded image.
func FromImage(p speaker.Profile, img image.Image, opts Options) (*Overlay, error) {
	const op = "assets.FromImage"
	if img.Bounds().Empty() {
		return nil, failure.New(failure.AssetMissing, op, "speaker %q image is empty", p.ID)
	}
	h := int(float64(opts.FrameSize.Y) * opts.HeightRatio)
	if h <= 0 {
		return nil, failure.New(failure.ConfigError, op, "overlay height %d for frame %v", h, opts.FrameSize)
	}

	scaled := renderer.FitHeight(img, h)
	// never wider than the frame minus margins
	if maxW := opts.FrameSize.X - 2*opts.Margin; maxW > 0 && scaled.Bounds().Dx() > maxW {
		scaled = renderer.FitHeight(img, h*maxW/scaled.Bounds().Dx())
	}

	o := &Overlay{Speaker: p.ID, Image: scaled, Anchor: p.Anchor}
	switch opts.Mask {
	case "", MaskAlpha:
		o.Opaque = renderer.AlphaOf(scaled) == nil
	case MaskCircle:
		o.Mask = renderer.Rasterize(renderer.Circle{Rect: scaled.Bounds()})
	case MaskNone:
		o.Opaque = true
	default:
		return nil, failure.New(failure.ConfigError, op, "unknown mask mode %q", opts.Mask)
	}
	return o, nil
}

// Position is the top-left corner of the overlay inside a frame of the
// given size, before any entrance offset.
func (o *Overlay) Position(frame image.Point, margin int) image.Point {
	sz := o.Image.Bounds().Size()
	x := margin
	if o.Anchor.Right() {
		x = frame.X - sz.X - margin
	}
	y := margin
	if o.Anchor.Bottom() {
		y = frame.Y - sz.Y - margin
	}
	return image.Pt(x, y)
}

func (o *Overlay) String() string {
	return fmt.Sprintf("%s %v %s", o.Speaker, o.Image.Bounds().Size(), o.Anchor)
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
