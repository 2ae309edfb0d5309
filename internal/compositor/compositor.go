// Package compositor draws output frames from the immutable resources of
// a job: timeline, caption track, speaker overlays and background loop.
//
// A Compositor is shared by all render workers. Each worker owns its font
// face and layout cache, so Compose never takes a lock.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"

	"github.com/web1havv/edsurf/internal/assets"
	"github.com/web1havv/edsurf/internal/captions"
	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/renderer"
	"github.com/web1havv/edsurf/internal/source"
	"github.com/web1havv/edsurf/internal/speaker"
	"github.com/web1havv/edsurf/internal/timeline"
)

// Resources are loaded once per job and only read while rendering.
type Resources struct {
	Timeline   *timeline.Timeline
	Captions   *captions.Track // nil disables captions
	Overlays   assets.Set
	Profiles   assets.Profiles
	Background *source.Background
	Badge      *image.RGBA // optional corner badge
}

type CaptionStyle struct {
	FontPath     string
	FontSize     float64
	TopMargin    int
	SideMargin   int
	Padding      int
	CornerRadius int
	LineSpacing  int
	OutlineWidth int
	ShadowOffset int
	PlateAlpha   float64
	MaxLines     int
}

type Options struct {
	Size          image.Point
	FPS           int
	OverlayMargin int
	// EntranceDuration is how long an overlay slides in when the speaker
	// changes; EntranceOffset is the slide distance in pixels.
	EntranceDuration float64
	EntranceOffset   int
	Caption          CaptionStyle
	BadgeAnchor      speaker.Anchor
	BadgeMargin      int
}

type Compositor struct {
	res  Resources
	opts Options
	font *sfnt.Font
}

func New(res Resources, opts Options) (*Compositor, error) {
	const op = "compositor.New"
	if opts.Size.X <= 0 || opts.Size.Y <= 0 || opts.FPS <= 0 {
		return nil, failure.New(failure.ConfigError, op, "bad frame geometry %v@%d", opts.Size, opts.FPS)
	}
	if res.Timeline == nil || len(res.Timeline.Entries) == 0 {
		return nil, failure.New(failure.TimelineError, op, "empty timeline")
	}
	if res.Background == nil || len(res.Background.Frames) == 0 {
		return nil, failure.New(failure.AssetMissing, op, "no background frames")
	}
	if sz := res.Background.Frames[0].Bounds().Size(); sz != opts.Size {
		return nil, failure.New(failure.AssetMissing, op, "background is %v, frame is %v", sz, opts.Size)
	}
	for _, e := range res.Timeline.Entries {
		if _, ok := res.Overlays[e.Speaker]; !ok {
			return nil, failure.New(failure.AssetMissing, op, "no overlay for speaker %q", e.Speaker)
		}
	}
	if opts.Caption.MaxLines < 1 {
		opts.Caption.MaxLines = 1
	}

	c := &Compositor{res: res, opts: opts}
	if res.Captions != nil {
		f, err := loadFont(opts.Caption.FontPath)
		if err != nil {
			return nil, failure.Wrap(failure.AssetMissing, op, err, "caption font")
		}
		c.font = f
	}
	return c, nil
}

func loadFont(path string) (*sfnt.Font, error) {
	data := gobold.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return opentype.Parse(data)
}

// FrameCount is the number of frames of the job, round(D*fps).
func (c *Compositor) FrameCount() int {
	return timeline.FrameCount(c.res.Timeline.Duration, c.opts.FPS)
}

func (c *Compositor) Size() image.Point { return c.opts.Size }

// Background draws only the background layer of frame i.
func (c *Compositor) Background(i int, dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), c.res.Background.Frame(i, c.opts.FPS), image.Point{}, draw.Src)
}

// Worker composes frames. A Worker must not be used from more than one
// goroutine at a time.
type Worker struct {
	c      *Compositor
	face   font.Face
	layout map[captionKey]*captionLayout
}

func (c *Compositor) NewWorker() (*Worker, error) {
	w := &Worker{c: c, layout: make(map[captionKey]*captionLayout)}
	if c.font != nil {
		face, err := opentype.NewFace(c.font, &opentype.FaceOptions{
			Size:    c.opts.Caption.FontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("font face: %w", err)
		}
		w.face = face
	}
	return w, nil
}

func (w *Worker) Close() error {
	if w.face != nil {
		return w.face.Close()
	}
	return nil
}

// Compose draws frame i into dst. The result depends only on i and the
// job resources.
func (w *Worker) Compose(i int, dst *image.RGBA) error {
	c := w.c
	if dst.Bounds() != image.Rect(0, 0, c.opts.Size.X, c.opts.Size.Y) {
		return fmt.Errorf("frame %d: destination is %v, want %v", i, dst.Bounds(), c.opts.Size)
	}
	t := float64(i) / float64(c.opts.FPS)

	bg := c.res.Background.Frame(i, c.opts.FPS)
	draw.Draw(dst, dst.Bounds(), bg, image.Point{}, draw.Src)

	entry, idx := c.res.Timeline.At(t)
	if err := w.drawOverlay(dst, entry, idx, t); err != nil {
		return fmt.Errorf("frame %d: %w", i, err)
	}

	if c.res.Captions != nil {
		if cue, ok := c.res.Captions.At(t); ok {
			w.drawCaption(dst, cue)
		}
	}

	if b := c.res.Badge; b != nil {
		pos := corner(c.opts.Size, b.Bounds().Size(), c.opts.BadgeAnchor, c.opts.BadgeMargin)
		draw.Draw(dst, b.Bounds().Add(pos), b, image.Point{}, draw.Src)
	}
	return nil
}

func (w *Worker) drawOverlay(dst *image.RGBA, entry timeline.Entry, idx int, t float64) error {
	c := w.c
	o, ok := c.res.Overlays[entry.Speaker]
	if !ok {
		return fmt.Errorf("no overlay for %q", entry.Speaker)
	}
	pos := o.Position(c.opts.Size, c.opts.OverlayMargin)

	// slide in only when the speaker changes
	if idx == 0 || c.res.Timeline.Entries[idx-1].Speaker != entry.Speaker {
		off := renderer.EntranceOffset(t-entry.Start, c.opts.EntranceDuration, c.opts.EntranceOffset)
		if !o.Anchor.Bottom() {
			off = -off
		}
		pos.Y += off
	}

	r := o.Image.Bounds().Add(pos)
	switch {
	case o.Mask != nil:
		draw.DrawMask(dst, r, o.Image, image.Point{}, o.Mask, image.Point{}, draw.Over)
	case o.Opaque:
		draw.Draw(dst, r, o.Image, image.Point{}, draw.Src)
	default:
		draw.Draw(dst, r, o.Image, image.Point{}, draw.Over)
	}
	return nil
}

// corner places an item of size sz in a frame corner.
func corner(frame, sz image.Point, a speaker.Anchor, margin int) image.Point {
	x, y := margin, margin
	if a.Right() {
		x = frame.X - sz.X - margin
	}
	if a.Bottom() {
		y = frame.Y - sz.Y - margin
	}
	return image.Pt(x, y)
}

func (c *Compositor) profile(id speaker.ID) speaker.Profile {
	if c.res.Profiles != nil {
		if p, ok := c.res.Profiles.Profile(id); ok {
			return p
		}
	}
	return speaker.Profile{
		ID:      id,
		Plate:   color.RGBA{0x30, 0x30, 0x30, 0xff},
		Text:    color.RGBA{0xff, 0xff, 0xff, 0xff},
		Outline: color.RGBA{0, 0, 0, 0xff},
	}
}
