package renderer

import (
	"image"
	"image/color"
	"math"
)

// Circle is an alpha mask of a disc inscribed in a rectangle, with a one
// pixel anti-aliased rim.
type Circle struct {
	Rect image.Rectangle
}

func (c Circle) ColorModel() color.Model { return color.AlphaModel }
func (c Circle) Bounds() image.Rectangle { return c.Rect }

func (c Circle) At(x, y int) color.Color {
	r := float64(min(c.Rect.Dx(), c.Rect.Dy())) / 2
	cx := float64(c.Rect.Min.X) + float64(c.Rect.Dx())/2
	cy := float64(c.Rect.Min.Y) + float64(c.Rect.Dy())/2
	d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
	return color.Alpha{A: coverage(r - d)}
}

// RoundedRect is an alpha mask of a rectangle with rounded corners.
type RoundedRect struct {
	Rect   image.Rectangle
	Radius int
}

func (m RoundedRect) ColorModel() color.Model { return color.AlphaModel }
func (m RoundedRect) Bounds() image.Rectangle { return m.Rect }

func (m RoundedRect) At(x, y int) color.Color {
	p := image.Pt(x, y)
	if !p.In(m.Rect) {
		return color.Alpha{}
	}
	r := m.Radius
	if limit := min(m.Rect.Dx(), m.Rect.Dy()) / 2; r > limit {
		r = limit
	}
	if r <= 0 {
		return color.Alpha{A: 0xff}
	}

	// corner circle centre the pixel falls into, if any
	fx, fy := float64(x)+0.5, float64(y)+0.5
	var cx, cy float64
	switch {
	case x < m.Rect.Min.X+r:
		cx = float64(m.Rect.Min.X + r)
	case x >= m.Rect.Max.X-r:
		cx = float64(m.Rect.Max.X - r)
	default:
		return color.Alpha{A: 0xff}
	}
	switch {
	case y < m.Rect.Min.Y+r:
		cy = float64(m.Rect.Min.Y + r)
	case y >= m.Rect.Max.Y-r:
		cy = float64(m.Rect.Max.Y - r)
	default:
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{A: coverage(float64(r) - math.Hypot(fx-cx, fy-cy))}
}

func coverage(edge float64) uint8 {
	switch {
	case edge >= 0.5:
		return 0xff
	case edge <= -0.5:
		return 0
	}
	return uint8((edge + 0.5) * 255)
}

// AlphaOf extracts the alpha channel of img into a mask with the same
// bounds. It returns nil when img is fully opaque.
func AlphaOf(img *image.RGBA) *image.Alpha {
	b := img.Bounds()
	m := image.NewAlpha(b)
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		mrow := m.Pix[m.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			a := row[x*4+3]
			mrow[x] = a
			if a != 0xff {
				opaque = false
			}
		}
	}
	if opaque {
		return nil
	}
	return m
}

// Rasterize renders any alpha mask into an *image.Alpha so per-frame
// compositing avoids interface calls per pixel.
func Rasterize(m image.Image) *image.Alpha {
	b := m.Bounds()
	out := image.NewAlpha(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := m.At(x, y).RGBA()
			out.SetAlpha(x, y, color.Alpha{A: uint8(a >> 8)})
		}
	}
	return out
}
