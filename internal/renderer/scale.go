// Package renderer holds the pixel helpers shared by the background loader,
// the asset loader and the compositor: scaling, masks and easing.
package renderer

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Cover scales src to fill size and crops the overflow around the centre.
func Cover(src image.Image, size image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	sb := src.Bounds()
	if sb.Empty() || size.X <= 0 || size.Y <= 0 {
		return dst
	}

	// scale factor that covers both dimensions
	sx := float64(size.X) / float64(sb.Dx())
	sy := float64(size.Y) / float64(sb.Dy())
	s := sx
	if sy > s {
		s = sy
	}

	// source window that maps onto the destination
	cw := int(float64(size.X)/s + 0.5)
	ch := int(float64(size.Y)/s + 0.5)
	if cw > sb.Dx() {
		cw = sb.Dx()
	}
	if ch > sb.Dy() {
		ch = sb.Dy()
	}
	x0 := sb.Min.X + (sb.Dx()-cw)/2
	y0 := sb.Min.Y + (sb.Dy()-ch)/2
	sr := image.Rect(x0, y0, x0+cw, y0+ch)

	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sr, draw.Src, nil)
	return dst
}

// FitHeight scales src to height h keeping the aspect ratio.
func FitHeight(src image.Image, h int) *image.RGBA {
	sb := src.Bounds()
	if sb.Empty() || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	w := int(float64(sb.Dx())*float64(h)/float64(sb.Dy()) + 0.5)
	if w < 1 {
		w = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}

// Dim darkens img in place by drawing black with the given opacity.
func Dim(img *image.RGBA, amount float64) {
	if amount <= 0 {
		return
	}
	if amount > 1 {
		amount = 1
	}
	a := uint8(amount*255 + 0.5)
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{A: a}), image.Point{}, draw.Over)
}

// Solid returns an opaque image of the given colour.
func Solid(size image.Point, c color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return dst
}
