package renderer

import (
	"image"
	"image/color"
	"testing"
)

func TestEasing(t *testing.T) {
	tests := []struct {
		t       float64
		inOut   float64
		easeOut float64
	}{
		{0, 0, 0},
		{0.5, 0.5, 0.875},
		{1, 1, 1},
		{-1, 0, 0},
		{2, 1, 1},
	}
	for _, tt := range tests {
		if got := EaseInOutCubic(tt.t); abs(got-tt.inOut) > 1e-9 {
			t.Errorf("EaseInOutCubic(%v) = %v, want %v", tt.t, got, tt.inOut)
		}
		if got := EaseOutCubic(tt.t); abs(got-tt.easeOut) > 1e-9 {
			t.Errorf("EaseOutCubic(%v) = %v, want %v", tt.t, got, tt.easeOut)
		}
	}
}

func TestEntranceOffset(t *testing.T) {
	tests := []struct {
		elapsed float64
		want    int
	}{
		{0, 100},
		{0.125, 13}, // (1-0.5)^3 * 100 = 12.5
		{0.25, 0},
		{3, 0},
	}
	for _, tt := range tests {
		if got := EntranceOffset(tt.elapsed, 0.25, 100); got != tt.want {
			t.Errorf("EntranceOffset(%v) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
	if EntranceOffset(0, 0, 100) != 0 {
		t.Errorf("zero duration should disable the entrance")
	}
}

func TestCover(t *testing.T) {
	// 200x100 landscape into a 90x160 portrait frame
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 100 {
				c = color.RGBA{B: 255, A: 255}
			}
			src.SetRGBA(x, y, c)
		}
	}
	dst := Cover(src, image.Pt(90, 160))
	if dst.Bounds() != image.Rect(0, 0, 90, 160) {
		t.Fatalf("bounds = %v", dst.Bounds())
	}
	// centre crop straddles the red/blue split
	if l := dst.RGBAAt(2, 80); l.R < 200 || l.B > 50 {
		t.Errorf("left edge should be red, got %v", l)
	}
	if r := dst.RGBAAt(87, 80); r.B < 200 || r.R > 50 {
		t.Errorf("right edge should be blue, got %v", r)
	}
}

func TestFitHeight(t *testing.T) {
	dst := FitHeight(image.NewRGBA(image.Rect(0, 0, 300, 600)), 200)
	if dst.Bounds().Dx() != 100 || dst.Bounds().Dy() != 200 {
		t.Errorf("bounds = %v", dst.Bounds())
	}
}

func TestMasks(t *testing.T) {
	c := Circle{Rect: image.Rect(0, 0, 100, 100)}
	if a := c.At(50, 50).(color.Alpha).A; a != 0xff {
		t.Errorf("circle centre alpha = %d", a)
	}
	if a := c.At(0, 0).(color.Alpha).A; a != 0 {
		t.Errorf("circle corner alpha = %d", a)
	}

	rr := RoundedRect{Rect: image.Rect(10, 10, 110, 60), Radius: 15}
	if a := rr.At(10, 10).(color.Alpha).A; a != 0 {
		t.Errorf("rounded corner alpha = %d", a)
	}
	if a := rr.At(60, 10).(color.Alpha).A; a != 0xff {
		t.Errorf("top edge alpha = %d", a)
	}
	if a := rr.At(5, 30).(color.Alpha).A; a != 0 {
		t.Errorf("outside alpha = %d", a)
	}
}

func TestAlphaOf(t *testing.T) {
	img := Solid(image.Pt(4, 4), color.RGBA{R: 10, A: 255})
	if AlphaOf(img) != nil {
		t.Errorf("opaque image should have no mask")
	}
	img.SetRGBA(1, 1, color.RGBA{})
	m := AlphaOf(img)
	if m == nil || m.AlphaAt(1, 1).A != 0 || m.AlphaAt(0, 0).A != 0xff {
		t.Errorf("mask = %v", m)
	}

	disc := Rasterize(Circle{Rect: image.Rect(0, 0, 10, 10)})
	if disc.AlphaAt(0, 0).A != 0 || disc.AlphaAt(5, 5).A != 0xff {
		t.Errorf("rasterized circle = %v / %v", disc.AlphaAt(0, 0), disc.AlphaAt(5, 5))
	}
}

func TestDim(t *testing.T) {
	img := Solid(image.Pt(2, 2), color.RGBA{R: 200, G: 200, B: 200, A: 255})
	Dim(img, 0.5)
	if c := img.RGBAAt(0, 0); c.R > 110 || c.R < 90 || c.A != 255 {
		t.Errorf("dimmed pixel = %v", c)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
