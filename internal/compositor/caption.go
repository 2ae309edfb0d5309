package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/web1havv/edsurf/internal/captions"
	"github.com/web1havv/edsurf/internal/renderer"
)

type captionKey struct {
	text  string
	start float64
}

// captionLayout is the word-wrapped text of a cue and its plate geometry.
type captionLayout struct {
	lines  []string
	widths []int
	plate  image.Rectangle
	lineH  int
	ascent int
}

func (w *Worker) drawCaption(dst *image.RGBA, cue captions.Cue) {
	if w.face == nil || strings.TrimSpace(cue.Text) == "" {
		return
	}
	key := captionKey{cue.Text, cue.Start}
	l, ok := w.layout[key]
	if !ok {
		l = w.layoutCaption(cue.Text)
		w.layout[key] = l
	}
	st := w.c.opts.Caption
	p := w.c.profile(cue.Speaker)

	plate := color.NRGBA{R: p.Plate.R, G: p.Plate.G, B: p.Plate.B, A: uint8(st.PlateAlpha*255 + 0.5)}
	draw.DrawMask(dst, l.plate, image.NewUniform(plate), image.Point{},
		renderer.RoundedRect{Rect: l.plate, Radius: st.CornerRadius}, l.plate.Min, draw.Over)

	shadow := image.NewUniform(color.NRGBA{A: 0xa0})
	outline := image.NewUniform(p.Outline)
	text := image.NewUniform(p.Text)
	d := &font.Drawer{Dst: dst, Face: w.face}

	for n, line := range l.lines {
		x := l.plate.Min.X + (l.plate.Dx()-l.widths[n])/2
		y := l.plate.Min.Y + st.Padding + l.ascent + n*(l.lineH+st.LineSpacing)

		if s := st.ShadowOffset; s > 0 {
			d.Src = shadow
			d.Dot = fixed.P(x+s, y+s)
			d.DrawString(line)
		}
		if ow := st.OutlineWidth; ow > 0 {
			d.Src = outline
			for _, o := range outlineOffsets(ow) {
				d.Dot = fixed.P(x+o.X, y+o.Y)
				d.DrawString(line)
			}
		}
		d.Src = text
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
	}
}

// layoutCaption wraps text to the caption area and centres the plate
// horizontally below the top margin.
func (w *Worker) layoutCaption(text string) *captionLayout {
	st := w.c.opts.Caption
	size := w.c.opts.Size
	m := w.face.Metrics()
	l := &captionLayout{lineH: m.Height.Ceil(), ascent: m.Ascent.Ceil()}

	maxW := size.X - 2*st.SideMargin - 2*st.Padding
	l.lines = wrap(w.face, text, maxW)
	if len(l.lines) > st.MaxLines {
		l.lines = l.lines[:st.MaxLines]
		last := &l.lines[st.MaxLines-1]
		*last = strings.TrimRight(*last, " .,;:") + "…"
	}

	widest := 0
	for _, line := range l.lines {
		lw := font.MeasureString(w.face, line).Ceil()
		l.widths = append(l.widths, lw)
		widest = max(widest, lw)
	}
	n := len(l.lines)
	pw := widest + 2*st.Padding
	ph := n*l.lineH + (n-1)*st.LineSpacing + 2*st.Padding
	x := (size.X - pw) / 2
	l.plate = image.Rect(x, st.TopMargin, x+pw, st.TopMargin+ph)
	return l
}

// wrap breaks text into lines no wider than maxW pixels. A single word
// wider than maxW gets a line of its own.
func wrap(face font.Face, text string, maxW int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := words[0]
	for _, word := range words[1:] {
		next := cur + " " + word
		if font.MeasureString(face, next).Ceil() <= maxW {
			cur = next
			continue
		}
		lines = append(lines, cur)
		cur = word
	}
	return append(lines, cur)
}

// outlineOffsets are the eight compass points at radius r.
func outlineOffsets(r int) []image.Point {
	return []image.Point{
		{-r, -r}, {0, -r}, {r, -r},
		{-r, 0}, {r, 0},
		{-r, r}, {0, r}, {r, r},
	}
}
