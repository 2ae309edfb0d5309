package compositor

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"

	"github.com/web1havv/edsurf/internal/assets"
	"github.com/web1havv/edsurf/internal/captions"
	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/renderer"
	"github.com/web1havv/edsurf/internal/source"
	"github.com/web1havv/edsurf/internal/speaker"
	"github.com/web1havv/edsurf/internal/timeline"
)

var (
	red   = color.RGBA{0xff, 0, 0, 0xff}
	blue  = color.RGBA{0, 0, 0xff, 0xff}
	bgA   = color.RGBA{0x10, 0x20, 0x30, 0xff}
	bgB   = color.RGBA{0x40, 0x50, 0x60, 0xff}
	frame = image.Pt(40, 60)
)

func testResources() Resources {
	return Resources{
		Timeline: &timeline.Timeline{
			Entries: []timeline.Entry{
				{Speaker: "a", Start: 0, End: 1, Text: "first"},
				{Speaker: "b", Start: 1, End: 2, Order: 1, Text: "second"},
			},
			Duration: 2,
			FPS:      10,
		},
		Overlays: assets.Set{
			"a": {Speaker: "a", Image: renderer.Solid(image.Pt(10, 10), red), Opaque: true, Anchor: speaker.BottomLeft},
			"b": {Speaker: "b", Image: renderer.Solid(image.Pt(10, 10), blue), Opaque: true, Anchor: speaker.BottomRight},
		},
		Background: &source.Background{
			Frames: []*image.RGBA{renderer.Solid(frame, bgA), renderer.Solid(frame, bgB)},
			FPS:    10,
		},
	}
}

func testOptions() Options {
	return Options{Size: frame, FPS: 10, OverlayMargin: 2}
}

func compose(t *testing.T, w *Worker, i int) *image.RGBA {
	t.Helper()
	dst := image.NewRGBA(image.Rectangle{Max: frame})
	if err := w.Compose(i, dst); err != nil {
		t.Fatal(err)
	}
	return dst
}

func newWorker(t *testing.T, res Resources, opts Options) *Worker {
	t.Helper()
	c, err := New(res, opts)
	if err != nil {
		t.Fatal(err)
	}
	w, err := c.NewWorker()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestComposeIdempotent(t *testing.T) {
	res := testResources()
	res.Captions = captions.NewTrack([]captions.Cue{
		{Text: "hello there", Start: 0, End: 1, Speaker: "a"},
		{Text: "general", Start: 1, End: 2, Speaker: "b", Entry: 1},
	})
	opts := testOptions()
	opts.Size = image.Pt(200, 200)
	frame200 := image.Rectangle{Max: opts.Size}
	res.Background.Frames = []*image.RGBA{renderer.Solid(opts.Size, bgA)}
	opts.Caption = CaptionStyle{FontSize: 12, TopMargin: 10, SideMargin: 5, Padding: 3, CornerRadius: 4, OutlineWidth: 1, ShadowOffset: 1, PlateAlpha: 0.8, MaxLines: 2}
	opts.EntranceDuration = 0.5
	opts.EntranceOffset = 20

	c, err := New(res, opts)
	if err != nil {
		t.Fatal(err)
	}
	w1, _ := c.NewWorker()
	w2, _ := c.NewWorker()

	for _, i := range []int{0, 3, 10, 19} {
		a := image.NewRGBA(frame200)
		b := image.NewRGBA(frame200)
		for k := range b.Pix {
			b.Pix[k] = 0x77 // stale contents of a pooled buffer
		}
		if err := w1.Compose(i, a); err != nil {
			t.Fatal(err)
		}
		if err := w2.Compose(i, b); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a.Pix, b.Pix) {
			t.Errorf("frame %d differs between workers", i)
		}
		if err := w1.Compose(i, b); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a.Pix, b.Pix) {
			t.Errorf("frame %d differs on second compose", i)
		}
	}
}

func TestSpeakerSwitch(t *testing.T) {
	w := newWorker(t, testResources(), testOptions())

	tests := []struct {
		frame int
		at    image.Point
		want  color.RGBA
	}{
		{5, image.Pt(5, 52), red},
		{5, image.Pt(31, 52), bgB}, // background index 5 mod 2
		{15, image.Pt(31, 52), blue},
		{15, image.Pt(5, 52), bgB},
		{10, image.Pt(31, 52), blue}, // boundary belongs to the next entry
		{19, image.Pt(0, 0), bgB},
		{0, image.Pt(0, 0), bgA},
	}
	for _, tt := range tests {
		got := compose(t, w, tt.frame).RGBAAt(tt.at.X, tt.at.Y)
		if got != tt.want {
			t.Errorf("frame %d at %v = %v, want %v", tt.frame, tt.at, got, tt.want)
		}
	}
}

func TestEntranceSlide(t *testing.T) {
	opts := testOptions()
	opts.EntranceDuration = 1
	opts.EntranceOffset = 10
	w := newWorker(t, testResources(), opts)

	// frame 0: overlay is pushed 10px down, its top row sits at y=58
	f0 := compose(t, w, 0)
	if got := f0.RGBAAt(5, 52); got != bgA {
		t.Errorf("overlay should still be below its anchor, got %v", got)
	}
	if got := f0.RGBAAt(5, 59); got != red {
		t.Errorf("overlay top edge missing at frame 0, got %v", got)
	}
	// entry a lasts the whole second, so frame 9 is nearly settled
	if got := compose(t, w, 9).RGBAAt(5, 55); got != red {
		t.Errorf("overlay not in place at frame 9, got %v", got)
	}
}

func TestCaptionDrawn(t *testing.T) {
	res := testResources()
	opts := testOptions()
	opts.Size = image.Pt(200, 200)
	res.Background.Frames = []*image.RGBA{renderer.Solid(opts.Size, bgA)}
	plain := newWorker(t, res, opts)

	res.Captions = captions.NewTrack([]captions.Cue{{Text: "hello world", Start: 0, End: 2, Speaker: "a"}})
	opts.Caption = CaptionStyle{FontSize: 16, TopMargin: 10, SideMargin: 5, Padding: 4, PlateAlpha: 1, MaxLines: 3}
	res.Profiles = testProfiles{"a": {ID: "a", Plate: red, Text: blue, Outline: color.RGBA{A: 0xff}}}
	captioned := newWorker(t, res, opts)

	a := image.NewRGBA(image.Rectangle{Max: opts.Size})
	b := image.NewRGBA(image.Rectangle{Max: opts.Size})
	if err := plain.Compose(3, a); err != nil {
		t.Fatal(err)
	}
	if err := captioned.Compose(3, b); err != nil {
		t.Fatal(err)
	}

	l := captioned.layout[captionKey{"hello world", 0}]
	if l == nil || len(l.lines) != 1 {
		t.Fatalf("layout = %+v", l)
	}
	if mid := (l.plate.Min.X + l.plate.Max.X) / 2; l.plate.Min.Y != 10 || mid < 99 || mid > 100 {
		t.Errorf("plate should be centred under the top margin: %v", l.plate)
	}
	// plate corner inset is solid plate colour; frame outside it is untouched
	if got := b.RGBAAt(l.plate.Min.X+1, l.plate.Max.Y-l.plate.Dy()/2); got != red {
		t.Errorf("plate pixel = %v", got)
	}
	if got := b.RGBAAt(0, 0); got != a.RGBAAt(0, 0) {
		t.Errorf("caption leaked outside its plate")
	}
}

func TestNewRejectsMissingResources(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Resources)
		kind   failure.Kind
	}{
		{"no overlay", func(r *Resources) { delete(r.Overlays, "b") }, failure.AssetMissing},
		{"no background", func(r *Resources) { r.Background = nil }, failure.AssetMissing},
		{"wrong background size", func(r *Resources) {
			r.Background.Frames = []*image.RGBA{renderer.Solid(image.Pt(8, 8), bgA)}
		}, failure.AssetMissing},
		{"empty timeline", func(r *Resources) { r.Timeline = &timeline.Timeline{} }, failure.TimelineError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testResources()
			tt.mutate(&res)
			_, err := New(res, testOptions())
			if !failure.Is(err, tt.kind) {
				t.Errorf("got %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestComposeWrongDestination(t *testing.T) {
	w := newWorker(t, testResources(), testOptions())
	if err := w.Compose(0, image.NewRGBA(image.Rect(0, 0, 4, 4))); err == nil {
		t.Fatal("expected an error for a mis-sized buffer")
	}
}

func TestWrap(t *testing.T) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		t.Fatal(err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 20, DPI: 72})
	if err != nil {
		t.Fatal(err)
	}
	defer face.Close()

	lines := wrap(face, "one two three four five six", 80)
	if len(lines) < 2 {
		t.Fatalf("expected several lines, got %q", lines)
	}
	if got := wrap(face, "supercalifragilistic", 10); len(got) != 1 {
		t.Errorf("a long word should stay on one line, got %q", got)
	}
	if got := wrap(face, "   ", 80); got != nil {
		t.Errorf("blank text wrapped to %q", got)
	}
}

func TestQRBadge(t *testing.T) {
	img, err := QRBadge("https://example.com/source", 128)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Size() != image.Pt(128, 128) {
		t.Errorf("badge size = %v", img.Bounds().Size())
	}
	if _, err := QRBadge("", 128); err == nil {
		t.Error("empty content should fail")
	}
}

type testProfiles map[speaker.ID]speaker.Profile

func (p testProfiles) Profile(id speaker.ID) (speaker.Profile, bool) {
	pr, ok := p[id]
	return pr, ok
}
