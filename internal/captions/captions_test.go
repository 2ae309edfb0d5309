package captions

import (
	"math"
	"strings"
	"testing"

	"github.com/web1havv/edsurf/internal/script"
	"github.com/web1havv/edsurf/internal/timeline"
)

func build(t *testing.T, d float64, texts ...string) *timeline.Timeline {
	t.Helper()
	segs := make([]script.Segment, len(texts))
	for i, tx := range texts {
		sp := "a"
		if i%2 == 1 {
			sp = "b"
		}
		segs[i] = script.Segment{Speaker: speakerID(sp), Text: tx, Order: i}
	}
	tl, err := timeline.Build(segs, timeline.Options{TotalDuration: d, FPS: 30})
	if err != nil {
		t.Fatal(err)
	}
	return tl
}

func TestScheduleThreeSentences(t *testing.T) {
	s1 := "The quick brown fox jumps over the lazy dog near the river bank." // 64
	s2 := "Meanwhile the old farmer watches from his porch with a warm tea."  // 64
	s3 := "Nobody expected the fox to come back for a second round of play." // 64
	text := s1 + " " + s2 + " " + s3
	tl := &timeline.Timeline{Duration: 4, FPS: 30, Entries: []timeline.Entry{
		{Speaker: "a", Start: 0, End: 4, Text: text},
	}}

	cues, err := Schedule(tl, Options{MaxChars: 80, MinDuration: 0.6, MaxDuration: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 3 {
		t.Fatalf("got %d cues: %+v", len(cues), cues)
	}
	for i, want := range []string{s1, s2, s3} {
		if cues[i].Text != want {
			t.Errorf("cue %d = %q, want %q", i, cues[i].Text, want)
		}
	}
	if cues[0].Start != 0 || cues[2].End != 4 {
		t.Errorf("cues span [%v, %v], want [0, 4]", cues[0].Start, cues[2].End)
	}
	if err := Validate(tl, cues, 1e-9); err != nil {
		t.Error(err)
	}
}

func TestScheduleStaysInsideEntries(t *testing.T) {
	tl := build(t, 23.7,
		"Hello there, this is the first speaker talking about something long enough to need several captions, really.",
		"Short reply.",
		"And now; a clause-heavy answer: with commas, semicolons, and colons - plus a dash for good measure! Done?",
		"Ok",
	)
	cues, err := Schedule(tl, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(tl, cues, 1e-9); err != nil {
		t.Fatal(err)
	}

	total := 0.0
	for _, c := range cues {
		total += c.Duration()
		if n := len([]rune(c.Text)); n > 50 {
			t.Errorf("cue %q has %d runes", c.Text, n)
		}
	}
	if math.Abs(total-23.7) > 1e-9 {
		t.Errorf("cue durations sum to %v", total)
	}
}

func TestMinDurationBorrowsFromNext(t *testing.T) {
	// "Hi." is tiny next to the second chunk, so it starts under the floor.
	tl := &timeline.Timeline{Duration: 3, FPS: 30, Entries: []timeline.Entry{
		{Speaker: "a", Start: 0, End: 3, Text: "Hi. " + strings.Repeat("word ", 9) + "end."},
	}}
	cues, err := Schedule(tl, Options{MaxChars: 50, MinDuration: 0.6, MaxDuration: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 2 {
		t.Fatalf("cues = %+v", cues)
	}
	if math.Abs(cues[0].Duration()-0.6) > 1e-9 {
		t.Errorf("first cue duration = %v, want 0.6", cues[0].Duration())
	}
	if cues[1].Start != cues[0].End || cues[1].End != 3 {
		t.Errorf("second cue = %+v", cues[1])
	}
}

func TestMinDurationRelaxedAtEntryEnd(t *testing.T) {
	// the short cue is the last one of its entry and cannot borrow
	tl := &timeline.Timeline{Duration: 3, FPS: 30, Entries: []timeline.Entry{
		{Speaker: "a", Start: 0, End: 3, Text: strings.Repeat("word ", 9) + "end. Hi."},
	}}
	cues, err := Schedule(tl, Options{MaxChars: 50, MinDuration: 0.6, MaxDuration: 10})
	if err != nil {
		t.Fatal(err)
	}
	last := cues[len(cues)-1]
	if last.Text != "Hi." || last.Duration() >= 0.6 || last.End != 3 {
		t.Errorf("last cue = %+v", last)
	}
}

func TestMinDurationCascades(t *testing.T) {
	// every split cue starts under the floor; the window fits all of them
	tl := &timeline.Timeline{Duration: 2.6, FPS: 30, Entries: []timeline.Entry{
		{Speaker: "a", Start: 0, End: 2.6, Text: "Hi. Okay then we go. And so do we all. Then we all stop."},
	}}
	cues, err := Schedule(tl, Options{MaxChars: 17, MinDuration: 0.6, MaxDuration: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 4 {
		t.Fatalf("cues = %+v", cues)
	}
	for i, c := range cues {
		if c.Duration() < 0.6-1e-9 {
			t.Errorf("cue %d %q lasts %v, want >= 0.6", i, c.Text, c.Duration())
		}
	}
	if err := Validate(tl, cues, 1e-9); err != nil {
		t.Error(err)
	}
}

func TestMinDurationWindowTooShort(t *testing.T) {
	// four cues in one second cannot all reach the floor
	tl := &timeline.Timeline{Duration: 1, FPS: 30, Entries: []timeline.Entry{
		{Speaker: "a", Start: 0, End: 1, Text: "Hi. Okay then we go. And so do we all. Then we all stop."},
	}}
	cues, err := Schedule(tl, Options{MaxChars: 17, MinDuration: 0.6, MaxDuration: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 4 {
		t.Fatalf("cues = %+v", cues)
	}
	for i, c := range cues {
		if c.Duration() <= 0 {
			t.Errorf("cue %d lasts %v", i, c.Duration())
		}
	}
	if err := Validate(tl, cues, 1e-9); err != nil {
		t.Error(err)
	}
}

func TestMaxDurationSplits(t *testing.T) {
	tl := &timeline.Timeline{Duration: 9, FPS: 30, Entries: []timeline.Entry{
		{Speaker: "a", Start: 0, End: 9, Text: "one two three four five six"},
	}}
	cues, err := Schedule(tl, Options{MaxChars: 50, MinDuration: 0, MaxDuration: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) < 3 {
		t.Fatalf("expected the 9s cue to be split, got %+v", cues)
	}
	for _, c := range cues {
		if c.Duration() > 4+1e-9 {
			t.Errorf("cue %q lasts %v", c.Text, c.Duration())
		}
	}
	if err := Validate(tl, cues, 1e-9); err != nil {
		t.Error(err)
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"fits", "Hello world.", 50, []string{"Hello world."}},
		{"merges sentences", "Yes. No. Maybe.", 50, []string{"Yes. No. Maybe."}},
		{"clauses", "first clause here, second clause there", 20, []string{"first clause here,", "second clause there"}},
		{"hard split", "aaaa bbbb cccc dddd", 9, []string{"aaaa bbbb", "cccc dddd"}},
		{"long word kept", "supercalifragilistic", 5, []string{"supercalifragilistic"}},
		{"empty", "   ", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("Chunk = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTrackAt(t *testing.T) {
	tr := NewTrack([]Cue{
		{Text: "a", Start: 0, End: 1},
		{Text: "b", Start: 1, End: 2.5},
	})
	tests := []struct {
		t    float64
		want string
		ok   bool
	}{
		{0, "a", true},
		{0.999, "a", true},
		{1, "b", true},
		{2.5, "b", true},
		{2.6, "", false},
	}
	for _, tt := range tests {
		c, ok := tr.At(tt.t)
		if ok != tt.ok || c.Text != tt.want {
			t.Errorf("At(%v) = %q, %v; want %q, %v", tt.t, c.Text, ok, tt.want, tt.ok)
		}
	}
	if _, ok := NewTrack(nil).At(0); ok {
		t.Errorf("empty track returned a cue")
	}
}
