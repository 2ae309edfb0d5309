package script

import (
	"testing"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/speaker"
)

type mapResolver map[string]speaker.ID

func (m mapResolver) Resolve(label string) (speaker.ID, bool) {
	id, ok := m[label]
	return id, ok
}

var (
	resolver = mapResolver{"Modi": "modi", "MODI": "modi", "Trump": "trump", "trump": "trump", "Elon": "elon"}
	pair     = speaker.Pair{"modi", "trump"}
)

func TestParseLabelled(t *testing.T) {
	text := `Intro line that nobody says

**Modi:** Namaste friends!
This continues Modi's point.
**Trump:** Tremendous, believe me.
[trump] Nobody does it better.
MODI - My turn again.`

	segs, st, err := ParseWithStats(text, pair, resolver)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !st.Labelled || st.Dropped != 1 {
		t.Errorf("stats = %+v", st)
	}

	want := []Segment{
		{Speaker: "modi", Text: "Namaste friends! This continues Modi's point.", Order: 0},
		{Speaker: "trump", Text: "Tremendous, believe me.", Order: 1},
		{Speaker: "trump", Text: "Nobody does it better.", Order: 2},
		{Speaker: "modi", Text: "My turn again.", Order: 3},
	}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segs), len(want), segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, segs[i], want[i])
		}
	}
}

func TestParseUnlabelledAlternates(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "paragraphs",
			text: "First paragraph\nstill first.\n\nSecond one.\n\n\nThird.",
			want: []string{"First paragraph still first.", "Second one.", "Third."},
		},
		{
			name: "lines",
			text: "Line one.\nLine two.\nLine three.",
			want: []string{"Line one.", "Line two.", "Line three."},
		},
		{
			name: "sentences",
			text: "Is this real? Yes it is. Wow!",
			want: []string{"Is this real?", "Yes it is.", "Wow!"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := Parse(tt.text, pair, resolver)
			if err != nil {
				t.Fatal(err)
			}
			if len(segs) != len(tt.want) {
				t.Fatalf("got %d segments: %+v", len(segs), segs)
			}
			for i, s := range segs {
				if s.Text != tt.want[i] {
					t.Errorf("segment %d text = %q, want %q", i, s.Text, tt.want[i])
				}
				if s.Speaker != pair[i%2] {
					t.Errorf("segment %d speaker = %s, want %s", i, s.Speaker, pair[i%2])
				}
				if s.Order != i {
					t.Errorf("segment %d order = %d", i, s.Order)
				}
			}
		})
	}
}

func TestParseUnknownLabelIsText(t *testing.T) {
	segs, err := Parse("Note: this is just text.\nAnother line.", pair, resolver)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 || segs[0].Text != "Note: this is just text." {
		t.Errorf("unexpected segments %+v", segs)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		pair speaker.Pair
	}{
		{"empty", "  \n\n ", pair},
		{"speaker outside pair", "Elon: hi\nModi: hello", pair},
		{"labels with empty text", "Modi:\nTrump: **  **", pair},
		{"bad pair", "hello", speaker.Pair{"modi", "modi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, tt.pair, resolver)
			if !failure.Is(err, failure.ParseError) {
				t.Errorf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences(`He said "stop!" Then left... Done`)
	want := []string{`He said "stop!"`, "Then left...", "Done"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
