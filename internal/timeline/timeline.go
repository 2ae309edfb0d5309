// Package timeline allocates the audio duration across script segments and
// answers "who is speaking at time t".
package timeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/script"
	"github.com/web1havv/edsurf/internal/speaker"
)

// Unit is the weighting unit of proportional allocation.
type Unit string

const (
	Chars Unit = "chars"
	Words Unit = "words"
)

// Source tells how entry boundaries were obtained.
type Source string

const (
	// Proportional boundaries are estimated from text length; speech pace
	// varies, so this is an approximation.
	Proportional     Source = "proportional"
	SegmentDurations Source = "segment_durations"
)

// Entry is the interval during which one segment is spoken.
type Entry struct {
	Speaker speaker.ID `yaml:"speaker" json:"speaker"`
	Start   float64    `yaml:"start" json:"start"`
	End     float64    `yaml:"end" json:"end"`
	Order   int        `yaml:"order" json:"order"`
	Text    string     `yaml:"text" json:"text"`
}

func (e Entry) Duration() float64 { return e.End - e.Start }

// Timeline is an ordered, contiguous list of entries covering [0, Duration].
type Timeline struct {
	Entries  []Entry `yaml:"entries" json:"entries"`
	Duration float64 `yaml:"duration" json:"duration"`
	FPS      int     `yaml:"fps" json:"fps"`
	Source   Source  `yaml:"source" json:"source"`
	Rescale  float64 `yaml:"rescale,omitempty" json:"rescale,omitempty"`
}

type Options struct {
	TotalDuration float64
	FPS           int
	Unit          Unit
	// SegmentDurations, when set, are measured per-segment durations and
	// take precedence over proportional allocation.
	SegmentDurations []float64
	// Tolerance is the relative mismatch between sum(SegmentDurations) and
	// TotalDuration that is rescaled instead of rejected.
	Tolerance float64
}

// Build allocates opts.TotalDuration across segs.
func Build(segs []script.Segment, opts Options) (*Timeline, error) {
	const op = "timeline.Build"

	D := opts.TotalDuration
	if math.IsNaN(D) || math.IsInf(D, 0) || D <= 0 {
		return nil, failure.New(failure.TimelineError, op, "audio duration %v is not usable", D)
	}
	if opts.FPS <= 0 {
		return nil, failure.New(failure.TimelineError, op, "fps must be positive, got %d", opts.FPS)
	}
	if len(segs) == 0 {
		return nil, failure.New(failure.TimelineError, op, "no segments")
	}

	tl := &Timeline{Duration: D, FPS: opts.FPS}

	var (
		weights []float64
		kept    []script.Segment
	)
	if opts.SegmentDurations != nil {
		ds := opts.SegmentDurations
		if len(ds) != len(segs) {
			return nil, failure.New(failure.TimelineError, op, "%d segment durations for %d segments", len(ds), len(segs))
		}
		sum := 0.0
		for i, d := range ds {
			if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
				return nil, failure.New(failure.TimelineError, op, "segment %d has duration %v", i, d)
			}
			sum += d
		}
		if math.Abs(sum-D) > opts.Tolerance*D+1/float64(opts.FPS) {
			return nil, failure.New(failure.TimelineError, op, "segment durations sum to %.3fs, audio is %.3fs", sum, D)
		}
		weights, kept = ds, segs
		tl.Source = SegmentDurations
		tl.Rescale = D / sum
	} else {
		unit := opts.Unit
		if unit == "" {
			unit = Chars
		}
		for _, s := range segs {
			w := Weight(s.Text, unit)
			if w <= 0 {
				continue
			}
			weights = append(weights, w)
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			return nil, failure.New(failure.TimelineError, op, "all segments have zero weight")
		}
		tl.Source = Proportional
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}

	// Boundaries are computed from the cumulative weight so rounding never
	// accumulates; the final end is pinned to D.
	tl.Entries = make([]Entry, len(kept))
	cum := 0.0
	for i, s := range kept {
		start := D * cum / total
		cum += weights[i]
		end := D * cum / total
		if i == len(kept)-1 {
			end = D
		}
		tl.Entries[i] = Entry{Speaker: s.Speaker, Start: start, End: end, Order: s.Order, Text: s.Text}
	}
	tl.Entries[0].Start = 0
	return tl, nil
}

// Weight is the allocation weight of text.
func Weight(text string, unit Unit) float64 {
	text = strings.TrimSpace(text)
	if unit == Words {
		n := 0
		for _, f := range strings.Fields(text) {
			if strings.IndexFunc(f, isWordRune) >= 0 {
				n++
			}
		}
		return float64(n)
	}
	return float64(utf8.RuneCountInString(text))
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// At returns the entry active at t and its index. Intervals are half-open,
// except the last one which is closed at Duration; t outside [0, Duration]
// clamps to the first or last entry. The search picks the last entry that
// starts at or before t, so a gap between entries resolves to the previous
// speaker.
func (tl *Timeline) At(t float64) (Entry, int) {
	i := sort.Search(len(tl.Entries), func(i int) bool { return tl.Entries[i].Start > t }) - 1
	if i < 0 {
		i = 0
	}
	return tl.Entries[i], i
}

// FrameCount is the number of output frames, round(Duration*FPS).
func (tl *Timeline) FrameCount() int {
	return FrameCount(tl.Duration, tl.FPS)
}

// FrameCount returns round(d*fps).
func FrameCount(d float64, fps int) int {
	return int(math.Round(d * float64(fps)))
}

// Validate checks ordering, contiguity and the end clamp within tol seconds.
func (tl *Timeline) Validate(tol float64) error {
	const op = "timeline.Validate"
	if len(tl.Entries) == 0 {
		return failure.New(failure.TimelineError, op, "timeline is empty")
	}
	if tl.Entries[0].Start != 0 {
		return failure.New(failure.TimelineError, op, "first entry starts at %f", tl.Entries[0].Start)
	}
	for i, e := range tl.Entries {
		if e.End <= e.Start {
			return failure.New(failure.TimelineError, op, "entry %d is empty or reversed [%f, %f]", i, e.Start, e.End)
		}
		if i > 0 {
			if prev := tl.Entries[i-1]; math.Abs(e.Start-prev.End) > tol {
				return failure.New(failure.TimelineError, op, "gap between entry %d and %d: %f != %f", i-1, i, prev.End, e.Start)
			}
			if e.Order <= tl.Entries[i-1].Order {
				return failure.New(failure.TimelineError, op, "entry %d out of order", i)
			}
		}
	}
	if last := tl.Entries[len(tl.Entries)-1]; last.End != tl.Duration {
		return failure.New(failure.TimelineError, op, "last entry ends at %f, duration is %f", last.End, tl.Duration)
	}
	return nil
}

func (tl *Timeline) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timeline %.3fs @ %d fps (%s)\n", tl.Duration, tl.FPS, tl.Source)
	for _, e := range tl.Entries {
		fmt.Fprintf(&b, "  %7.3f-%7.3f %-10s %s\n", e.Start, e.End, e.Speaker, e.Text)
	}
	return b.String()
}
