// Package captions splits timeline entries into short, readable cues.
package captions

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/script"
	"github.com/web1havv/edsurf/internal/speaker"
	"github.com/web1havv/edsurf/internal/timeline"
)

// Cue is a caption shown during [Start, End).
type Cue struct {
	Text    string     `yaml:"text" json:"text"`
	Start   float64    `yaml:"start" json:"start"`
	End     float64    `yaml:"end" json:"end"`
	Speaker speaker.ID `yaml:"speaker" json:"speaker"`
	Entry   int        `yaml:"entry" json:"entry"` // index into Timeline.Entries
}

func (c Cue) Duration() float64 { return c.End - c.Start }

type Options struct {
	MaxChars    int
	MinDuration float64
	MaxDuration float64
}

func DefaultOptions() Options {
	return Options{MaxChars: 50, MinDuration: 0.6, MaxDuration: 4}
}

var clauseRe = regexp.MustCompile(`[,;:]\s+|\s+[-–—]+\s+`)

// Schedule produces cues for every entry of tl. Cues of one entry exactly
// tile that entry's window.
func Schedule(tl *timeline.Timeline, opts Options) ([]Cue, error) {
	const op = "captions.Schedule"
	if tl == nil || len(tl.Entries) == 0 {
		return nil, failure.New(failure.TimelineError, op, "empty timeline")
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultOptions().MaxChars
	}

	var cues []Cue
	for i, e := range tl.Entries {
		cues = append(cues, scheduleEntry(i, e, opts)...)
	}
	return cues, nil
}

func scheduleEntry(idx int, e timeline.Entry, opts Options) []Cue {
	chunks := Chunk(e.Text, opts.MaxChars)
	if len(chunks) == 0 {
		return []Cue{{Start: e.Start, End: e.End, Speaker: e.Speaker, Entry: idx}}
	}

	cues := allocate(chunks, e.Start, e.End, e.Speaker, idx)
	if opts.MaxDuration > 0 {
		cues = splitLong(cues, opts.MaxDuration)
	}
	if opts.MinDuration > 0 {
		enforceFloor(cues, opts.MinDuration)
	}
	return cues
}

// allocate spreads [start, end] over chunks by rune count.
func allocate(chunks []string, start, end float64, sp speaker.ID, idx int) []Cue {
	total := 0
	for _, c := range chunks {
		total += runeLen(c)
	}
	span := end - start
	cues := make([]Cue, len(chunks))
	cum := 0
	for i, c := range chunks {
		s := start + span*float64(cum)/float64(total)
		cum += runeLen(c)
		en := start + span*float64(cum)/float64(total)
		if i == len(chunks)-1 {
			en = end
		}
		cues[i] = Cue{Text: c, Start: s, End: en, Speaker: sp, Entry: idx}
	}
	cues[0].Start = start
	return cues
}

// splitLong halves cues longer than max at the whitespace nearest their
// middle until they fit or hold a single word.
func splitLong(cues []Cue, max float64) []Cue {
	out := make([]Cue, 0, len(cues))
	queue := append([]Cue(nil), cues...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c.Duration() <= max {
			out = append(out, c)
			continue
		}
		left, right, ok := splitMiddle(c.Text)
		if !ok {
			out = append(out, c)
			continue
		}
		halves := allocate([]string{left, right}, c.Start, c.End, c.Speaker, c.Entry)
		queue = append(halves, queue...)
	}
	return out
}

// enforceFloor lengthens cues shorter than min by moving their end into the
// next cue, which in turn refills from its own successor. The chain stops
// at the entry end: each cue is capped so the cues after it keep min each
// and the last cue keeps min(min, span/n). A cue that hits its cap stays
// short, and so can the last cue.
func enforceFloor(cues []Cue, min float64) {
	n := len(cues)
	if n < 2 {
		return
	}
	end := cues[n-1].End
	lastMin := math.Min(min, (end-cues[0].Start)/float64(n))
	for i := 0; i < n-1; i++ {
		if cues[i].Duration() >= min {
			continue
		}
		limit := end - float64(n-2-i)*min - lastMin
		e := cues[i].Start + min
		if e > limit {
			e = math.Max(limit, cues[i].End)
		}
		cues[i].End = e
		cues[i+1].Start = e
	}
}

// Chunk splits text into pieces of at most maxChars runes: sentence
// boundaries first, clause boundaries next, then whitespace. Adjacent small
// pieces are merged back while they fit. A single word longer than maxChars
// is kept whole.
func Chunk(text string, maxChars int) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var pieces []string
	for _, sent := range script.SplitSentences(text) {
		if runeLen(sent) <= maxChars {
			pieces = append(pieces, sent)
			continue
		}
		for _, clause := range splitKeep(sent, clauseRe) {
			if runeLen(clause) <= maxChars {
				pieces = append(pieces, clause)
				continue
			}
			pieces = append(pieces, hardSplit(clause, maxChars)...)
		}
	}

	merged := []string{pieces[0]}
	for _, p := range pieces[1:] {
		last := merged[len(merged)-1]
		if runeLen(last)+1+runeLen(p) <= maxChars {
			merged[len(merged)-1] = last + " " + p
			continue
		}
		merged = append(merged, p)
	}
	return merged
}

// splitKeep splits s after each match of re, leaving the delimiter's
// punctuation on the left piece.
func splitKeep(s string, re *regexp.Regexp) []string {
	var out []string
	last := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if p := strings.TrimSpace(s[last:loc[1]]); p != "" {
			out = append(out, p)
		}
		last = loc[1]
	}
	if p := strings.TrimSpace(s[last:]); p != "" {
		out = append(out, p)
	}
	return out
}

// hardSplit cuts s on whitespace so each piece has at most max runes where
// possible: the last space at or before the limit, or the first one after.
func hardSplit(s string, max int) []string {
	var out []string
	for runeLen(s) > max {
		cut, n := -1, 0
		for i, r := range s {
			if unicode.IsSpace(r) {
				if n <= max {
					cut = i
				} else {
					if cut < 0 {
						cut = i
					}
					break
				}
			}
			n++
		}
		if cut <= 0 {
			break
		}
		out = append(out, strings.TrimSpace(s[:cut]))
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func splitMiddle(s string) (string, string, bool) {
	mid := len(s) / 2
	best := -1
	for i, r := range s {
		if !unicode.IsSpace(r) {
			continue
		}
		if best < 0 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best <= 0 {
		return "", "", false
	}
	l, r := strings.TrimSpace(s[:best]), strings.TrimSpace(s[best:])
	if l == "" || r == "" {
		return "", "", false
	}
	return l, r, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// Validate checks that cues tile the timeline, stay inside their entry, and
// carry the entry's speaker.
func Validate(tl *timeline.Timeline, cues []Cue, tol float64) error {
	const op = "captions.Validate"
	if len(cues) == 0 {
		return failure.New(failure.TimelineError, op, "no cues")
	}
	if cues[0].Start != 0 || cues[len(cues)-1].End != tl.Duration {
		return failure.New(failure.TimelineError, op, "cues span [%f, %f], timeline is [0, %f]", cues[0].Start, cues[len(cues)-1].End, tl.Duration)
	}
	for i, c := range cues {
		if c.Entry < 0 || c.Entry >= len(tl.Entries) {
			return failure.New(failure.TimelineError, op, "cue %d references entry %d", i, c.Entry)
		}
		e := tl.Entries[c.Entry]
		if c.Start < e.Start-tol || c.End > e.End+tol || c.End <= c.Start {
			return failure.New(failure.TimelineError, op, "cue %d [%f, %f] outside entry %d [%f, %f]", i, c.Start, c.End, c.Entry, e.Start, e.End)
		}
		if c.Speaker != e.Speaker {
			return failure.New(failure.TimelineError, op, "cue %d speaker %s, entry speaker %s", i, c.Speaker, e.Speaker)
		}
		if i > 0 && math.Abs(c.Start-cues[i-1].End) > tol {
			return failure.New(failure.TimelineError, op, "cues %d and %d are not contiguous", i-1, i)
		}
	}
	return nil
}

// Track answers "which cue is visible at t".
type Track struct {
	Cues []Cue
}

func NewTrack(cues []Cue) *Track { return &Track{Cues: cues} }

// At returns the cue active at t with the same interval rules as
// timeline.At. ok is false for an empty track or t past the last cue.
func (tr *Track) At(t float64) (Cue, bool) {
	n := len(tr.Cues)
	if n == 0 || t > tr.Cues[n-1].End {
		return Cue{}, false
	}
	i := sort.Search(n, func(i int) bool { return tr.Cues[i].Start > t }) - 1
	if i < 0 {
		i = 0
	}
	return tr.Cues[i], true
}
