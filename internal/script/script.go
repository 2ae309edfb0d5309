// Package script turns a raw dialogue script into ordered speaker segments.
package script

import (
	"regexp"
	"strings"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/speaker"
)

// Segment is one utterance of one speaker.
type Segment struct {
	Speaker speaker.ID `yaml:"speaker" json:"speaker"`
	Text    string     `yaml:"text" json:"text"`
	Order   int        `yaml:"order" json:"order"`
}

// Resolver maps a label found in the script to a speaker.
type Resolver interface {
	Resolve(label string) (speaker.ID, bool)
}

// Stats describes how a script was interpreted.
type Stats struct {
	Labelled bool // speaker labels were found
	Dropped  int  // lines before the first label
	Lines    int
}

var (
	// **Modi:** text / Modi: text / __Modi__: text
	colonLabel = regexp.MustCompile(`^\s*(?:\*\*|__)?\s*([\p{L}][\p{L}\p{N} .'\-]{0,39}?)\s*(?:\*\*|__)?\s*[:：]\s*(?:\*\*|__)?\s*(.*)$`)
	// [Modi] text
	bracketLabel = regexp.MustCompile(`^\s*\[([^\]]{1,40})\]\s*[:：]?\s*(.*)$`)
	// MODI - text
	dashLabel  = regexp.MustCompile(`^\s*([\p{L}][\p{L}\p{N} .']{0,39}?)\s+[-–—]\s+(.*)$`)
	markdown   = strings.NewReplacer("**", "", "__", "")
	sentenceRe = regexp.MustCompile(`[.!?…]+["')\]]*\s+`)
)

// Parse splits text into segments for the given pair. See ParseWithStats.
func Parse(text string, pair speaker.Pair, r Resolver) ([]Segment, error) {
	segs, _, err := ParseWithStats(text, pair, r)
	return segs, err
}

// ParseWithStats splits text into segments.
//
// If any line starts with a label that resolves to a speaker, every labelled
// line opens a new segment and unlabelled lines continue the current one.
// Otherwise utterances (paragraphs, then lines, then sentences) alternate
// strictly starting with pair[0].
func ParseWithStats(text string, pair speaker.Pair, r Resolver) ([]Segment, Stats, error) {
	const op = "script.Parse"
	var st Stats

	if pair[0] == "" || pair[1] == "" || pair[0] == pair[1] {
		return nil, st, failure.New(failure.ParseError, op, "invalid speaker pair %v", pair)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	type labelled struct {
		id   speaker.ID
		rest string
		ok   bool
	}
	parsed := make([]labelled, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		st.Lines++
		label, rest, found := splitLabel(line)
		if !found {
			continue
		}
		id, ok := r.Resolve(label)
		if !ok {
			continue
		}
		if !pair.Contains(id) {
			return nil, st, failure.New(failure.ParseError, op, "line %d: speaker %q is not part of pair %s", i+1, id, pair)
		}
		parsed[i] = labelled{id: id, rest: rest, ok: true}
		st.Labelled = true
	}

	var segs []Segment
	add := func(id speaker.ID, raw string) {
		if t := clean(raw); t != "" {
			segs = append(segs, Segment{Speaker: id, Text: t, Order: len(segs)})
		}
	}

	if st.Labelled {
		var (
			cur     speaker.ID
			buf     []string
			started bool
		)
		flush := func() {
			if started {
				add(cur, strings.Join(buf, " "))
			}
			buf = buf[:0]
		}
		for i, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if parsed[i].ok {
				flush()
				cur, started = parsed[i].id, true
				buf = append(buf, parsed[i].rest)
				continue
			}
			if !started {
				st.Dropped++
				continue
			}
			buf = append(buf, line)
		}
		flush()
	} else {
		for _, u := range utterances(text) {
			add(pair[len(segs)%2], u)
		}
	}

	if len(segs) == 0 {
		return nil, st, failure.New(failure.ParseError, op, "script contains no utterances")
	}
	return segs, st, nil
}

func splitLabel(line string) (label, rest string, ok bool) {
	for _, re := range []*regexp.Regexp{bracketLabel, colonLabel, dashLabel} {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// utterances splits unlabelled text: paragraphs if there are several, else
// the lines of the single paragraph, else its sentences.
func utterances(text string) []string {
	var paras []string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				paras = append(paras, strings.Join(cur, "\n"))
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		paras = append(paras, strings.Join(cur, "\n"))
	}

	switch {
	case len(paras) > 1:
		return paras
	case len(paras) == 0:
		return nil
	}
	if lines := strings.Split(paras[0], "\n"); len(lines) > 1 {
		return lines
	}
	return SplitSentences(paras[0])
}

// SplitSentences splits s after sentence terminators, keeping the
// punctuation with the sentence.
func SplitSentences(s string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceRe.FindAllStringIndex(s, -1) {
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

func clean(s string) string {
	s = markdown.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
