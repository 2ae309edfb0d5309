// Package speaker holds the closed set of speaker identities known to a job
// and the pairs they can be combined into.
package speaker

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"
)

// ID identifies a speaker, e.g. "trump" or "samay".
type ID string

// Anchor is the corner an overlay is pinned to.
type Anchor int

const (
	BottomLeft Anchor = iota
	BottomRight
	TopLeft
	TopRight
)

var anchorNames = map[string]Anchor{
	"bottom-left":  BottomLeft,
	"bottom-right": BottomRight,
	"top-left":     TopLeft,
	"top-right":    TopRight,
	"left":         BottomLeft,
	"right":        BottomRight,
}

// ParseAnchor accepts "bottom-left", "bottom-right", "top-left", "top-right",
// and the short forms "left" and "right".
func ParseAnchor(s string) (Anchor, error) {
	a, ok := anchorNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown anchor %q", s)
	}
	return a, nil
}

func (a Anchor) String() string {
	switch a {
	case BottomLeft:
		return "bottom-left"
	case BottomRight:
		return "bottom-right"
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	}
	return "anchor(" + strconv.Itoa(int(a)) + ")"
}

func (a Anchor) Right() bool  { return a == BottomRight || a == TopRight }
func (a Anchor) Bottom() bool { return a == BottomLeft || a == BottomRight }

// Profile is the rendering identity of a speaker.
type Profile struct {
	ID          ID
	DisplayName string
	Aliases     []string
	AssetPath   string
	Anchor      Anchor
	Plate       color.RGBA // caption plate
	Text        color.RGBA
	Outline     color.RGBA
}

// Pair is an ordered pair of speakers; Pair[0] opens the dialogue.
type Pair [2]ID

func (p Pair) Contains(id ID) bool { return p[0] == id || p[1] == id }

// Other returns the partner of id within the pair.
func (p Pair) Other(id ID) ID {
	if p[0] == id {
		return p[1]
	}
	return p[0]
}

func (p Pair) String() string { return string(p[0]) + "_" + string(p[1]) }

// Registry resolves labels, profiles and pairs. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	profiles map[ID]Profile
	labels   map[string]ID
	pairs    map[string]Pair
}

// NewRegistry validates profiles and pairs. Every label (id, display name,
// alias) must be unique and every pair must reference two distinct known
// speakers.
func NewRegistry(profiles []Profile, pairs map[string][]ID) (*Registry, error) {
	r := &Registry{
		profiles: make(map[ID]Profile, len(profiles)),
		labels:   make(map[string]ID),
		pairs:    make(map[string]Pair, len(pairs)),
	}
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("speaker profile without id")
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate speaker %q", p.ID)
		}
		r.profiles[p.ID] = p

		names := append([]string{string(p.ID), p.DisplayName}, p.Aliases...)
		for _, n := range names {
			key := normalizeLabel(n)
			if key == "" {
				continue
			}
			if owner, taken := r.labels[key]; taken && owner != p.ID {
				return nil, fmt.Errorf("label %q used by both %q and %q", n, owner, p.ID)
			}
			r.labels[key] = p.ID
		}
	}

	for name, ids := range pairs {
		if len(ids) != 2 {
			return nil, fmt.Errorf("pair %q must name exactly two speakers, got %d", name, len(ids))
		}
		if ids[0] == ids[1] {
			return nil, fmt.Errorf("pair %q names %q twice", name, ids[0])
		}
		for _, id := range ids {
			if _, ok := r.profiles[id]; !ok {
				return nil, fmt.Errorf("pair %q references unknown speaker %q", name, id)
			}
		}
		r.pairs[strings.ToLower(name)] = Pair{ids[0], ids[1]}
	}
	return r, nil
}

// Profile returns the profile of a known speaker.
func (r *Registry) Profile(id ID) (Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Resolve maps a script label ("Modi", "**MrBeast**", "baburao") to a speaker.
func (r *Registry) Resolve(label string) (ID, bool) {
	id, ok := r.labels[normalizeLabel(label)]
	return id, ok
}

// Pair looks up a named pair ("trump_mrbeast"). A name that is not
// registered but joins two known ids with "_" is accepted as well.
func (r *Registry) Pair(name string) (Pair, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := r.pairs[key]; ok {
		return p, nil
	}
	if a, b, ok := strings.Cut(key, "_"); ok {
		ida, okA := r.Resolve(a)
		idb, okB := r.Resolve(b)
		if okA && okB && ida != idb {
			return Pair{ida, idb}, nil
		}
	}
	return Pair{}, fmt.Errorf("unknown speaker pair %q", name)
}

// IDs lists known speakers in sorted order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "*_[]() ")
	return strings.Join(strings.Fields(s), " ")
}

// ParseColor parses "#RRGGBB" or "#RRGGBBAA".
func ParseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(h) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
