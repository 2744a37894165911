// Package relevance trims scraped content down to what overlaps the session
// goal before it is shown to the planner again.
package relevance

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// Mode selects how aggressively content is filtered.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeLoose  Mode = "loose"
	ModeStrict Mode = "strict"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeLoose, ModeStrict:
		return m, nil
	case "":
		return ModeLoose, nil
	default:
		return "", fmt.Errorf("unknown relevance mode %q (want off, loose or strict)", s)
	}
}

// Options bounds the filtered output.
type Options struct {
	MaxLines      int
	MaxLinks      int
	FallbackLines int
	StrictMinHits int
}

// DefaultOptions returns the stock bounds.
func DefaultOptions() Options {
	return Options{MaxLines: 80, MaxLinks: 10, FallbackLines: 10, StrictMinHits: 2}
}

// Filter scores candidates against a fixed goal. It holds no mutable state
// and is safe to share.
type Filter struct {
	mode     Mode
	keywords []string
	opts     Options
}

// New builds a filter with default options.
func New(goal string, mode Mode) *Filter {
	return NewWithOptions(goal, mode, DefaultOptions())
}

// NewWithOptions builds a filter with explicit bounds.
func NewWithOptions(goal string, mode Mode, opts Options) *Filter {
	return &Filter{mode: mode, keywords: ExtractKeywords(goal), opts: opts}
}

// Apply is a one-shot helper for New(goal, mode).Apply(obs).
func Apply(obs schemas.Observation, goal string, mode Mode) schemas.Observation {
	return New(goal, mode).Apply(obs)
}

// Keywords returns the goal keywords in use.
func (f *Filter) Keywords() []string { return f.keywords }

// Mode returns the filtering mode.
func (f *Filter) Mode() Mode { return f.mode }

// Score returns the number of goal keywords present in text and that count
// normalized by the keyword total.
func (f *Filter) Score(text string) (int, float64) {
	if len(f.keywords) == 0 {
		return 0, 0
	}
	set := tokens(text)
	hits := 0
	for _, kw := range f.keywords {
		if _, ok := set[kw]; ok {
			hits++
		}
	}
	return hits, float64(hits) / float64(len(f.keywords))
}

// needed is the minimum number of keyword hits a candidate must reach.
func (f *Filter) needed() int {
	if f.mode == ModeStrict {
		return min(f.opts.StrictMinHits, len(f.keywords))
	}
	return 1
}

// Apply returns a filtered copy of obs. The input is never modified.
func (f *Filter) Apply(obs schemas.Observation) schemas.Observation {
	if f.mode == ModeOff || len(f.keywords) == 0 {
		return obs
	}
	out := obs
	out.Text = f.filterText(obs.Text)
	out.Links = f.filterLinks(obs.Links)
	return out
}

func (f *Filter) filterText(text string) string {
	if text == "" {
		return ""
	}
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}

	need := f.needed()
	var kept []string
	for _, ln := range lines {
		if len(kept) >= f.opts.MaxLines {
			break
		}
		if isHeading(ln) {
			kept = append(kept, ln)
			continue
		}
		if hits, _ := f.Score(ln); hits >= need {
			kept = append(kept, ln)
		}
	}
	if len(kept) == 0 {
		kept = lines[:min(f.opts.FallbackLines, len(lines))]
	}
	return strings.Join(kept, "\n")
}

func (f *Filter) filterLinks(links []schemas.Link) []schemas.Link {
	if len(links) == 0 {
		return nil
	}
	need := f.needed()
	kept := make([]schemas.Link, 0, f.opts.MaxLinks)
	for _, l := range links {
		if len(kept) >= f.opts.MaxLinks {
			break
		}
		if hits, _ := f.Score(l.Text + " " + l.Href); hits >= need {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, links[:min(f.opts.MaxLinks, len(links))]...)
	}
	return kept
}

func isHeading(ln string) bool {
	return strings.HasPrefix(ln, "== ") || strings.HasPrefix(ln, "# ") || strings.HasPrefix(ln, "## ")
}
