package browser

import (
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xkilldash9x/scout-cli/internal/action"
)

const defaultVisitedSize = 256

// visitedSet is the bounded set of pages one surface has opened. Search
// engine hosts are exempt so the agent can always return to results.
type visitedSet struct {
	cache *lru.Cache[string, struct{}]
}

func newVisitedSet(size int) (*visitedSet, error) {
	if size <= 0 {
		size = defaultVisitedSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create visited cache: %w", err)
	}
	return &visitedSet{cache: cache}, nil
}

// Mark records raw as visited unless it is exempt.
func (v *visitedSet) Mark(raw string) {
	if raw == "" || exempt(raw) {
		return
	}
	v.cache.Add(action.NormalizeURL(raw), struct{}{})
}

// Seen reports whether raw was visited before.
func (v *visitedSet) Seen(raw string) bool {
	if raw == "" || exempt(raw) {
		return false
	}
	return v.cache.Contains(action.NormalizeURL(raw))
}

// Annotate flags every link already visited.
func (v *visitedSet) Annotate(ext *Extraction) {
	for i := range ext.Links {
		ext.Links[i].Visited = v.Seen(ext.Links[i].Href)
	}
}

func exempt(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return isDuckDuckGo(u.Hostname())
}

func isDuckDuckGo(host string) bool {
	host = strings.ToLower(host)
	return host == "duckduckgo.com" || strings.HasSuffix(host, ".duckduckgo.com")
}
