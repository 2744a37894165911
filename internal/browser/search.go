package browser

import (
	"net/url"
	"strings"
)

// SearchHome is the page opened before the first action when nothing has been
// loaded yet.
const SearchHome = "https://duckduckgo.com/"

// RewriteSearchURL redirects Google URLs to DuckDuckGo, keeping the query.
// Other URLs are returned unchanged.
func RewriteSearchURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isGoogle(u.Hostname()) {
		return raw
	}
	if q := strings.TrimSpace(u.Query().Get("q")); q != "" {
		return SearchHome + "?q=" + url.QueryEscape(q)
	}
	return SearchHome
}

func isGoogle(host string) bool {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	return host == "google.com" || strings.HasPrefix(host, "google.") ||
		strings.HasSuffix(host, ".google.com")
}
