package action

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// NormalizeURL lower-cases scheme and host, drops the fragment, gives an empty
// path the root and strips a trailing slash from any other path. The query is kept.
// Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	return u.String()
}

// Normalize returns the canonical form of a validated action: the URL is
// normalized, selector whitespace is collapsed and fields that do not belong
// to the kind are cleared. Case is preserved.
func Normalize(a schemas.Action) schemas.Action {
	out := schemas.Action{Kind: a.Kind}
	switch a.Kind {
	case schemas.ActionNavigate:
		out.URL = NormalizeURL(a.URL)
	case schemas.ActionClick:
		out.Target = collapse(a.Target)
	case schemas.ActionType:
		out.Target = collapse(a.Target)
		out.Text = a.Text
		out.Submit = a.Submit
	case schemas.ActionScrape:
		out.Scope = collapse(a.Scope)
	case schemas.ActionStop:
		out.Reason = strings.TrimSpace(a.Reason)
	}
	return out
}

// Key is the identity used by the suppression policy. Two actions are
// identical exactly when their keys are equal: same kind, same URL after
// normalization and case folding, same selector and scope ignoring case, and
// the same typed text byte for byte.
func Key(a schemas.Action) string {
	parts := []string{string(a.Kind)}
	switch a.Kind {
	case schemas.ActionNavigate:
		parts = append(parts, strings.ToLower(NormalizeURL(a.URL)))
	case schemas.ActionClick:
		parts = append(parts, foldSelector(a.Target))
	case schemas.ActionType:
		parts = append(parts, foldSelector(a.Target), a.Text, strconv.FormatBool(a.Submit))
	case schemas.ActionScrape:
		parts = append(parts, foldSelector(a.Scope))
	}
	return strings.Join(parts, "\x1f")
}

// Signature identifies an action for failure counting. Scrapes of different
// scopes count separately. Typed text is
// truncated so long inputs that differ only in their tail share a signature.
func Signature(a schemas.Action) string {
	text := a.Text
	if r := []rune(text); len(r) > 64 {
		text = string(r[:64])
	}
	return strings.Join([]string{
		string(a.Kind),
		foldSelector(a.Target),
		foldSelector(a.Scope),
		strings.ToLower(NormalizeURL(a.URL)),
		text,
	}, "|")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func foldSelector(s string) string {
	return strings.ToLower(collapse(s))
}
