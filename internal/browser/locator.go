package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/chromedp"
)

// Locator is a resolved element query.
type Locator struct {
	Query string
	XPath bool
}

// By returns the chromedp query option for the locator. XPath expressions go
// through DOM.performSearch, which accepts them directly.
func (l Locator) By() chromedp.QueryOption {
	if l.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

var (
	hasTextPattern = regexp.MustCompile(`^([a-zA-Z0-9_*\-]+)?\s*:\s*has-text\((['"])\s*(.*?)\s*['"]\)\s*$`)
	cssPunctuation = regexp.MustCompile(`[.#\[:]`)
)

// ResolveLocator maps a planner supplied selector or description to a query.
//
//   - "xpath=..." and expressions starting with "//" or ".//" are XPath.
//   - `tag:has-text("x")` matches elements of tag whose text contains x.
//   - plain text with no CSS punctuation matches clickable elements
//     (buttons, links, role=button, submit inputs) containing the text.
//   - anything else is treated as CSS.
func ResolveLocator(selector string) (Locator, error) {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return Locator{}, fmt.Errorf("empty selector")
	}

	if rest, ok := strings.CutPrefix(sel, "xpath="); ok {
		return Locator{Query: strings.TrimSpace(rest), XPath: true}, nil
	}
	if strings.HasPrefix(sel, "//") || strings.HasPrefix(sel, ".//") {
		return Locator{Query: sel, XPath: true}, nil
	}

	if m := hasTextPattern.FindStringSubmatch(sel); m != nil {
		tag := m[1]
		if tag == "" {
			tag = "*"
		}
		return Locator{
			Query: fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, xpathLiteral(m[3])),
			XPath: true,
		}, nil
	}

	if !cssPunctuation.MatchString(sel) {
		lit := xpathLiteral(sel)
		q := strings.Join([]string{
			fmt.Sprintf("//button[contains(normalize-space(.), %s)]", lit),
			fmt.Sprintf("//a[contains(normalize-space(.), %s)]", lit),
			fmt.Sprintf("//*[@role='button' and contains(normalize-space(.), %s)]", lit),
			fmt.Sprintf("//input[(@type='button' or @type='submit') and contains(@value, %s)]", lit),
		}, " | ")
		return Locator{Query: q, XPath: true}, nil
	}

	return Locator{Query: sel}, nil
}

// xpathLiteral quotes s as an XPath string literal. Strings containing both
// quote characters are built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(`,"'",`)
		}
		b.WriteString("'" + part + "'")
	}
	b.WriteString(")")
	return b.String()
}
