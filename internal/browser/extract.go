package browser

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// Extraction is the readable content of a page fragment.
type Extraction struct {
	Lines []string
	Links []schemas.Link
}

// Text joins the lines and truncates the result to maxChars runes, marking a
// cut with an ellipsis. maxChars <= 0 disables truncation.
func (e Extraction) Text(maxChars int) string {
	return truncateRunes(strings.Join(e.Lines, "\n"), maxChars)
}

// skipped elements never contribute text or links.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Select:   true,
}

// textBlocks are emitted as one line holding all of their text.
var textBlocks = map[atom.Atom]bool{
	atom.P:          true,
	atom.Li:         true,
	atom.Td:         true,
	atom.Th:         true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.Figcaption: true,
	atom.Label:      true,
	atom.Summary:    true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
}

// Extract parses an HTML fragment into scrape lines and link candidates.
// Headings become "== h1 ==", "# h2" and "## h3"; links "• text — href";
// buttons "[button] label". Relative hrefs are resolved against base and only
// http(s) links are kept, at most maxLinks of them (0 means no limit).
func Extract(r io.Reader, base *url.URL, maxLinks int) (Extraction, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to parse page html: %w", err)
	}
	x := &extractor{
		base:      base,
		maxLinks:  maxLinks,
		seenLines: make(map[string]bool),
		seenLinks: make(map[string]bool),
	}
	x.walk(doc)
	return Extraction{Lines: x.lines, Links: x.links}, nil
}

type extractor struct {
	base      *url.URL
	maxLinks  int
	lines     []string
	links     []schemas.Link
	seenLines map[string]bool
	seenLinks map[string]bool
}

func (x *extractor) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		x.addLine(collapseSpace(n.Data))
		return
	case html.ElementNode:
		if skipped[n.DataAtom] || hidden(n) {
			return
		}
		switch {
		case n.DataAtom == atom.H1:
			x.addHeading("== %s ==", n)
			return
		case n.DataAtom == atom.H2:
			x.addHeading("# %s", n)
			return
		case n.DataAtom == atom.H3:
			x.addHeading("## %s", n)
			return
		case n.DataAtom == atom.A:
			x.addAnchor(n)
			return
		case n.DataAtom == atom.Button || attr(n, "role") == "button":
			if label := textContent(n); label != "" {
				x.addLine("[button] " + label)
			}
			return
		case textBlocks[n.DataAtom]:
			x.addLine(textContent(n))
			x.collectLinks(n)
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		x.walk(c)
	}
}

func (x *extractor) addHeading(format string, n *html.Node) {
	if text := textContent(n); text != "" {
		x.addLine(fmt.Sprintf(format, text))
	}
	x.collectLinks(n)
}

func (x *extractor) addAnchor(n *html.Node) {
	text := textContent(n)
	href := x.resolve(attr(n, "href"))
	switch {
	case text == "" && href == "":
		return
	case href == "":
		x.addLine("• " + text)
	default:
		x.addLine(fmt.Sprintf("• %s — %s", text, href))
		x.addLink(text, href)
	}
}

// collectLinks records the links inside a block that was emitted as a single
// text line.
func (x *extractor) collectLinks(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || skipped[c.DataAtom] || hidden(c) {
			continue
		}
		if c.DataAtom == atom.A {
			if href := x.resolve(attr(c, "href")); href != "" {
				x.addLink(textContent(c), href)
			}
			continue
		}
		x.collectLinks(c)
	}
}

func (x *extractor) addLine(line string) {
	if len([]rune(line)) < 2 || x.seenLines[line] {
		return
	}
	x.seenLines[line] = true
	x.lines = append(x.lines, line)
}

func (x *extractor) addLink(text, href string) {
	if x.seenLinks[href] || (x.maxLinks > 0 && len(x.links) >= x.maxLinks) {
		return
	}
	x.seenLinks[href] = true
	x.links = append(x.links, schemas.Link{Text: truncateRunes(text, 120), Href: href})
}

// resolve returns the absolute http(s) form of href, or "" when it is not a
// navigable web link.
func (x *extractor) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if x.base != nil {
		u = x.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if skipped[n.DataAtom] || hidden(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return collapseSpace(b.String())
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		case "type":
			if n.DataAtom == atom.Input && a.Val == "hidden" {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
