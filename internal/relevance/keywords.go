package relevance

import (
	"regexp"
	"strings"
)

// MaxKeywords caps the number of goal keywords.
const MaxKeywords = 30

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_+\-]{3,}`)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an and or but for to of on in at by with as is are was were be been
		from that this it its you your we our they their about over into out more most can will may might
		should would could if than then so such up down`) {
		stopwords[w] = struct{}{}
	}
}

// ExtractKeywords returns the distinct lower-cased content words of a goal in
// first-seen order.
func ExtractKeywords(goal string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(goal), -1) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

// tokens returns the token set of a candidate. Compound tokens such as
// "ai-news" also contribute their parts.
func tokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		set[tok] = struct{}{}
		for _, part := range strings.FieldsFunc(tok, isJoiner) {
			if len(part) >= 3 {
				set[part] = struct{}{}
			}
		}
	}
	return set
}

func isJoiner(r rune) bool { return r == '-' || r == '_' || r == '+' }
