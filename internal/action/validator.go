// Package action decodes untyped planner output into the closed set of
// browser actions and defines how two actions are compared.
package action

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// DefaultScrapeScope is used when a scrape omits its scope.
const DefaultScrapeScope = "body"

// DefaultStopReason is used when a stop omits its reason.
const DefaultStopReason = "goal satisfied"

// kindAliases accepts the older planner vocabulary.
var kindAliases = map[string]schemas.ActionKind{
	"open_url": schemas.ActionNavigate,
	"goto":     schemas.ActionNavigate,
	"done":     schemas.ActionStop,
}

// targetFields are checked in order for the element target.
var targetFields = []string{"selector_or_description", "selector", "description", "target"}

// Validate turns one raw plan into an Action. It has no side effects, so the
// same input always yields the same Action or an equal *ValidationError.
func Validate(raw schemas.RawPlan) (schemas.Action, error) {
	rawKind, present := raw["type"]
	if !present || rawKind == nil {
		return schemas.Action{}, missingField("type", "every action needs a type")
	}
	kindStr, ok := rawKind.(string)
	if !ok {
		return schemas.Action{}, unknownKind(fmt.Sprint(rawKind))
	}
	kindStr = strings.ToLower(strings.TrimSpace(kindStr))
	if kindStr == "" {
		return schemas.Action{}, missingField("type", "every action needs a type")
	}

	kind, err := resolveKind(kindStr)
	if err != nil {
		return schemas.Action{}, err
	}

	a := schemas.Action{Kind: kind}
	switch kind {
	case schemas.ActionNavigate:
		u, err := requiredString(raw, "url")
		if err != nil {
			return schemas.Action{}, err
		}
		if err := checkURL(u); err != nil {
			return schemas.Action{}, err
		}
		a.URL = u

	case schemas.ActionClick:
		target, err := requiredString(raw, targetFields...)
		if err != nil {
			return schemas.Action{}, err
		}
		a.Target = target

	case schemas.ActionType:
		target, err := requiredString(raw, targetFields...)
		if err != nil {
			return schemas.Action{}, err
		}
		text, err := requiredString(raw, "text")
		if err != nil {
			return schemas.Action{}, err
		}
		a.Target = target
		a.Text = text
		a.Submit = boolField(raw, "submit")

	case schemas.ActionScrape:
		scope, err := optionalString(raw, "scope")
		if err != nil {
			return schemas.Action{}, err
		}
		if scope == "" {
			scope = DefaultScrapeScope
		}
		a.Scope = scope

	case schemas.ActionStop:
		reason, err := optionalString(raw, "reason")
		if err != nil {
			return schemas.Action{}, err
		}
		if reason == "" {
			reason = DefaultStopReason
		}
		a.Reason = reason
	}
	return a, nil
}

func resolveKind(k string) (schemas.ActionKind, error) {
	for _, known := range schemas.ActionKinds {
		if string(known) == k {
			return known, nil
		}
	}
	if alias, ok := kindAliases[k]; ok {
		return alias, nil
	}
	return "", unknownKind(k)
}

// requiredString returns the first non-empty string among the named fields.
func requiredString(raw schemas.RawPlan, fields ...string) (string, error) {
	for _, f := range fields {
		v, present := raw[f]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", missingField(f, fmt.Sprintf("expected a string, got %T", v))
		}
		if strings.TrimSpace(s) != "" {
			if f == "text" {
				return s, nil
			}
			return strings.TrimSpace(s), nil
		}
	}
	return "", missingField(fields[0], "required and must not be empty")
}

func optionalString(raw schemas.RawPlan, field string) (string, error) {
	v, present := raw[field]
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", missingField(field, fmt.Sprintf("expected a string, got %T", v))
	}
	return strings.TrimSpace(s), nil
}

func boolField(raw schemas.RawPlan, field string) bool {
	switch v := raw[field].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalidTarget("url", err.Error())
	}
	if u.Scheme == "" || u.Host == "" {
		return invalidTarget("url", fmt.Sprintf("%q needs a scheme and a host", raw))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return invalidTarget("url", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	return nil
}
