package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

const (
	sessionSummaryEntries = 12
	runSummaryEntries     = 8
)

const planSystemPrompt = `You are a web automation planner. You drive a real browser one action at a time toward the user's goal.
After every action you receive the resulting page text or error, the visible links and any suppression notice.
Gather evidence from several searches and results before finishing.

Respond with ONLY a JSON object describing exactly one action:
  {"type": "navigate", "url": "https://..."}
  {"type": "click", "selector_or_description": "css selector, xpath=..., or visible link/button text"}
  {"type": "type", "selector_or_description": "input[name='q']", "text": "query", "submit": true}
  {"type": "scrape", "scope": "main | article | body | css selector"}
  {"type": "stop", "reason": "why the goal is satisfied"}

Rules:
- Use DuckDuckGo (https://duckduckgo.com) for searching. Type into input[name='q'] and submit.
- Click result titles, not containers. If a selector fails, try a different one next turn.
- Never propose two scrape actions in a row; act on what you already scraped.
- Do not repeat an action that failed twice. Repeated actions are suppressed and cost a step.
- Stay on topic. Avoid logins, sign-ups and ads.
- Stop as soon as the goal is satisfied or no useful steps remain.`

const summarySystemPrompt = `You are a concise research analyst. Write an on-topic roundup of the findings relevant to the user's goal.
- 5 to 8 crisp bullets covering the key findings, each with its source.
- Include 2 to 5 direct links as "Label - URL".
- If evidence is sparse, name the themes you can infer and suggest 2 or 3 follow-up queries.
- Do not describe the browsing process, retries or errors.
Respond in plain text.`

// RenderEntry formats one history entry the way the planner sees it.
func RenderEntry(e schemas.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[round %d] %s", e.Round, e.Action)
	obs := e.Observation
	switch {
	case e.Suppressed:
		fmt.Fprintf(&b, " -> SUPPRESSED: %s", obs.Error)
	case obs.Kind == schemas.ObservationInvalidPlan:
		fmt.Fprintf(&b, " -> INVALID: %s", obs.Error)
	case obs.Kind == schemas.ObservationStopped:
		b.WriteString(" -> STOPPED")
	case !obs.Success:
		fmt.Fprintf(&b, " -> FAILED: %s", obs.Error)
	default:
		b.WriteString(" -> ok")
	}
	if obs.URL != "" {
		fmt.Fprintf(&b, "\nurl: %s", obs.URL)
	}
	if obs.Title != "" {
		fmt.Fprintf(&b, "\ntitle: %s", obs.Title)
	}
	if obs.Text != "" {
		b.WriteString("\n")
		b.WriteString(obs.Text)
	}
	if len(obs.Links) > 0 {
		b.WriteString("\nlinks:")
		for _, l := range obs.Links {
			mark := ""
			if l.Visited {
				mark = " (visited)"
			}
			fmt.Fprintf(&b, "\n• %s — %s%s", l.Text, l.Href, mark)
		}
	}
	return b.String()
}

func renderEntries(entries []schemas.HistoryEntry) string {
	if len(entries) == 0 {
		return "(no observations yet)"
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = RenderEntry(e)
	}
	return strings.Join(parts, "\n---\n")
}

func buildPlanPrompt(pc schemas.PlanContext) string {
	remaining := pc.StepBudget - pc.Round
	return fmt.Sprintf("Goal: %s\nAgent: %s\nRound: %d of %d (%d remaining)\n\nRecent history:\n%s\n\nPropose the next action as a single JSON object.",
		pc.Goal, pc.AgentID, pc.Round+1, pc.StepBudget, remaining, renderEntries(pc.RecentHistory))
}

func buildSummaryPrompt(sc schemas.SummaryContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User goal: %s\n\n", sc.Goal)
	if len(sc.Sessions) == 0 {
		b.WriteString("Observations collected:\n")
		b.WriteString(renderEntries(tail(sc.History, sessionSummaryEntries)))
		return b.String()
	}
	for _, s := range sc.Sessions {
		fmt.Fprintf(&b, "== %s (%s) ==\n", s.AgentID, s.Status)
		if s.HasSummary() {
			fmt.Fprintf(&b, "Agent summary:\n%s\n", s.Summary)
		}
		b.WriteString("Observations:\n")
		b.WriteString(renderEntries(tail(s.History, runSummaryEntries)))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func tail(entries []schemas.HistoryEntry, n int) []schemas.HistoryEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
