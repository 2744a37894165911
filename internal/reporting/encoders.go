package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

func encodeJSON(w io.Writer, run schemas.RunResult) error {
	enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func encodeYAML(w io.Writer, run schemas.RunResult) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(run); err != nil {
		return err
	}
	return enc.Close()
}

func encodeMarkdown(w io.Writer, run schemas.RunResult) error {
	_, err := io.WriteString(w, Markdown(run))
	return err
}

// Markdown renders a human readable report: the run summary followed by one
// section per agent with its status, summary and round table.
func Markdown(run schemas.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", run.Goal)
	fmt.Fprintf(&b, "- Run: `%s`\n", run.RunID)
	fmt.Fprintf(&b, "- Step budget: %d\n", run.StepBudget)
	if !run.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	counts := run.StatusCounts()
	fmt.Fprintf(&b, "- Sessions: %d completed, %d exhausted, %d aborted\n\n",
		counts[schemas.StatusCompleted], counts[schemas.StatusExhaustedSteps], counts[schemas.StatusAborted])

	if run.Summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(strings.TrimSpace(run.Summary))
		b.WriteString("\n\n")
	}

	for _, s := range run.Sessions {
		fmt.Fprintf(&b, "## %s (%s)\n\n", s.AgentID, s.Status)
		if s.AbortReason != "" {
			fmt.Fprintf(&b, "Aborted: %s\n\n", s.AbortReason)
		}
		if s.HasSummary() {
			b.WriteString(strings.TrimSpace(s.Summary))
			b.WriteString("\n\n")
		}
		if len(s.History) == 0 {
			b.WriteString("_No rounds recorded._\n\n")
			continue
		}
		b.WriteString("| Round | Action | Result |\n|---|---|---|\n")
		for _, e := range s.History {
			fmt.Fprintf(&b, "| %d | %s | %s |\n", e.Round, cell(e.Action.String()), cell(result(e)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func result(e schemas.HistoryEntry) string {
	obs := e.Observation
	switch {
	case e.Suppressed:
		return "suppressed: " + obs.Error
	case obs.Kind == schemas.ObservationInvalidPlan:
		return "invalid: " + obs.Error
	case obs.Kind == schemas.ObservationStopped:
		return "stopped"
	case !obs.Success:
		return "failed: " + obs.Error
	case obs.Title != "":
		return "ok: " + obs.Title
	case obs.URL != "":
		return "ok: " + obs.URL
	default:
		return "ok"
	}
}

// cell makes s safe for a single markdown table cell.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	if r := []rune(s); len(r) > 120 {
		s = string(r[:120]) + "…"
	}
	return s
}
