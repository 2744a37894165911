package reporting

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// SummaryText is the synthesis of a run: the run summary when one exists,
// otherwise the per-agent summaries that were produced.
func SummaryText(run schemas.RunResult) string {
	if s := strings.TrimSpace(run.Summary); s != "" && s != schemas.NoSummary {
		return s
	}
	var parts []string
	for _, sr := range run.Sessions {
		if sr.HasSummary() {
			parts = append(parts, fmt.Sprintf("%s:\n%s", sr.AgentID, strings.TrimSpace(sr.Summary)))
		}
	}
	if len(parts) == 0 {
		return schemas.NoSummary
	}
	return strings.Join(parts, "\n\n")
}

// WriteSummaryFile writes the run synthesis to path as a small markdown file.
func WriteSummaryFile(path string, run schemas.RunResult) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("# %s\n\n%s\n", run.Goal, SummaryText(run))
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close summary file: %w", err)
	}
	return nil
}
