package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// Reporter defines the interface for writing run results to an output.
type Reporter interface {
	// Write renders a complete run.
	Write(run schemas.RunResult) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output; "~" is expanded.
func New(format, outputPath string) (Reporter, error) {
	encode, ok := encoders[format]
	if !ok {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := createFile(outputPath)
		if err != nil {
			return nil, err
		}
		writer = f
	}
	return &streamReporter{w: writer, encode: encode}, nil
}

// encoders maps a format name to the function rendering a run into w.
var encoders = map[string]func(w io.Writer, run schemas.RunResult) error{
	"json":     encodeJSON,
	"yaml":     encodeYAML,
	"markdown": encodeMarkdown,
}

// Formats lists the supported report formats.
func Formats() []string {
	return []string{"json", "yaml", "markdown"}
}

type streamReporter struct {
	w      io.WriteCloser
	encode func(io.Writer, schemas.RunResult) error
}

func (r *streamReporter) Write(run schemas.RunResult) error {
	if err := r.encode(r.w, run); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *streamReporter) Close() error {
	return r.w.Close()
}

// createFile expands path, creates its parent directory and opens it for
// writing.
func createFile(path string) (*os.File, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path %s: %w", path, err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", expanded, err)
	}
	return f, nil
}
