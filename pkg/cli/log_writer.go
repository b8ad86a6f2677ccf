package cli

import (
	"strings"

	"github.com/vsi-examples/vsistream/pkg/buffer"
)

// LogWriter is an io.Writer that keeps the last lines written to it, for
// showing recent log output in a report.
type LogWriter struct {
	lines *buffer.Window[string]
}

// NewLogWriter keeps at most maxLines lines.
func NewLogWriter(maxLines int) *LogWriter {
	return &LogWriter{lines: buffer.NewWindow[string](maxLines)}
}

// Write splits p into lines. Empty lines are dropped.
func (w *LogWriter) Write(p []byte) (int, error) {
	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.lines.Add(line)
		}
	}
	return len(p), nil
}

// Lines returns the kept lines, oldest first.
func (w *LogWriter) Lines() []string { return w.lines.Items() }
