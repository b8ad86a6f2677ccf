package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type runRow struct {
	ID     string `json:"id" yaml:"id"`
	Frames int    `json:"frames" yaml:"frames"`
}

type runTable []runRow

func (runTable) Header() []string { return []string{"ID", "FRAMES"} }

func (t runTable) Rows() [][]string {
	var rows [][]string
	for _, r := range t {
		rows = append(rows, []string{r.ID, strings.Repeat("#", r.Frames)})
	}
	return rows
}

func TestOutput(t *testing.T) {
	rows := runTable{{"a1", 3}, {"b2", 1}}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(rows, OutputOptions{Format: FormatJSON, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		var got []runRow
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "a1" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(rows[0], OutputOptions{Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "id: a1") || !strings.Contains(buf.String(), "frames: 3") {
			t.Errorf("yaml=%q", buf.String())
		}
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(rows, OutputOptions{Format: FormatTable, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"ID", "FRAMES", "a1", "###", "b2"} {
			if !strings.Contains(out, want) {
				t.Errorf("table missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("table-fallback", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(rows[1], OutputOptions{Format: FormatTable, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "id: b2") {
			t.Errorf("fallback=%q", buf.String())
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.json")
		if err := Output(rows, OutputOptions{Format: FormatJSON, File: path}); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil || !strings.Contains(string(data), `"b2"`) {
			t.Errorf("file=%q err=%v", data, err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := Output(rows, OutputOptions{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatYAML, "json": FormatJSON, "table": FormatTable, "yaml": FormatYAML} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q)=%q, %v", in, got, err)
		}
	}
	if _, err := ParseOutputFormat("csv"); err == nil {
		t.Error("csv accepted")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{850 * time.Millisecond, "850ms"},
		{12500 * time.Millisecond, "12.5s"},
		{184 * time.Second, "3m4.0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v)=%q, want %q", tt.d, got, tt.want)
		}
	}
	for n, want := range map[int64]string{512: "512 B", 2048: "2.00 KB", 3 << 20: "3.00 MB", 5 << 30: "5.00 GB"} {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d)=%q, want %q", n, got, want)
		}
	}
	if got := FormatRate(60, 2*time.Second); got != "30.0/s" {
		t.Errorf("FormatRate=%q", got)
	}
	if got := FormatRate(1, 0); got != "-" {
		t.Errorf("FormatRate zero=%q", got)
	}
}

func TestLogWriter(t *testing.T) {
	w := NewLogWriter(2)
	w.Write([]byte("one\ntwo\n"))
	w.Write([]byte("\nthree"))
	lines := w.Lines()
	if len(lines) != 2 || lines[0] != "two" || lines[1] != "three" {
		t.Errorf("lines=%q", lines)
	}
}

func TestFrameRender(t *testing.T) {
	f := Frame{
		Styles: NewStyles(DefaultTheme),
		Title:  "video",
		Status: "end of stream",
		Sections: []Section{
			{Label: "Stream", Lines: []string{"frames 30", "overflows 0"}},
			{Label: "Log", Lines: []string{"old", "Input Overflow", strings.Repeat("x", 100)}},
		},
		Footer: "run a1",
	}
	out := f.Render(40, 2)
	for _, want := range []string{"video", "[end of stream]", "Stream", "frames 30", "Input Overflow", "…", "run a1"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "old") {
		t.Error("section not trimmed to last lines")
	}
	for i, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "run a1") {
			continue
		}
		if w := lipgloss.Width(line); w != 40 {
			t.Errorf("line %d width %d: %q", i, w, line)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 3); got != "hél" {
		t.Errorf("truncate=%q", got)
	}
	if got := truncate("abc", 0); got != "" {
		t.Errorf("truncate 0=%q", got)
	}
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnv, dir)
	p, err := DefaultPaths()
	if err != nil {
		t.Fatal(err)
	}
	if p.ConfigFile() != filepath.Join(dir, "config.yaml") || p.RunsDir() != filepath.Join(dir, "runs") {
		t.Errorf("paths=%s %s", p.ConfigFile(), p.RunsDir())
	}
	if err := p.Ensure(); err != nil {
		t.Fatal(err)
	}
}

func TestParseProfile(t *testing.T) {
	type profile struct {
		Width  int    `json:"width" yaml:"width"`
		Format string `json:"format" yaml:"format"`
	}
	var y profile
	if err := ParseProfile([]byte("width: 192\nformat: rgb888\n"), "p.yaml", &y); err != nil || y.Width != 192 || y.Format != "rgb888" {
		t.Errorf("yaml=%+v err=%v", y, err)
	}
	var j profile
	if err := ParseProfile([]byte(`{"width": 64}`), "p.json", &j); err != nil || j.Width != 64 {
		t.Errorf("json=%+v err=%v", j, err)
	}
	if err := ParseProfile([]byte("{"), "p.json", &j); err == nil {
		t.Error("bad json accepted")
	}

	path := filepath.Join(t.TempDir(), "profile.yml")
	os.WriteFile(path, []byte("width: 8\n"), 0o644)
	var f profile
	if err := LoadProfile(path, &f); err != nil || f.Width != 8 {
		t.Errorf("file=%+v err=%v", f, err)
	}
}
