package cli

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestFrameRender(t *testing.T) {
	f := Frame{
		Styles: NewStyles(DefaultTheme),
		Title:  "wakeword",
		Status: "listening",
		Sections: []Section{
			{Label: "Detection", Lines: []string{"threshold 0.98", strings.Repeat("x", 200)}},
			{Label: "Capture", Lines: []string{"device default"}},
		},
		Help: "Ctrl-C to stop",
	}
	out := f.Render(40)
	lines := strings.Split(out, "\n")
	// top, title, 2 labels, 3 content lines, bottom, help
	if len(lines) != 9 {
		t.Fatalf("lines = %d, want 9:\n%s", len(lines), out)
	}
	for i, l := range lines[:len(lines)-1] {
		if w := lipgloss.Width(l); w != 40 {
			t.Errorf("line %d width = %d, want 40: %q", i, w, l)
		}
	}
	if !strings.Contains(out, "…") {
		t.Error("long line was not truncated")
	}
	if !strings.Contains(out, "Ctrl-C to stop") {
		t.Error("help missing")
	}
}

func TestTableRender(t *testing.T) {
	tbl := Table{
		Styles:  NewStyles(DefaultTheme),
		Headers: []string{"INDEX", "NAME", "RATE"},
		Rows: [][]string{
			{"0", "Built-in Microphone", "48 kHz"},
			{"12", "USB", "16 kHz"},
		},
	}
	lines := strings.Split(tbl.Render(), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d", len(lines))
	}
	// Columns line up: NAME starts at the same offset in every row.
	col := strings.Index(lines[1], "Built-in")
	if col < 0 || strings.Index(lines[2], "USB") != col {
		t.Errorf("misaligned:\n%s", strings.Join(lines, "\n"))
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"hello", 0, ""},
		{"你好世界", 4, "你好"},
	}
	for _, tt := range tests {
		if got := truncateString(tt.in, tt.width); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
