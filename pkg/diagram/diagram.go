// Package diagram draws the step flow of a script.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed script.
func Generate(sc *schema.Script, format Format) (string, error) {
	if sc == nil {
		return "", fmt.Errorf("nil script")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(sc), nil
	case FormatASCII:
		return generateASCII(sc), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(sc *schema.Script) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	steps := diagramSteps(sc)
	if len(steps) == 0 {
		b.WriteString("    START([Start]) --> END([End])\n")
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + steps[0].id + "\n")
	for i, s := range steps {
		b.WriteString("    " + nodeDefinition(s) + "\n")
		next := "END"
		if i < len(steps)-1 {
			next = steps[i+1].id
		}
		if s.pauseAfter > 0 {
			wait := s.id + "_wait"
			b.WriteString(fmt.Sprintf("    %s --> %s([\"⏸ %ds\"])\n", s.id, wait, s.pauseAfter))
			b.WriteString(fmt.Sprintf("    %s --> %s\n", wait, next))
		} else {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", s.id, next))
		}
	}
	b.WriteString("    END([End])\n")

	for _, s := range steps {
		if s.pause {
			b.WriteString(fmt.Sprintf("    style %s fill:#444,stroke:#999,color:#fff\n", s.id))
		}
	}
	return b.String()
}

// --- ASCII ---

func generateASCII(sc *schema.Script) string {
	var b strings.Builder

	name := sc.Name
	if name == "" {
		name = "Script"
	}

	steps := diagramSteps(sc)
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	// Uniform box width so every box and connector aligns.
	const indent = 8
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2 // +1 for the left border
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	headerText := centerPad(name, boxWidth)
	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + headerText + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, s := range steps {
		writeASCIIStep(&b, s, indent, boxWidth)
		if s.pauseAfter > 0 {
			b.WriteString(connPad + "│ ⏸ " + fmt.Sprintf("%ds", s.pauseAfter) + "\n")
		}
		if i < len(steps)-1 {
			b.WriteString(connPad + "│\n")
		}
	}
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed
// across all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := 22
	if nameWidth := runewidth.StringWidth(name) + 4; nameWidth > w {
		w = nameWidth
	}
	for _, s := range steps {
		for _, l := range s.lines() {
			if lw := runewidth.StringWidth(l); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, s diagramStep, indent, boxWidth int) {
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	for _, l := range s.lines() {
		b.WriteString(pad + "│" + l + strings.Repeat(" ", boxWidth-runewidth.StringWidth(l)) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

// --- step model ---

type diagramStep struct {
	id         string
	pause      bool
	title      string // template, or the pause duration
	target     string // session:destination
	repeat     int
	prefix     string
	pauseAfter int
}

func (s diagramStep) icon() string {
	if s.pause {
		return "⏸"
	}
	return "✉"
}

// lines renders the box content, one entry per row.
func (s diagramStep) lines() []string {
	out := []string{fmt.Sprintf(" %s %s ", s.icon(), s.title)}
	if s.pause {
		return out
	}
	detail := " → " + s.target
	if s.repeat > 1 {
		detail += fmt.Sprintf(" ×%d", s.repeat)
	}
	out = append(out, detail+" ")
	if s.prefix != "" {
		out = append(out, " ⇐ "+s.prefix+" (data file) ")
	}
	return out
}

func diagramSteps(sc *schema.Script) []diagramStep {
	out := make([]diagramStep, 0, len(sc.Steps))
	for i, st := range sc.Steps {
		ds := diagramStep{id: fmt.Sprintf("S%d", i+1)}
		if st.Kind == schema.StepPause {
			ds.pause = true
			ds.title = fmt.Sprintf("pause %ds", st.Delay)
		} else {
			ds.title = st.Template
			if st.Folder {
				ds.title += "/*"
			}
			ds.target = st.Session + ":" + st.Destination
			ds.repeat = st.IterationCount()
			ds.prefix = st.VariablePrefix
			ds.pauseAfter = st.PauseSecsAfter
		}
		out = append(out, ds)
	}
	return out
}

func nodeDefinition(s diagramStep) string {
	if s.pause {
		return fmt.Sprintf(`%s{{"%s %s"}}`, s.id, s.icon(), escMermaid(s.title))
	}
	label := fmt.Sprintf("%s %s<br/>→ %s", s.icon(), escMermaid(s.title), escMermaid(s.target))
	if s.repeat > 1 {
		label += fmt.Sprintf(" ×%d", s.repeat)
	}
	if s.prefix != "" {
		label += "<br/>⇐ " + escMermaid(s.prefix)
	}
	return fmt.Sprintf(`%s["%s"]`, s.id, label)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}
