package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/msgrun/pkg/diagram"
	"github.com/ormasoftchile/msgrun/pkg/ecosystem/tui"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
)

var (
	describeWidth   int
	describeDiagram string
)

var describeCmd = &cobra.Command{
	Use:   "describe [script.yaml]",
	Short: "Render a script's description, steps and data files",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	sc, err := schema.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	if describeDiagram != "" {
		out, err := diagram.Generate(sc, diagram.Format(describeDiagram))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderMarkdown(describeMarkdown(sc), describeWidth))
	return nil
}

// describeMarkdown renders sc as a markdown document.
func describeMarkdown(sc *schema.Script) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sc.Name)
	if sc.Description != "" {
		b.WriteString(strings.TrimSpace(sc.Description) + "\n\n")
	}

	b.WriteString("## Steps\n\n")
	if len(sc.Steps) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		b.WriteString("| # | kind | template | session | destination | iterations | pause after | prefix |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|\n")
		for i, st := range sc.Steps {
			if st.Kind == schema.StepPause {
				fmt.Fprintf(&b, "| %d | pause %ds | | | | | | |\n", i+1, st.Delay)
				continue
			}
			tpl := "`" + st.Template + "`"
			if st.Folder {
				tpl += " (folder)"
			}
			fmt.Fprintf(&b, "| %d | regular | %s | %s | %s | %d | %ds | %s |\n",
				i+1, tpl, st.Session, st.Destination, st.IterationCount(), st.PauseSecsAfter, st.VariablePrefix)
		}
		b.WriteString("\n")
	}

	if len(sc.GlobalVariables) > 0 {
		b.WriteString("## Global variables\n\n")
		for _, g := range sc.GlobalVariables {
			if g.ConstantValue != nil {
				fmt.Fprintf(&b, "- `%s` = `%s`\n", g.Name, *g.ConstantValue)
			} else {
				fmt.Fprintf(&b, "- `%s` (generated)\n", g.Name)
			}
		}
		b.WriteString("\n")
	}

	if len(sc.DataFiles) > 0 {
		b.WriteString("## Data files\n\n")
		for _, df := range sc.DataFiles {
			fmt.Fprintf(&b, "- `%s`: `%s` split on `%s` into %s\n",
				df.VariablePrefix, df.FileName, df.Sep(), strings.Join(df.FieldNames(), ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func init() {
	describeCmd.Flags().IntVar(&describeWidth, "width", 100, "Word-wrap width")
	describeCmd.Flags().StringVar(&describeDiagram, "diagram", "", "Print a step flow diagram instead: mermaid or ascii")
}
