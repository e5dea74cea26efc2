package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/msgrun/pkg/ctxlog"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/validate"
	"github.com/ormasoftchile/msgrun/pkg/workspace"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "msgrun",
	Short:        "Message script execution engine",
	Long:         "msgrun validates and executes message scripts: templated messages posted to broker destinations.",
	SilenceUsage: true,
}

// loadWorkspace loads configuration for the workspace holding start.
func loadWorkspace(start string) (*workspace.Config, error) {
	cfg, err := workspace.Load(configFile, start)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	return cfg, nil
}

// newLogger builds the stderr logger. Flags win over the config file.
func newLogger(cfg *workspace.Config, w io.Writer) *slog.Logger {
	level, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return ctxlog.New(level, format, w)
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [script.yaml]",
	Short: "Validate a script against the schema and the workspace catalogs",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cfg, err := loadWorkspace(filePath)
	if err != nil {
		return err
	}
	cat, loadErrs := cfg.ValidationCatalogs()
	for _, e := range loadErrs {
		fmt.Fprintf(errOut, "  ⚠ [catalog] %v\n", e)
	}

	sc, errs := validate.ValidateFile(filePath, cat)
	printValidationWarnings(errOut, errs)
	if validate.HasErrors(errs) {
		n := countValidationErrors(errs)
		fmt.Fprintf(errOut, "Validation failed: %d error(s)\n\n", n)
		i := 0
		for _, e := range errs {
			if e.Severity == "warning" {
				continue
			}
			i++
			fmt.Fprintf(errOut, "  %d. [%s] %s\n", i, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(errOut, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", n)
	}
	fmt.Fprintf(out, "✓ %s is valid (%d steps)\n", sc.Name, len(sc.Steps))
	return nil
}

func countValidationErrors(errs []*validate.ValidationError) int {
	n := 0
	for _, e := range errs {
		if e.Severity != "warning" {
			n++
		}
	}
	return n
}

func printValidationWarnings(w io.Writer, errs []*validate.ValidationError) {
	for _, e := range errs {
		if e.Severity != "warning" {
			continue
		}
		fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "    at: %s\n", e.Path)
		}
	}
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:       "schema [" + strings.Join(schema.Documents, "|") + "]",
	Short:     "Print the JSON Schema of a document type",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: schema.Documents,
	RunE:      runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	doc := "script"
	if len(args) == 1 {
		doc = args[0]
	}
	data, err := schema.GenerateJSONSchema(doc)
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		formatted = data
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return nil
}

// --- templates ---

var templatesCmd = &cobra.Command{
	Use:   "templates [dir]",
	Short: "List the templates of the workspace catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTemplates,
}

func runTemplates(cmd *cobra.Command, args []string) error {
	start := "."
	if len(args) == 1 {
		start = args[0]
	}
	cfg, err := loadWorkspace(start)
	if err != nil {
		return err
	}
	names, err := cfg.Templates().Names()
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%d templates)\n", cfg.TemplatesDir, len(names))
	for _, n := range names {
		fmt.Fprintf(out, "  %s\n", n)
	}
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "msgrun %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to msgrun.yaml (default: discovered from the script directory upward)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}
