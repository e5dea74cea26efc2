package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/msgrun/pkg/kernel/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain + signature)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	res, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}

	if !res.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", res.BrokenAt)
		if res.Error != "" {
			fmt.Fprintf(out, "  %s\n", res.Error)
		}
		return fmt.Errorf("chain verification failed")
	}

	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", res.EventCount)

	switch {
	case !res.Signed:
	case res.SignatureOK:
		fmt.Fprintln(out, "✓ Signature valid")
	case res.SignatureNoKey:
		fmt.Fprintf(out, "⚠ Signature present but no %s set to verify\n", trace.SigningKeyEnv)
	default:
		fmt.Fprintln(out, "✗ Signature invalid")
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
