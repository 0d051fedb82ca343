package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/normalize"
)

var (
	normalizeStrict   bool
	normalizeCodeOnly bool
	normalizeOffline  bool
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Normalize a raw LLM reply into a test artifact",
	Long: `Read a raw LLM reply from a file (or stdin) and print the normalized
artifact as JSON.

--strict fails on malformed input instead of falling back to the raw text.
--offline skips the secondary LLM repair pass.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var (
			raw []byte
			err error
		)
		if len(args) == 0 || args[0] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		n := normalize.New(normalize.WithLogger(logger))
		if !normalizeOffline {
			svc, err := buildServices(serviceOpts{chat: true})
			if err != nil {
				return err
			}
			n = svc.normalizer
		}
		return normalizeRun(ctx, n, string(raw))
	},
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeStrict, "strict", false, "Fail instead of falling back to the raw reply")
	normalizeCmd.Flags().BoolVar(&normalizeCodeOnly, "code", false, "Print only the test code")
	normalizeCmd.Flags().BoolVar(&normalizeOffline, "offline", false, "Use local stages only")
	rootCmd.AddCommand(normalizeCmd)
}

func normalizeRun(ctx context.Context, n *normalize.Normalizer, raw string) error {
	normalizeFn := n.Normalize
	if normalizeStrict {
		normalizeFn = n.NormalizeStrict
	}
	art, err := normalizeFn(ctx, raw)
	if err != nil {
		return err
	}
	if normalizeCodeOnly {
		fmt.Fprintln(ui.Out, art.TestCode)
		return nil
	}
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(art)
}
