package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/store"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the controller store for consistency issues",
		Long: `Validate the controller store for consistency issues.

This command checks for:
  - Malformed automata that fail to rebuild
  - Patched controllers whose parent is missing
  - Self-references and cycles in controller lineage`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cs, err := openStore(settings, newLogger(cmd, settings))
			if err != nil {
				return err
			}
			defer cs.Close()

			issues, err := store.Validate(cmd.Context(), cs)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			if jsonOut {
				errs := make([]string, 0, len(issues))
				for _, i := range issues {
					errs = append(errs, i.String())
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"valid":       len(issues) == 0,
					"error_count": len(issues),
					"errors":      errs,
				})
			}

			if len(issues) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Controller store is valid")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✗ Found %d issue(s):\n", len(issues))
			for _, i := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", i.String())
			}
			return fmt.Errorf("controller store has %d issue(s)", len(issues))
		},
	}
}
