package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/store"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			kind, _ := cmd.Flags().GetString("kind")
			switch kind {
			case "", store.KindNominal, store.KindPatched, store.KindLocal:
			default:
				return fmt.Errorf("invalid kind: %s (must be nominal, patched, or local)", kind)
			}

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cs, err := openStore(settings, newLogger(cmd, settings))
			if err != nil {
				return err
			}
			defer cs.Close()

			all, err := cs.ListControllers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list controllers: %w", err)
			}
			var controllers []store.Controller
			for _, c := range all {
				if kind == "" || c.Kind == kind {
					controllers = append(controllers, c)
				}
			}

			if jsonOut {
				items := make([]map[string]interface{}, 0, len(controllers))
				for _, c := range controllers {
					items = append(items, map[string]interface{}{
						"id":         c.ID,
						"name":       c.Name,
						"kind":       c.Kind,
						"parent_id":  c.ParentID,
						"run_id":     c.RunID,
						"created_at": c.CreatedAt,
						"nodes":      nodeCount(c),
					})
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"controllers": items,
					"count":       len(items),
				})
			}

			if len(controllers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored controllers.")
				return nil
			}
			for _, c := range controllers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-20s %4d nodes  %s\n",
					c.ID, c.Kind, c.Name, nodeCount(c), c.CreatedAt.Format("2006-01-02 15:04"))
				if c.ParentID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "    patched from %s (run %s)\n", c.ParentID, c.RunID)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "", "Only list controllers of this kind")
	return cmd
}

func nodeCount(c store.Controller) int {
	if c.Automaton == nil {
		return 0
	}
	return len(c.Automaton.Nodes)
}
