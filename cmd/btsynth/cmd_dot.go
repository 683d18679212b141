package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/automaton"
	"github.com/nvandessel/btsynth/internal/visualization"
)

func newDotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dot [controller-file]",
		Short: "Render a controller as Graphviz DOT or JSON",
		Long: `Render a controller read from a file, or from the store with --id.
Node labels show the agent position and the goal memory; edge styles
show memory guards.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			if (id == "") == (len(args) == 0) {
				return fmt.Errorf("give either a controller file or --id")
			}
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			name := "controller"
			var g *automaton.Graph
			if id != "" {
				cs, err := openStore(settings, newLogger(cmd, settings))
				if err != nil {
					return err
				}
				defer cs.Close()
				c, err := cs.GetController(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("get controller %s: %w", id, err)
				}
				name = c.Kind
				if g, err = c.Graph(); err != nil {
					return err
				}
			} else if g, err = readController(cmd, args[0]); err != nil {
				return err
			}

			opts := visualization.Options{Name: name, SysPrefix: settings.Labels.SysPrefix}
			format, _ := cmd.Flags().GetString("format")
			var out string
			switch visualization.Format(format) {
			case visualization.FormatDOT:
				out = visualization.RenderDOT(g, opts)
			case visualization.FormatJSON:
				return printJSON(cmd.OutOrStdout(), visualization.RenderJSON(g, opts))
			default:
				return fmt.Errorf("unsupported format %q (use 'dot' or 'json')", format)
			}

			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			}
			if err := os.WriteFile(rootPath(cmd, output), []byte(out), 0o644); err != nil {
				return fmt.Errorf("write DOT file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Graph written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().String("id", "", "Stored controller ID")
	cmd.Flags().String("format", "dot", "Output format: dot or json")
	cmd.Flags().StringP("output", "o", "", "Output file path (dot format only)")
	return cmd
}
