package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/btsynth/internal/visualization"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse stored controllers in a local web viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			noOpen, _ := cmd.Flags().GetBool("no-open")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			stopTelemetry, err := startTelemetry(cmd, settings)
			if err != nil {
				return err
			}
			defer stopTelemetry()
			cs, err := openStore(settings, newLogger(cmd, settings))
			if err != nil {
				return err
			}
			defer cs.Close()

			srv := visualization.NewServer(cs, settings.Labels.SysPrefix)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			srvCtx, srvCancel := context.WithCancel(ctx)
			defer srvCancel()

			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			go func() {
				select {
				case <-sigCh:
					srvCancel()
				case <-srvCtx.Done():
				}
			}()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(srvCtx, addr) }()

			// Wait for server to start
			deadline := time.Now().Add(3 * time.Second)
			for time.Now().Before(deadline) && srv.Addr() == "" {
				select {
				case err := <-errCh:
					return fmt.Errorf("server error: %w", err)
				default:
				}
				time.Sleep(10 * time.Millisecond)
			}
			if srv.Addr() == "" {
				return fmt.Errorf("server failed to start")
			}

			url := "http://" + srv.Addr()
			fmt.Fprintf(cmd.OutOrStdout(), "Controller viewer running at %s\n", url)
			fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl-C to stop.\n")

			if !noOpen {
				if err := visualization.OpenBrowser(url); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, url)
				}
			}

			if err := <-errCh; err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default: a free localhost port)")
	cmd.Flags().Bool("no-open", false, "Don't open a browser")
	return cmd
}
