package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/sreops-dev/incidentpilot/handler"
	"github.com/spf13/cobra"
)

var orchestrateIncidentID string

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Drive detected incidents through analysis, remediation and documentation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pipeline, err := handler.NewPipeline(ctx, configPath)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		err = pipeline.RunOrchestrate(ctx, orchestrateIncidentID)

		stats := pipeline.Orchestrator.Stats()
		slog.Info("orchestrator stats",
			slog.Int("processed", stats.Processed),
			slog.Int("resolved", stats.Resolved),
			slog.Int("escalated", stats.Escalated),
			slog.Int("errors", stats.Errors))
		for _, msg := range stats.RecentErrors {
			slog.Info("recent error", slog.String("error", msg))
		}

		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	orchestrateCmd.Flags().StringVar(&orchestrateIncidentID, "incident", "", "process a single incident by id instead of monitoring")
	rootCmd.AddCommand(orchestrateCmd)
}
