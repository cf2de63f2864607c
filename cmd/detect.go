package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sreops-dev/incidentpilot/handler"
	"github.com/spf13/cobra"
)

var (
	detectOnce     bool
	detectInterval int
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Poll telemetry for anomalies and open incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pipeline, err := handler.NewPipeline(ctx, configPath)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		err = pipeline.RunDetect(ctx, detectOnce, time.Duration(detectInterval)*time.Second)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectOnce, "once", false, "run a single detection cycle and exit")
	detectCmd.Flags().IntVar(&detectInterval, "interval", 0, "seconds between cycles (default from config)")
	rootCmd.AddCommand(detectCmd)
}
