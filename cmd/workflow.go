package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sreops-dev/incidentpilot/handler"
	"github.com/spf13/cobra"
)

var workflowParams []string

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect and run remediation workflows",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Execute a workflow directly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		params := map[string]any{}
		for _, p := range workflowParams {
			key, value, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("invalid parameter %q, expected key=value", p)
			}
			params[key] = value
		}

		pipeline, err := handler.NewPipeline(ctx, configPath)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		return pipeline.RunWorkflow(ctx, args[0], params)
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pipeline, err := handler.NewPipeline(ctx, configPath)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		workflows, err := pipeline.Workflows.ListWorkflows()
		if err != nil {
			return err
		}
		for _, wf := range workflows {
			fmt.Printf("%-30s risk=%-6s auto_approve=%-5t %s\n", wf.Name, wf.RiskLevel, wf.AutoApprove, wf.Description)
		}
		return nil
	},
}

func init() {
	workflowRunCmd.Flags().StringArrayVar(&workflowParams, "param", nil, "workflow parameter as key=value, repeatable")
	workflowCmd.AddCommand(workflowRunCmd)
	workflowCmd.AddCommand(workflowListCmd)
	rootCmd.AddCommand(workflowCmd)
}
