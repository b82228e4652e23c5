package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify the API key and collector connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		agent, err := newAgent(cfg)
		if err != nil {
			return fmt.Errorf("agent not configured: %w", err)
		}
		defer agent.Close(context.Background())

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := agent.Ping(ctx)
		if err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, resp)
			return nil
		}
		fmt.Fprintf(out, "Pong! Collector at %s accepted the API key\n", cfg.Agent.BaseURL())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
