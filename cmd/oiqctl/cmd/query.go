package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/outboundiq"
)

var errNoDecision = errors.New("collector returned no decision")

var (
	requestID string
	userID    string
	userType  string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend [service]",
	Short: "Ask which provider to use for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, a *outboundiq.Agent) outboundiq.Decision {
			return a.Recommend(outboundiq.AsConsole(ctx), args[0], outboundiq.QueryOptions{
				RequestID: requestID,
				UserID:    userID,
				UserType:  userType,
			})
		})
	},
}

var providerStatusCmd = &cobra.Command{
	Use:   "provider-status [slug]",
	Short: "Show health and metrics for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, a *outboundiq.Agent) outboundiq.Decision {
			return a.ProviderStatus(ctx, args[0])
		})
	},
}

var endpointStatusCmd = &cobra.Command{
	Use:   "endpoint-status [slug]",
	Short: "Show health and metrics for a provider endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, a *outboundiq.Agent) outboundiq.Decision {
			return a.EndpointStatus(ctx, args[0])
		})
	},
}

func runQuery(cmd *cobra.Command, q func(context.Context, *outboundiq.Agent) outboundiq.Decision) error {
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

	d := q(ctx, agent)
	if d == nil {
		return errNoDecision
	}
	printOutput(cmd.OutOrStdout(), d)
	return nil
}

func init() {
	recommendCmd.Flags().StringVar(&requestID, "request-id", "", "request id to correlate with (default: random UUID)")
	recommendCmd.Flags().StringVar(&userID, "user-id", "", "user the decision is for")
	recommendCmd.Flags().StringVar(&userType, "user-type", "", "type of --user-id")

	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(providerStatusCmd)
	rootCmd.AddCommand(endpointStatusCmd)
}
