package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/austindbirch/outboundiq"
)

var testURL string

// testCmd sends one real GET through the instrumented client and delivers
// the recorded call synchronously.
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test metric to the collector",
	Long: `Make one GET request to --target through the agent's HTTP client, then
deliver the recorded call synchronously, so a misconfigured key or endpoint is
reported immediately. A failing target is still recorded and delivered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		agent, err := newAgent(cfg)
		if err != nil {
			return fmt.Errorf("agent not configured: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(outboundiq.AsConsole(ctx), http.MethodGet, testURL, nil)
		if err != nil {
			_ = agent.Close(context.Background())
			return fmt.Errorf("invalid --target: %w", err)
		}
		req.Header.Set("User-Agent", "oiqctl/"+Version)

		status, reqErr := send(agent.Client(nil), req)
		if err := agent.Flush(ctx); err != nil {
			_ = agent.Close(context.Background())
			return fmt.Errorf("test metric was not delivered: %w", err)
		}
		if err := agent.Close(ctx); err != nil {
			return err
		}

		result := fmt.Sprintf("%d", status)
		if reqErr != nil {
			result = reqErr.Error()
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, map[string]any{
				"delivered": 1,
				"endpoint":  cfg.Agent.URL,
				"target":    testURL,
				"result":    result,
			})
			return nil
		}
		fmt.Fprintf(out, "GET %s: %s\n", testURL, result)
		fmt.Fprintf(out, "Test metric delivered to %s\n", cfg.Agent.URL)
		return nil
	},
}

func send(client *http.Client, req *http.Request) (int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func init() {
	testCmd.Flags().StringVar(&testURL, "target", "https://example.com/", "URL the test request is sent to")
	rootCmd.AddCommand(testCmd)
}
