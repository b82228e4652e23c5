package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/outboundiq"
	"github.com/austindbirch/outboundiq/internal/config"
	"github.com/austindbirch/outboundiq/internal/logging"
)

var (
	cfgFile    string
	apiKey     string
	collector  string
	timeout    time.Duration
	outputJSON bool
	prettyJSON bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "oiqctl",
	Short: "OutboundIQ CLI - check connectivity and query the OutboundIQ collector",
	Long: `oiqctl is a diagnostic tool for the OutboundIQ agent.

It verifies the API key and collector connectivity, sends a test metric,
and asks the collector for provider recommendations and health.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "agent config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (overrides OUTBOUNDIQ_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&collector, "url", "", "metric endpoint URL (overrides OUTBOUNDIQ_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log agent activity to stderr")

	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

// initConfig lets OIQCTL_* variables stand in for the output flags.
func initConfig() {
	viper.SetEnvPrefix("OIQCTL")
	viper.AutomaticEnv()

	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !rootCmd.PersistentFlags().Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
}

// loadConfig reads the agent configuration and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if apiKey != "" {
		cfg.Agent.APIKey = apiKey
	}
	if collector != "" {
		cfg.Agent.URL = collector
	}
	if timeout > 0 {
		cfg.Agent.Timeout = timeout
	}
	return cfg, nil
}

// newAgent builds an agent for a single CLI invocation. Delivery is always
// synchronous so that errors reach the terminal.
func newAgent(cfg config.Config) (*outboundiq.Agent, error) {
	cfg.Agent.Transport = config.TransportSync
	cfg.Agent.FlushInterval = 0
	cfg.Agent.RetryAttempts = 1

	logger := logging.Nop()
	if verbose {
		logger = logging.New("oiqctl")
	}
	return outboundiq.New(cfg, outboundiq.WithLogger(logger))
}

func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

func formatWithJQ(jsonData []byte) (string, error) {
	if !checkJQAvailable() {
		return "", fmt.Errorf("jq not found in PATH")
	}

	cmd := exec.Command("jq", ".")
	cmd.Stdin = bytes.NewReader(jsonData)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", stderr.String())
	}
	return out.String(), nil
}

// printOutput writes v as JSON with --json, otherwise as sorted key: value
// lines for maps and %+v for anything else.
func printOutput(w io.Writer, v any) {
	if outputJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}
		if prettyJSON {
			formatted, jqErr := formatWithJQ(data)
			if jqErr == nil {
				fmt.Fprint(w, formatted)
				return
			}
			fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
		}
		fmt.Fprintln(w, string(data))
		return
	}

	switch m := v.(type) {
	case outboundiq.Decision:
		printMap(w, m, "")
	case map[string]any:
		printMap(w, m, "")
	default:
		fmt.Fprintf(w, "%+v\n", v)
	}
}

func printMap(w io.Writer, m map[string]any, indent string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if nested, ok := m[k].(map[string]any); ok {
			fmt.Fprintf(w, "%s%s:\n", indent, k)
			printMap(w, nested, indent+"  ")
			continue
		}
		fmt.Fprintf(w, "%s%s: %v\n", indent, k, m[k])
	}
}
