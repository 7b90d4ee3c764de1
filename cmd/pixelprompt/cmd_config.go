package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit settings",
	Long: `Settings are addressed by dot-separated keys mirroring the config
file layout. Commonly edited keys:

  models.flux.api_key      BFL key for the Flux column
  models.openai.model      model served in the OpenAI column
  engine.max_workers       concurrent generation tasks
  rate_limit.caller_limit  per-caller daily request quota
  enhance.api_key          OpenAI key for prompt enhancement
  janitor.session_ttl_hours  hours before idle sessions are swept

API keys and tokens are masked in output. The running daemon reads
config at startup; restart it after editing.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		values, err := config.ListValues(cfg, true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%v\n", k, values[k])
		}
		return w.Flush()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting (secrets masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		display := args[1]
		if config.IsSecretKey(args[0]) {
			display = "***"
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], display)
		fmt.Fprintln(os.Stdout, "Run `pixelprompt restart` for the daemon to pick this up.")
		return nil
	},
}
