// Command calltrack imports the device call log, attaches recordings and
// reconciles edits with the server copy.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrack/internal/ui"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"

	configFile string
	envFile    string
	logLevel   string
	jsonOutput bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "calltrack",
	Short: "Call log import, recording matching and sync reconciliation",
	Long: `calltrack keeps a local store of phone calls and the people behind them.

It imports new call log entries, attaches recording files to the calls
they belong to, and reconciles notes, review flags and contact labels
with the server copy. Run 'calltrack setup' once, then 'calltrack sync'
or 'calltrack daemon'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !ui.ColorEnabled(os.Stdout) {
			ui.DisableColor()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/calltrack/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file loaded before the config (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "service", Title: "Service Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{"version": version, "commit": commit, "date": buildDate})
				return
			}
			fmt.Printf("calltrack %s (%s, %s)\n", version, commit, buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{"ok": false, "error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		}
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
