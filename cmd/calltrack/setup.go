package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/miniclick/calltrack/internal/config"
	"github.com/miniclick/calltrack/internal/tracker/importer"
	"github.com/miniclick/calltrack/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:     "setup",
	GroupID: "setup",
	Short:   "Interactively write the configuration",
	Long: `Ask for the call log export, SIM selection, tracking start date and
recording options, then write them to the config file. Existing keys not
asked about are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := loadSettings()
		if err != nil {
			return err
		}

		var (
			callLog   = current.CallLog
			sim       = current.Sim
			start     = current.TrackStartRaw
			deviceID  = current.Device
			recording = current.Recordings.Enabled
			custom    = current.Recordings.CustomPath
			vendor    = current.Recordings.Manufacturer
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Call log export").
					Description("YAML export of the device call log").
					Value(&callLog).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("required")
						}
						return nil
					}),
				huh.NewSelect[string]().
					Title("Track calls from").
					Options(
						huh.NewOption("Both SIMs", importer.SimBoth),
						huh.NewOption("SIM 1 only", importer.Sim1),
						huh.NewOption("SIM 2 only", importer.Sim2),
						huh.NewOption("Off", config.SimOff),
					).
					Value(&sim),
				huh.NewInput().
					Title("Tracking start date").
					Description(`e.g. 2024-01-01 or "30 days ago"`).
					Value(&start).
					Validate(func(s string) error {
						_, err := config.ParseStartDate(s, time.Now(), time.Local)
						return err
					}),
				huh.NewInput().
					Title("Device id").
					Value(&deviceID),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Match call recordings?").
					Value(&recording),
				huh.NewInput().
					Title("Custom recording directory").
					Description("Leave empty to detect it").
					Value(&custom),
				huh.NewInput().
					Title("Device manufacturer").
					Description("Checked first when detecting, e.g. samsung, xiaomi").
					Value(&vendor),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		file := configFile
		if file == "" {
			file = config.DefaultConfigFile()
		}
		if err := config.Save(file, map[string]interface{}{
			config.KeyCallLog:                strings.TrimSpace(callLog),
			config.KeySimSelection:           sim,
			config.KeyTrackStart:             strings.TrimSpace(start),
			config.KeyDeviceID:               strings.TrimSpace(deviceID),
			config.KeyRecordingsEnabled:      recording,
			config.KeyRecordingsCustomPath:   strings.TrimSpace(custom),
			config.KeyRecordingsManufacturer: strings.ToLower(strings.TrimSpace(vendor)),
		}); err != nil {
			return err
		}
		fmt.Printf("%s Configuration written to %s\n", ui.RenderPass("✓"), file)
		fmt.Printf("   Run 'calltrack sync' to import calls\n")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		values := [][2]string{
			{config.KeyCallLog, s.CallLog},
			{config.KeySimSelection, s.Sim},
			{config.KeyTrackStart, fmt.Sprintf("%s (%s)", s.TrackStartRaw, s.TrackStart.Format("2006-01-02"))},
			{config.KeyDeviceID, s.Device},
			{config.KeyDataDir, s.DataDir},
			{config.KeyTimezone, s.Timezone},
			{config.KeySim1Subscription, optInt(s.Sim1Subscription)},
			{config.KeySim2Subscription, optInt(s.Sim2Subscription)},
			{config.KeyRecordingsEnabled, strconv.FormatBool(s.Recordings.Enabled)},
			{config.KeyRecordingsRoot, s.Recordings.Root},
			{config.KeyRecordingsCustomPath, s.Recordings.CustomPath},
			{config.KeyRecordingsManufacturer, s.Recordings.Manufacturer},
			{config.KeyDashboardAddr, s.DashboardAddr},
			{config.KeyDaemonInterval, s.DaemonInterval.String()},
			{config.KeyDaemonDebounce, s.DaemonDebounce.String()},
			{config.KeyLogLevel, s.LogLevel},
			{config.KeyLogFormat, s.LogFormat},
			{config.KeyLogFile, s.LogFile},
		}

		if jsonOutput {
			out := make(map[string]string, len(values)+1)
			for _, kv := range values {
				out[kv[0]] = kv[1]
			}
			out["config_file"] = s.File
			printJSON(out)
			return nil
		}

		file := s.File
		if file == "" {
			file = ui.RenderMuted("(none, using defaults)")
		}
		fmt.Printf("Config file: %s\n\n", file)
		tbl := ui.NewTable("KEY", "VALUE")
		for _, kv := range values {
			tbl.Row(kv[0], kv[1])
		}
		tbl.Render(os.Stdout)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one configuration key",
	Long: `Set one configuration key in the config file.

Example:
  calltrack config set sim_selection sim1
  calltrack config set recordings.custom_path /sdcard/Recordings/Call`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		var value interface{} = raw

		switch key {
		case config.KeySimSelection:
			if err := config.ValidateSimSelection(raw); err != nil {
				return err
			}
		case config.KeyTrackStart:
			if _, err := config.ParseStartDate(raw, time.Now(), time.Local); err != nil {
				return err
			}
		case config.KeyRecordingsEnabled:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s must be true or false", key)
			}
			value = b
		case config.KeySim1Subscription, config.KeySim2Subscription:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s must be an integer", key)
			}
			value = n
		case config.KeyDaemonInterval, config.KeyDaemonDebounce:
			if _, err := time.ParseDuration(raw); err != nil {
				return fmt.Errorf("%s must be a duration such as 15m", key)
			}
		}

		file := configFile
		if file == "" {
			file = config.DefaultConfigFile()
		}
		if err := config.Save(file, map[string]interface{}{key: value}); err != nil {
			return err
		}
		fmt.Printf("%s %s = %v\n", ui.RenderPass("✓"), key, value)
		return nil
	},
}

func optInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(setupCmd, configCmd)
}
