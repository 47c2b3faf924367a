// Package config loads calltrack settings from a YAML file, a .env file and
// CALLTRACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/miniclick/calltrack/internal/tracker/importer"
)

// ErrInvalidSimSelection is returned for a sim_selection outside off, both, sim1 and sim2.
var ErrInvalidSimSelection = errors.New("invalid sim selection")

// SimOff disables call tracking.
const SimOff = "off"

// Keys.
const (
	KeySimSelection     = "sim_selection"
	KeyTrackStart       = "track_start"
	KeySim1Subscription = "sim1_subscription_id"
	KeySim2Subscription = "sim2_subscription_id"
	KeyDeviceID         = "device_id"
	KeyDataDir          = "data_dir"
	KeyCallLog          = "call_log"
	KeyTimezone         = "timezone"

	KeyRecordingsEnabled      = "recordings.enabled"
	KeyRecordingsRoot         = "recordings.root"
	KeyRecordingsCustomPath   = "recordings.custom_path"
	KeyRecordingsManufacturer = "recordings.manufacturer"

	KeyDashboardAddr  = "dashboard.addr"
	KeyDaemonInterval = "daemon.interval"
	KeyDaemonDebounce = "daemon.debounce"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogFile   = "log.file"
)

// Settings is the resolved configuration.
type Settings struct {
	Sim              string
	TrackStart       time.Time
	TrackStartRaw    string
	Sim1Subscription *int
	Sim2Subscription *int
	Device           string
	DataDir          string
	CallLog          string
	Timezone         string

	Recordings struct {
		Enabled      bool
		Root         string
		CustomPath   string
		Manufacturer string
	}

	DashboardAddr  string
	DaemonInterval time.Duration
	DaemonDebounce time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string

	// File is the config file that was read, if any.
	File string
}

// Options tells Load where to look.
type Options struct {
	// ConfigFile overrides the default config file location.
	ConfigFile string
	// EnvFile is loaded into the environment first. Default: .env in the
	// working directory, ignored when missing.
	EnvFile string
	// Now anchors relative start dates such as "30 days ago".
	Now time.Time
}

// DefaultConfigFile returns $XDG_CONFIG_HOME/calltrack/config.yaml.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "calltrack", "config.yaml")
}

// DefaultDataDir returns $XDG_DATA_HOME/calltrack, or ~/.local/share/calltrack.
func DefaultDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "calltrack")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calltrack"
	}
	return filepath.Join(home, ".local", "share", "calltrack")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CALLTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	host, _ := os.Hostname()
	v.SetDefault(KeySimSelection, importer.SimBoth)
	v.SetDefault(KeyTrackStart, "30 days ago")
	v.SetDefault(KeyDeviceID, host)
	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyTimezone, "Local")
	v.SetDefault(KeyRecordingsEnabled, true)
	v.SetDefault(KeyRecordingsRoot, "/storage/emulated/0")
	v.SetDefault(KeyDashboardAddr, "127.0.0.1:8090")
	v.SetDefault(KeyDaemonInterval, 15*time.Minute)
	v.SetDefault(KeyDaemonDebounce, 2*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "auto")
	return v
}

// Load reads and validates the settings.
func Load(opts Options) (*Settings, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := newViper()
	file := opts.ConfigFile
	if file == "" {
		file = DefaultConfigFile()
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		file = ""
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	return fromViper(v, file, now)
}

func fromViper(v *viper.Viper, file string, now time.Time) (*Settings, error) {
	s := &Settings{
		Sim:            strings.ToLower(strings.TrimSpace(v.GetString(KeySimSelection))),
		TrackStartRaw:  v.GetString(KeyTrackStart),
		Device:         v.GetString(KeyDeviceID),
		DataDir:        v.GetString(KeyDataDir),
		CallLog:        v.GetString(KeyCallLog),
		Timezone:       v.GetString(KeyTimezone),
		DashboardAddr:  v.GetString(KeyDashboardAddr),
		DaemonInterval: v.GetDuration(KeyDaemonInterval),
		DaemonDebounce: v.GetDuration(KeyDaemonDebounce),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
		LogFile:        v.GetString(KeyLogFile),
		File:           file,
	}
	s.Recordings.Enabled = v.GetBool(KeyRecordingsEnabled)
	s.Recordings.Root = v.GetString(KeyRecordingsRoot)
	s.Recordings.CustomPath = v.GetString(KeyRecordingsCustomPath)
	s.Recordings.Manufacturer = v.GetString(KeyRecordingsManufacturer)
	if v.IsSet(KeySim1Subscription) {
		id := v.GetInt(KeySim1Subscription)
		s.Sim1Subscription = &id
	}
	if v.IsSet(KeySim2Subscription) {
		id := v.GetInt(KeySim2Subscription)
		s.Sim2Subscription = &id
	}

	if err := ValidateSimSelection(s.Sim); err != nil {
		return nil, err
	}
	if _, err := s.Location(); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	start, err := ParseStartDate(s.TrackStartRaw, now, time.Local)
	if err != nil {
		return nil, err
	}
	s.TrackStart = start
	return s, nil
}

// ValidateSimSelection checks a sim_selection value.
func ValidateSimSelection(sim string) error {
	switch sim {
	case SimOff, importer.SimBoth, importer.Sim1, importer.Sim2:
		return nil
	}
	return fmt.Errorf("%w: %q (want off, both, sim1 or sim2)", ErrInvalidSimSelection, sim)
}

// Save writes values to the config file, keeping keys already in it.
func Save(file string, values map[string]interface{}) error {
	if file == "" {
		file = DefaultConfigFile()
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}
	for k, val := range values {
		v.Set(k, val)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(file); err != nil {
		return fmt.Errorf("failed to write config %s: %w", file, err)
	}
	return nil
}

// DBPath is the SQLite store location.
func (s *Settings) DBPath() string {
	return filepath.Join(s.DataDir, "calltrack.db")
}

// Location is the zone filename dates are read in.
func (s *Settings) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// TrackingEnabled reports whether call tracking is on.
func (s *Settings) TrackingEnabled() bool { return s.Sim != SimOff }

// SimSelection returns both, sim1 or sim2.
func (s *Settings) SimSelection() string { return s.Sim }

// SimSubscriptionID maps a SIM slot to its OS subscription id.
func (s *Settings) SimSubscriptionID(sim string) (int, bool) {
	var id *int
	switch sim {
	case importer.Sim1:
		id = s.Sim1Subscription
	case importer.Sim2:
		id = s.Sim2Subscription
	}
	if id == nil {
		return 0, false
	}
	return *id, true
}

// TrackStartDate is the retention start; older calls are trimmed.
func (s *Settings) TrackStartDate() time.Time { return s.TrackStart }

// DeviceID identifies this device in composite ids.
func (s *Settings) DeviceID() string { return s.Device }

// RecordingEnabled reports whether the recording pass runs.
func (s *Settings) RecordingEnabled() bool { return s.Recordings.Enabled }

// CustomRecordingPath is the user-chosen recording directory, if any.
func (s *Settings) CustomRecordingPath() string { return s.Recordings.CustomPath }
