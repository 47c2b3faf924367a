package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseStartDate(t *testing.T) {
	now := time.Date(2024, 3, 31, 15, 4, 5, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"30 days ago", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"xyzzy", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStartDate(tt.in, now, time.UTC)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStartDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseStartDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	data := []byte(`
sim_selection: sim2
track_start: "2024-01-15T00:00:00Z"
sim2_subscription_id: 4
device_id: pixel
recordings:
  custom_path: /sdcard/MyRecordings
  manufacturer: samsung
`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	t.Setenv("CALLTRACK_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CALLTRACK_RECORDINGS_ENABLED", "false")

	s, err := Load(Options{ConfigFile: file, EnvFile: filepath.Join(dir, "missing.env")})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !s.TrackingEnabled() || s.SimSelection() != "sim2" {
		t.Errorf("sim selection = %q", s.SimSelection())
	}
	if id, ok := s.SimSubscriptionID("sim2"); !ok || id != 4 {
		t.Errorf("SimSubscriptionID(sim2) = %d, %v", id, ok)
	}
	if _, ok := s.SimSubscriptionID("sim1"); ok {
		t.Error("sim1 has no configured subscription")
	}
	if !s.TrackStartDate().Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("track start = %v", s.TrackStartDate())
	}
	if s.RecordingEnabled() {
		t.Error("env override should disable recordings")
	}
	got := []string{s.DeviceID(), s.CustomRecordingPath(), s.Recordings.Manufacturer, s.DBPath(), s.File}
	want := []string{"pixel", "/sdcard/MyRecordings", "samsung", filepath.Join(dir, "data", "calltrack.db"), file}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.Local)
	s, err := Load(Options{ConfigFile: filepath.Join(dir, "none.yaml"), EnvFile: filepath.Join(dir, "none.env"), Now: now})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if s.File != "" || s.SimSelection() != "both" || !s.RecordingEnabled() {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local); !s.TrackStartDate().Equal(want) {
		t.Errorf("default start = %v, want %v", s.TrackStartDate(), want)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	if err := os.WriteFile(env, []byte("CALLTRACK_SIM_SELECTION=off\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	t.Setenv("CALLTRACK_SIM_SELECTION", "") // restored after the test
	os.Unsetenv("CALLTRACK_SIM_SELECTION")

	s, err := Load(Options{ConfigFile: filepath.Join(dir, "none.yaml"), EnvFile: env})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if s.TrackingEnabled() {
		t.Error(".env should turn tracking off")
	}
}

func TestLoad_InvalidSim(t *testing.T) {
	t.Setenv("CALLTRACK_SIM_SELECTION", "sim3")
	dir := t.TempDir()
	_, err := Load(Options{ConfigFile: filepath.Join(dir, "none.yaml"), EnvFile: filepath.Join(dir, "none.env")})
	if !errors.Is(err, ErrInvalidSimSelection) {
		t.Fatalf("error = %v, want ErrInvalidSimSelection", err)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "config.yaml")
	if err := Save(file, map[string]interface{}{KeySimSelection: "sim1", KeyRecordingsCustomPath: "/rec"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := Save(file, map[string]interface{}{KeyDeviceID: "tablet"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	s, err := Load(Options{ConfigFile: file, EnvFile: filepath.Join(dir, "none.env")})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	got := []string{s.SimSelection(), s.CustomRecordingPath(), s.DeviceID()}
	if diff := cmp.Diff([]string{"sim1", "/rec", "tablet"}, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
