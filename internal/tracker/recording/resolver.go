package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// State keys persisted through StateStore.
const (
	stateDetectedPath = "recording.detected_path"
	stateVerified     = "recording.verified"
)

// StateStore persists the detected path and verification flag.
// *db.DB satisfies it.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}

// PathSettings exposes the user's custom recording path, if any.
type PathSettings interface {
	CustomRecordingPath() string
}

// PathInfo describes the resolved recording directory for display.
type PathInfo struct {
	EffectivePath  string `json:"effective_path"`
	DetectedPath   string `json:"detected_path,omitempty"`
	CustomPath     string `json:"custom_path,omitempty"`
	IsCustom       bool   `json:"is_custom"`
	IsVerified     bool   `json:"is_verified"`
	RecordingCount int    `json:"recording_count"`
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Manufacturer moves that vendor's default directories to the front of the scan.
	Manufacturer string
	Settings     PathSettings
	State        StateStore
	Catalog      *Catalog
	Logger       zerolog.Logger
}

// Resolver finds the directory holding call recordings.
//
// Precedence: custom path > cached detected path (revalidated) > fresh scan >
// built-in default. All paths are resolved against the storage root.
type Resolver struct {
	fs      afero.Fs
	root    string
	opts    ResolverOptions
	catalog *Catalog
	logger  zerolog.Logger
}

// NewResolver creates a Resolver over fs rooted at root.
func NewResolver(fs afero.Fs, root string, opts ResolverOptions) *Resolver {
	c := opts.Catalog
	if c == nil {
		c = DefaultCatalog()
	}
	return &Resolver{
		fs:      fs,
		root:    root,
		opts:    opts,
		catalog: c,
		logger:  opts.Logger.With().Str("component", "resolver").Logger(),
	}
}

// Catalog returns the directory catalog in use.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Fs returns the filesystem the resolver reads.
func (r *Resolver) Fs() afero.Fs {
	return r.fs
}

// Resolve returns the effective recording directory.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if custom := r.customPath(); custom != "" {
		return custom, nil
	}

	if r.opts.State != nil {
		cached, ok, err := r.opts.State.GetState(ctx, stateDetectedPath)
		if err != nil {
			return "", err
		}
		if ok && r.HasRecordings(cached) {
			return cached, nil
		}
		if ok {
			r.logger.Info().Str("path", cached).Msg("cached recording path no longer has recordings, rescanning")
		}
	}

	if detected := r.scan(ctx); detected != "" {
		if err := r.remember(ctx, detected); err != nil {
			return "", err
		}
		return detected, nil
	}

	return r.abs(r.catalog.DefaultPath), nil
}

// Rescan drops the cached detected path and scans again.
func (r *Resolver) Rescan(ctx context.Context) (string, error) {
	if r.opts.State != nil {
		if err := r.opts.State.DeleteState(ctx, stateDetectedPath); err != nil {
			return "", err
		}
		if err := r.opts.State.DeleteState(ctx, stateVerified); err != nil {
			return "", err
		}
	}
	return r.Resolve(ctx)
}

// Verify records whether the user confirmed the effective path.
func (r *Resolver) Verify(ctx context.Context, verified bool) error {
	if r.opts.State == nil {
		return fmt.Errorf("recording: no state store configured")
	}
	return r.opts.State.SetState(ctx, stateVerified, strconv.FormatBool(verified))
}

// Info returns the resolved path together with its metadata.
func (r *Resolver) Info(ctx context.Context) (PathInfo, error) {
	effective, err := r.Resolve(ctx)
	if err != nil {
		return PathInfo{}, err
	}

	info := PathInfo{
		EffectivePath:  effective,
		CustomPath:     r.customPath(),
		RecordingCount: countAudio(r.fs, r.catalog, effective),
	}
	info.IsCustom = info.CustomPath != ""

	if r.opts.State != nil {
		if v, ok, err := r.opts.State.GetState(ctx, stateDetectedPath); err != nil {
			return info, err
		} else if ok {
			info.DetectedPath = v
		}
		if v, ok, err := r.opts.State.GetState(ctx, stateVerified); err != nil {
			return info, err
		} else if ok {
			info.IsVerified, _ = strconv.ParseBool(v)
		}
	}
	return info, nil
}

// SourceDirs returns every directory whose files are matched against calls:
// the effective directory plus the managed import directory.
func (r *Resolver) SourceDirs(ctx context.Context) ([]string, error) {
	effective, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	dirs := []string{effective}
	if r.catalog.ManagedImportDir != "" {
		managed := r.abs(r.catalog.ManagedImportDir)
		if managed != effective {
			dirs = append(dirs, managed)
		}
	}
	return dirs, nil
}

// ListRecordings returns the current audio files in all source directories.
func (r *Resolver) ListRecordings(ctx context.Context) ([]File, error) {
	idx, err := r.BuildIndex(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Files(), nil
}

// BuildIndex snapshots the audio files in all source directories.
func (r *Resolver) BuildIndex(ctx context.Context) (*Index, error) {
	dirs, err := r.SourceDirs(ctx)
	if err != nil {
		return nil, err
	}
	return BuildIndex(ctx, r.fs, r.catalog, dirs)
}

// HasRecordings reports whether dir directly contains at least one audio file.
func (r *Resolver) HasRecordings(dir string) bool {
	infos, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return false
	}
	for _, info := range infos {
		if !info.IsDir() && r.catalog.IsAudio(info.Name()) {
			return true
		}
	}
	return false
}

// Candidates returns the directories scanned, in order, for diagnostics.
func (r *Resolver) Candidates() []string {
	var out []string
	for _, p := range r.catalog.DeviceDirsFor(r.opts.Manufacturer) {
		out = append(out, r.abs(p))
	}
	for _, p := range r.catalog.ThirdParty {
		out = append(out, r.abs(p))
	}
	return out
}

// scan walks the catalog and returns the first directory with recordings.
func (r *Resolver) scan(ctx context.Context) string {
	for _, dir := range r.Candidates() {
		if ctx.Err() != nil {
			return ""
		}
		if r.HasRecordings(dir) {
			r.logger.Debug().Str("path", dir).Msg("detected recording directory")
			return dir
		}
	}

	// Shallow two-level scan under generic parents.
	for _, parent := range r.catalog.ScanParents {
		base := r.abs(parent)
		children, err := afero.ReadDir(r.fs, base)
		if err != nil {
			continue
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			dir := filepath.Join(base, child.Name())
			if r.HasRecordings(dir) {
				return dir
			}
			grandchildren, err := afero.ReadDir(r.fs, dir)
			if err != nil {
				continue
			}
			for _, gc := range grandchildren {
				if gc.IsDir() && r.HasRecordings(filepath.Join(dir, gc.Name())) {
					return filepath.Join(dir, gc.Name())
				}
			}
		}
	}
	return ""
}

func (r *Resolver) remember(ctx context.Context, detected string) error {
	if r.opts.State == nil {
		return nil
	}
	prev, ok, err := r.opts.State.GetState(ctx, stateDetectedPath)
	if err != nil {
		return err
	}
	if ok && prev == detected {
		return nil
	}
	if err := r.opts.State.SetState(ctx, stateDetectedPath, detected); err != nil {
		return err
	}
	// A newly detected directory has not been confirmed by the user.
	return r.opts.State.SetState(ctx, stateVerified, "false")
}

func (r *Resolver) customPath() string {
	if r.opts.Settings == nil {
		return ""
	}
	p := r.opts.Settings.CustomRecordingPath()
	if p == "" {
		return ""
	}
	return r.abs(p)
}

func (r *Resolver) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.root, p)
}
