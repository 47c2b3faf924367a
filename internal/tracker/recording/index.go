package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// File is a candidate recording on disk.
type File struct {
	Path    string
	Name    string
	ModTime time.Time
	Size    int64
}

// listAudio returns the audio files directly inside dir.
// A missing directory yields no files and no error.
func listAudio(fs afero.Fs, c *Catalog, dir string) ([]File, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	files := make([]File, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !c.IsAudio(info.Name()) {
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(dir, info.Name()),
			Name:    info.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return files, nil
}

// countAudio returns the number of audio files directly inside dir.
func countAudio(fs afero.Fs, c *Catalog, dir string) int {
	files, err := listAudio(fs, c, dir)
	if err != nil {
		return 0
	}
	return len(files)
}

// Index is a snapshot of the audio files in a set of directories.
// It is built once per batch and shared across matches.
type Index struct {
	dirs  []string
	files []File
	built time.Time
}

// BuildIndex lists every directory concurrently and merges the results,
// newest first. A directory that cannot be listed fails the build.
func BuildIndex(ctx context.Context, fs afero.Fs, c *Catalog, dirs []string) (*Index, error) {
	results := make([][]File, len(dirs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, dir := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := listAudio(fs, c, dir)
			if err != nil {
				return err
			}
			results[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var merged []File
	for _, files := range results {
		for _, f := range files {
			if _, ok := seen[f.Path]; ok {
				continue
			}
			seen[f.Path] = struct{}{}
			merged = append(merged, f)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ModTime.After(merged[j].ModTime)
	})

	return &Index{dirs: dirs, files: merged, built: time.Now()}, nil
}

// Files returns the indexed files. The slice must not be modified.
func (i *Index) Files() []File {
	if i == nil {
		return nil
	}
	return i.files
}

// Len returns the number of indexed files.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.files)
}

// Dirs returns the directories the index covers.
func (i *Index) Dirs() []string {
	if i == nil {
		return nil
	}
	return i.dirs
}

// Invalidate drops the snapshot so stale listings cannot be reused.
func (i *Index) Invalidate() {
	if i == nil {
		return
	}
	i.files = nil
	i.built = time.Time{}
}
