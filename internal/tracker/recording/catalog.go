package recording

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var builtinCatalog []byte

// DeviceDir is a vendor default recording directory.
type DeviceDir struct {
	Path string `toml:"path"`
	// Vendors lists manufacturers whose phones use this directory; empty
	// means the layout is shared across vendors.
	Vendors []string `toml:"vendors"`
}

// Catalog lists where recorders store call recordings.
type Catalog struct {
	DefaultPath      string      `toml:"default_path"`
	ManagedImportDir string      `toml:"managed_import_dir"`
	AudioExtensions  []string    `toml:"audio_extensions"`
	ScanParents      []string    `toml:"scan_parents"`
	ThirdParty       []string    `toml:"third_party"`
	Devices          []DeviceDir `toml:"device"`

	extSet map[string]struct{}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("recording: invalid built-in catalog: %v", err))
	}
	return c
}

// ParseCatalog decodes a TOML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if c.DefaultPath == "" {
		return nil, fmt.Errorf("catalog: default_path is required")
	}
	if len(c.AudioExtensions) == 0 {
		return nil, fmt.Errorf("catalog: audio_extensions is required")
	}
	c.extSet = make(map[string]struct{}, len(c.AudioExtensions))
	for _, ext := range c.AudioExtensions {
		c.extSet["."+strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &c, nil
}

// IsAudio reports whether name has a supported audio extension.
func (c *Catalog) IsAudio(name string) bool {
	_, ok := c.extSet[strings.ToLower(filepath.Ext(name))]
	return ok
}

// DeviceDirsFor returns the vendor default directories with the ones
// belonging to manufacturer first. Relative order is otherwise preserved.
func (c *Catalog) DeviceDirsFor(manufacturer string) []string {
	m := strings.ToLower(strings.TrimSpace(manufacturer))
	var preferred, rest []string
	for _, d := range c.Devices {
		if m != "" && vendorMatch(d.Vendors, m) {
			preferred = append(preferred, d.Path)
		} else {
			rest = append(rest, d.Path)
		}
	}
	return append(preferred, rest...)
}

func vendorMatch(vendors []string, manufacturer string) bool {
	for _, v := range vendors {
		if strings.Contains(manufacturer, v) {
			return true
		}
	}
	return false
}
