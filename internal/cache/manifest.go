package cache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/starford/laguz/internal/checksum"
)

// Manifest is the ordered list of static asset identities that must be fully
// cached during install. Entries are upstream-relative paths, or absolute
// URLs for allow-listed external origins.
type Manifest struct {
	Assets []string `yaml:"assets"`
}

// LoadManifest reads the manifest file and returns it together with its
// generation tag. The tag is derived from the manifest content, so any
// change to the asset set names a new generation.
func LoadManifest(path string) (*Manifest, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("cache: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, "", fmt.Errorf("cache: parse manifest: %w", err)
	}
	if len(m.Assets) == 0 {
		return nil, "", fmt.Errorf("cache: manifest lists no assets")
	}
	return &m, checksum.Short(data), nil
}
