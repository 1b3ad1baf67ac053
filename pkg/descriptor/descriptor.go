// pkg/descriptor/descriptor.go
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the descriptor a package may ship at its root
const FileName = "package.toml"

// ErrNotFound indicates the package ships no descriptor
var ErrNotFound = errors.New("descriptor not found")

// Descriptor is the optional package.toml shipped inside a package.
// Requires is informational; nothing resolves it.
type Descriptor struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Description string   `toml:"description"`
	Requires    []string `toml:"requires"`
}

// Find looks for package.toml in root, then in root/<name>.
// Packages built from a repository subtree carry their files under a
// directory named after the package.
func Find(root, name string) (*Descriptor, error) {
	candidates := []string{filepath.Join(root, FileName)}
	if name != "" {
		candidates = append(candidates, filepath.Join(root, name, FileName))
	}

	for _, path := range candidates {
		d, err := Load(path)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return d, err
	}

	return nil, ErrNotFound
}

// Load reads and parses a descriptor file
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("descriptor: reading %s: %w", path, err)
	}

	var d Descriptor
	if _, err := toml.Decode(string(data), &d); err != nil {
		return nil, fmt.Errorf("descriptor: failed to parse '%s': %w", path, err)
	}

	return &d, nil
}
