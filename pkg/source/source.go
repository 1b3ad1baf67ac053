// pkg/source/source.go
package source

import (
	"context"
	"errors"

	"github.com/arc-language/ustore/pkg/manifest"
)

var (
	// ErrPackageNotFound indicates the package is absent from the manifest or the source
	ErrPackageNotFound = errors.New("package not found")

	// ErrFetch indicates a transport failure talking to the source
	ErrFetch = errors.New("fetch failed")
)

// Source provides the manifest and the content of packages
type Source interface {
	// Name returns the source kind (e.g., "http", "git")
	Name() string

	// Manifest fetches the current manifest
	Manifest(ctx context.Context) (manifest.Manifest, error)

	// Fetch materialises the package files under dest and returns them as
	// sorted slash-separated paths relative to dest
	Fetch(ctx context.Context, name, dest string) ([]string, error)

	// Close releases temporary resources
	Close() error
}
