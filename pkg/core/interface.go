// pkg/core/interface.go
package core

import (
	"context"

	"github.com/arc-language/ustore/pkg/ledger"
)

// PackageManager is what the command line drives
type PackageManager interface {
	// Install fetches a package from the store and records it
	Install(ctx context.Context, name string) (*ledger.Record, error)

	// Uninstall removes the files recorded for a package
	Uninstall(ctx context.Context, name string) (*ledger.Record, error)

	// List lists installed packages
	List(ctx context.Context) ([]ledger.Record, error)

	// Info merges manifest metadata with the install record
	Info(ctx context.Context, name string) (*Package, error)

	// Close releases the ledger and the source
	Close() error
}
