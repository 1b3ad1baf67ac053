// errors.go
package ustore

import (
	"errors"
	"fmt"

	"github.com/arc-language/ustore/pkg/archive"
	"github.com/arc-language/ustore/pkg/ledger"
	"github.com/arc-language/ustore/pkg/manifest"
	"github.com/arc-language/ustore/pkg/source"
)

var (
	// ErrPackageNotFound indicates the package is not listed in the manifest
	// or is missing at the source
	ErrPackageNotFound = source.ErrPackageNotFound

	// ErrNotListed indicates the manifest does not list the package.
	// It matches ErrPackageNotFound.
	ErrNotListed = fmt.Errorf("%w: not listed in manifest", source.ErrPackageNotFound)

	// ErrNotInstalled indicates the package has no ledger record
	ErrNotInstalled = ledger.ErrNotRecorded

	// ErrManifest indicates the manifest could not be fetched or parsed
	ErrManifest = manifest.ErrInvalid

	// ErrFetch indicates a transport failure while fetching package content
	ErrFetch = source.ErrFetch

	// ErrArchive indicates the package content is not a readable archive
	ErrArchive = archive.ErrUnsupportedFormat

	// ErrUnsafePath indicates an archive entry would land outside the packages directory
	ErrUnsafePath = archive.ErrUnsafePath

	// ErrFileConflict indicates a package file is already owned by another package
	ErrFileConflict = errors.New("file owned by another package")

	// ErrInvalidPackage indicates the package name is empty or malformed
	ErrInvalidPackage = errors.New("invalid package")
)

// Error wraps an error with additional context
type Error struct {
	Op      string // Operation that failed
	Package string // Package name if applicable
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Package, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
