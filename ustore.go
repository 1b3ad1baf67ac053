// ustore.go
package ustore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arc-language/ustore/pkg/core"
	"github.com/arc-language/ustore/pkg/descriptor"
	"github.com/arc-language/ustore/pkg/ledger"
	"github.com/arc-language/ustore/pkg/source"
)

// Re-export types for convenience
type (
	Config  = core.Config
	Package = core.Package
	Record  = ledger.Record
)

// DefaultConfig returns a configuration with the store defaults
func DefaultConfig() *Config {
	return core.DefaultConfig()
}

// Manager installs store packages into the packages directory and keeps the
// ledger of what each package put there
type Manager struct {
	source source.Source
	config *core.Config
	logger logrus.FieldLogger
	ledger *ledger.Ledger
	now    func() time.Time
}

var _ core.PackageManager = (*Manager)(nil)

// NewManager creates a manager for the configured source.
// The ledger is opened lazily, so a run that installs nothing writes nothing.
func NewManager(config *core.Config, logger logrus.FieldLogger) (*Manager, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	var src source.Source
	switch config.Source {
	case core.SourceHTTP:
		src = source.NewHTTPSource(&source.HTTPConfig{
			ManifestURL: config.ManifestURL,
			PackageURL:  config.PackageURL,
			Timeout:     config.Timeout,
			Logger:      logger,
		})
	case core.SourceGit:
		src = source.NewGitSource(&source.GitConfig{
			RepoURL:      config.RepoURL,
			Branch:       config.RepoBranch,
			ManifestPath: config.RepoManifestPath,
			PackagesPath: config.RepoPackagesPath,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("unsupported source: %s", config.Source)
	}

	logger.Debugf("Initialized Manager")
	logger.Debugf("  Source: %s", src.Name())
	logger.Debugf("  PackagesDir: %s", config.PackagesDir)
	logger.Debugf("  Ledger: %s", config.LedgerPath)

	return &Manager{
		source: src,
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

// openLedger returns the ledger, opening it on first use. With create unset
// a missing database yields nil instead of an empty new file.
func (m *Manager) openLedger(ctx context.Context, create bool) (*ledger.Ledger, error) {
	if m.ledger != nil {
		return m.ledger, nil
	}
	if !create {
		if _, err := os.Stat(m.config.LedgerPath); os.IsNotExist(err) {
			return nil, nil
		}
	}

	l, err := ledger.Open(ctx, m.config.LedgerPath)
	if err != nil {
		return nil, err
	}
	m.ledger = l
	return l, nil
}

// Install fetches name from the store into the packages directory.
// Files owned by another package abort the install before anything is
// written; files nobody owns are overwritten.
func (m *Manager) Install(ctx context.Context, name string) (*Record, error) {
	m.logger.Debugf("Step 1: Fetching manifest...")
	mf, err := m.source.Manifest(ctx)
	if err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}
	entry, ok := mf.Lookup(name)
	if !ok {
		return nil, &Error{Op: "install", Package: name, Err: ErrNotListed}
	}
	// listed names become paths below the packages directory
	if err := validateName(name); err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}
	m.logger.Debugf("  ✓ Package listed (%d packages in manifest)", len(mf))

	m.logger.Debugf("Step 2: Fetching package from %s source...", m.source.Name())
	if err := os.MkdirAll(m.config.PackagesDir, 0755); err != nil {
		return nil, &Error{Op: "install", Package: name, Err: fmt.Errorf("creating packages dir: %w", err)}
	}
	staging, err := os.MkdirTemp(filepath.Dir(m.config.PackagesDir), ".ustore-stage-*")
	if err != nil {
		return nil, &Error{Op: "install", Package: name, Err: fmt.Errorf("creating staging dir: %w", err)}
	}
	defer os.RemoveAll(staging)

	files, err := m.source.Fetch(ctx, name, staging)
	if err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}
	m.logger.Debugf("  ✓ Staged %d files", len(files))

	version := entry.Version
	m.logger.Debugf("Step 3: Reading descriptor...")
	desc, err := descriptor.Find(staging, name)
	switch {
	case errors.Is(err, descriptor.ErrNotFound):
		m.logger.Debugf("  No %s shipped", descriptor.FileName)
	case err != nil:
		return nil, &Error{Op: "install", Package: name, Err: err}
	default:
		if desc.Version != "" {
			version = desc.Version
		}
		if len(desc.Requires) > 0 {
			m.logger.Warnf("%s declares requirements %v; they are not installed automatically", name, desc.Requires)
		}
	}

	m.logger.Debugf("Step 4: Checking for conflicts...")
	l, err := m.openLedger(ctx, true)
	if err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}
	owners, err := l.Owners(ctx)
	if err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}
	if err := conflicts(name, files, owners); err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}

	previous, err := l.Get(ctx, name)
	if err != nil && !errors.Is(err, ledger.ErrNotRecorded) {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}

	m.logger.Debugf("Step 5: Moving files into %s...", m.config.PackagesDir)
	if err := m.commit(name, staging, files, owners); err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}

	if previous != nil {
		left, err := m.removeFiles(stale(previous.Files, files))
		if err != nil {
			// still recorded, so a later uninstall retries them
			m.logger.Warnf("keeping stale files of %s: %v", name, err)
			files = append(files, left...)
			slices.Sort(files)
		}
	}

	rec := Record{
		Name:        name,
		Version:     version,
		Source:      m.source.Name(),
		InstalledAt: m.now(),
		Files:       files,
	}
	if err := l.Put(ctx, rec); err != nil {
		return nil, &Error{Op: "install", Package: name, Err: err}
	}

	m.logger.Debugf("✓ Package %s installed successfully", name)
	return &rec, nil
}

// Uninstall removes every file recorded for name, prunes directories left
// empty and drops the record
func (m *Manager) Uninstall(ctx context.Context, name string) (*Record, error) {
	l, err := m.openLedger(ctx, false)
	if err != nil {
		return nil, &Error{Op: "uninstall", Package: name, Err: err}
	}
	if l == nil {
		return nil, &Error{Op: "uninstall", Package: name, Err: ErrNotInstalled}
	}

	rec, err := l.Get(ctx, name)
	if err != nil {
		return nil, &Error{Op: "uninstall", Package: name, Err: err}
	}

	m.logger.Debugf("Removing %d files of %s", len(rec.Files), name)
	if left, err := m.removeFiles(rec.Files); err != nil {
		// keep what is still on disk recorded so the uninstall can be retried
		rec.Files = left
		if perr := l.Put(ctx, *rec); perr != nil {
			err = errors.Join(err, perr)
		}
		return nil, &Error{Op: "uninstall", Package: name, Err: err}
	}

	if err := l.Delete(ctx, name); err != nil {
		return nil, &Error{Op: "uninstall", Package: name, Err: err}
	}

	m.logger.Debugf("✓ Package %s uninstalled", name)
	return rec, nil
}

// List returns the installed packages
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	l, err := m.openLedger(ctx, false)
	if err != nil || l == nil {
		return nil, err
	}
	return l.List(ctx)
}

// Info merges the manifest entry with the install record.
// An unreachable store is tolerated for installed packages.
func (m *Manager) Info(ctx context.Context, name string) (*Package, error) {
	pkg := &Package{Name: name}

	l, err := m.openLedger(ctx, false)
	if err != nil {
		return nil, &Error{Op: "info", Package: name, Err: err}
	}
	if l != nil {
		rec, err := l.Get(ctx, name)
		switch {
		case err == nil:
			pkg.Installed = true
			pkg.Version = rec.Version
			pkg.Source = rec.Source
			pkg.Files = rec.Files
		case !errors.Is(err, ledger.ErrNotRecorded):
			return nil, &Error{Op: "info", Package: name, Err: err}
		}
	}

	mf, err := m.source.Manifest(ctx)
	if err != nil {
		if pkg.Installed {
			m.logger.Warnf("manifest unavailable: %v", err)
			return pkg, nil
		}
		return nil, &Error{Op: "info", Package: name, Err: err}
	}

	if entry, ok := mf.Lookup(name); ok {
		pkg.Listed = true
		pkg.Description = entry.Description
		if pkg.Version == "" {
			pkg.Version = entry.Version
		}
	}

	if !pkg.Listed && !pkg.Installed {
		return nil, &Error{Op: "info", Package: name, Err: ErrNotListed}
	}
	return pkg, nil
}

// Close releases the ledger and the source
func (m *Manager) Close() error {
	var errs []error
	if m.ledger != nil {
		errs = append(errs, m.ledger.Close())
		m.ledger = nil
	}
	errs = append(errs, m.source.Close())
	return errors.Join(errs...)
}

// commit moves staged files into the packages directory. Whatever a move
// displaces is parked in a backup directory; on failure the moved files are
// removed and the parked ones put back.
func (m *Manager) commit(name, staging string, files []string, owners map[string]string) error {
	root := m.config.PackagesDir
	backup, err := os.MkdirTemp(filepath.Dir(root), ".ustore-backup-*")
	if err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	defer os.RemoveAll(backup)

	var moved, parked []string
	park := func(rel string) error {
		if err := moveFile(filepath.Join(root, filepath.FromSlash(rel)), filepath.Join(backup, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("backing up %s: %w", rel, err)
		}
		parked = append(parked, rel)
		return nil
	}
	rollback := func() {
		m.removeFiles(moved)
		for i := len(parked) - 1; i >= 0; i-- {
			rel := filepath.FromSlash(parked[i])
			if err := moveFile(filepath.Join(backup, rel), filepath.Join(root, rel)); err != nil {
				m.logger.Errorf("failed to restore %s: %v", parked[i], err)
			}
		}
	}

	for _, f := range files {
		if err := m.clearParents(name, f, owners, park); err != nil {
			rollback()
			return err
		}

		dst := filepath.Join(root, filepath.FromSlash(f))
		info, err := os.Lstat(dst)
		switch {
		case err == nil && info.IsDir():
			rollback()
			return fmt.Errorf("moving %s: a directory is in the way", f)
		case err == nil:
			if owners[f] == "" {
				m.logger.Warnf("overwriting untracked file %s", f)
			}
			if err := park(f); err != nil {
				rollback()
				return err
			}
		case !os.IsNotExist(err):
			rollback()
			return fmt.Errorf("moving %s: %w", f, err)
		}

		if err := moveFile(filepath.Join(staging, filepath.FromSlash(f)), dst); err != nil {
			rollback()
			return fmt.Errorf("moving %s: %w", f, err)
		}
		moved = append(moved, f)
	}
	return nil
}

// clearParents makes sure every parent of f is a directory or can become
// one. A file of name's previous install in the way is parked.
func (m *Manager) clearParents(name, f string, owners map[string]string, park func(string) error) error {
	parts := strings.Split(f, "/")
	for i := 1; i < len(parts); i++ {
		dir := strings.Join(parts[:i], "/")
		info, err := os.Lstat(filepath.Join(m.config.PackagesDir, filepath.FromSlash(dir)))
		switch {
		case os.IsNotExist(err):
			return nil
		case err != nil:
			return fmt.Errorf("moving %s: %w", f, err)
		case info.IsDir():
			continue
		case owners[dir] != name:
			return fmt.Errorf("moving %s: %s is in the way", f, dir)
		}
		return park(dir)
	}
	return nil
}

// conflicts reports the first staged file that collides with a file of
// another package: the same path, a parent of it, or a path below it
func conflicts(name string, files []string, owners map[string]string) error {
	below := make(map[string]string)
	for p, owner := range owners {
		if owner == name {
			continue
		}
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			below[dir] = owner
		}
	}

	for _, f := range files {
		if owner, ok := owners[f]; ok && owner != name {
			return fmt.Errorf("%w: %s belongs to %s", ErrFileConflict, f, owner)
		}
		if owner, ok := below[f]; ok {
			return fmt.Errorf("%w: %s holds files of %s", ErrFileConflict, f, owner)
		}
		for dir := path.Dir(f); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if owner, ok := owners[dir]; ok && owner != name {
				return fmt.Errorf("%w: %s belongs to %s", ErrFileConflict, dir, owner)
			}
		}
	}
	return nil
}

// removeFiles deletes files relative to the packages directory and prunes
// the parent directories they leave empty. It returns the files it could
// not remove along with the reasons.
func (m *Manager) removeFiles(files []string) ([]string, error) {
	root := filepath.Clean(m.config.PackagesDir)
	var left []string
	var errs []error
	for _, f := range files {
		rel := filepath.FromSlash(f)
		if !filepath.IsLocal(rel) {
			left = append(left, f)
			errs = append(errs, fmt.Errorf("%s: %w", f, ErrUnsafePath))
			continue
		}

		p := filepath.Join(root, rel)
		if err := os.Remove(p); err != nil {
			if !os.IsNotExist(err) {
				left = append(left, f)
				errs = append(errs, err)
				continue
			}
			m.logger.Debugf("  already gone: %s", f)
		}

		for dir := filepath.Dir(p); dir != root && strings.HasPrefix(dir, root+string(os.PathSeparator)); dir = filepath.Dir(dir) {
			if err := os.Remove(dir); err != nil {
				break
			}
		}
	}
	return left, errors.Join(errs...)
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// Rename fails across devices; copy instead
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// stale returns the entries of old missing from current. A path that is now
// a parent directory of a current file is not stale; commit already moved it.
func stale(old, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, f := range current {
		keep[f] = struct{}{}
		for dir := path.Dir(f); dir != "." && dir != "/"; dir = path.Dir(dir) {
			keep[dir] = struct{}{}
		}
	}
	var out []string
	for _, f := range old {
		if _, ok := keep[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func validateName(name string) error {
	if name == "" || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPackage, name)
	}
	return nil
}
