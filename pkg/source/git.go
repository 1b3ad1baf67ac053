// pkg/source/git.go
package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"

	"github.com/arc-language/ustore/pkg/archive"
	"github.com/arc-language/ustore/pkg/manifest"
)

// GitConfig configures the git source
type GitConfig struct {
	RepoURL      string
	Branch       string
	ManifestPath string // manifest file inside the repository
	PackagesPath string // directory holding one subdirectory per package
	Logger       logrus.FieldLogger
}

// GitSource reads the manifest and packages from a shallow clone of the
// store repository. The clone happens once and is shared by Manifest and Fetch.
type GitSource struct {
	config  *GitConfig
	logger  logrus.FieldLogger
	workdir string
	owned   bool
}

// NewGitSource creates a git source
func NewGitSource(cfg *GitConfig) *GitSource {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &GitSource{config: cfg, logger: logger}
}

// Name returns the source kind
func (s *GitSource) Name() string {
	return "git"
}

func (s *GitSource) checkout(ctx context.Context) (string, error) {
	if s.workdir != "" {
		return s.workdir, nil
	}

	tempDir, err := os.MkdirTemp("", "ustore-clone-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}

	s.logger.Debugf("  Cloning %s (%s)", s.config.RepoURL, s.config.Branch)

	_, err = git.PlainCloneContext(ctx, tempDir, false, &git.CloneOptions{
		URL:           s.config.RepoURL,
		ReferenceName: plumbing.NewBranchReferenceName(s.config.Branch),
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("%w: git clone %s: %v", ErrFetch, s.config.RepoURL, err)
	}

	s.workdir = tempDir
	s.owned = true
	return s.workdir, nil
}

// Manifest reads the manifest file from the clone
func (s *GitSource) Manifest(ctx context.Context) (manifest.Manifest, error) {
	dir, err := s.checkout(ctx)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(s.config.ManifestPath)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", manifest.ErrInvalid, err)
	}
	defer f.Close()

	return manifest.Parse(f)
}

// Fetch copies <PackagesPath>/<name> from the clone to dest/<name>
func (s *GitSource) Fetch(ctx context.Context, name, dest string) ([]string, error) {
	if !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: package name %q", archive.ErrUnsafePath, name)
	}

	dir, err := s.checkout(ctx)
	if err != nil {
		return nil, err
	}

	src := filepath.Join(dir, filepath.FromSlash(s.config.PackagesPath), name)
	info, err := os.Stat(src)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: listed in manifest but missing at %s/%s", ErrPackageNotFound, s.config.PackagesPath, name)
	}
	if err != nil {
		return nil, fmt.Errorf("stat package dir: %w", err)
	}

	var files []string
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, name, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case !d.Type().IsRegular():
			return fmt.Errorf("%w: %s is not a regular file", archive.ErrUnsafePath, filepath.ToSlash(rel))
		}

		s.logger.Debugf("  Copying: %s", filepath.ToSlash(filepath.Join(name, rel)))
		if err := copyFile(path, target); err != nil {
			return fmt.Errorf("copying %s: %w", rel, err)
		}
		files = append(files, filepath.ToSlash(filepath.Join(name, rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Close removes the clone
func (s *GitSource) Close() error {
	if s.owned && s.workdir != "" {
		err := os.RemoveAll(s.workdir)
		s.workdir = ""
		s.owned = false
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
