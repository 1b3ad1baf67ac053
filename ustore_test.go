package ustore

import (
	"archive/zip"
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-language/ustore/pkg/core"
)

type store struct {
	manifest string
	archives map[string][]byte
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestManager(t *testing.T, s *store) (*Manager, *core.Config) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/store.json" {
			w.Write([]byte(s.manifest))
			return
		}
		data, ok := s.archives[path.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)

	base := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.ManifestURL = srv.URL + "/store.json"
	cfg.PackageURL = srv.URL + "/packages/{package}"
	cfg.PackagesDir = filepath.Join(base, "packages")
	cfg.LedgerPath = filepath.Join(base, "ustore.db")

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, cfg
}

// tree lists the regular files under root as slash paths
func tree(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, _ := filepath.Rel(root, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestInstallExtractsExactlyTheArchive(t *testing.T) {
	m, cfg := newTestManager(t, &store{
		manifest: `{"PostgresStorage": {"version": "1.0"}}`,
		archives: map[string][]byte{"PostgresStorage": zipOf(t, map[string]string{
			"PostgresStorage/__init__.py": "storage",
			"PostgresStorage/README.md":   "readme",
		})},
	})

	rec, err := m.Install(context.Background(), "PostgresStorage")
	require.NoError(t, err)
	assert.Equal(t, "1.0", rec.Version)
	assert.Equal(t, "http", rec.Source)
	assert.Equal(t, []string{"PostgresStorage/README.md", "PostgresStorage/__init__.py"}, rec.Files)
	assert.Equal(t, rec.Files, tree(t, cfg.PackagesDir))

	// no staging leftovers beside the packages directory
	entries, err := os.ReadDir(filepath.Dir(cfg.PackagesDir))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"packages", "ustore.db"}, names)
}

func TestInstallNotListedWritesNothing(t *testing.T) {
	m, cfg := newTestManager(t, &store{manifest: `{}`})

	_, err := m.Install(context.Background(), "nonexistent-pkg")
	assert.ErrorIs(t, err, ErrNotListed)
	assert.ErrorIs(t, err, ErrPackageNotFound)

	entries, err := os.ReadDir(filepath.Dir(cfg.PackagesDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInstallListedButMissingAtSource(t *testing.T) {
	m, _ := newTestManager(t, &store{manifest: `{"ghost": {}}`})

	_, err := m.Install(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPackageNotFound)
	assert.NotErrorIs(t, err, ErrNotListed)

	var opErr *Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "install", opErr.Op)
	assert.Equal(t, "ghost", opErr.Package)
}

func TestInstallRejectsTraversal(t *testing.T) {
	m, cfg := newTestManager(t, &store{
		manifest: `{"evil": {}}`,
		archives: map[string][]byte{"evil": zipOf(t, map[string]string{"../../escaped.py": "x"})},
	})

	_, err := m.Install(context.Background(), "evil")
	assert.ErrorIs(t, err, ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfg.PackagesDir), "escaped.py"))
	assert.Empty(t, tree(t, cfg.PackagesDir))
}

func TestInstallRejectsGarbage(t *testing.T) {
	m, _ := newTestManager(t, &store{
		manifest: `{"html": {}}`,
		archives: map[string][]byte{"html": []byte("<html>DownGit</html>")},
	})

	_, err := m.Install(context.Background(), "html")
	assert.ErrorIs(t, err, ErrArchive)
}

func TestInstallUnlistedNameIsNotListed(t *testing.T) {
	m, cfg := newTestManager(t, &store{manifest: `{}`})
	for _, name := range []string{"", "..", "a/b", "-x"} {
		_, err := m.Install(context.Background(), name)
		assert.ErrorIs(t, err, ErrNotListed, "name %q", name)
	}
	assert.NoDirExists(t, cfg.PackagesDir)
}

func TestInstallListedInvalidName(t *testing.T) {
	m, cfg := newTestManager(t, &store{manifest: `{"..": {}, "a/b": {}, "../x": {}}`})
	for _, name := range []string{"..", "a/b", "../x"} {
		_, err := m.Install(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidPackage, "name %q", name)
	}
	assert.NoDirExists(t, cfg.PackagesDir)
}

func TestInstallConflictWithOtherPackage(t *testing.T) {
	m, cfg := newTestManager(t, &store{
		manifest: `{"a": {}, "b": {}}`,
		archives: map[string][]byte{
			"a": zipOf(t, map[string]string{"shared/util.py": "from a"}),
			"b": zipOf(t, map[string]string{"shared/util.py": "from b", "b/main.py": "b"}),
		},
	})
	ctx := context.Background()

	_, err := m.Install(ctx, "a")
	require.NoError(t, err)

	_, err = m.Install(ctx, "b")
	assert.ErrorIs(t, err, ErrFileConflict)

	data, err := os.ReadFile(filepath.Join(cfg.PackagesDir, "shared", "util.py"))
	require.NoError(t, err)
	assert.Equal(t, "from a", string(data))
	assert.NoFileExists(t, filepath.Join(cfg.PackagesDir, "b", "main.py"))
}

func TestReinstallDropsStaleFiles(t *testing.T) {
	s := &store{
		manifest: `{"pkg": {"version": "1"}}`,
		archives: map[string][]byte{},
	}
	m, cfg := newTestManager(t, s)
	ctx := context.Background()

	s.archives["pkg"] = zipOf(t, map[string]string{"pkg/old.py": "1", "pkg/keep.py": "1"})
	_, err := m.Install(ctx, "pkg")
	require.NoError(t, err)

	s.manifest = `{"pkg": {"version": "2"}}`
	s.archives["pkg"] = zipOf(t, map[string]string{"pkg/new.py": "2", "pkg/keep.py": "2"})
	rec, err := m.Install(ctx, "pkg")
	require.NoError(t, err)
	assert.Equal(t, "2", rec.Version)

	assert.Equal(t, []string{"pkg/keep.py", "pkg/new.py"}, tree(t, cfg.PackagesDir))
}

func TestInstallConflictThroughParentPath(t *testing.T) {
	m, cfg := newTestManager(t, &store{
		manifest: `{"a": {}, "b": {}, "c": {}, "d": {}}`,
		archives: map[string][]byte{
			"a": zipOf(t, map[string]string{"shared": "a file"}),
			"b": zipOf(t, map[string]string{"b/main.py": "b", "shared/x.py": "b"}),
			"c": zipOf(t, map[string]string{"lib/x.py": "c"}),
			"d": zipOf(t, map[string]string{"d/main.py": "d", "lib": "d file"}),
		},
	})
	ctx := context.Background()

	// a file of a where b needs a directory
	_, err := m.Install(ctx, "a")
	require.NoError(t, err)
	_, err = m.Install(ctx, "b")
	assert.ErrorIs(t, err, ErrFileConflict)
	assert.NoDirExists(t, filepath.Join(cfg.PackagesDir, "b"))

	// a directory holding files of c where d ships a file
	_, err = m.Install(ctx, "c")
	require.NoError(t, err)
	_, err = m.Install(ctx, "d")
	assert.ErrorIs(t, err, ErrFileConflict)
	assert.NoDirExists(t, filepath.Join(cfg.PackagesDir, "d"))

	assert.Equal(t, []string{"lib/x.py", "shared"}, tree(t, cfg.PackagesDir))
}

func TestReinstallReplacesOwnFileWithDirectory(t *testing.T) {
	s := &store{
		manifest: `{"pkg": {"version": "1"}}`,
		archives: map[string][]byte{},
	}
	m, cfg := newTestManager(t, s)
	ctx := context.Background()

	s.archives["pkg"] = zipOf(t, map[string]string{"pkg/a.py": "1", "pkg/b": "1"})
	_, err := m.Install(ctx, "pkg")
	require.NoError(t, err)

	s.archives["pkg"] = zipOf(t, map[string]string{"pkg/a.py": "2", "pkg/b/c.py": "2"})
	rec, err := m.Install(ctx, "pkg")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/a.py", "pkg/b/c.py"}, rec.Files)
	assert.Equal(t, rec.Files, tree(t, cfg.PackagesDir))
}

func TestFailedReinstallRestoresPreviousFiles(t *testing.T) {
	s := &store{
		manifest: `{"pkg": {"version": "1"}}`,
		archives: map[string][]byte{},
	}
	m, cfg := newTestManager(t, s)
	ctx := context.Background()

	s.archives["pkg"] = zipOf(t, map[string]string{"pkg/a.py": "1"})
	_, err := m.Install(ctx, "pkg")
	require.NoError(t, err)

	// untracked files: one the new version overwrites, one that blocks it
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PackagesDir, "pkg", "0.py"), []byte("mine"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PackagesDir, "pkg", "b"), []byte("mine"), 0644))

	s.manifest = `{"pkg": {"version": "2"}}`
	s.archives["pkg"] = zipOf(t, map[string]string{"pkg/0.py": "2", "pkg/a.py": "2", "pkg/b/c.py": "2"})
	_, err = m.Install(ctx, "pkg")
	require.Error(t, err)

	for name, want := range map[string]string{"0.py": "mine", "a.py": "1", "b": "mine"} {
		data, err := os.ReadFile(filepath.Join(cfg.PackagesDir, "pkg", name))
		require.NoError(t, err, name)
		assert.Equal(t, want, string(data), name)
	}
	assert.Equal(t, []string{"pkg/0.py", "pkg/a.py", "pkg/b"}, tree(t, cfg.PackagesDir))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].Version)
	assert.Equal(t, []string{"pkg/a.py"}, list[0].Files)

	entries, err := os.ReadDir(filepath.Dir(cfg.PackagesDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staging or backup directories left behind")
}

func TestInstallDescriptorVersionWins(t *testing.T) {
	m, _ := newTestManager(t, &store{
		manifest: `{"pkg": {"version": "1.0"}}`,
		archives: map[string][]byte{"pkg": zipOf(t, map[string]string{
			"pkg/package.toml": "version = \"1.0.3\"\nrequires = [\"asyncpg\"]\n",
			"pkg/__init__.py":  "",
		})},
	})

	rec, err := m.Install(context.Background(), "pkg")
	require.NoError(t, err)
	assert.Equal(t, "1.0.3", rec.Version)
}

func TestUninstallRemovesRecordedFiles(t *testing.T) {
	m, cfg := newTestManager(t, &store{
		manifest: `{"RequestMiddleware": {}}`,
		archives: map[string][]byte{"RequestMiddleware": zipOf(t, map[string]string{
			"RequestMiddleware/middleware.py":    "hooks",
			"RequestMiddleware/skip/__init__.py": "",
		})},
	})
	ctx := context.Background()

	_, err := m.Install(ctx, "RequestMiddleware")
	require.NoError(t, err)

	// a file the user dropped in is left alone
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PackagesDir, "local.py"), []byte("mine"), 0644))

	rec, err := m.Uninstall(ctx, "RequestMiddleware")
	require.NoError(t, err)
	assert.Len(t, rec.Files, 2)

	assert.Equal(t, []string{"local.py"}, tree(t, cfg.PackagesDir))
	assert.NoDirExists(t, filepath.Join(cfg.PackagesDir, "RequestMiddleware"))
	assert.DirExists(t, cfg.PackagesDir)

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUninstallKeepsRecordOfFilesItCannotRemove(t *testing.T) {
	m, cfg := newTestManager(t, &store{
		manifest: `{"PostgresStorage": {}}`,
		archives: map[string][]byte{"PostgresStorage": zipOf(t, map[string]string{
			"PostgresStorage/__init__.py": "storage",
			"PostgresStorage/README.md":   "readme",
		})},
	})
	ctx := context.Background()

	_, err := m.Install(ctx, "PostgresStorage")
	require.NoError(t, err)

	// the recorded file turned into a directory someone filled
	blocked := filepath.Join(cfg.PackagesDir, "PostgresStorage", "__init__.py")
	require.NoError(t, os.Remove(blocked))
	require.NoError(t, os.MkdirAll(blocked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "x.py"), []byte("x"), 0644))

	_, err = m.Uninstall(ctx, "PostgresStorage")
	require.Error(t, err)
	var opErr *Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "uninstall", opErr.Op)
	var pathErr *fs.PathError
	assert.ErrorAs(t, err, &pathErr)

	assert.NoFileExists(t, filepath.Join(cfg.PackagesDir, "PostgresStorage", "README.md"))
	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"PostgresStorage/__init__.py"}, list[0].Files)

	require.NoError(t, os.RemoveAll(blocked))
	_, err = m.Uninstall(ctx, "PostgresStorage")
	require.NoError(t, err)
	list, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUninstallUnknown(t *testing.T) {
	m, cfg := newTestManager(t, &store{manifest: `{}`})

	_, err := m.Uninstall(context.Background(), "never-installed")
	assert.ErrorIs(t, err, ErrNotInstalled)
	assert.NoFileExists(t, cfg.LedgerPath)
}

func TestListAndInfo(t *testing.T) {
	m, _ := newTestManager(t, &store{
		manifest: `{"a": {"description": "first", "version": "0.1"}, "b": {"description": "second"}}`,
		archives: map[string][]byte{"a": zipOf(t, map[string]string{"a/x.py": ""})},
	})
	ctx := context.Background()

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = m.Install(ctx, "a")
	require.NoError(t, err)

	list, err = m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Name)

	info, err := m.Info(ctx, "a")
	require.NoError(t, err)
	assert.True(t, info.Installed)
	assert.True(t, info.Listed)
	assert.Equal(t, "first", info.Description)
	assert.Equal(t, []string{"a/x.py"}, info.Files)

	info, err = m.Info(ctx, "b")
	require.NoError(t, err)
	assert.False(t, info.Installed)
	assert.Equal(t, "second", info.Description)

	_, err = m.Info(ctx, "c")
	assert.ErrorIs(t, err, ErrPackageNotFound)
}
