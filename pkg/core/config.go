// pkg/core/config.go
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultManifestURL is the store manifest
	DefaultManifestURL = "https://raw.githubusercontent.com/OGURCHINSKIY/aiogram_store/main/store.json"

	// DefaultPackageURL is the archive template; {package} is the package name.
	// DownGit answers this URL with its HTML front end, not a zip, so installs
	// through it fail with an archive error. SourceGit reaches the same tree.
	DefaultPackageURL = "https://minhaskamal.github.io/DownGit/#/home?url=https://github.com/OGURCHINSKIY/aiogram_store/tree/main/aiogram_store/packages/{package}"

	// DefaultRepoURL is the store repository used by the git source
	DefaultRepoURL = "https://github.com/OGURCHINSKIY/aiogram_store"

	DefaultRepoBranch       = "main"
	DefaultRepoManifestPath = "store.json"
	DefaultRepoPackagesPath = "aiogram_store/packages"

	// SourceHTTP fetches the manifest and archives over HTTP
	SourceHTTP = "http"
	// SourceGit reads the manifest and packages from a clone of the store repository
	SourceGit = "git"
)

// Config holds ustore configuration
type Config struct {
	Source           string        `yaml:"source"`
	ManifestURL      string        `yaml:"manifest_url"`
	PackageURL       string        `yaml:"package_url"`
	RepoURL          string        `yaml:"repo_url"`
	RepoBranch       string        `yaml:"repo_branch"`
	RepoManifestPath string        `yaml:"repo_manifest_path"`
	RepoPackagesPath string        `yaml:"repo_packages_path"`
	PackagesDir      string        `yaml:"packages_dir"`
	LedgerPath       string        `yaml:"ledger_path"`
	Timeout          time.Duration `yaml:"timeout"`
	Debug            bool          `yaml:"debug"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	base := installerDir()
	cfg := &Config{
		Source:           SourceHTTP,
		ManifestURL:      DefaultManifestURL,
		PackageURL:       DefaultPackageURL,
		RepoURL:          DefaultRepoURL,
		RepoBranch:       DefaultRepoBranch,
		RepoManifestPath: DefaultRepoManifestPath,
		RepoPackagesPath: DefaultRepoPackagesPath,
		PackagesDir:      filepath.Join(base, "packages"),
		LedgerPath:       filepath.Join(base, "ustore.db"),
		Timeout:          5 * time.Minute,
	}
	applyEnv(cfg)
	return cfg
}

// LoadConfig loads configuration from file. Keys missing from the file keep
// their defaults; a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = filepath.Join(home, ".config", "ustore", "config.yaml")
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".config", "ustore", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks the fields a run depends on
func (c *Config) Validate() error {
	switch c.Source {
	case SourceHTTP:
		if c.ManifestURL == "" || c.PackageURL == "" {
			return fmt.Errorf("config: http source needs manifest_url and package_url")
		}
	case SourceGit:
		if c.RepoURL == "" || c.RepoManifestPath == "" {
			return fmt.Errorf("config: git source needs repo_url and repo_manifest_path")
		}
	default:
		return fmt.Errorf("config: unknown source %q", c.Source)
	}
	if c.PackagesDir == "" {
		return fmt.Errorf("config: packages_dir is required")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("config: ledger_path is required")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("USTORE_PACKAGES_DIR"); v != "" {
		cfg.PackagesDir = v
	}
	if v := os.Getenv("USTORE_MANIFEST_URL"); v != "" {
		cfg.ManifestURL = v
	}
	if v := os.Getenv("USTORE_PACKAGE_URL"); v != "" {
		cfg.PackageURL = v
	}
}

// installerDir is the directory holding the running executable
func installerDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
