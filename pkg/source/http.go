// pkg/source/http.go
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arc-language/ustore/pkg/archive"
	"github.com/arc-language/ustore/pkg/manifest"
)

// PackagePlaceholder is replaced with the package name in PackageURL
const PackagePlaceholder = "{package}"

// HTTPConfig configures the HTTP source
type HTTPConfig struct {
	ManifestURL string // JSON manifest
	PackageURL  string // archive URL template containing {package}
	Timeout     time.Duration
	Logger      logrus.FieldLogger
}

// HTTPSource reads the manifest and package archives over HTTP
type HTTPSource struct {
	client    *Client
	config    *HTTPConfig
	logger    logrus.FieldLogger
	extractor *archive.Extractor
}

// NewHTTPSource creates an HTTP source
func NewHTTPSource(cfg *HTTPConfig) *HTTPSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &HTTPSource{
		client:    NewClientWithTimeout(cfg.Timeout),
		config:    cfg,
		logger:    logger,
		extractor: archive.NewExtractor(logger),
	}
}

// Name returns the source kind
func (s *HTTPSource) Name() string {
	return "http"
}

// Manifest fetches and parses the manifest document
func (s *HTTPSource) Manifest(ctx context.Context) (manifest.Manifest, error) {
	s.logger.Debugf("  Fetching manifest: %s", s.config.ManifestURL)

	resp, err := s.client.Get(ctx, s.config.ManifestURL)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, fmt.Errorf("%w: %v", manifest.ErrInvalid, err)
		}
		return nil, fmt.Errorf("%w: manifest: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	return manifest.Parse(resp.Body)
}

// PackageURL expands the package URL template for name
func (s *HTTPSource) PackageURL(name string) string {
	return strings.ReplaceAll(s.config.PackageURL, PackagePlaceholder, url.PathEscape(name))
}

// Fetch downloads the package archive and extracts it under dest.
// A 404 from the package endpoint means the manifest lists a package the
// store does not serve; any other failure status is a fetch error.
func (s *HTTPSource) Fetch(ctx context.Context, name, dest string) ([]string, error) {
	link := s.PackageURL(name)
	s.logger.Debugf("  Downloading from: %s", link)

	tmp, err := os.CreateTemp("", "ustore-*.archive")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := s.client.Download(ctx, link, tmp)
	closeErr := tmp.Close()
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: listed in manifest but missing at %s", ErrPackageNotFound, link)
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("writing temp file: %w", closeErr)
	}
	s.logger.Debugf("  Downloaded %d bytes", written)

	return s.extractor.ExtractFile(ctx, tmp.Name(), dest)
}

// Close releases idle connections
func (s *HTTPSource) Close() error {
	s.client.httpClient.CloseIdleConnections()
	return nil
}
