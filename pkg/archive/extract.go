// pkg/archive/extract.go
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// Extractor unpacks package archives into a destination directory.
// Every entry must stay inside the destination; links and device nodes are
// refused.
type Extractor struct {
	logger logrus.FieldLogger
}

// NewExtractor creates an extractor. A nil logger discards output.
func NewExtractor(logger logrus.FieldLogger) *Extractor {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Extractor{logger: logger}
}

// ExtractFile unpacks the archive at path into dest and returns the extracted
// regular files as sorted slash-separated paths relative to dest.
func (e *Extractor) ExtractFile(ctx context.Context, path, dest string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	format, err := DetectReader(f)
	if err != nil {
		return nil, err
	}
	e.logger.Debugf("  Archive format: %s", format)

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}

	var files []string
	switch format {
	case FormatZip:
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat archive: %w", err)
		}
		files, err = e.extractZip(ctx, f, info.Size(), dest)
		if err != nil {
			return nil, err
		}
	default:
		stream, closer, err := decompress(format, f)
		if err != nil {
			return nil, err
		}
		files, err = e.extractTar(ctx, stream, dest)
		closer()
		if err != nil {
			return nil, err
		}
	}

	return uniqueSorted(files), nil
}

// decompress wraps r with the decoder for format
func decompress(format Format, r io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatTar:
		return r, func() {}, nil
	case FormatTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gzip: %v", ErrUnsupportedFormat, err)
		}
		return gz, func() { gz.Close() }, nil
	case FormatTarXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: xz: %v", ErrUnsupportedFormat, err)
		}
		return xzr, func() {}, nil
	case FormatTarZst:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %v", ErrUnsupportedFormat, err)
		}
		return dec, dec.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func (e *Extractor) extractZip(ctx context.Context, r io.ReaderAt, size int64, dest string) ([]string, error) {
	reader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: zip: %v", ErrUnsupportedFormat, err)
	}

	var files []string
	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel, target, err := resolveEntry(dest, file.Name)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}

		mode := file.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", file.Name, err)
			}
			continue
		case !mode.IsRegular():
			return nil, fmt.Errorf("%w: %s is not a regular file (%s)", ErrUnsafePath, file.Name, mode.Type())
		}

		e.logger.Debugf("  Extracting: %s", file.Name)

		src, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrUnsupportedFormat, file.Name, err)
		}
		err = writeFile(target, src, mode.Perm())
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("extracting file %s: %w", file.Name, err)
		}

		files = append(files, filepath.ToSlash(rel))
	}

	return files, nil
}

func (e *Extractor) extractTar(ctx context.Context, r io.Reader, dest string) ([]string, error) {
	tr := tar.NewReader(r)

	var files []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tar: %v", ErrUnsupportedFormat, err)
		}

		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		rel, target, err := resolveEntry(dest, hdr.Name)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			e.logger.Debugf("  Extracting: %s", hdr.Name)
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return nil, fmt.Errorf("extracting file %s: %w", hdr.Name, err)
			}
			files = append(files, filepath.ToSlash(rel))
		default:
			return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrUnsafePath, hdr.Name, hdr.Typeflag)
		}
	}

	return files, nil
}

// resolveEntry validates an entry name and returns its cleaned relative path
// and the target inside dest. An empty rel means the entry is the root itself.
func resolveEntry(dest, name string) (string, string, error) {
	if name == "" || strings.Contains(name, "\x00") {
		return "", "", fmt.Errorf("%w: empty or invalid name %q", ErrUnsafePath, name)
	}

	rel := filepath.Clean(filepath.FromSlash(name))
	if rel == "." {
		return "", "", nil
	}
	if !filepath.IsLocal(rel) {
		return "", "", fmt.Errorf("%w: %q escapes the destination", ErrUnsafePath, name)
	}

	target, err := securejoin.SecureJoin(dest, rel)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrUnsafePath, name, err)
	}

	return rel, target, nil
}

func writeFile(target string, src io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0644
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func uniqueSorted(files []string) []string {
	sort.Strings(files)
	out := files[:0]
	for i, f := range files {
		if i > 0 && f == files[i-1] {
			continue
		}
		out = append(out, f)
	}
	return out
}
