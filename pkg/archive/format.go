// pkg/archive/format.go
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Format identifies an archive container
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarXz  Format = "tar.xz"
	FormatTarZst Format = "tar.zst"
)

var (
	// ErrUnsupportedFormat indicates the content is not a known archive
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrUnsafePath indicates an entry that would escape the destination
	ErrUnsafePath = errors.New("unsafe archive entry")
)

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicGzip     = []byte{0x1f, 0x8b}
	magicXz       = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicUstar    = []byte("ustar")
)

// headerSize is enough to see the ustar magic at offset 257
const headerSize = 512

// Detect identifies the archive format from the first bytes of the content
func Detect(header []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(header, magicZip), bytes.HasPrefix(header, magicZipEmpty):
		return FormatZip, nil
	case bytes.HasPrefix(header, magicGzip):
		return FormatTarGz, nil
	case bytes.HasPrefix(header, magicXz):
		return FormatTarXz, nil
	case bytes.HasPrefix(header, magicZstd):
		return FormatTarZst, nil
	case len(header) >= 262 && bytes.Equal(header[257:262], magicUstar):
		return FormatTar, nil
	}
	return "", ErrUnsupportedFormat
}

// DetectReader reads the header of r and identifies its format
func DetectReader(r io.ReaderAt) (Format, error) {
	header := make([]byte, headerSize)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading archive header: %w", err)
	}
	return Detect(header[:n])
}
