// Package extract unpacks addon tarballs into a target directory.
//
// Archive contents are untrusted: every entry is resolved against the target
// directory and the whole extraction aborts on the first entry that would
// land outside it. Only directories and regular files are honored.
package extract

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"

	"github.com/krmanik/ankiaddons/internal/logging"
)

const (
	// DefaultMaxEntries bounds the number of entries in one archive.
	DefaultMaxEntries = 10000
	// DefaultMaxBytes bounds the total uncompressed size of regular files.
	DefaultMaxBytes int64 = 256 << 20
)

// Extractor handles archive extraction
type Extractor struct {
	maxEntries int
	maxBytes   int64
	logger     logging.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger for security events and progress.
func WithLogger(l logging.Logger) Option {
	return func(e *Extractor) { e.logger = logging.OrNop(l) }
}

// WithLimits overrides the entry count and total size limits. Values <= 0
// keep the defaults.
func WithLimits(maxEntries int, maxBytes int64) Option {
	return func(e *Extractor) {
		if maxEntries > 0 {
			e.maxEntries = maxEntries
		}
		if maxBytes > 0 {
			e.maxBytes = maxBytes
		}
	}
}

// New creates a new extractor
func New(opts ...Option) *Extractor {
	e := &Extractor{
		maxEntries: DefaultMaxEntries,
		maxBytes:   DefaultMaxBytes,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract unpacks the gzip-compressed tar at archivePath into targetDir.
//
// The archive file is removed when Extract returns, whatever the outcome. On
// failure targetDir may hold a partial tree; the caller owns its cleanup and
// must not publish it. The returned error is always an *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, archivePath, targetDir string) (err error) {
	defer func() {
		if rmErr := os.Remove(archivePath); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warn("failed to remove archive", "archive", archivePath, "error", rmErr)
		}
	}()

	defer func() {
		var xerr *ExtractionError
		if errors.As(err, &xerr) && xerr.Kind.SecurityRelevant() {
			e.logger.Warn("archive rejected",
				"archive", archivePath,
				"entry", xerr.Entry,
				"kind", xerr.Kind.String(),
				"error", xerr.Err,
				"security_event", true)
		}
	}()

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return newError(KindIO, "", fmt.Errorf("open archive: %w", err))
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return newError(KindMalformed, "", fmt.Errorf("create gzip reader: %w", err))
	}
	defer gzipReader.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return newError(KindIO, "", fmt.Errorf("create target dir: %w", err))
	}

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return newError(KindIO, "", fmt.Errorf("resolve target dir: %w", err))
	}

	tarReader := tar.NewReader(gzipReader)
	var (
		entries int
		written int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return newError(KindCancelled, "", err)
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return newError(KindMalformed, "", fmt.Errorf("read tar header: %w", err))
		}

		entries++
		if entries > e.maxEntries {
			return newError(KindMalformed, header.Name, fmt.Errorf("archive has more than %d entries", e.maxEntries))
		}

		target, err := cleanJoin(root, header.Name)
		if err != nil {
			return newError(KindTraversal, header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return newError(KindIO, header.Name, fmt.Errorf("create directory: %w", err))
			}

		case tar.TypeReg:
			if header.Size < 0 {
				return newError(KindMalformed, header.Name, fmt.Errorf("negative size %d", header.Size))
			}
			written += header.Size
			if written > e.maxBytes {
				return newError(KindMalformed, header.Name, fmt.Errorf("archive expands beyond %d bytes", e.maxBytes))
			}
			if target == root {
				return newError(KindMalformed, header.Name, errors.New("regular file entry names the target directory"))
			}
			if err := writeFile(target, tarReader, header); err != nil {
				return err
			}

		case tar.TypeXGlobalHeader:
			// PAX global headers carry metadata only.
			continue

		default:
			return newError(KindUnsupportedEntry, header.Name, fmt.Errorf("unsupported entry type %s", typeName(header.Typeflag)))
		}

		e.logger.Debug("extracted entry", "entry", header.Name, "size", header.Size)
	}

	e.logger.Debug("archive extracted", "archive", archivePath, "target", targetDir, "entries", entries, "bytes", written)
	return nil
}

// writeFile copies exactly header.Size bytes from r into target.
func writeFile(target string, r io.Reader, header *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return newError(KindIO, header.Name, fmt.Errorf("create parent dir: %w", err))
	}

	mode := os.FileMode(0o644)
	if header.Mode&0o111 != 0 {
		mode = 0o755
	}

	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return newError(KindIO, header.Name, fmt.Errorf("create file: %w", err))
	}

	n, copyErr := io.CopyN(outFile, r, header.Size)
	closeErr := outFile.Close()

	switch {
	case errors.Is(copyErr, io.EOF), errors.Is(copyErr, io.ErrUnexpectedEOF):
		return newError(KindMalformed, header.Name, fmt.Errorf("size mismatch: declared %d bytes, got %d", header.Size, n))
	case copyErr != nil:
		return newError(KindIO, header.Name, fmt.Errorf("write file: %w", copyErr))
	case closeErr != nil:
		return newError(KindIO, header.Name, fmt.Errorf("close file: %w", closeErr))
	}
	return nil
}

// cleanJoin resolves an archive entry name below root, rejecting names that
// try to leave it.
func cleanJoin(root, name string) (string, error) {
	// A drive separator on Windows, the path list separator elsewhere.
	if strings.Contains(name, ":") {
		return "", errors.New("path contains ':', which is illegal")
	}

	// tar does not convert separators; treat a backslash as one.
	name = strings.ReplaceAll(name, `\`, "/")

	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", errors.New("path contains '..', which is illegal")
		}
	}

	if path.IsAbs(name) {
		return "", errors.New("path is absolute, which is illegal")
	}

	joined, err := securejoin.SecureJoin(root, name)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path resolves outside %s", root)
	}
	return joined, nil
}

func typeName(flag byte) string {
	switch flag {
	case tar.TypeSymlink:
		return "symlink"
	case tar.TypeLink:
		return "hardlink"
	case tar.TypeChar:
		return "character device"
	case tar.TypeBlock:
		return "block device"
	case tar.TypeFifo:
		return "fifo"
	default:
		return fmt.Sprintf("%q", flag)
	}
}
