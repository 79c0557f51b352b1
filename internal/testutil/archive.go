package testutil

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// Entry is one tar entry for TarGz. A zero Type means a regular file.
type Entry struct {
	Name     string
	Body     string
	Type     byte
	Linkname string
	Mode     int64
	// Size overrides the declared size when non-zero. An entry whose body is
	// shorter than Size truncates the archive, so it must be the last one.
	Size int64
}

// File is shorthand for a regular file entry.
func File(name, body string) Entry {
	return Entry{Name: name, Body: body, Type: tar.TypeReg}
}

// Dir is shorthand for a directory entry.
func Dir(name string) Entry {
	return Entry{Name: name, Type: tar.TypeDir, Mode: 0o755}
}

// TarGz builds a gzip-compressed tar archive in memory, preserving entry order.
func TarGz(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		typ := e.Type
		if typ == 0 {
			typ = tar.TypeReg
		}
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		size := int64(len(e.Body))
		if typ != tar.TypeReg {
			size = 0
		}
		if e.Size != 0 {
			size = e.Size
		}

		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: typ,
			Linkname: e.Linkname,
			Mode:     mode,
			Size:     size,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header for %s: %v", e.Name, err)
		}
		if typ == tar.TypeReg && e.Body != "" {
			_, _ = tw.Write([]byte(e.Body))
		}
	}

	// Close fails only for a short final body, leaving the archive truncated.
	_ = tw.Close()
	if err := gw.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

// WriteTarGz writes TarGz output to dir/name and returns the path.
func WriteTarGz(t *testing.T, dir, name string, entries ...Entry) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, TarGz(t, entries...), 0o644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	return path
}

// AddonArchive returns a registry-style tarball for a minimal addon: a
// package/ directory holding package.json and index.js.
func AddonArchive(t *testing.T, packageJSON string) []byte {
	t.Helper()

	return TarGz(t,
		Dir("package/"),
		File("package/package.json", packageJSON),
		File("package/index.js", "console.log('addon loaded');\n"),
	)
}
