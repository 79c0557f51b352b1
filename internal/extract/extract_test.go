package extract

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/testutil"
)

func extractionError(t *testing.T, err error) *ExtractionError {
	t.Helper()
	require.Error(t, err)
	var xerr *ExtractionError
	require.True(t, errors.As(err, &xerr), "expected *ExtractionError, got %T: %v", err, err)
	return xerr
}

// listFiles returns every path below root, relative and slash separated.
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		entries []testutil.Entry
		want    map[string]string
	}{
		{
			name: "simple_extraction",
			entries: []testutil.Entry{
				testutil.File("package.json", `{"name":"a"}`),
				testutil.File("index.js", "run()"),
			},
			want: map[string]string{"package.json": `{"name":"a"}`, "index.js": "run()"},
		},
		{
			name: "registry_layout",
			entries: []testutil.Entry{
				testutil.Dir("package/"),
				testutil.File("package/package.json", "{}"),
				testutil.File("package/lib/util.js", "util"),
			},
			want: map[string]string{"package/package.json": "{}", "package/lib/util.js": "util"},
		},
		{
			name: "files_without_directory_entries",
			entries: []testutil.Entry{
				testutil.File("a/b/c/deep.txt", "deep"),
			},
			want: map[string]string{"a/b/c/deep.txt": "deep"},
		},
		{
			name: "empty_file",
			entries: []testutil.Entry{
				testutil.File("empty", ""),
			},
			want: map[string]string{"empty": ""},
		},
		{
			name: "dot_slash_prefix",
			entries: []testutil.Entry{
				testutil.Dir("./"),
				testutil.File("./index.js", "x"),
			},
			want: map[string]string{"index.js": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz", tt.entries...)
			target := filepath.Join(t.TempDir(), "out")

			require.NoError(t, New().Extract(context.Background(), archive, target))

			for name, body := range tt.want {
				got, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(name)))
				require.NoError(t, err, name)
				assert.Equal(t, body, string(got), name)
			}

			_, err := os.Stat(archive)
			assert.True(t, os.IsNotExist(err), "archive should be removed after extraction")
		})
	}
}

func TestExtract_ExecutableBit(t *testing.T) {
	archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz",
		testutil.Entry{Name: "bin/run", Body: "#!/bin/sh", Mode: 0o755},
		testutil.Entry{Name: "setuid", Body: "x", Mode: 0o4777},
	)
	target := t.TempDir()

	require.NoError(t, New().Extract(context.Background(), archive, target))

	info, err := os.Stat(filepath.Join(target, "bin", "run"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100)

	info, err = os.Stat(filepath.Join(target, "setuid"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSetuid)
}

func TestExtract_Idempotent(t *testing.T) {
	entries := []testutil.Entry{
		testutil.Dir("package/"),
		testutil.File("package/package.json", `{"name":"a"}`),
		testutil.File("package/index.js", "run()"),
	}
	target := filepath.Join(t.TempDir(), "out")

	var runs [][]string
	for i := 0; i < 2; i++ {
		require.NoError(t, os.RemoveAll(target))
		archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz", entries...)

		require.NoError(t, New().Extract(context.Background(), archive, target))
		runs = append(runs, listFiles(t, target))
	}

	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, []string{"package", "package/index.js", "package/package.json"}, runs[0])
}

func TestExtract_Traversal(t *testing.T) {
	names := []string{
		"../../evil",
		"../evil",
		"package/../../evil",
		"/etc/evil",
		`..\..\evil`,
		"C:/evil",
		"package/..",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			base := t.TempDir()
			target := filepath.Join(base, "a", "b", "out")
			archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz",
				testutil.File("ok.txt", "ok"),
				testutil.File(name, "pwned"),
			)

			err := New().Extract(context.Background(), archive, target)

			xerr := extractionError(t, err)
			assert.Equal(t, KindTraversal, xerr.Kind)
			assert.Equal(t, name, xerr.Entry)

			// Nothing escaped the target directory.
			for _, f := range listFiles(t, base) {
				assert.False(t, strings.HasSuffix(f, "evil"), "unexpected file %s", f)
			}
			_, err = os.Stat(archive)
			assert.True(t, os.IsNotExist(err), "archive should be removed after failure")
		})
	}
}

func TestExtract_UnsupportedEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry testutil.Entry
	}{
		{"symlink", testutil.Entry{Name: "link", Type: tar.TypeSymlink, Linkname: "/etc/passwd"}},
		{"relative_symlink", testutil.Entry{Name: "link", Type: tar.TypeSymlink, Linkname: "index.js"}},
		{"hardlink", testutil.Entry{Name: "hard", Type: tar.TypeLink, Linkname: "index.js"}},
		{"char_device", testutil.Entry{Name: "tty", Type: tar.TypeChar}},
		{"block_device", testutil.Entry{Name: "sda", Type: tar.TypeBlock}},
		{"fifo", testutil.Entry{Name: "pipe", Type: tar.TypeFifo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz",
				testutil.File("index.js", "x"),
				tt.entry,
			)
			target := t.TempDir()

			xerr := extractionError(t, New().Extract(context.Background(), archive, target))
			assert.Equal(t, KindUnsupportedEntry, xerr.Kind)

			_, err := os.Lstat(filepath.Join(target, tt.entry.Name))
			assert.True(t, os.IsNotExist(err), "special entry must not be created")
		})
	}
}

func TestExtract_Malformed(t *testing.T) {
	t.Run("not_gzip", func(t *testing.T) {
		archive := filepath.Join(t.TempDir(), "addon.tgz")
		require.NoError(t, os.WriteFile(archive, []byte("<html>not found</html>"), 0o644))

		xerr := extractionError(t, New().Extract(context.Background(), archive, t.TempDir()))
		assert.Equal(t, KindMalformed, xerr.Kind)
		_, err := os.Stat(archive)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("truncated_body", func(t *testing.T) {
		archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz",
			testutil.File("ok.txt", "ok"),
			testutil.Entry{Name: "short.txt", Body: "abc", Size: 4096},
		)

		xerr := extractionError(t, New().Extract(context.Background(), archive, t.TempDir()))
		assert.Equal(t, KindMalformed, xerr.Kind)
	})

	t.Run("too_many_entries", func(t *testing.T) {
		archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz",
			testutil.File("a", "1"),
			testutil.File("b", "2"),
			testutil.File("c", "3"),
		)

		xerr := extractionError(t, New(WithLimits(2, 0)).Extract(context.Background(), archive, t.TempDir()))
		assert.Equal(t, KindMalformed, xerr.Kind)
		assert.Equal(t, "c", xerr.Entry)
	})

	t.Run("too_large", func(t *testing.T) {
		archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz",
			testutil.File("a", strings.Repeat("x", 600)),
			testutil.File("b", strings.Repeat("y", 600)),
		)

		xerr := extractionError(t, New(WithLimits(0, 1000)).Extract(context.Background(), archive, t.TempDir()))
		assert.Equal(t, KindMalformed, xerr.Kind)
		assert.Equal(t, "b", xerr.Entry)
	})
}

func TestExtract_MissingArchive(t *testing.T) {
	xerr := extractionError(t, New().Extract(context.Background(), filepath.Join(t.TempDir(), "nope.tgz"), t.TempDir()))
	assert.Equal(t, KindIO, xerr.Kind)
}

func TestExtract_Cancelled(t *testing.T) {
	archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz", testutil.File("index.js", "x"))
	target := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	xerr := extractionError(t, New().Extract(ctx, archive, target))
	assert.Equal(t, KindCancelled, xerr.Kind)
	assert.ErrorIs(t, xerr, context.Canceled)
	assert.Empty(t, listFiles(t, target))

	_, err := os.Stat(archive)
	assert.True(t, os.IsNotExist(err))
}

func TestExtract_LogsSecurityEvent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ex := New(WithLogger(logging.Wrap(zap.New(core))))

	archive := testutil.WriteTarGz(t, t.TempDir(), "addon.tgz", testutil.File("../../evil", "x"))
	_ = ex.Extract(context.Background(), archive, t.TempDir())

	entries := logs.FilterField(zap.Bool("security_event", true)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "traversal", entries[0].ContextMap()["kind"])
}

func TestCleanJoin(t *testing.T) {
	root := t.TempDir()

	got, err := cleanJoin(root, "package/index.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "package", "index.js"), got)

	got, err = cleanJoin(root, "./")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	for _, bad := range []string{"../x", "/abs", "a:b", `a\..\..\b`} {
		_, err := cleanJoin(root, bad)
		assert.Error(t, err, bad)
	}
}
