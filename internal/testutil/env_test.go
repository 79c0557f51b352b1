package testutil_test

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/krmanik/ankiaddons/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	vars := map[string]string{
		"ADDONCTL_CONFIG_DIR":   env.ConfigDir,
		"ADDONCTL_DATA_DIR":     env.DataDir,
		"ADDONCTL_ADDONS_DIR":   env.AddonsDir,
		"ADDONCTL_DOWNLOAD_DIR": env.DownloadDir,
		"ADDONCTL_TEST_MODE":    "1",
	}
	for name, want := range vars {
		if got := os.Getenv(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	for _, dir := range []string{env.ConfigDir, env.DataDir, env.AddonsDir, env.DownloadDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestTarGz_PreservesOrder(t *testing.T) {
	data := testutil.TarGz(t,
		testutil.Dir("package/"),
		testutil.File("package/package.json", "{}"),
		testutil.Entry{Name: "package/link", Type: tar.TypeSymlink, Linkname: "/etc/passwd"},
	)

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gr)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar: %v", err)
		}
		names = append(names, hdr.Name)
	}

	want := []string{"package/", "package/package.json", "package/link"}
	if len(names) != len(want) {
		t.Fatalf("got entries %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}
