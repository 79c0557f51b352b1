// Package platform describes the host addonctl runs on and exposes it to the
// Lua configuration file as a read-only table.
package platform

import "context"

// Linux distribution families.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info contains platform detection information.
type Info struct {
	OS       string // runtime.GOOS
	Arch     string // runtime.GOARCH
	Hostname string
	Distro   string // Linux only, e.g. "ubuntu"
	Family   string // Linux only, one of the Family constants
	Version  string // Linux only, e.g. "24.04"
}

// IsLinux reports whether the host is Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS reports whether the host is macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// IsWindows reports whether the host is Windows.
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Static is a Detector that always returns the same Info.
type Static Info

// Detect returns a copy of s.
func (s Static) Detect(context.Context) (*Info, error) {
	info := Info(s)
	return &info, nil
}
