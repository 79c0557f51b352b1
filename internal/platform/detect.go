package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector with gopsutil.
type RealDetector struct{}

// NewDetector creates a new platform detector
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect reports OS and architecture from the runtime and host details from
// gopsutil. Host lookup failures leave the optional fields empty; only a
// cancelled context is an error.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}
	info.Hostname = hi.Hostname

	if info.IsLinux() && hi.Platform != "" {
		info.Distro = normalize(hi.Platform)
		info.Family = mapFamily(hi.PlatformFamily)
		info.Version = normalize(hi.PlatformVersion)
	}
	return info, nil
}
