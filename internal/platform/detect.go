package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector reads the running host.
type RealDetector struct{}

// NewDetector returns the host detector.
func NewDetector() Detector {
	return RealDetector{}
}

// Detect returns OS and architecture from the runtime and the rest from
// gopsutil. A gopsutil failure leaves those fields empty unless ctx is done.
func (RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: normalizeArch(runtime.GOARCH),
	}

	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	info.Platform = normalize(hi.Platform)
	info.Version = normalize(hi.PlatformVersion)
	info.KernelVersion = hi.KernelVersion
	if info.IsLinux() && info.Platform != "" {
		info.Family = mapFamily(hi.PlatformFamily)
	}
	return info, nil
}
