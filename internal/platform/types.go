// Package platform describes the host the client runs on.
//
// The description feeds two consumers: a read-only platform table visible to
// the Lua configuration, and the host section of incident reports. Detection
// uses gopsutil and degrades to OS and architecture when the distribution
// cannot be read.
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

// Info is the detected host description.
type Info struct {
	OS   string `json:"os" yaml:"os"`
	Arch string `json:"arch" yaml:"arch"`
	// Platform is the distribution or product ID ("ubuntu", "darwin").
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`
	// Family is the canonical Linux family, empty elsewhere.
	Family        string `json:"family,omitempty" yaml:"family,omitempty"`
	Version       string `json:"version,omitempty" yaml:"version,omitempty"`
	KernelVersion string `json:"kernelVersion,omitempty" yaml:"kernelVersion,omitempty"`
}

// IsLinux reports whether the host runs Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS reports whether the host runs macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// IsWindows reports whether the host runs Windows.
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// String is a short human readable description.
func (i *Info) String() string {
	s := i.OS + "/" + i.Arch
	if i.Platform != "" && i.Platform != i.OS {
		s += " " + i.Platform
		if i.Version != "" {
			s += " " + i.Version
		}
	}
	return s
}

// Detector detects the host.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Static is a Detector that returns a fixed description.
type Static Info

// Detect implements Detector.
func (s Static) Detect(context.Context) (*Info, error) {
	info := Info(s)
	return &info, nil
}
