package updater

import (
	"context"

	"github.com/ZebulonRouseFrantzich/keel/internal/download"
	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/errdispatch"
)

// Source fetches envelopes and bundles. *download.Downloader implements it.
type Source interface {
	LatestEnvelope(ctx context.Context) (*envelope.Envelope, error)
	Binary(ctx context.Context, req download.BinaryRequest) ([]byte, error)
}

// Decision is the answer to an update prompt.
type Decision struct {
	Allow                bool
	InstallAutomatically bool
}

// PromptInfo is extra context for the update prompt.
type PromptInfo struct {
	// WebappBlacklisted means declining leaves no safe version to run.
	WebappBlacklisted    bool
	FirstLaunch          bool
	IsWebappTamperedWith bool
}

// PromptUI asks the user whether to install an update.
type PromptUI interface {
	Show(ctx context.Context, m *envelope.Manifest, info PromptInfo) (Decision, error)
}

// InstallerUI shows download and install progress.
type InstallerUI interface {
	Show(ctx context.Context, m *envelope.Manifest) error
	OnDownloadProgress(p download.Progress)
	Close()
}

// OutdatedUI is the terminal screen shown when the client itself is too old
// to be updated in place.
type OutdatedUI interface {
	Show(ctx context.Context, m *envelope.Manifest) error
}

// Notifier shows a desktop notification.
type Notifier interface {
	NotifyUpdateAvailable(ctx context.Context, m *envelope.Manifest) error
}

// Renderer is the running webapp. It acknowledges a broadcast by calling
// Orchestrator.ShowUpdate.
type Renderer interface {
	BroadcastUpdateAvailable(ctx context.Context, m *envelope.Manifest) error
}

// Reloader switches the served document root to a committed bundle.
type Reloader interface {
	Reload(ctx context.Context, bundleFileName string) error
}

// App is the host application.
type App interface {
	// WindowAttached reports whether a main window is open.
	WindowAttached() bool
	Quit()
}

// Prober checks whether a backend host is reachable.
type Prober interface {
	Probe(ctx context.Context, host string) error
}

// Dispatcher decides what to do with a failed cycle.
// *errdispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, err error, c errdispatch.Context) errdispatch.Result
}

// Collaborators are the orchestrator's external dependencies. Source, Prompt
// and Reloader are required.
type Collaborators struct {
	Source     Source
	Prompt     PromptUI
	Installer  InstallerUI
	Outdated   OutdatedUI
	Notifier   Notifier
	Renderer   Renderer
	Reloader   Reloader
	App        App
	Prober     Prober
	Dispatcher Dispatcher
}

type nopInstaller struct{}

func (nopInstaller) Show(context.Context, *envelope.Manifest) error { return nil }
func (nopInstaller) OnDownloadProgress(download.Progress)           {}
func (nopInstaller) Close()                                         {}

type headlessApp struct{}

func (headlessApp) WindowAttached() bool { return false }
func (headlessApp) Quit()                {}
