package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ZebulonRouseFrantzich/keel/internal/download"
	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/errdispatch"
	"github.com/ZebulonRouseFrantzich/keel/internal/updater"
)

// ask prints question and returns the trimmed, lowercased answer. EOF is an
// empty answer.
func ask(in *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

func printManifest(out io.Writer, m *envelope.Manifest) {
	fmt.Fprintf(out, "  Version:     %s (%s)\n", m.WebappVersionNumber, m.TargetEnvironment)
	fmt.Fprintf(out, "  Released:    %s\n", m.ReleaseDate)
	fmt.Fprintf(out, "  Expires:     %s\n", m.ExpiresOn)
	fmt.Fprintf(out, "  Authors:     %s\n", strings.Join(m.Author, ", "))
	if m.Changelog != "" {
		fmt.Fprintln(out, "  Changes:")
		for _, line := range strings.Split(strings.TrimRight(m.Changelog, "\n"), "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
}

// termPrompt asks on the terminal whether to install.
type termPrompt struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func (p *termPrompt) Show(_ context.Context, m *envelope.Manifest, info updater.PromptInfo) (updater.Decision, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "A webapp update is available")
	fmt.Fprintln(p.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	printManifest(p.out, m)
	fmt.Fprintln(p.out)

	if info.WebappBlacklisted {
		fmt.Fprintln(p.out, "⚠ The installed webapp is no longer supported. Declining will close the application.")
	}
	if info.IsWebappTamperedWith {
		fmt.Fprintln(p.out, "⚠ The installed webapp failed verification and should be replaced.")
	}

	if p.assumeYes {
		fmt.Fprintln(p.out, "Installing (--yes).")
		return updater.Decision{Allow: true}, nil
	}

	answer, err := ask(p.in, p.out, "Install now? [y]es, [a]lways, [N]o: ")
	if err != nil {
		return updater.Decision{}, err
	}
	switch answer {
	case "y", "yes":
		return updater.Decision{Allow: true}, nil
	case "a", "always":
		return updater.Decision{Allow: true, InstallAutomatically: true}, nil
	default:
		return updater.Decision{}, nil
	}
}

// termInstaller renders download progress with a progress bar.
type termInstaller struct {
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func (i *termInstaller) Show(_ context.Context, m *envelope.Manifest) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription("Downloading "+m.WebappVersionNumber),
		progressbar.OptionSetWriter(i.out),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{Saucer: "=", SaucerPadding: " ", BarStart: "[", BarEnd: "]"}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(i.out, "\n")
		}),
	)
	return i.bar.RenderBlank()
}

func (i *termInstaller) OnDownloadProgress(p download.Progress) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.bar == nil {
		return
	}
	if p.Total > 0 && i.bar.GetMax64() != p.Total {
		i.bar.ChangeMax64(p.Total)
	}
	_ = i.bar.Set64(p.Transferred)
}

func (i *termInstaller) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.bar == nil {
		return
	}
	_ = i.bar.Finish()
	i.bar = nil
}

// termOutdated tells the user the client must be reinstalled.
type termOutdated struct {
	out           io.Writer
	clientVersion string
}

func (o *termOutdated) Show(_ context.Context, m *envelope.Manifest) error {
	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, "This client is out of date")
	fmt.Fprintln(o.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(o.out, "  Installed client: %s\n", o.clientVersion)
	fmt.Fprintf(o.out, "  Required:         %s or newer\n", m.MinimumClientVersion)
	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, "Download and install the latest client to keep receiving updates.")
	return nil
}

// termNotifier prints a one-line notice.
type termNotifier struct {
	out io.Writer
}

func (n *termNotifier) NotifyUpdateAvailable(_ context.Context, m *envelope.Manifest) error {
	_, err := fmt.Fprintf(n.out, "Update available: %s (%s)\n", m.WebappVersionNumber, m.TargetEnvironment)
	return err
}

// termDialog implements errdispatch.Dialog on the terminal.
type termDialog struct {
	in        *bufio.Reader
	out       io.Writer
	canReport bool
}

func (d *termDialog) ShowError(_ context.Context, inc *errdispatch.Incident) (errdispatch.Choice, error) {
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "✗ Update failed (error %d)\n", inc.Code)
	fmt.Fprintf(d.out, "  %s\n", inc.Message)
	fmt.Fprintf(d.out, "  Incident: %s\n", inc.ID)
	fmt.Fprintln(d.out)

	question := "[r]etry or [C]ancel? "
	if inc.SupportURL != "" {
		question = "[r]etry, [s]upport or [C]ancel? "
	}
	answer, err := ask(d.in, d.out, question)
	if err != nil {
		return errdispatch.Choice{}, err
	}

	var choice errdispatch.Choice
	switch answer {
	case "r", "retry":
		choice.Action = errdispatch.ActionTryAgain
	case "s", "support":
		if inc.SupportURL != "" {
			choice.Action = errdispatch.ActionContactUs
		}
	}

	if d.canReport {
		answer, err := ask(d.in, d.out, "Send an anonymous error report? [y/N]: ")
		if err != nil {
			return choice, err
		}
		choice.Report = answer == "y" || answer == "yes"
	}
	return choice, nil
}
