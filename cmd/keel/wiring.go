package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ZebulonRouseFrantzich/keel/internal/config"
	"github.com/ZebulonRouseFrantzich/keel/internal/download"
	"github.com/ZebulonRouseFrantzich/keel/internal/errdispatch"
	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/platform"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/settings"
	"github.com/ZebulonRouseFrantzich/keel/internal/store"
	"github.com/ZebulonRouseFrantzich/keel/internal/updater"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

// clientFlags describe the webapp shipped with the client. They are used
// until a verified bundle has been installed.
type clientFlags struct {
	webappVersion     string
	webappEnvironment string
	assumeYes         bool
}

// loadConfig parses --config or the default keel.lua.
func (c *cli) loadConfig(ctx context.Context) (*config.Config, error) {
	path := c.configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no configuration at %s\nRun 'keel init' to create one", path)
	}
	return config.NewParser(platform.NewDetector(), c.logger).ParseFile(ctx, path)
}

// dataDir resolves and creates the data directory.
func dataDir() (string, error) {
	dir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return dir, nil
}

// buildOrchestrator wires config, pinned transport, sandbox, verifier,
// downloader and the terminal UIs into an orchestrator.
func (c *cli) buildOrchestrator(cfg *config.Config, flags clientFlags) (*updater.Orchestrator, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}

	client, err := download.NewPinnedClient(download.SPKIPinner(cfg.PinSet()), download.ClientOptions{
		UserAgent: "keel/" + Version,
	})
	if err != nil {
		return nil, fmt.Errorf("create pinned client: %w", err)
	}

	runner := sandbox.NewRunner(sandbox.Providers{
		Crypto:     sandbox.DefaultCrypto(),
		HTTPClient: client,
		FSRoot:     dir,
	}, sandbox.WithLogger(c.logger))

	verifier, err := verify.New(runner, verify.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}

	source, err := download.New(download.Config{
		Endpoint:     cfg.Endpoint,
		ManifestName: cfg.ManifestName,
	}, runner, verifier, download.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("create downloader: %w", err)
	}

	st, err := store.New(dir)
	if err != nil {
		return nil, err
	}

	dispatchOpts := []errdispatch.Option{
		errdispatch.WithDetector(platform.NewDetector()),
		errdispatch.WithLogger(c.logger),
	}
	if cfg.SupportURL != "" {
		dispatchOpts = append(dispatchOpts, errdispatch.WithContact(cfg.SupportURL, c.printContact))
	}
	if cfg.Telemetry.Enabled {
		reporter := errdispatch.NewHTTPReporter(cfg.Telemetry.Endpoint, &http.Client{Timeout: 10 * time.Second}, c.logger)
		dispatchOpts = append(dispatchOpts, errdispatch.WithReporter(reporter))
	}
	dialog := &termDialog{in: c.reader(), out: c.out, canReport: cfg.Telemetry.Enabled}

	webappEnv := flags.webappEnvironment
	if webappEnv == "" {
		webappEnv = cfg.Environment
	}

	return updater.New(updater.Config{
		ClientVersion:     cfg.ClientVersion,
		Environment:       cfg.Environment,
		TrustStores:       cfg.TrustStores,
		Endpoint:          cfg.Endpoint,
		Hosts:             cfg.Hosts,
		CheckInterval:     cfg.CheckInterval,
		WebappVersion:     flags.webappVersion,
		WebappEnvironment: webappEnv,
	}, updater.Collaborators{
		Source:     source,
		Prompt:     &termPrompt{in: c.reader(), out: c.out, assumeYes: flags.assumeYes},
		Installer:  &termInstaller{out: c.errOut},
		Outdated:   &termOutdated{out: c.out, clientVersion: cfg.ClientVersion},
		Notifier:   &termNotifier{out: c.errOut},
		Reloader:   &storeReloader{store: st, logger: c.logger},
		Prober:     updater.DialProber{},
		Dispatcher: errdispatch.New(dialog, dispatchOpts...),
	}, verifier, st, settings.Open(dir, c.logger), updater.WithLogger(c.logger))
}

// reader is shared by every prompt so buffered input is not lost between
// them.
func (c *cli) reader() *bufio.Reader {
	if c.br == nil {
		c.br = bufio.NewReader(c.in)
	}
	return c.br
}

func (c *cli) printContact(_ context.Context, inc *errdispatch.Incident) error {
	fmt.Fprintf(c.out, "Contact support at %s and quote incident %s (code %d).\n", inc.SupportURL, inc.ID, inc.Code)
	return nil
}

// storeReloader stands in for the local relay server: it checks the
// committed bundle is in place and logs the new document root.
type storeReloader struct {
	store  *store.Store
	logger logging.Logger
}

func (r *storeReloader) Reload(_ context.Context, bundleFileName string) error {
	if !r.store.HasBundle(bundleFileName) {
		return fmt.Errorf("bundle %s is not committed", bundleFileName)
	}
	r.logger.Info("document root switched", "bundle", r.store.Path(bundleFileName))
	return nil
}
