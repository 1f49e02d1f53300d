package updater

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/keel/internal/clock"
	"github.com/ZebulonRouseFrantzich/keel/internal/download"
	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/errdispatch"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/settings"
	"github.com/ZebulonRouseFrantzich/keel/internal/store"
	"github.com/ZebulonRouseFrantzich/keel/internal/testutil"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

// harness serves a signed envelope and bundle over TLS and wires a real
// sandbox, verifier, downloader and store around fake UI collaborators.
type harness struct {
	t       *testing.T
	now     time.Time
	dataDir string

	signer   *testutil.Signer
	bundle   *testutil.Bundle
	manifest *envelope.Manifest
	env      *envelope.Envelope
	served   []byte

	manifestStatus atomic.Int32
	manifestHits   atomic.Int32
	bundleHits     atomic.Int32
	server         *httptest.Server

	cfg        Config
	prompt     *fakePrompt
	installer  *fakeInstaller
	outdated   *fakeOutdated
	notifier   *fakeNotifier
	renderer   *fakeRenderer
	reloader   *fakeReloader
	app        *fakeApp
	prober     *fakeProber
	dispatcher *fakeDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		now:        testNow,
		dataDir:    testutil.SetupTestEnv(t),
		signer:     testutil.NewSigner(t),
		bundle:     testutil.NewBundle(t, []byte("<html>webapp build</html>")),
		prompt:     &fakePrompt{},
		installer:  &fakeInstaller{},
		outdated:   &fakeOutdated{},
		notifier:   &fakeNotifier{},
		renderer:   &fakeRenderer{},
		reloader:   &fakeReloader{},
		app:        &fakeApp{},
		prober:     &fakeProber{},
		dispatcher: &fakeDispatcher{},
	}
	h.setManifest(testutil.Manifest(h.now, h.bundle))
	h.served = h.bundle.Compressed

	h.server = httptest.NewTLSServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.server.Close)

	h.cfg = Config{
		ClientVersion:     testutil.ClientVersion,
		Environment:       testutil.Environment,
		TrustStores:       map[string][]string{testutil.Environment: {h.signer.KeyHex()}},
		Endpoint:          h.server.URL + "/",
		AckTimeout:        50 * time.Millisecond,
		WebappVersion:     testutil.InstalledWebapp(h.now),
		WebappEnvironment: testutil.Environment,
	}
	return h
}

// setManifest signs m and publishes it.
func (h *harness) setManifest(m *envelope.Manifest) {
	h.manifest = m
	h.env = h.signer.Seal(m)
}

func (h *harness) bundleName() string {
	return store.BundleFileName(h.manifest.FileChecksum)
}

func (h *harness) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/manifest.bin":
		h.manifestHits.Add(1)
		if code := h.manifestStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		w.Write(h.env.Raw)
	case "/" + h.bundleName():
		h.bundleHits.Add(1)
		w.Write(h.served)
	default:
		http.NotFound(w, r)
	}
}

// orchestrator builds a fresh orchestrator over the shared data directory.
func (h *harness) orchestrator() *Orchestrator {
	h.t.Helper()

	pool := x509.NewCertPool()
	pool.AddCert(h.server.Certificate())
	want := download.SPKIHash(h.server.Certificate())
	client, err := download.NewPinnedClient(download.PinnerFunc(func(_ string, chain []*x509.Certificate) error {
		if len(chain) == 0 || download.SPKIHash(chain[0]) != want {
			return download.ErrPinMismatch
		}
		return nil
	}), download.ClientOptions{RootCAs: pool})
	if err != nil {
		h.t.Fatal(err)
	}

	runner := sandbox.NewRunner(sandbox.Providers{
		Crypto:     sandbox.DefaultCrypto(),
		HTTPClient: client,
		FSRoot:     h.dataDir,
	})
	verifier, err := verify.New(runner, verify.WithClock(clock.Fixed{Time: h.now}))
	if err != nil {
		h.t.Fatal(err)
	}
	source, err := download.New(download.Config{Endpoint: h.cfg.Endpoint}, runner, verifier)
	if err != nil {
		h.t.Fatal(err)
	}
	st, err := store.New(h.dataDir)
	if err != nil {
		h.t.Fatal(err)
	}

	o, err := New(h.cfg, Collaborators{
		Source:     source,
		Prompt:     h.prompt,
		Installer:  h.installer,
		Outdated:   h.outdated,
		Notifier:   h.notifier,
		Renderer:   h.renderer,
		Reloader:   h.reloader,
		App:        h.app,
		Prober:     h.prober,
		Dispatcher: h.dispatcher,
	}, verifier, st, settings.Open(h.dataDir, nil))
	if err != nil {
		h.t.Fatal(err)
	}
	h.renderer.o = o
	return o
}

type fakePrompt struct {
	mu       sync.Mutex
	decision Decision
	err      error
	infos    []PromptInfo
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakePrompt) Show(ctx context.Context, _ *envelope.Manifest, info PromptInfo) (Decision, error) {
	f.mu.Lock()
	f.infos = append(f.infos, info)
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return f.decision, f.err
}

func (f *fakePrompt) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.infos)
}

type fakeInstaller struct {
	mu       sync.Mutex
	shown    int
	closed   int
	progress []download.Progress
}

func (f *fakeInstaller) Show(context.Context, *envelope.Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown++
	return nil
}

func (f *fakeInstaller) OnDownloadProgress(p download.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
}

func (f *fakeInstaller) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

type fakeOutdated struct {
	calls atomic.Int32
}

func (f *fakeOutdated) Show(context.Context, *envelope.Manifest) error {
	f.calls.Add(1)
	return nil
}

type fakeNotifier struct {
	calls atomic.Int32
}

func (f *fakeNotifier) NotifyUpdateAvailable(context.Context, *envelope.Manifest) error {
	f.calls.Add(1)
	return nil
}

// fakeRenderer acknowledges broadcasts when ack is set.
type fakeRenderer struct {
	o          *Orchestrator
	ack        bool
	broadcasts atomic.Int32
}

func (f *fakeRenderer) BroadcastUpdateAvailable(context.Context, *envelope.Manifest) error {
	f.broadcasts.Add(1)
	if f.ack {
		go func() {
			time.Sleep(10 * time.Millisecond)
			f.o.ShowUpdate()
		}()
	}
	return nil
}

type fakeReloader struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeReloader) Reload(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return f.err
}

func (f *fakeReloader) reloaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

type fakeApp struct {
	attached bool
	quit     atomic.Bool
}

func (f *fakeApp) WindowAttached() bool { return f.attached }
func (f *fakeApp) Quit()                { f.quit.Store(true) }

type fakeProber struct {
	mu    sync.Mutex
	err   error
	hosts []string
}

func (f *fakeProber) Probe(_ context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	return f.err
}

// fakeDispatcher returns results in order, then cancels.
type fakeDispatcher struct {
	mu         sync.Mutex
	results    []errdispatch.Result
	errs       []error
	onDispatch func(n int)
}

func (f *fakeDispatcher) Dispatch(_ context.Context, err error, _ errdispatch.Context) errdispatch.Result {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	n := len(f.errs)
	var res errdispatch.Result
	if n <= len(f.results) {
		res = f.results[n-1]
	}
	hook := f.onDispatch
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return res
}

func (f *fakeDispatcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}
