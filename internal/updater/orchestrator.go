// Package updater runs the update cycle: fetch the signed envelope, verify
// trust, signature and policy, ask the user, download and double-check the
// bundle, then commit it and switch the served document root.
//
// Only one cycle runs at a time. A concurrent RunOnce returns immediately
// without touching anything.
package updater

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/keel/internal/download"
	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/errdispatch"
	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/settings"
	"github.com/ZebulonRouseFrantzich/keel/internal/store"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

const (
	// DefaultAckTimeout bounds the wait for the renderer to acknowledge an
	// update broadcast.
	DefaultAckTimeout = 10 * time.Second
	// DefaultCheckInterval is the periodic check interval.
	DefaultCheckInterval = 24 * time.Hour
	// DefaultProbeTimeout bounds the connectivity probe.
	DefaultProbeTimeout = 5 * time.Second
)

// Config is fixed for the lifetime of an Orchestrator.
type Config struct {
	ClientVersion string
	// Environment is the configured local environment.
	Environment string
	// TrustStores maps environments to trusted lowercase hex keys.
	TrustStores map[string][]string
	Endpoint    string
	// Hosts are probed for connectivity before each check. Empty skips the
	// probe.
	Hosts         []string
	CheckInterval time.Duration
	AckTimeout    time.Duration

	// WebappVersion and WebappEnvironment describe the bundle shipped with
	// the client. LocalVersion replaces them with the installed manifest.
	WebappVersion     string
	WebappEnvironment string
}

// Options are per-call flags for RunOnce.
type Options struct {
	SkipNotification     bool
	IsWebappTamperedWith bool
	FirstLaunch          bool
	// LocalEnvironmentMismatch means a switch to the configured environment
	// is in progress, so a manifest for another environment than the running
	// webapp is expected.
	LocalEnvironmentMismatch bool
}

// Current is what is being served right now.
type Current struct {
	WebappVersion string
	Environment   string
}

// Orchestrator sequences update cycles.
type Orchestrator struct {
	cfg      Config
	c        Collaborators
	verifier *verify.Verifier
	store    *store.Store
	settings *settings.File
	logger   logging.Logger

	running atomic.Bool
	state   atomic.Int32

	mu      sync.Mutex
	current Current
	ack     chan struct{}

	showUpdate chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l) }
}

// New creates an orchestrator. Configuration is validated at the start of
// every cycle, not here.
func New(cfg Config, c Collaborators, v *verify.Verifier, st *store.Store, s *settings.File, opts ...Option) (*Orchestrator, error) {
	if c.Source == nil || c.Prompt == nil || c.Reloader == nil {
		return nil, fmt.Errorf("source, prompt and reloader are required")
	}
	if v == nil || st == nil || s == nil {
		return nil, fmt.Errorf("verifier, store and settings are required")
	}
	if c.Installer == nil {
		c.Installer = nopInstaller{}
	}
	if c.App == nil {
		c.App = headlessApp{}
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	o := &Orchestrator{
		cfg:        cfg,
		c:          c,
		verifier:   v,
		store:      st,
		settings:   s,
		logger:     logging.Nop(),
		current:    Current{WebappVersion: cfg.WebappVersion, Environment: cfg.WebappEnvironment},
		showUpdate: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	if prev := State(o.state.Swap(int32(s))); prev != s {
		o.logger.Debug("update state", "from", prev.String(), "to", s.String())
	}
}

// Current returns what is being served.
func (o *Orchestrator) Current() Current {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) setCurrent(c Current) {
	o.mu.Lock()
	o.current = c
	o.mu.Unlock()
}

// errTerminal marks failures that were already shown to the user on a
// dedicated screen and must not reach the dispatcher.
type errTerminal struct {
	err error
}

func (e *errTerminal) Error() string { return e.err.Error() }
func (e *errTerminal) Unwrap() error { return e.err }

// RunOnce runs one update cycle and returns the installed manifest. It
// returns nil, nil when there is nothing to do: offline, up to date,
// declined, or another cycle already running. On failure the dispatcher is
// asked whether to retry, and the cycle restarts from the top while it says
// so.
func (o *Orchestrator) RunOnce(ctx context.Context, opts Options) (*envelope.Manifest, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug("update check already running")
		return nil, nil
	}
	defer o.running.Store(false)
	defer o.setState(StateIdle)

	for attempt := 1; ; attempt++ {
		cycle := uuid.New().String()[:8]
		log := loggerWith{o.logger, []interface{}{"cycle", cycle, "attempt", attempt}}

		m, err := o.cycle(ctx, opts, log)
		if err == nil {
			return m, nil
		}

		var terminal *errTerminal
		if errors.As(err, &terminal) {
			return nil, terminal.err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		o.setState(StateFailed)
		log.Error("update cycle failed", "kind", updateerr.KindOf(err).String(), "error", err)
		if o.c.Dispatcher == nil {
			return nil, err
		}

		cur := o.Current()
		res := o.c.Dispatcher.Dispatch(ctx, err, errdispatch.Context{
			ClientVersion: o.cfg.ClientVersion,
			WebappVersion: cur.WebappVersion,
			Environment:   o.cfg.Environment,
		})
		if !res.TryAgain {
			return nil, err
		}
		o.setState(StateRetry)
	}
}

func (o *Orchestrator) cycle(ctx context.Context, opts Options, log logging.Logger) (*envelope.Manifest, error) {
	o.setState(StateChecking)

	if err := o.validate(); err != nil {
		return nil, err
	}

	if !o.online(ctx, log) {
		log.Info("offline, skipping update check")
		o.setState(StateNoUpdate)
		return nil, nil
	}

	env, err := o.c.Source.LatestEnvelope(ctx)
	if err != nil {
		return nil, err
	}
	m, err := o.verifyEnvelope(ctx, env, o.cfg.Environment)
	if err != nil {
		return nil, err
	}

	cur := o.Current()
	var clientBlacklisted, webappBlacklisted bool
	policyErr := o.verifier.VerifyManifest(m, verify.Current{
		WebappVersion:     cur.WebappVersion,
		WebappEnvironment: cur.Environment,
		ClientVersion:     o.cfg.ClientVersion,
		Environment:       o.cfg.Environment,
	})
	switch {
	case policyErr == nil:
	case updateerr.Is(policyErr, updateerr.KindBlacklistedVersion):
		clientBlacklisted = updateerr.CodeOf(policyErr) == updateerr.BlacklistWrapper
		webappBlacklisted = updateerr.CodeOf(policyErr) == updateerr.BlacklistWebapp
		log.Warn("version blacklisted", "client", clientBlacklisted, "webapp", webappBlacklisted, "error", policyErr)
	case updateerr.Is(policyErr, updateerr.KindVerifyMismatchEnvironment) && opts.LocalEnvironmentMismatch:
		log.Info("environment switch in progress", "target", m.TargetEnvironment, "running", cur.Environment)
	default:
		return nil, policyErr
	}

	if !clientBlacklisted && !webappBlacklisted && !opts.LocalEnvironmentMismatch && !opts.IsWebappTamperedWith &&
		m.WebappVersionNumber == cur.WebappVersion && m.TargetEnvironment == cur.Environment {
		log.Info("already up to date", "version", cur.WebappVersion)
		o.setState(StateNoUpdate)
		return nil, nil
	}
	log.Info("update available", "version", m.WebappVersionNumber, "environment", m.TargetEnvironment)

	if !opts.SkipNotification {
		o.announce(ctx, m, log)
	}

	if clientBlacklisted {
		o.setState(StateClientBlacklisted)
		if o.c.Outdated != nil {
			if err := o.c.Outdated.Show(ctx, m); err != nil {
				log.Warn("outdated screen failed", "error", err)
			}
		}
		return nil, &errTerminal{err: policyErr}
	}

	decision, err := o.decide(ctx, m, opts, webappBlacklisted, log)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		log.Info("update declined", "version", m.WebappVersionNumber)
		if webappBlacklisted {
			log.Warn("quitting: running webapp is blacklisted and the update was declined")
			o.c.App.Quit()
		}
		return nil, nil
	}

	o.settings.Set(settings.KeyInstallAutomatically, decision.InstallAutomatically)
	if err := o.settings.SaveChangesOnDisk(); err != nil {
		log.Warn("could not persist install preference", "error", err)
	}

	if err := o.install(ctx, env, m, log); err != nil {
		return nil, err
	}

	o.setCurrent(Current{WebappVersion: m.WebappVersionNumber, Environment: m.TargetEnvironment})
	log.Info("update installed", "version", m.WebappVersionNumber, "environment", m.TargetEnvironment)
	return m, nil
}

func (o *Orchestrator) validate() error {
	if !verify.IsValidVersion(o.cfg.ClientVersion) {
		return updateerr.Logical("client version %q is not valid", o.cfg.ClientVersion)
	}
	if o.cfg.Environment == "" {
		return updateerr.Logical("environment is not set")
	}
	if len(o.cfg.TrustStores[o.cfg.Environment]) == 0 {
		return updateerr.Logical("no trust store for environment %s", o.cfg.Environment)
	}
	if o.cfg.Endpoint == "" {
		return updateerr.Logical("update endpoint is not set")
	}
	return nil
}

func (o *Orchestrator) online(ctx context.Context, log logging.Logger) bool {
	if o.c.Prober == nil || len(o.cfg.Hosts) == 0 {
		return true
	}
	host := o.cfg.Hosts[rand.IntN(len(o.cfg.Hosts))]
	if err := o.c.Prober.Probe(ctx, host); err != nil {
		log.Debug("connectivity probe failed", "host", host, "error", err)
		return false
	}
	return true
}

// verifyEnvelope checks trust before the signature and decodes the manifest
// only once both pass.
func (o *Orchestrator) verifyEnvelope(ctx context.Context, env *envelope.Envelope, environment string) (*envelope.Manifest, error) {
	trusted := verify.TrustStore(o.cfg.TrustStores[environment])
	if err := verify.EnsurePublicKeyIsTrusted(env.PublicKey, trusted, environment); err != nil {
		return nil, err
	}
	if err := o.verifier.VerifyEnvelopeIntegrity(ctx, env.Data, env.Signature, env.PublicKey); err != nil {
		return nil, err
	}
	return env.Manifest()
}

// announce notifies the user and waits a bounded time for the renderer to
// acknowledge.
func (o *Orchestrator) announce(ctx context.Context, m *envelope.Manifest, log logging.Logger) {
	if o.c.Notifier != nil {
		if err := o.c.Notifier.NotifyUpdateAvailable(ctx, m); err != nil {
			log.Warn("desktop notification failed", "error", err)
		}
	}
	if o.c.Renderer == nil {
		return
	}

	ack := make(chan struct{})
	o.mu.Lock()
	o.ack = ack
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.ack = nil
		o.mu.Unlock()
	}()

	if err := o.c.Renderer.BroadcastUpdateAvailable(ctx, m); err != nil {
		log.Warn("renderer broadcast failed", "error", err)
		return
	}

	timer := time.NewTimer(o.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		log.Debug("renderer acknowledged update")
	case <-timer.C:
		log.Info("renderer did not acknowledge, showing prompt", "timeout", o.cfg.AckTimeout)
	case <-ctx.Done():
	}
}

func (o *Orchestrator) decide(ctx context.Context, m *envelope.Manifest, opts Options, webappBlacklisted bool, log logging.Logger) (Decision, error) {
	auto := o.settings.Bool(settings.KeyInstallAutomatically, false)
	if (auto && o.c.App.WindowAttached()) || opts.LocalEnvironmentMismatch {
		log.Info("installing without prompt", "automatic", auto, "environmentSwitch", opts.LocalEnvironmentMismatch)
		return Decision{Allow: true, InstallAutomatically: auto}, nil
	}

	o.setState(StateAwaitingDecision)
	d, err := o.c.Prompt.Show(ctx, m, PromptInfo{
		WebappBlacklisted:    webappBlacklisted,
		FirstLaunch:          opts.FirstLaunch,
		IsWebappTamperedWith: opts.IsWebappTamperedWith,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("update prompt: %w", err)
	}
	return d, nil
}

// install downloads and verifies the bundle, then commits it. Nothing on disk
// changes until both digests have matched.
func (o *Orchestrator) install(ctx context.Context, env *envelope.Envelope, m *envelope.Manifest, log logging.Logger) error {
	o.setState(StateDownloading)
	bundleName := store.BundleFileName(m.FileChecksum)

	if err := o.c.Installer.Show(ctx, m); err != nil {
		log.Warn("installer window failed", "error", err)
	}
	defer o.c.Installer.Close()

	content, err := o.c.Source.Binary(ctx, download.BinaryRequest{
		FileName:           bundleName,
		Checksum:           m.FileChecksum,
		ChecksumCompressed: m.FileChecksumCompressed,
		ContentLength:      m.FileContentLength,
		OnProgress:         o.c.Installer.OnDownloadProgress,
	})
	if err != nil {
		return err
	}

	o.setState(StateInstalling)
	lock, err := store.AcquireLock(ctx, o.store.Dir())
	if err != nil {
		return updateerr.Installer(err, "acquire install lock")
	}
	defer lock.Release()

	txn, err := o.store.BeginInstall(m.WebappVersionNumber, m.TargetEnvironment, bundleName)
	if err != nil {
		return updateerr.Installer(err, "record install")
	}

	commit := func() error {
		if err := o.store.WriteBundle(bundleName, content); err != nil {
			return err
		}
		if err := o.store.Advance(txn, store.StageBundleWritten, nil); err != nil {
			return updateerr.Installer(err, "record install")
		}
		if err := o.store.WriteManifest(env.Raw); err != nil {
			return err
		}
		if err := o.c.Reloader.Reload(ctx, bundleName); err != nil {
			return updateerr.Installer(err, "reload %s", bundleName)
		}
		return nil
	}
	if err := commit(); err != nil {
		if aerr := o.store.Advance(txn, store.StageFailed, err); aerr != nil {
			log.Warn("could not record failed install", "error", aerr)
		}
		return err
	}
	if err := o.store.Advance(txn, store.StageCompleted, nil); err != nil {
		log.Warn("could not clear install journal", "error", err)
	}
	log.Info("bundle committed", "bundle", bundleName)
	return nil
}

// loggerWith prefixes every call with fixed key/value pairs.
type loggerWith struct {
	l  logging.Logger
	kv []interface{}
}

func (w loggerWith) with(kv []interface{}) []interface{} {
	return append(append([]interface{}{}, w.kv...), kv...)
}

func (w loggerWith) Debug(msg string, kv ...interface{}) { w.l.Debug(msg, w.with(kv)...) }
func (w loggerWith) Info(msg string, kv ...interface{})  { w.l.Info(msg, w.with(kv)...) }
func (w loggerWith) Warn(msg string, kv ...interface{})  { w.l.Warn(msg, w.with(kv)...) }
func (w loggerWith) Error(msg string, kv ...interface{}) { w.l.Error(msg, w.with(kv)...) }
