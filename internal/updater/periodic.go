package updater

import (
	"context"
	"time"
)

// RunPeriodic runs a silent first-launch check, then a check every
// CheckInterval, until ctx is done. A ShowUpdate call with no broadcast
// pending triggers an extra silent check.
//
// startup describes the installed webapp. Its IsWebappTamperedWith and
// LocalEnvironmentMismatch flags apply to every check until one installs.
func (o *Orchestrator) RunPeriodic(ctx context.Context, startup Options) error {
	pending := Options{
		IsWebappTamperedWith:     startup.IsWebappTamperedWith,
		LocalEnvironmentMismatch: startup.LocalEnvironmentMismatch,
	}
	run := func(opts Options) {
		opts.IsWebappTamperedWith = pending.IsWebappTamperedWith
		opts.LocalEnvironmentMismatch = pending.LocalEnvironmentMismatch
		if o.runLogged(ctx, opts) {
			pending = Options{}
		}
	}

	run(Options{SkipNotification: true, FirstLaunch: true})

	ticker := time.NewTicker(o.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run(Options{})
		case <-o.showUpdate:
			run(Options{SkipNotification: true})
		}
	}
}

// runLogged reports whether the check installed an update.
func (o *Orchestrator) runLogged(ctx context.Context, opts Options) bool {
	m, err := o.RunOnce(ctx, opts)
	if err != nil && ctx.Err() == nil {
		o.logger.Warn("periodic update check failed", "error", err)
	}
	return m != nil
}

// ShowUpdate is the user asking to see the update. It ends a pending
// renderer wait, or schedules a silent check when none is pending.
func (o *Orchestrator) ShowUpdate() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ack != nil {
		close(o.ack)
		o.ack = nil
		return
	}
	select {
	case o.showUpdate <- struct{}{}:
	default:
	}
}
