package errdispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/keel/internal/clock"
	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/platform"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// Action is the user's answer to the error dialog.
type Action int

const (
	ActionCancel Action = iota
	ActionTryAgain
	ActionContactUs
)

func (a Action) String() string {
	switch a {
	case ActionTryAgain:
		return "try-again"
	case ActionContactUs:
		return "contact-us"
	default:
		return "cancel"
	}
}

// Choice is what the dialog returns.
type Choice struct {
	Action Action
	// Report is true when the user agreed to send the incident.
	Report bool
}

// Dialog presents an incident and waits for the user.
type Dialog interface {
	ShowError(ctx context.Context, inc *Incident) (Choice, error)
}

// ContactFunc opens the support channel for an incident.
type ContactFunc func(ctx context.Context, inc *Incident) error

// Context describes the client at the time of the failure.
type Context struct {
	ClientVersion string
	WebappVersion string
	Environment   string
}

// Incident is one classified failure.
type Incident struct {
	ID            string         `json:"id"`
	Code          Code           `json:"code"`
	Kind          string         `json:"kind"`
	Message       string         `json:"message"`
	OccurredAt    time.Time      `json:"occurredAt"`
	ClientVersion string         `json:"clientVersion"`
	WebappVersion string         `json:"webappVersion,omitempty"`
	Environment   string         `json:"environment"`
	Host          *platform.Info `json:"host,omitempty"`
	SupportURL    string         `json:"-"`
}

// Result is the dispatch outcome.
type Result struct {
	TryAgain bool
}

// Dispatcher drives the error dialog.
type Dispatcher struct {
	dialog     Dialog
	reporter   Reporter
	contact    ContactFunc
	detector   platform.Detector
	clock      clock.Clock
	logger     logging.Logger
	supportURL string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithReporter enables incident reporting.
func WithReporter(r Reporter) Option {
	return func(d *Dispatcher) { d.reporter = r }
}

// WithContact sets the contact-us handler and the support URL shown to users.
func WithContact(url string, fn ContactFunc) Option {
	return func(d *Dispatcher) {
		d.supportURL = url
		d.contact = fn
	}
}

// WithDetector attaches host details to incidents.
func WithDetector(det platform.Detector) Option {
	return func(d *Dispatcher) { d.detector = det }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(l) }
}

// New creates a dispatcher. A nil dialog means every failure is cancelled.
func New(dialog Dialog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		dialog: dialog,
		clock:  clock.Real{},
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Incident classifies err without showing anything.
func (d *Dispatcher) Incident(ctx context.Context, err error, c Context) *Incident {
	inc := &Incident{
		ID:            uuid.New().String(),
		Code:          Classify(err),
		Kind:          updateerr.KindOf(err).String(),
		OccurredAt:    d.clock.Now().UTC(),
		ClientVersion: c.ClientVersion,
		WebappVersion: c.WebappVersion,
		Environment:   c.Environment,
		SupportURL:    d.supportURL,
	}
	if err != nil {
		inc.Message = err.Error()
	}
	if d.detector != nil {
		if host, derr := d.detector.Detect(ctx); derr == nil {
			inc.Host = host
		}
	}
	return inc
}

// Dispatch shows err to the user and returns whether to retry the cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, err error, c Context) Result {
	inc := d.Incident(ctx, err, c)
	d.logger.Error("update failed", "incident", inc.ID, "code", int(inc.Code), "kind", inc.Kind, "error", inc.Message)

	if d.dialog == nil {
		return Result{}
	}

	choice, derr := d.dialog.ShowError(ctx, inc)
	if derr != nil {
		d.logger.Warn("error dialog failed", "incident", inc.ID, "error", derr)
		return Result{}
	}
	d.logger.Info("error dialog closed", "incident", inc.ID, "action", choice.Action.String(), "report", choice.Report)

	if choice.Report && d.reporter != nil {
		d.reporter.Report(ctx, inc)
	}

	switch choice.Action {
	case ActionTryAgain:
		return Result{TryAgain: true}
	case ActionContactUs:
		if d.contact != nil {
			if cerr := d.contact(ctx, inc); cerr != nil {
				d.logger.Warn("contact handler failed", "incident", inc.ID, "error", cerr)
			}
		}
	}
	return Result{}
}
