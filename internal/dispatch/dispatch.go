// Package dispatch runs the removal process: it routes each target to the
// handler for its kind, one target at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eraser-privacy/dataremoval/internal/console"
	"github.com/eraser-privacy/dataremoval/internal/history"
	"github.com/eraser-privacy/dataremoval/internal/identity"
	"github.com/eraser-privacy/dataremoval/internal/target"
)

// Context is what the handlers know about the user. It is built once all
// prompts are answered and not modified afterwards.
type Context struct {
	FullName    string
	Email       string
	Identifiers identity.Identifiers
}

// Values returns the placeholder values for a target in country: full_name,
// email and the identifiers collected for that country. Empty values are
// left out so form fields without data are skipped.
func (c *Context) Values(country string) map[string]string {
	values := make(map[string]string)
	if c.FullName != "" {
		values["full_name"] = c.FullName
	}
	if c.Email != "" {
		values["email"] = c.Email
	}
	for k, v := range c.Identifiers[country] {
		if v != "" {
			values[k] = v
		}
	}
	return values
}

// UI is the part of the console the handlers talk through.
type UI interface {
	WaitEnter(msg string) error
	Section(title string)
	Bold(format string, args ...any)
	Info(format string, args ...any)
	Step(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Fail(format string, args ...any)
	Println(format string, args ...any)
}

type Outcome struct {
	Status history.Status
	Detail string
}

func sent(detail string) Outcome { return Outcome{Status: history.StatusSent, Detail: detail} }

func handled() Outcome { return Outcome{Status: history.StatusHandled} }

func skipped(detail string) Outcome { return Outcome{Status: history.StatusSkipped, Detail: detail} }

func timedOut(detail string) Outcome { return Outcome{Status: history.StatusTimeout, Detail: detail} }

func failed(err error) Outcome { return Outcome{Status: history.StatusFailed, Detail: err.Error()} }

// Handler processes a single target. Per-target problems are reported to
// the user and returned as an Outcome; the error return is reserved for
// conditions that end the whole run, such as closed input.
type Handler interface {
	Handle(ctx context.Context, rc *Context, t target.Target) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, rc *Context, t target.Target) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, rc *Context, t target.Target) (Outcome, error) {
	return f(ctx, rc, t)
}

// Handlers holds one handler per target kind. A nil handler means targets
// of that kind are skipped.
type Handlers struct {
	Email     Handler
	WebForm   Handler
	ManualEID Handler
	MrKoll    Handler
	Ratsit    Handler
}

// Recorder stores outcomes. *history.Store implements it.
type Recorder interface {
	Add(record *history.Record) error
}

type Summary struct {
	RunID    string
	Total    int
	Outcomes map[history.Status]int
}

// Dispatcher processes targets in order, isolating failures per target.
type Dispatcher struct {
	handlers Handlers
	ui       UI
	logger   *zap.Logger
	recorder Recorder
	runID    string
	pause    time.Duration
}

type Option func(*Dispatcher)

// WithRecorder stores each outcome under runID.
func WithRecorder(r Recorder, runID string) Option {
	return func(d *Dispatcher) {
		d.recorder = r
		d.runID = runID
	}
}

// WithPause sets the delay between targets. Zero disables it.
func WithPause(p time.Duration) Option {
	return func(d *Dispatcher) { d.pause = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func New(handlers Handlers, ui UI, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: handlers,
		ui:       ui,
		logger:   zap.NewNop(),
		pause:    time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) handlerFor(k target.Kind) Handler {
	switch k.(type) {
	case target.Email:
		return d.handlers.Email
	case target.WebForm:
		return d.handlers.WebForm
	case target.ManualEID:
		return d.handlers.ManualEID
	case target.MrKollFlow:
		return d.handlers.MrKoll
	case target.RatsitFlow:
		return d.handlers.Ratsit
	}
	return nil
}

// Run processes targets in order. It only returns an error when the run
// cannot continue: the context is cancelled or user input is closed.
func (d *Dispatcher) Run(ctx context.Context, rc *Context, targets []target.Target) (Summary, error) {
	summary := Summary{RunID: d.runID, Total: len(targets), Outcomes: make(map[history.Status]int)}

	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		d.ui.Println("")
		d.ui.Bold("--- Processing %d/%d: %s ---", i+1, len(targets), t.Name)

		handler := d.handlerFor(t.Kind)
		if handler == nil {
			if t.Kind == nil {
				d.ui.Warn("Unknown type '%s'. Skipping.", t.Type)
			} else {
				d.ui.Warn("No handler for type '%s'. Skipping.", t.Type)
			}
			d.record(t, skipped("unknown type"))
			summary.Outcomes[history.StatusSkipped]++
			continue
		}

		outcome, err := d.invoke(ctx, handler, rc, t)
		if err != nil {
			return summary, err
		}
		d.logger.Debug("target processed",
			zap.String("target", t.Name),
			zap.String("type", string(t.Type)),
			zap.String("status", string(outcome.Status)))
		d.record(t, outcome)
		summary.Outcomes[outcome.Status]++

		if i < len(targets)-1 && d.pause > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(d.pause):
			}
		}
	}
	return summary, nil
}

// invoke runs one handler, turning a panic into a failed outcome.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, rc *Context, t target.Target) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", zap.String("target", t.Name), zap.Any("panic", r))
			d.ui.Fail("Unexpected error: %v", r)
			outcome, err = failed(fmt.Errorf("panic: %v", r)), nil
		}
	}()

	outcome, err = h.Handle(ctx, rc, t)
	if err != nil && !isFatal(err) {
		d.ui.Fail("Unexpected error: %v", err)
		return failed(err), nil
	}
	return outcome, err
}

func isFatal(err error) bool {
	return errors.Is(err, console.ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (d *Dispatcher) record(t target.Target, o Outcome) {
	if d.recorder == nil {
		return
	}
	err := d.recorder.Add(&history.Record{
		RunID:      d.runID,
		TargetName: t.Name,
		Country:    t.Country,
		TargetType: string(t.Type),
		Status:     o.Status,
		Detail:     o.Detail,
	})
	if err != nil {
		d.logger.Warn("failed to record outcome", zap.String("target", t.Name), zap.Error(err))
	}
}
