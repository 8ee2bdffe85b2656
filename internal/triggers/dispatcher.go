// Package triggers routes document change events to the rules that react to
// them. Every rule is split into a pure predicate that detects the transition
// and an apply step that performs the writes.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitroyale/habit-engine/internal/events"
	prommetrics "github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// Dispatch errors. Both mark events that will never succeed on redelivery.
var (
	ErrUnknownPath = errors.New("no trigger registered for path")
	ErrDecode      = errors.New("malformed change event")
)

// HandlerFunc applies one rule to a change. params holds the wildcard values
// of the matched path pattern.
type HandlerFunc func(ctx context.Context, change events.Change, params map[string]string) error

type registration struct {
	name    string
	pattern events.Pattern
	kinds   map[events.Kind]bool
	handler HandlerFunc
}

// Dispatcher runs every registered handler whose pattern and kind match a change.
type Dispatcher struct {
	regs   []registration
	events *repository.EventRepository
	log    *logger.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. When db is not nil, events whose
// handlers all succeeded are recorded and duplicates are skipped.
func NewDispatcher(db *repository.DB, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		log: log.Component("dispatcher"),
		now: time.Now,
	}
	if db != nil {
		d.events = repository.NewEventRepository(db)
	}
	return d
}

// Register adds a handler for writes of the given kinds on pattern. An empty
// kinds list matches every write.
func (d *Dispatcher) Register(pattern events.Pattern, kinds []events.Kind, name string, handler HandlerFunc) {
	set := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	d.regs = append(d.regs, registration{
		name:    name,
		pattern: pattern,
		kinds:   set,
		handler: handler,
	})
}

// Dispatch runs every matching handler and returns the joined errors of the
// failed ones. A change whose handlers all succeeded is recorded as
// processed; a redelivery of it is skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, change events.Change) error {
	if err := change.Validate(); err != nil {
		prommetrics.RecordChangeEvent("dispatch", "invalid")
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	type match struct {
		reg    registration
		params map[string]string
	}
	var (
		matches     []match
		pathMatched bool
	)
	for _, reg := range d.regs {
		params, ok := reg.pattern.Match(change.Path)
		if !ok {
			continue
		}
		pathMatched = true
		if len(reg.kinds) > 0 && !reg.kinds[change.Kind] {
			continue
		}
		matches = append(matches, match{reg: reg, params: params})
	}
	if !pathMatched {
		prommetrics.RecordChangeEvent("dispatch", "unknown_path")
		return fmt.Errorf("%w: %s", ErrUnknownPath, change.Path)
	}
	if len(matches) == 0 {
		prommetrics.RecordChangeEvent("dispatch", "ignored")
		return nil
	}

	if d.events != nil {
		processed, err := d.events.IsProcessed(ctx, change.ID)
		if err != nil {
			return err
		}
		if processed {
			d.log.Debug().Str("event_id", change.ID).Str("path", change.Path).Msg("Duplicate change event skipped")
			prommetrics.RecordChangeEvent("dispatch", "duplicate")
			return nil
		}
	}

	var errs []error
	for _, m := range matches {
		start := time.Now()
		err := m.reg.handler(ctx, change, m.params)
		outcome := "success"
		if err != nil {
			outcome = "error"
			errs = append(errs, fmt.Errorf("%s: %w", m.reg.name, err))
			d.log.Error().
				Err(err).
				Str("trigger", m.reg.name).
				Str("event_id", change.ID).
				Str("path", change.Path).
				Msg("Trigger failed")
		}
		prommetrics.RecordTrigger(m.reg.name, outcome, time.Since(start).Seconds())
	}
	if len(errs) > 0 {
		prommetrics.RecordChangeEvent("dispatch", "failed")
		return errors.Join(errs...)
	}

	if d.events != nil {
		if err := d.events.MarkProcessed(ctx, change.ID, change.Path, d.now().UTC()); err != nil {
			d.log.Warn().Err(err).Str("event_id", change.ID).Msg("Failed to record processed event")
		}
	}
	prommetrics.RecordChangeEvent("dispatch", "processed")
	return nil
}

// IsPermanent reports whether err can never be fixed by redelivering the
// event. Joined errors are permanent only when every one of them is, so a
// transient failure of one handler keeps the event eligible for redelivery.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if err == ErrUnknownPath || err == ErrDecode { //nolint:errorlint // leaf of the walk below
		return true
	}

	switch e := err.(type) { //nolint:errorlint // walks the tree itself
	case interface{ Unwrap() []error }:
		errs := e.Unwrap()
		for _, inner := range errs {
			if !IsPermanent(inner) {
				return false
			}
		}
		return len(errs) > 0
	case interface{ Unwrap() error }:
		return IsPermanent(e.Unwrap())
	}
	return false
}

// StreamHandler adapts Dispatch for the stream consumer. Permanent failures
// are logged and acknowledged; every other failure leaves the entry pending
// for redelivery.
func (d *Dispatcher) StreamHandler() events.Handler {
	return func(ctx context.Context, change events.Change) error {
		err := d.Dispatch(ctx, change)
		if err != nil && IsPermanent(err) {
			d.log.Warn().Err(err).Str("event_id", change.ID).Str("path", change.Path).Msg("Dropping change event")
			return nil
		}
		return err
	}
}
