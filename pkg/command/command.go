// Package command implements the write side: it loads aggregates by event
// replay, enforces invariants and emits event batches through the
// eventstore under optimistic concurrency.
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/crypto"
	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
	"github.com/gatehouse-id/gatehouse/pkg/id"
)

// Config carries the tunables of the command layer. Zero values fall back to
// the documented defaults.
type Config struct {
	// IntentTTL is the lifetime of an IDP intent (default 10 minutes).
	IntentTTL time.Duration

	// SessionIdleTTL is the idle lifetime of a session (default 24 hours).
	SessionIdleTTL time.Duration

	// BcryptCost for password hashing (default crypto.DefaultCost).
	BcryptCost int
}

func (c *Config) applyDefaults() {
	if c.IntentTTL <= 0 {
		c.IntentTTL = 10 * time.Minute
	}
	if c.SessionIdleTTL <= 0 {
		c.SessionIdleTTL = 24 * time.Hour
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = crypto.DefaultCost
	}
}

// Monitor observes command outcomes; wired to otel in pkg/observability.
type Monitor interface {
	RecordCommand(ctx context.Context, name string, err error, duration time.Duration)
}

// Commands is the write-side API. All methods require an actor context (see
// domain.WithActor) and return ObjectDetails on success.
type Commands struct {
	es      eventstore.EventStore
	idGen   *id.Generator
	hasher  *crypto.PasswordHasher
	config  Config
	logger  *slog.Logger
	monitor Monitor
	now     func() time.Time
}

// Option configures Commands.
type Option func(*Commands)

// WithConfig replaces the default configuration.
func WithConfig(config Config) Option {
	return func(c *Commands) { c.config = config }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Commands) { c.logger = logger }
}

// WithMonitor registers a command monitor.
func WithMonitor(m Monitor) Option {
	return func(c *Commands) { c.monitor = m }
}

// WithIDGenerator replaces the id generator, for tests.
func WithIDGenerator(gen *id.Generator) Option {
	return func(c *Commands) { c.idGen = gen }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Commands) { c.now = now }
}

// New creates the command layer on top of an eventstore.
func New(es eventstore.EventStore, opts ...Option) *Commands {
	c := &Commands{
		es:     es,
		idGen:  id.NewGenerator(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.config.applyDefaults()
	c.hasher = crypto.NewPasswordHasher(c.config.BcryptCost)
	return c
}

// prepareFunc loads state and returns the commands to push. It is re-run on
// a concurrency conflict so the retry sees fresh state.
type prepareFunc func(ctx context.Context) ([]*domain.Command, error)

// push runs prepare, pushes the result, and retries exactly once on a
// concurrency conflict. A nil/empty command list is the no-op case and
// returns nil events without touching the store.
func (c *Commands) push(ctx context.Context, name string, prepare prepareFunc) ([]domain.Event, error) {
	start := c.now()
	events, err := c.pushOnce(ctx, prepare)
	if errs.IsConcurrencyConflict(err) {
		c.logger.Debug("retrying command after concurrency conflict", "command", name)
		events, err = c.pushOnce(ctx, prepare)
	}
	if c.monitor != nil {
		c.monitor.RecordCommand(ctx, name, err, c.now().Sub(start))
	}
	if err != nil {
		c.logger.Debug("command failed", "command", name, "error", err)
	}
	return events, err
}

func (c *Commands) pushOnce(ctx context.Context, prepare prepareFunc) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.ThrowTimeout(err, "COMMAND-deadline", "deadline exceeded before append")
	}
	commands, err := prepare(ctx)
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.ThrowTimeout(err, "COMMAND-deadline", "deadline exceeded before append")
	}
	return c.es.Push(ctx, commands...)
}

// pushDetails is push for the common single-aggregate case: it derives
// ObjectDetails from the emitted events, falling back to the write model for
// no-op commands.
func (c *Commands) pushDetails(ctx context.Context, name string, wm *WriteModel, prepare prepareFunc) (*domain.ObjectDetails, error) {
	events, err := c.push(ctx, name, prepare)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return wm.Details(), nil
	}
	return domain.DetailsFromEvents(events), nil
}
