package projection

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
	"github.com/gatehouse-id/gatehouse/pkg/messaging"
)

// Config tunes the engine. Zero values fall back to the defaults below.
type Config struct {
	// BatchSize caps the events read per catch-up round (default 200).
	BatchSize int

	// Interval is the fallback poll interval when no bus wake-up arrives
	// (default 5s).
	Interval time.Duration

	// BackoffBase and BackoffMax bound the exponential retry backoff after
	// an error (defaults 500ms and 30s).
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// LagThreshold is the wall-clock lag above which a cursor reports
	// unhealthy (default 30s).
	LagThreshold time.Duration

	// FailureThreshold is the consecutive-failure count at which a cursor
	// reports unhealthy (default 5).
	FailureThreshold int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.LagThreshold <= 0 {
		c.LagThreshold = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
}

// Engine runs the registered projections: catch-up from the eventstore on
// start, then tailing driven by bus notifications with a polling fallback.
type Engine struct {
	db     *sql.DB
	es     eventstore.EventStore
	bus    messaging.EventBus
	logger *slog.Logger
	config Config
	now    func() time.Time

	mu       sync.Mutex
	handlers map[string]*handlerState
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sub      messaging.Subscription
}

type handlerState struct {
	handler Handler
	trigger chan struct{}
}

// Option configures the engine.
type Option func(*Engine)

func WithConfig(config Config) Option {
	return func(e *Engine) { e.config = config }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventBus lets committed events wake the projections instead of
// waiting for the next poll.
func WithEventBus(bus messaging.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over the shared database. The eventstore is
// the source of truth; db holds the read-model tables and cursors.
func NewEngine(db *sql.DB, es eventstore.EventStore, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		es:       es,
		logger:   slog.Default(),
		handlers: make(map[string]*handlerState),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.config.applyDefaults()
	return e
}

// Register adds a projection. Must be called before Start.
func (e *Engine) Register(handlers ...Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range handlers {
		e.handlers[h.Name()] = &handlerState{
			handler: h,
			trigger: make(chan struct{}, 1),
		}
	}
}

// Start initializes the tables, catches every projection up and launches
// the tail loops. It returns once the initial catch-up is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errs.ThrowPrecondition(nil, "PROJ-started", "engine already started")
	}
	e.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.mu.Unlock()

	if err := ensureCursorTables(ctx, e.db); err != nil {
		return err
	}
	for _, state := range e.handlers {
		if err := state.handler.Init(ctx, e.db); err != nil {
			return err
		}
	}

	// initial catch-up before the server reports ready; a failing projection
	// does not block startup, its tail loop retries with backoff
	for name, state := range e.handlers {
		if err := e.catchUp(ctx, state.handler); err != nil {
			e.logger.Error("initial catch-up failed", "projection", name, "error", err)
		}
	}

	if e.bus != nil {
		sub, err := e.bus.Subscribe(messaging.EventFilter{}, func(_ *domain.Event) error {
			e.TriggerAll()
			return nil
		})
		if err != nil {
			return err
		}
		e.sub = sub
	}

	for _, state := range e.handlers {
		e.wg.Add(1)
		go e.run(runCtx, state)
	}
	return nil
}

// run is the tail loop of one projection.
func (e *Engine) run(ctx context.Context, state *handlerState) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	backoff := e.config.BackoffBase
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-state.trigger:
		}

		if err := e.catchUp(ctx, state.handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("projection catch-up failed, backing off",
				"projection", state.handler.Name(), "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, e.config.BackoffMax)
			continue
		}
		backoff = e.config.BackoffBase
	}
}

// catchUp advances one projection to the head of every instance.
func (e *Engine) catchUp(ctx context.Context, h Handler) error {
	instances, err := e.es.Instances(ctx)
	if err != nil {
		return err
	}
	for _, instanceID := range instances {
		if err := e.catchUpInstance(ctx, h, instanceID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) catchUpInstance(ctx context.Context, h Handler, instanceID string) error {
	for {
		cursor, err := loadCursor(ctx, e.db, h.Name(), instanceID)
		if err != nil {
			return err
		}
		events, err := e.es.Filter(ctx, eventstore.NewSearchQuery(instanceID).
			AfterPosition(cursor).
			WithLimit(e.config.BatchSize))
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return errs.ThrowInternal(err, "PROJ-begin", "failed to begin projection transaction")
		}
		for i := range events {
			if err := h.Reduce(ctx, tx, &events[i]); err != nil {
				// roll the batch back and keep the cursor where it was; the
				// run loop retries with backoff, other projections are not
				// affected
				tx.Rollback()
				e.logger.Error("projection failed to reduce event",
					"projection", h.Name(),
					"event_type", events[i].Type,
					"position", events[i].Position,
					"error", err)
				if ferr := recordReduceFailure(ctx, e.db, h.Name(), instanceID,
					&events[i], err, e.now()); ferr != nil {
					return ferr
				}
				return errs.ThrowInternal(err, "PROJ-reduce",
					"projection %s cannot reduce event at position %d", h.Name(), events[i].Position)
			}
		}
		if err := saveCursorTx(ctx, tx, h.Name(), instanceID, events[len(events)-1].Position, e.now()); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return errs.ThrowInternal(err, "PROJ-commit", "failed to commit projection batch")
		}

		if len(events) < e.config.BatchSize {
			return nil
		}
	}
}

// Trigger wakes one projection for an immediate catch-up round.
func (e *Engine) Trigger(name string) {
	e.mu.Lock()
	state, ok := e.handlers[name]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case state.trigger <- struct{}{}:
	default:
	}
}

// TriggerAll wakes every projection.
func (e *Engine) TriggerAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, state := range e.handlers {
		select {
		case state.trigger <- struct{}{}:
		default:
		}
	}
}

// Sync drives every projection to the head synchronously; used by tests and
// by queries that need read-after-write consistency. Every projection gets
// its pass even when another one fails; the errors are joined.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	handlers := make([]Handler, 0, len(e.handlers))
	for _, state := range e.handlers {
		handlers = append(handlers, state.handler)
	}
	e.mu.Unlock()

	var failures []error
	for _, h := range handlers {
		if err := e.catchUp(ctx, h); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// Stop cancels the tail loops and waits for them.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	sub := e.sub
	e.started = false
	e.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}
