package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/command"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
)

// ProjectionRecorder receives the engine's health statuses, typically to
// export them as gauges.
type ProjectionRecorder interface {
	RecordProjections(ctx context.Context, statuses []projection.Status)
}

// ProjectionService runs the projection engine as a managed service and
// periodically exports its health.
type ProjectionService struct {
	engine   *projection.Engine
	recorder ProjectionRecorder
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// ProjectionServiceOption configures a ProjectionService.
type ProjectionServiceOption func(*ProjectionService)

// WithProjectionRecorder exports health statuses on every interval tick.
func WithProjectionRecorder(recorder ProjectionRecorder) ProjectionServiceOption {
	return func(s *ProjectionService) {
		s.recorder = recorder
	}
}

// WithHealthInterval sets the health export interval. Default is 15 seconds.
func WithHealthInterval(interval time.Duration) ProjectionServiceOption {
	return func(s *ProjectionService) {
		s.interval = interval
	}
}

// WithProjectionLogger sets the service logger.
func WithProjectionLogger(logger *slog.Logger) ProjectionServiceOption {
	return func(s *ProjectionService) {
		s.logger = logger
	}
}

// NewProjectionService wraps the engine for the runner.
func NewProjectionService(engine *projection.Engine, opts ...ProjectionServiceOption) *ProjectionService {
	s := &ProjectionService{
		engine:   engine,
		interval: 15 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ProjectionService) Name() string { return "projections" }

func (s *ProjectionService) Start(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.healthLoop(loopCtx)
	return nil
}

func (s *ProjectionService) healthLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses, err := s.engine.Health(ctx)
			if err != nil {
				s.logger.Error("projection health check failed", "error", err)
				continue
			}
			if s.recorder != nil {
				s.recorder.RecordProjections(ctx, statuses)
			}
			for _, status := range statuses {
				if status.FailedEvents > 0 {
					s.logger.Warn("projection has failed events",
						"projection", status.Projection,
						"instance", status.InstanceID,
						"failed", status.FailedEvents)
				}
			}
		}
	}
}

func (s *ProjectionService) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.engine.Stop()
	return nil
}

// HealthCheck reports unhealthy when any cursor lags or recorded failed events.
func (s *ProjectionService) HealthCheck(ctx context.Context) error {
	summary, err := s.engine.HealthSummary(ctx)
	if err != nil {
		return err
	}
	if !summary.Healthy {
		return fmt.Errorf("%d of %d projection cursors unhealthy: max lag %s, %d failed events",
			summary.Unhealthy, summary.Cursors, summary.MaxLag, summary.Failed)
	}
	return nil
}

// IntentReaper periodically fails expired identity-provider intents so their
// unique state tokens are released.
type IntentReaper struct {
	commands *command.Commands
	es       eventstore.EventStore
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// IntentReaperOption configures an IntentReaper.
type IntentReaperOption func(*IntentReaper)

// WithReapInterval sets the reap interval. Default is 1 minute.
func WithReapInterval(interval time.Duration) IntentReaperOption {
	return func(r *IntentReaper) {
		r.interval = interval
	}
}

// WithReaperLogger sets the service logger.
func WithReaperLogger(logger *slog.Logger) IntentReaperOption {
	return func(r *IntentReaper) {
		r.logger = logger
	}
}

// NewIntentReaper creates the reaper service.
func NewIntentReaper(commands *command.Commands, es eventstore.EventStore, opts ...IntentReaperOption) *IntentReaper {
	r := &IntentReaper{
		commands: commands,
		es:       es,
		interval: time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IntentReaper) Name() string { return "intent-reaper" }

func (r *IntentReaper) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.reap(loopCtx)
			}
		}
	}()
	return nil
}

func (r *IntentReaper) reap(ctx context.Context) {
	instances, err := r.es.Instances(ctx)
	if err != nil {
		r.logger.Error("listing instances failed", "error", err)
		return
	}
	for _, instanceID := range instances {
		reaped, err := r.commands.ReapIntents(ctx, instanceID)
		if err != nil {
			r.logger.Error("reaping intents failed", "instance", instanceID, "error", err)
			continue
		}
		if reaped > 0 {
			r.logger.Info("reaped expired intents", "instance", instanceID, "count", reaped)
		}
	}
}

func (r *IntentReaper) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}
