package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/pkg/eventstore/sqlite"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
	"github.com/gatehouse-id/gatehouse/pkg/runner"
)

type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) record(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, entry)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

type fakeService struct {
	name     string
	startErr error
	rec      *recorder
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	s.rec.record("start " + s.name)
	return s.startErr
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.rec.record("stop " + s.name)
	return nil
}

func TestRunStartsInOrderAndStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	a := &fakeService{name: "a", rec: rec}
	b := &fakeService{name: "b", rec: rec}

	ctx, cancel := context.WithCancel(context.Background())
	r := runner.New([]runner.Service{a, b})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	log := rec.entries()
	require.Len(t, log, 4)
	assert.Equal(t, "start a", log[0])
	assert.Equal(t, "start b", log[1])
	assert.Contains(t, log[2:], "stop a")
	assert.Contains(t, log[2:], "stop b")
}

func TestRunStopsStartedServicesOnStartupFailure(t *testing.T) {
	rec := &recorder{}
	a := &fakeService{name: "a", rec: rec}
	b := &fakeService{name: "b", rec: rec, startErr: errors.New("boom")}

	r := runner.New([]runner.Service{a, b})
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start service b")

	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.entries())
}

func TestProjectionServiceLifecycleAndHealth(t *testing.T) {
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := projection.NewEngine(store.DB(), store)
	engine.Register(projection.All()...)

	svc := runner.NewProjectionService(engine,
		runner.WithHealthInterval(10*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.HealthCheck(ctx))
	require.NoError(t, svc.Stop(ctx))
}
