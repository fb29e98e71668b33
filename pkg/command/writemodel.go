package command

import (
	"context"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

// WriteModel is the base of every aggregate loader: it tracks the processed
// version, resource owner and change date while the embedding model folds
// the event payloads it cares about.
type WriteModel struct {
	InstanceID    string
	AggregateID   string
	ResourceOwner string
	Version       int64
	ChangeDate    time.Time
}

// AppendEvent advances the base bookkeeping; embedding models call it from
// their Reduce before handling payloads.
func (wm *WriteModel) AppendEvent(event *domain.Event) {
	wm.Version = event.Version
	wm.ChangeDate = event.CreatedAt
	if wm.ResourceOwner == "" {
		wm.ResourceOwner = event.Owner
	}
}

// Details converts the current write-model state into ObjectDetails, used
// for no-op command results.
func (wm *WriteModel) Details() *domain.ObjectDetails {
	return &domain.ObjectDetails{
		Sequence:      wm.Version,
		ResourceOwner: wm.ResourceOwner,
		ChangeDate:    wm.ChangeDate,
	}
}

// reducer is implemented by every concrete write model.
type reducer interface {
	// Query selects the events the model folds.
	Query() *eventstore.SearchQuery
	// Reduce applies one event.
	Reduce(event *domain.Event) error
}

// load replays a write model from the eventstore.
func (c *Commands) load(ctx context.Context, r reducer) error {
	events, err := c.es.Filter(ctx, r.Query())
	if err != nil {
		return err
	}
	for i := range events {
		if err := r.Reduce(&events[i]); err != nil {
			return err
		}
	}
	return nil
}
