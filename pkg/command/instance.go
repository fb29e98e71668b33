package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type InstanceWriteModel struct {
	WriteModel

	Name    string
	Removed bool
	Exists  bool
}

func NewInstanceWriteModel(instanceID string) *InstanceWriteModel {
	return &InstanceWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: instanceID},
	}
}

func (wm *InstanceWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateInstance, wm.AggregateID)
}

func (wm *InstanceWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.InstanceAddedType:
		var payload domain.InstanceAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Name = payload.Name
		wm.Exists = true
	case domain.InstanceRemovedType:
		wm.Exists = false
		wm.Removed = true
	}
	return nil
}

// AddInstance creates the tenant root. The instance id doubles as the
// aggregate id.
func (c *Commands) AddInstance(ctx context.Context, instanceID, name string) (*domain.ObjectDetails, error) {
	if err := requireNonEmpty("instance id", instanceID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("name", name); err != nil {
		return nil, err
	}

	wm := NewInstanceWriteModel(instanceID)
	return c.pushDetails(ctx, "instance.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewInstanceWriteModel(instanceID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Exists {
			return nil, errs.ThrowAlreadyExists(nil, "COMMAND-instance-exists", "instance %s already exists", instanceID)
		}
		return []*domain.Command{{
			Aggregate:      domain.Aggregate{InstanceID: instanceID, Type: domain.AggregateInstance, ID: instanceID, Owner: instanceID},
			CurrentVersion: wm.Version,
			Type:           domain.InstanceAddedType,
			Payload:        domain.InstanceAdded{Name: name},
		}}, nil
	})
}

// RemoveInstance logically purges a tenant; projections cascade-delete all
// rows of the instance.
func (c *Commands) RemoveInstance(ctx context.Context, instanceID string) (*domain.ObjectDetails, error) {
	wm := NewInstanceWriteModel(instanceID)
	return c.pushDetails(ctx, "instance.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewInstanceWriteModel(instanceID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if !wm.Exists {
			return nil, errs.ThrowNotFound(nil, "COMMAND-instance-notfound", "instance %s not found", instanceID)
		}
		return []*domain.Command{{
			Aggregate:      domain.Aggregate{InstanceID: instanceID, Type: domain.AggregateInstance, ID: instanceID, Owner: instanceID},
			CurrentVersion: wm.Version,
			Type:           domain.InstanceRemovedType,
		}}, nil
	})
}
