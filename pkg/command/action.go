package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type ActionWriteModel struct {
	WriteModel

	Name          string
	Script        string
	TimeoutMillis int64
	AllowedToFail bool
	State         domain.ActionState
}

func NewActionWriteModel(instanceID, actionID string) *ActionWriteModel {
	return &ActionWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: actionID},
	}
}

func (wm *ActionWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateAction, wm.AggregateID)
}

func (wm *ActionWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.ActionAddedType:
		var payload domain.ActionAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Name = payload.Name
		wm.Script = payload.Script
		wm.TimeoutMillis = payload.TimeoutMillis
		wm.AllowedToFail = payload.AllowedToFail
		wm.State = domain.ActionStateActive
	case domain.ActionChangedType:
		var payload domain.ActionChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Name != nil {
			wm.Name = *payload.Name
		}
		if payload.Script != nil {
			wm.Script = *payload.Script
		}
		if payload.TimeoutMillis != nil {
			wm.TimeoutMillis = *payload.TimeoutMillis
		}
		if payload.AllowedToFail != nil {
			wm.AllowedToFail = *payload.AllowedToFail
		}
	case domain.ActionDeactivatedType:
		wm.State = domain.ActionStateInactive
	case domain.ActionReactivatedType:
		wm.State = domain.ActionStateActive
	case domain.ActionRemovedType:
		wm.State = domain.ActionStateRemoved
	}
	return nil
}

func (wm *ActionWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateAction,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// AddAction stores a custom script hooked into flows by executions.
func (c *Commands) AddAction(ctx context.Context, action domain.ActionAdded) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("name", action.Name); err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("script", action.Script); err != nil {
		return "", nil, err
	}

	actionID := c.idGen.NextString()
	wm := NewActionWriteModel(actor.InstanceID, actionID)
	details, err := c.pushDetails(ctx, "action.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateAction, ID: actionID, Owner: actor.InstanceID},
			Type:      domain.ActionAddedType,
			Payload:   action,
			Creator:   actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return actionID, details, nil
}

func (c *Commands) ChangeAction(ctx context.Context, actionID string, change domain.ActionChanged) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if change.Script != nil {
		if err := requireNonEmpty("script", *change.Script); err != nil {
			return nil, err
		}
	}

	wm := NewActionWriteModel(actor.InstanceID, actionID)
	return c.pushDetails(ctx, "action.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewActionWriteModel(actor.InstanceID, actionID)
		if err := c.loadExistingAction(ctx, wm); err != nil {
			return nil, err
		}
		payload := domain.ActionChanged{}
		if change.Name != nil && *change.Name != wm.Name {
			payload.Name = change.Name
		}
		if change.Script != nil && *change.Script != wm.Script {
			payload.Script = change.Script
		}
		if change.TimeoutMillis != nil && *change.TimeoutMillis != wm.TimeoutMillis {
			payload.TimeoutMillis = change.TimeoutMillis
		}
		if change.AllowedToFail != nil && *change.AllowedToFail != wm.AllowedToFail {
			payload.AllowedToFail = change.AllowedToFail
		}
		if payload == (domain.ActionChanged{}) {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ActionChangedType,
			Payload:        payload,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) DeactivateAction(ctx context.Context, actionID string) (*domain.ObjectDetails, error) {
	return c.changeActionState(ctx, "action.deactivate", actionID, domain.ActionStateActive, domain.ActionDeactivatedType)
}

func (c *Commands) ReactivateAction(ctx context.Context, actionID string) (*domain.ObjectDetails, error) {
	return c.changeActionState(ctx, "action.reactivate", actionID, domain.ActionStateInactive, domain.ActionReactivatedType)
}

func (c *Commands) changeActionState(ctx context.Context, name, actionID string, requiredState domain.ActionState, eventType string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewActionWriteModel(actor.InstanceID, actionID)
	return c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewActionWriteModel(actor.InstanceID, actionID)
		if err := c.loadExistingAction(ctx, wm); err != nil {
			return nil, err
		}
		if wm.State != requiredState {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-action-state", "action %s is %s", actionID, wm.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) RemoveAction(ctx context.Context, actionID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewActionWriteModel(actor.InstanceID, actionID)
	return c.pushDetails(ctx, "action.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewActionWriteModel(actor.InstanceID, actionID)
		if err := c.loadExistingAction(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ActionRemovedType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) loadExistingAction(ctx context.Context, wm *ActionWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if !wm.State.Exists() {
		return errs.ThrowNotFound(nil, "COMMAND-action-notfound", "action %s not found", wm.AggregateID)
	}
	return nil
}
