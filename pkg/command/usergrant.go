package command

import (
	"context"
	"slices"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type UserGrantWriteModel struct {
	WriteModel

	UserID    string
	ProjectID string
	RoleKeys  []string
	State     domain.GrantState
}

func NewUserGrantWriteModel(instanceID, grantID string) *UserGrantWriteModel {
	return &UserGrantWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: grantID},
	}
}

func (wm *UserGrantWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateUserGrant, wm.AggregateID)
}

func (wm *UserGrantWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.UserGrantAddedType:
		var payload domain.UserGrantAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.UserID = payload.UserID
		wm.ProjectID = payload.ProjectID
		wm.RoleKeys = payload.RoleKeys
		wm.State = domain.GrantStateActive
	case domain.UserGrantChangedType:
		var payload domain.UserGrantChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.RoleKeys = payload.RoleKeys
	case domain.UserGrantDeactivatedType:
		wm.State = domain.GrantStateInactive
	case domain.UserGrantReactivatedType:
		wm.State = domain.GrantStateActive
	case domain.UserGrantRemovedType:
		wm.State = domain.GrantStateRemoved
	}
	return nil
}

func (wm *UserGrantWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateUserGrant,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// AddUserGrant authorizes a user on a project with a set of role keys. The
// user and the project must exist; every key must be defined on the project.
func (c *Commands) AddUserGrant(ctx context.Context, userID, projectID string, roleKeys []string) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("user id", userID); err != nil {
		return "", nil, err
	}

	grantID := c.idGen.NextString()
	wm := NewUserGrantWriteModel(actor.InstanceID, grantID)
	details, err := c.pushDetails(ctx, "usergrant.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		user := NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, user); err != nil {
			return nil, err
		}
		project, err := c.projectOwner(ctx, actor.InstanceID, projectID)
		if err != nil {
			return nil, err
		}
		if err := project.validateRoleKeys(roleKeys); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateUserGrant, ID: grantID, Owner: user.ResourceOwner},
			Type:      domain.UserGrantAddedType,
			Payload:   domain.UserGrantAdded{UserID: userID, ProjectID: projectID, RoleKeys: roleKeys},
			Creator:   actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return grantID, details, nil
}

func (c *Commands) ChangeUserGrant(ctx context.Context, grantID string, roleKeys []string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserGrantWriteModel(actor.InstanceID, grantID)
	return c.pushDetails(ctx, "usergrant.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserGrantWriteModel(actor.InstanceID, grantID)
		if err := c.loadExistingUserGrant(ctx, wm); err != nil {
			return nil, err
		}
		project, err := c.projectOwner(ctx, actor.InstanceID, wm.ProjectID)
		if err != nil {
			return nil, err
		}
		if err := project.validateRoleKeys(roleKeys); err != nil {
			return nil, err
		}
		if slices.Equal(wm.RoleKeys, roleKeys) {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserGrantChangedType,
			Payload:        domain.UserGrantChanged{RoleKeys: roleKeys},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) DeactivateUserGrant(ctx context.Context, grantID string) (*domain.ObjectDetails, error) {
	return c.changeUserGrantState(ctx, "usergrant.deactivate", grantID, domain.GrantStateActive, domain.UserGrantDeactivatedType)
}

func (c *Commands) ReactivateUserGrant(ctx context.Context, grantID string) (*domain.ObjectDetails, error) {
	return c.changeUserGrantState(ctx, "usergrant.reactivate", grantID, domain.GrantStateInactive, domain.UserGrantReactivatedType)
}

func (c *Commands) changeUserGrantState(ctx context.Context, name, grantID string, requiredState domain.GrantState, eventType string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserGrantWriteModel(actor.InstanceID, grantID)
	return c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserGrantWriteModel(actor.InstanceID, grantID)
		if err := c.loadExistingUserGrant(ctx, wm); err != nil {
			return nil, err
		}
		if wm.State != requiredState {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-usergrant-state", "grant %s is %s", grantID, wm.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) RemoveUserGrant(ctx context.Context, grantID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserGrantWriteModel(actor.InstanceID, grantID)
	return c.pushDetails(ctx, "usergrant.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserGrantWriteModel(actor.InstanceID, grantID)
		if err := c.loadExistingUserGrant(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserGrantRemovedType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) loadExistingUserGrant(ctx context.Context, wm *UserGrantWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if !wm.State.Exists() {
		return errs.ThrowNotFound(nil, "COMMAND-usergrant-notfound", "grant %s not found", wm.AggregateID)
	}
	return nil
}
