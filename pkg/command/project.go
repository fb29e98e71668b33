package command

import (
	"context"
	"slices"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type ProjectWriteModel struct {
	WriteModel

	Name    string
	State   domain.ProjectState
	Roles   map[string]domain.ProjectRoleAdded // key -> definition
	Members map[string][]string                // user id -> role keys
	Grants  map[string]domain.ProjectGrantAdded
}

func NewProjectWriteModel(instanceID, projectID string) *ProjectWriteModel {
	return &ProjectWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: projectID},
		Roles:      make(map[string]domain.ProjectRoleAdded),
		Members:    make(map[string][]string),
		Grants:     make(map[string]domain.ProjectGrantAdded),
	}
}

func (wm *ProjectWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateProject, wm.AggregateID)
}

func (wm *ProjectWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.ProjectAddedType:
		var payload domain.ProjectAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Name = payload.Name
		wm.State = domain.ProjectStateActive
	case domain.ProjectChangedType:
		var payload domain.ProjectChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Name != nil {
			wm.Name = *payload.Name
		}
	case domain.ProjectDeactivatedType:
		wm.State = domain.ProjectStateInactive
	case domain.ProjectReactivatedType:
		wm.State = domain.ProjectStateActive
	case domain.ProjectRemovedType:
		wm.State = domain.ProjectStateRemoved
	case domain.ProjectRoleAddedType:
		var payload domain.ProjectRoleAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Roles[payload.Key] = payload
	case domain.ProjectRoleChangedType:
		var payload domain.ProjectRoleChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		role := wm.Roles[payload.Key]
		if payload.DisplayName != nil {
			role.DisplayName = *payload.DisplayName
		}
		if payload.Group != nil {
			role.Group = *payload.Group
		}
		wm.Roles[payload.Key] = role
	case domain.ProjectRoleRemovedType:
		var payload domain.ProjectRoleRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		delete(wm.Roles, payload.Key)
	case domain.ProjectMemberAddedType, domain.ProjectMemberChangedType:
		var payload domain.ProjectMemberAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Members[payload.UserID] = payload.Roles
	case domain.ProjectMemberRemovedType:
		var payload domain.ProjectMemberRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		delete(wm.Members, payload.UserID)
	case domain.ProjectGrantAddedType:
		var payload domain.ProjectGrantAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Grants[payload.GrantID] = payload
	case domain.ProjectGrantChangedType:
		var payload domain.ProjectGrantChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		grant := wm.Grants[payload.GrantID]
		grant.RoleKeys = payload.RoleKeys
		wm.Grants[payload.GrantID] = grant
	case domain.ProjectGrantRemovedType:
		var payload domain.ProjectGrantRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		delete(wm.Grants, payload.GrantID)
	}
	return nil
}

func (wm *ProjectWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateProject,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

func (c *Commands) AddProject(ctx context.Context, name string) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if actor.OrgID == "" {
		return "", nil, errs.ThrowInvalid(nil, "COMMAND-project-org", "org id missing in actor context")
	}
	if err := requireNonEmpty("name", name); err != nil {
		return "", nil, err
	}

	projectID := c.idGen.NextString()
	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	details, err := c.pushDetails(ctx, "project.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateProject, ID: projectID, Owner: actor.OrgID},
			Type:      domain.ProjectAddedType,
			Payload:   domain.ProjectAdded{Name: name},
			Creator:   actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return projectID, details, nil
}

func (c *Commands) ChangeProject(ctx context.Context, projectID, name string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("name", name); err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Name == name {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectChangedType,
			Payload:        domain.ProjectChanged{Name: &name},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) DeactivateProject(ctx context.Context, projectID string) (*domain.ObjectDetails, error) {
	return c.changeProjectState(ctx, "project.deactivate", projectID, domain.ProjectStateActive, domain.ProjectDeactivatedType)
}

func (c *Commands) ReactivateProject(ctx context.Context, projectID string) (*domain.ObjectDetails, error) {
	return c.changeProjectState(ctx, "project.reactivate", projectID, domain.ProjectStateInactive, domain.ProjectReactivatedType)
}

func (c *Commands) changeProjectState(ctx context.Context, name, projectID string, requiredState domain.ProjectState, eventType string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		if wm.State != requiredState {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-project-state", "project %s is %s", projectID, wm.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) RemoveProject(ctx context.Context, projectID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectRemovedType,
			Creator:        actor.UserID,
		}}, nil
	})
}

// AddProjectRole defines a role key on the project. Keys are unique within
// the project.
func (c *Commands) AddProjectRole(ctx context.Context, projectID string, role domain.ProjectRoleAdded) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("role key", role.Key); err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.role.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		if _, ok := wm.Roles[role.Key]; ok {
			return nil, errs.ThrowAlreadyExists(nil, "COMMAND-project-role-exists", "role %s already defined", role.Key)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectRoleAddedType,
			Payload:        role,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) ChangeProjectRole(ctx context.Context, projectID string, change domain.ProjectRoleChanged) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.role.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		role, ok := wm.Roles[change.Key]
		if !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-project-role-notfound", "role %s not found", change.Key)
		}
		payload := domain.ProjectRoleChanged{Key: change.Key}
		if change.DisplayName != nil && *change.DisplayName != role.DisplayName {
			payload.DisplayName = change.DisplayName
		}
		if change.Group != nil && *change.Group != role.Group {
			payload.Group = change.Group
		}
		if payload.DisplayName == nil && payload.Group == nil {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectRoleChangedType,
			Payload:        payload,
			Creator:        actor.UserID,
		}}, nil
	})
}

// RemoveProjectRole drops the role definition. Grants referencing the key
// are pruned by the reducers.
func (c *Commands) RemoveProjectRole(ctx context.Context, projectID, key string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.role.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		if _, ok := wm.Roles[key]; !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-project-role-notfound", "role %s not found", key)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectRoleRemovedType,
			Payload:        domain.ProjectRoleRemoved{Key: key},
			Creator:        actor.UserID,
		}}, nil
	})
}

// AddProjectMember adds a user with a set of role keys; every key must be
// defined on the project.
func (c *Commands) AddProjectMember(ctx context.Context, projectID, userID string, roles []string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("user id", userID); err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.member.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		if _, ok := wm.Members[userID]; ok {
			return nil, errs.ThrowAlreadyExists(nil, "COMMAND-project-member-exists", "user %s is already a member", userID)
		}
		if err := wm.validateRoleKeys(roles); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectMemberAddedType,
			Payload:        domain.ProjectMemberAdded{UserID: userID, Roles: roles},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) ChangeProjectMember(ctx context.Context, projectID, userID string, roles []string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.member.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		current, ok := wm.Members[userID]
		if !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-project-member-notfound", "user %s is not a member", userID)
		}
		if err := wm.validateRoleKeys(roles); err != nil {
			return nil, err
		}
		if slices.Equal(current, roles) {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectMemberChangedType,
			Payload:        domain.ProjectMemberChanged{UserID: userID, Roles: roles},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) RemoveProjectMember(ctx context.Context, projectID, userID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.member.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		if _, ok := wm.Members[userID]; !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-project-member-notfound", "user %s is not a member", userID)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectMemberRemovedType,
			Payload:        domain.ProjectMemberRemoved{UserID: userID},
			Creator:        actor.UserID,
		}}, nil
	})
}

// AddProjectGrant shares the project with another org, restricted to the
// listed role keys.
func (c *Commands) AddProjectGrant(ctx context.Context, projectID, grantedOrgID string, roleKeys []string) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("granted org id", grantedOrgID); err != nil {
		return "", nil, err
	}

	grantID := c.idGen.NextString()
	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	details, err := c.pushDetails(ctx, "project.grant.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		for _, grant := range wm.Grants {
			if grant.GrantedOrgID == grantedOrgID {
				return nil, errs.ThrowAlreadyExists(nil, "COMMAND-project-grant-exists", "project already granted to org %s", grantedOrgID)
			}
		}
		if err := wm.validateRoleKeys(roleKeys); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectGrantAddedType,
			Payload:        domain.ProjectGrantAdded{GrantID: grantID, GrantedOrgID: grantedOrgID, RoleKeys: roleKeys},
			Creator:        actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return grantID, details, nil
}

func (c *Commands) ChangeProjectGrant(ctx context.Context, projectID, grantID string, roleKeys []string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.grant.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		grant, ok := wm.Grants[grantID]
		if !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-project-grant-notfound", "grant %s not found", grantID)
		}
		if err := wm.validateRoleKeys(roleKeys); err != nil {
			return nil, err
		}
		if slices.Equal(grant.RoleKeys, roleKeys) {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectGrantChangedType,
			Payload:        domain.ProjectGrantChanged{GrantID: grantID, RoleKeys: roleKeys},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) RemoveProjectGrant(ctx context.Context, projectID, grantID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewProjectWriteModel(actor.InstanceID, projectID)
	return c.pushDetails(ctx, "project.grant.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewProjectWriteModel(actor.InstanceID, projectID)
		if err := c.loadExistingProject(ctx, wm); err != nil {
			return nil, err
		}
		if _, ok := wm.Grants[grantID]; !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-project-grant-notfound", "grant %s not found", grantID)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ProjectGrantRemovedType,
			Payload:        domain.ProjectGrantRemoved{GrantID: grantID},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (wm *ProjectWriteModel) validateRoleKeys(keys []string) error {
	for _, key := range keys {
		if _, ok := wm.Roles[key]; !ok {
			return errs.ThrowInvalid(nil, "COMMAND-project-role-unknown", "role %s is not defined on project %s", key, wm.AggregateID)
		}
	}
	return nil
}

func (c *Commands) loadExistingProject(ctx context.Context, wm *ProjectWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if !wm.State.Exists() {
		return errs.ThrowNotFound(nil, "COMMAND-project-notfound", "project %s not found", wm.AggregateID)
	}
	return nil
}
