package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type OrgWriteModel struct {
	WriteModel

	Name          string
	State         domain.OrgState
	Domains       map[string]bool // domain -> verified
	PrimaryDomain string
}

func NewOrgWriteModel(instanceID, orgID string) *OrgWriteModel {
	return &OrgWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: orgID},
		Domains:    make(map[string]bool),
	}
}

func (wm *OrgWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateOrg, wm.AggregateID)
}

func (wm *OrgWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.OrgAddedType:
		var payload domain.OrgAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Name = payload.Name
		wm.State = domain.OrgStateActive
	case domain.OrgChangedType:
		var payload domain.OrgChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Name != nil {
			wm.Name = *payload.Name
		}
	case domain.OrgDeactivatedType:
		wm.State = domain.OrgStateInactive
	case domain.OrgReactivatedType:
		wm.State = domain.OrgStateActive
	case domain.OrgRemovedType:
		wm.State = domain.OrgStateRemoved
	case domain.OrgDomainAddedType:
		var payload domain.OrgDomainAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Domains[payload.Domain] = false
	case domain.OrgDomainVerifiedType:
		var payload domain.OrgDomainVerified
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Domains[payload.Domain] = true
	case domain.OrgDomainPrimarySetType:
		var payload domain.OrgDomainPrimarySet
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.PrimaryDomain = payload.Domain
	case domain.OrgDomainRemovedType:
		var payload domain.OrgDomainRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		delete(wm.Domains, payload.Domain)
		if wm.PrimaryDomain == payload.Domain {
			wm.PrimaryDomain = ""
		}
	}
	return nil
}

func (wm *OrgWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateOrg,
		ID:         wm.AggregateID,
		Owner:      wm.AggregateID,
	}
}

// AddOrg creates an org; the name is unique per instance.
func (c *Commands) AddOrg(ctx context.Context, name string) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("name", name); err != nil {
		return "", nil, err
	}

	orgID := c.idGen.NextString()
	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	details, err := c.pushDetails(ctx, "org.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateOrg, ID: orgID, Owner: orgID},
			Type:      domain.OrgAddedType,
			Payload:   domain.OrgAdded{Name: name},
			Creator:   actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueOrgName, normalizeDomain(name)),
			},
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return orgID, details, nil
}

// ChangeOrg renames an org; renaming to the current name is a no-op.
func (c *Commands) ChangeOrg(ctx context.Context, orgID, name string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("name", name); err != nil {
		return nil, err
	}

	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	return c.pushDetails(ctx, "org.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewOrgWriteModel(actor.InstanceID, orgID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if !wm.State.Exists() {
			return nil, errs.ThrowNotFound(nil, "COMMAND-org-notfound", "org %s not found", orgID)
		}
		if wm.Name == name {
			return nil, nil
		}
		oldName := wm.Name
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.OrgChangedType,
			Payload:        domain.OrgChanged{Name: &name},
			Creator:        actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewRelease(domain.UniqueOrgName, normalizeDomain(oldName)),
				domain.NewClaim(domain.UniqueOrgName, normalizeDomain(name)),
			},
		}}, nil
	})
}

func (c *Commands) DeactivateOrg(ctx context.Context, orgID string) (*domain.ObjectDetails, error) {
	return c.changeOrgState(ctx, "org.deactivate", orgID, domain.OrgStateActive, domain.OrgDeactivatedType)
}

func (c *Commands) ReactivateOrg(ctx context.Context, orgID string) (*domain.ObjectDetails, error) {
	return c.changeOrgState(ctx, "org.reactivate", orgID, domain.OrgStateInactive, domain.OrgReactivatedType)
}

func (c *Commands) changeOrgState(ctx context.Context, name, orgID string, requiredState domain.OrgState, eventType string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	return c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewOrgWriteModel(actor.InstanceID, orgID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if !wm.State.Exists() {
			return nil, errs.ThrowNotFound(nil, "COMMAND-org-notfound", "org %s not found", orgID)
		}
		if wm.State != requiredState {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-org-state", "org %s is %s", orgID, wm.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Creator:        actor.UserID,
		}}, nil
	})
}

// RemoveOrg removes the org; downstream reducers cascade over owned rows.
func (c *Commands) RemoveOrg(ctx context.Context, orgID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	return c.pushDetails(ctx, "org.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewOrgWriteModel(actor.InstanceID, orgID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if !wm.State.Exists() {
			return nil, errs.ThrowNotFound(nil, "COMMAND-org-notfound", "org %s not found", orgID)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.OrgRemovedType,
			Creator:        actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewRelease(domain.UniqueOrgName, normalizeDomain(wm.Name)),
				domain.NewReleaseAll(domain.UniqueOrgDomain),
			},
		}}, nil
	})
}

// AddOrgDomain registers a domain on the org, unverified.
func (c *Commands) AddOrgDomain(ctx context.Context, orgID, domainName string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	domainName = normalizeDomain(domainName)
	if err := requireNonEmpty("domain", domainName); err != nil {
		return nil, err
	}

	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	return c.pushDetails(ctx, "org.domain.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewOrgWriteModel(actor.InstanceID, orgID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if !wm.State.Exists() {
			return nil, errs.ThrowNotFound(nil, "COMMAND-org-notfound", "org %s not found", orgID)
		}
		if _, ok := wm.Domains[domainName]; ok {
			return nil, errs.ThrowAlreadyExists(nil, "COMMAND-org-domain-exists", "domain %s already added", domainName)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.OrgDomainAddedType,
			Payload:        domain.OrgDomainAdded{Domain: domainName},
			Creator:        actor.UserID,
		}}, nil
	})
}

// VerifyOrgDomain marks the domain verified and claims instance-wide
// uniqueness for it.
func (c *Commands) VerifyOrgDomain(ctx context.Context, orgID, domainName string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	domainName = normalizeDomain(domainName)

	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	return c.pushDetails(ctx, "org.domain.verify", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewOrgWriteModel(actor.InstanceID, orgID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		verified, ok := wm.Domains[domainName]
		if !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-org-domain-notfound", "domain %s not found on org %s", domainName, orgID)
		}
		if verified {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.OrgDomainVerifiedType,
			Payload:        domain.OrgDomainVerified{Domain: domainName},
			Creator:        actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueOrgDomain, domainName),
			},
		}}, nil
	})
}

// SetPrimaryOrgDomain requires the domain to be verified.
func (c *Commands) SetPrimaryOrgDomain(ctx context.Context, orgID, domainName string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	domainName = normalizeDomain(domainName)

	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	return c.pushDetails(ctx, "org.domain.primary", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewOrgWriteModel(actor.InstanceID, orgID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		verified, ok := wm.Domains[domainName]
		if !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-org-domain-notfound", "domain %s not found on org %s", domainName, orgID)
		}
		if !verified {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-org-domain-unverified", "domain %s is not verified", domainName)
		}
		if wm.PrimaryDomain == domainName {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.OrgDomainPrimarySetType,
			Payload:        domain.OrgDomainPrimarySet{Domain: domainName},
			Creator:        actor.UserID,
		}}, nil
	})
}

// RemoveOrgDomain drops a domain; the primary domain cannot be removed.
func (c *Commands) RemoveOrgDomain(ctx context.Context, orgID, domainName string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	domainName = normalizeDomain(domainName)

	wm := NewOrgWriteModel(actor.InstanceID, orgID)
	return c.pushDetails(ctx, "org.domain.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewOrgWriteModel(actor.InstanceID, orgID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		verified, ok := wm.Domains[domainName]
		if !ok {
			return nil, errs.ThrowNotFound(nil, "COMMAND-org-domain-notfound", "domain %s not found on org %s", domainName, orgID)
		}
		if wm.PrimaryDomain == domainName {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-org-domain-primary", "primary domain cannot be removed")
		}
		constraints := []domain.UniqueConstraint{}
		if verified {
			constraints = append(constraints, domain.NewRelease(domain.UniqueOrgDomain, domainName))
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.OrgDomainRemovedType,
			Payload:        domain.OrgDomainRemoved{Domain: domainName},
			Creator:        actor.UserID,
			Constraints:    constraints,
		}}, nil
	})
}
