package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type IDPWriteModel struct {
	WriteModel

	Type   domain.IDPType
	Name   string
	Exists bool
}

func NewIDPWriteModel(instanceID, idpID string) *IDPWriteModel {
	return &IDPWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: idpID},
	}
}

func (wm *IDPWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateIDP, wm.AggregateID)
}

func (wm *IDPWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.IDPOAuthAddedType:
		var payload domain.IDPOAuthAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Type = domain.IDPTypeOAuth
		wm.Name = payload.Name
		wm.Exists = true
	case domain.IDPOIDCAddedType:
		var payload domain.IDPOIDCAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Type = domain.IDPTypeOIDC
		wm.Name = payload.Name
		wm.Exists = true
	case domain.IDPSAMLAddedType:
		var payload domain.IDPSAMLAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Type = domain.IDPTypeSAML
		wm.Name = payload.Name
		wm.Exists = true
	case domain.IDPOAuthChangedType, domain.IDPOIDCChangedType, domain.IDPSAMLChangedType:
		// name tracking only; the full config lives in the projection
	case domain.IDPRemovedType:
		wm.Exists = false
	}
	return nil
}

func (wm *IDPWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateIDP,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// AddOAuthIDP configures a generic OAuth provider on the instance.
func (c *Commands) AddOAuthIDP(ctx context.Context, idp domain.IDPOAuthAdded) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("name", idp.Name); err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("client id", idp.ClientID); err != nil {
		return "", nil, err
	}
	if err := validateHTTPSURL("auth url", idp.AuthURL); err != nil {
		return "", nil, err
	}
	if err := validateHTTPSURL("token url", idp.TokenURL); err != nil {
		return "", nil, err
	}
	return c.addIDP(ctx, actor, "idp.oauth.add", domain.IDPOAuthAddedType, idp)
}

// AddOIDCIDP configures an OIDC provider; endpoints come from issuer
// discovery at login time.
func (c *Commands) AddOIDCIDP(ctx context.Context, idp domain.IDPOIDCAdded) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("name", idp.Name); err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("client id", idp.ClientID); err != nil {
		return "", nil, err
	}
	if err := validateHTTPSURL("issuer", idp.Issuer); err != nil {
		return "", nil, err
	}
	return c.addIDP(ctx, actor, "idp.oidc.add", domain.IDPOIDCAddedType, idp)
}

// AddSAMLIDP configures a SAML provider from metadata, either inline or by
// URL.
func (c *Commands) AddSAMLIDP(ctx context.Context, idp domain.IDPSAMLAdded) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("name", idp.Name); err != nil {
		return "", nil, err
	}
	if idp.MetadataURL == "" && len(idp.Metadata) == 0 {
		return "", nil, errs.ThrowInvalid(nil, "COMMAND-idp-metadata", "either metadata or metadata url is required")
	}
	if idp.MetadataURL != "" {
		if err := validateHTTPSURL("metadata url", idp.MetadataURL); err != nil {
			return "", nil, err
		}
	}
	return c.addIDP(ctx, actor, "idp.saml.add", domain.IDPSAMLAddedType, idp)
}

func (c *Commands) addIDP(ctx context.Context, actor domain.Actor, name, eventType string, payload any) (string, *domain.ObjectDetails, error) {
	idpID := c.idGen.NextString()
	wm := NewIDPWriteModel(actor.InstanceID, idpID)
	details, err := c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateIDP, ID: idpID, Owner: actor.InstanceID},
			Type:      eventType,
			Payload:   payload,
			Creator:   actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return idpID, details, nil
}

// ChangeOAuthIDP updates an OAuth provider config. Nil fields stay as they
// are.
func (c *Commands) ChangeOAuthIDP(ctx context.Context, idpID string, change domain.IDPOAuthChanged) (*domain.ObjectDetails, error) {
	return c.changeIDP(ctx, "idp.oauth.change", idpID, domain.IDPTypeOAuth, domain.IDPOAuthChangedType, change)
}

func (c *Commands) ChangeOIDCIDP(ctx context.Context, idpID string, change domain.IDPOIDCChanged) (*domain.ObjectDetails, error) {
	return c.changeIDP(ctx, "idp.oidc.change", idpID, domain.IDPTypeOIDC, domain.IDPOIDCChangedType, change)
}

func (c *Commands) ChangeSAMLIDP(ctx context.Context, idpID string, change domain.IDPSAMLChanged) (*domain.ObjectDetails, error) {
	return c.changeIDP(ctx, "idp.saml.change", idpID, domain.IDPTypeSAML, domain.IDPSAMLChangedType, change)
}

func (c *Commands) changeIDP(ctx context.Context, name, idpID string, idpType domain.IDPType, eventType string, payload any) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewIDPWriteModel(actor.InstanceID, idpID)
	return c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewIDPWriteModel(actor.InstanceID, idpID)
		if err := c.loadExistingIDP(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Type != idpType {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-idp-type", "idp %s is a %s provider", idpID, wm.Type)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Payload:        payload,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) RemoveIDP(ctx context.Context, idpID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewIDPWriteModel(actor.InstanceID, idpID)
	return c.pushDetails(ctx, "idp.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewIDPWriteModel(actor.InstanceID, idpID)
		if err := c.loadExistingIDP(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.IDPRemovedType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) loadExistingIDP(ctx context.Context, wm *IDPWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if !wm.Exists {
		return errs.ThrowNotFound(nil, "COMMAND-idp-notfound", "idp %s not found", wm.AggregateID)
	}
	return nil
}
