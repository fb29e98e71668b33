package command

import (
	"context"
	"slices"

	"github.com/gatehouse-id/gatehouse/pkg/crypto"
	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type AppWriteModel struct {
	WriteModel

	ProjectID    string
	Type         domain.AppType
	State        domain.AppState
	Name         string
	ClientID     string
	EntityID     string
	MetadataURL  string
	ACSURL       string
	RedirectURIs []string
}

func NewAppWriteModel(instanceID, appID string) *AppWriteModel {
	return &AppWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: appID},
	}
}

func (wm *AppWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateApp, wm.AggregateID)
}

func (wm *AppWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.AppOIDCAddedType:
		var payload domain.AppOIDCAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.ProjectID = payload.ProjectID
		wm.Type = domain.AppTypeOIDC
		wm.State = domain.AppStateActive
		wm.Name = payload.Name
		wm.ClientID = payload.ClientID
		wm.RedirectURIs = payload.RedirectURIs
	case domain.AppOIDCChangedType:
		var payload domain.AppOIDCChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Name != nil {
			wm.Name = *payload.Name
		}
		if payload.RedirectURIs != nil {
			wm.RedirectURIs = payload.RedirectURIs
		}
	case domain.AppSAMLAddedType:
		var payload domain.AppSAMLAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.ProjectID = payload.ProjectID
		wm.Type = domain.AppTypeSAML
		wm.State = domain.AppStateActive
		wm.Name = payload.Name
		wm.EntityID = payload.EntityID
		wm.MetadataURL = payload.MetadataURL
		wm.ACSURL = payload.ACSURL
	case domain.AppSAMLChangedType:
		var payload domain.AppSAMLChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Name != nil {
			wm.Name = *payload.Name
		}
		if payload.MetadataURL != nil {
			wm.MetadataURL = *payload.MetadataURL
		}
		if payload.ACSURL != nil {
			wm.ACSURL = *payload.ACSURL
		}
	case domain.AppAPIAddedType:
		var payload domain.AppAPIAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.ProjectID = payload.ProjectID
		wm.Type = domain.AppTypeAPI
		wm.State = domain.AppStateActive
		wm.Name = payload.Name
		wm.ClientID = payload.ClientID
	case domain.AppAPIChangedType:
		var payload domain.AppAPIChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Name != nil {
			wm.Name = *payload.Name
		}
	case domain.AppDeactivatedType:
		wm.State = domain.AppStateInactive
	case domain.AppReactivatedType:
		wm.State = domain.AppStateActive
	case domain.AppRemovedType:
		wm.State = domain.AppStateRemoved
	}
	return nil
}

func (wm *AppWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateApp,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// AddOIDCApp registers an OIDC client on a project. The generated client
// secret is returned in plaintext exactly once; only its hash is stored.
func (c *Commands) AddOIDCApp(ctx context.Context, projectID, name string, redirectURIs []string) (appID, clientID, clientSecret string, details *domain.ObjectDetails, err error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", "", "", nil, err
	}
	if err := requireNonEmpty("name", name); err != nil {
		return "", "", "", nil, err
	}
	for _, uri := range redirectURIs {
		if err := validateHTTPSURL("redirect uri", uri); err != nil {
			return "", "", "", nil, err
		}
	}
	project, err := c.projectOwner(ctx, actor.InstanceID, projectID)
	if err != nil {
		return "", "", "", nil, err
	}

	appID = c.idGen.NextString()
	clientID = c.idGen.NextString() + "@" + actor.InstanceID
	clientSecret = crypto.NewClientSecret()
	secretHash, err := c.hasher.Hash(clientSecret)
	if err != nil {
		return "", "", "", nil, err
	}

	wm := NewAppWriteModel(actor.InstanceID, appID)
	details, err = c.pushDetails(ctx, "app.oidc.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateApp, ID: appID, Owner: project.ResourceOwner},
			Type:      domain.AppOIDCAddedType,
			Payload: domain.AppOIDCAdded{
				ProjectID:    projectID,
				Name:         name,
				ClientID:     clientID,
				ClientSecret: secretHash,
				RedirectURIs: redirectURIs,
			},
			Creator: actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueAppClientID, clientID),
			},
		}}, nil
	})
	if err != nil {
		return "", "", "", nil, err
	}
	return appID, clientID, clientSecret, details, nil
}

func (c *Commands) ChangeOIDCApp(ctx context.Context, appID string, change domain.AppOIDCChanged) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	for _, uri := range change.RedirectURIs {
		if err := validateHTTPSURL("redirect uri", uri); err != nil {
			return nil, err
		}
	}

	wm := NewAppWriteModel(actor.InstanceID, appID)
	return c.pushDetails(ctx, "app.oidc.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewAppWriteModel(actor.InstanceID, appID)
		if err := c.loadExistingApp(ctx, wm, domain.AppTypeOIDC); err != nil {
			return nil, err
		}
		payload := domain.AppOIDCChanged{}
		if change.Name != nil && *change.Name != wm.Name {
			payload.Name = change.Name
		}
		if change.RedirectURIs != nil && !slices.Equal(change.RedirectURIs, wm.RedirectURIs) {
			payload.RedirectURIs = change.RedirectURIs
		}
		if payload.Name == nil && payload.RedirectURIs == nil {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.AppOIDCChangedType,
			Payload:        payload,
			Creator:        actor.UserID,
		}}, nil
	})
}

// RotateAppSecret replaces the client secret of an OIDC or API app and
// returns the new plaintext once.
func (c *Commands) RotateAppSecret(ctx context.Context, appID string) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}

	secret := crypto.NewClientSecret()
	secretHash, err := c.hasher.Hash(secret)
	if err != nil {
		return "", nil, err
	}

	wm := NewAppWriteModel(actor.InstanceID, appID)
	details, err := c.pushDetails(ctx, "app.secret.rotate", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewAppWriteModel(actor.InstanceID, appID)
		if err := c.loadExistingApp(ctx, wm, ""); err != nil {
			return nil, err
		}
		var eventType string
		switch wm.Type {
		case domain.AppTypeOIDC:
			eventType = domain.AppOIDCSecretChangedType
		case domain.AppTypeAPI:
			eventType = domain.AppAPISecretChangedType
		default:
			return nil, errs.ThrowPrecondition(nil, "COMMAND-app-no-secret", "app %s has no client secret", appID)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Payload:        domain.AppSecretChanged{ClientSecret: secretHash},
			Creator:        actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return secret, details, nil
}

// AddSAMLApp registers a SAML service provider. The entity id is unique per
// instance; logins resolve the app through it.
func (c *Commands) AddSAMLApp(ctx context.Context, projectID string, app domain.AppSAMLAdded) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("name", app.Name); err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("entity id", app.EntityID); err != nil {
		return "", nil, err
	}
	if app.ACSURL != "" {
		if err := validateHTTPSURL("acs url", app.ACSURL); err != nil {
			return "", nil, err
		}
	}
	project, err := c.projectOwner(ctx, actor.InstanceID, projectID)
	if err != nil {
		return "", nil, err
	}
	app.ProjectID = projectID

	appID := c.idGen.NextString()
	wm := NewAppWriteModel(actor.InstanceID, appID)
	details, err := c.pushDetails(ctx, "app.saml.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateApp, ID: appID, Owner: project.ResourceOwner},
			Type:      domain.AppSAMLAddedType,
			Payload:   app,
			Creator:   actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueAppEntityID, app.EntityID),
			},
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return appID, details, nil
}

func (c *Commands) ChangeSAMLApp(ctx context.Context, appID string, change domain.AppSAMLChanged) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if change.ACSURL != nil && *change.ACSURL != "" {
		if err := validateHTTPSURL("acs url", *change.ACSURL); err != nil {
			return nil, err
		}
	}

	wm := NewAppWriteModel(actor.InstanceID, appID)
	return c.pushDetails(ctx, "app.saml.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewAppWriteModel(actor.InstanceID, appID)
		if err := c.loadExistingApp(ctx, wm, domain.AppTypeSAML); err != nil {
			return nil, err
		}
		payload := domain.AppSAMLChanged{}
		if change.Name != nil && *change.Name != wm.Name {
			payload.Name = change.Name
		}
		if change.MetadataURL != nil && *change.MetadataURL != wm.MetadataURL {
			payload.MetadataURL = change.MetadataURL
		}
		if change.ACSURL != nil && *change.ACSURL != wm.ACSURL {
			payload.ACSURL = change.ACSURL
		}
		if payload.Name == nil && payload.MetadataURL == nil && payload.ACSURL == nil {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.AppSAMLChangedType,
			Payload:        payload,
			Creator:        actor.UserID,
		}}, nil
	})
}

// AddAPIApp registers a machine-to-machine client.
func (c *Commands) AddAPIApp(ctx context.Context, projectID, name string) (appID, clientID, clientSecret string, details *domain.ObjectDetails, err error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", "", "", nil, err
	}
	if err := requireNonEmpty("name", name); err != nil {
		return "", "", "", nil, err
	}
	project, err := c.projectOwner(ctx, actor.InstanceID, projectID)
	if err != nil {
		return "", "", "", nil, err
	}

	appID = c.idGen.NextString()
	clientID = c.idGen.NextString() + "@" + actor.InstanceID
	clientSecret = crypto.NewClientSecret()
	secretHash, err := c.hasher.Hash(clientSecret)
	if err != nil {
		return "", "", "", nil, err
	}

	wm := NewAppWriteModel(actor.InstanceID, appID)
	details, err = c.pushDetails(ctx, "app.api.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateApp, ID: appID, Owner: project.ResourceOwner},
			Type:      domain.AppAPIAddedType,
			Payload: domain.AppAPIAdded{
				ProjectID:    projectID,
				Name:         name,
				ClientID:     clientID,
				ClientSecret: secretHash,
			},
			Creator: actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueAppClientID, clientID),
			},
		}}, nil
	})
	if err != nil {
		return "", "", "", nil, err
	}
	return appID, clientID, clientSecret, details, nil
}

func (c *Commands) DeactivateApp(ctx context.Context, appID string) (*domain.ObjectDetails, error) {
	return c.changeAppState(ctx, "app.deactivate", appID, domain.AppStateActive, domain.AppDeactivatedType)
}

func (c *Commands) ReactivateApp(ctx context.Context, appID string) (*domain.ObjectDetails, error) {
	return c.changeAppState(ctx, "app.reactivate", appID, domain.AppStateInactive, domain.AppReactivatedType)
}

func (c *Commands) changeAppState(ctx context.Context, name, appID string, requiredState domain.AppState, eventType string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewAppWriteModel(actor.InstanceID, appID)
	return c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewAppWriteModel(actor.InstanceID, appID)
		if err := c.loadExistingApp(ctx, wm, ""); err != nil {
			return nil, err
		}
		if wm.State != requiredState {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-app-state", "app %s is %s", appID, wm.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Creator:        actor.UserID,
		}}, nil
	})
}

// RemoveApp removes the app and frees its client id or entity id.
func (c *Commands) RemoveApp(ctx context.Context, appID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewAppWriteModel(actor.InstanceID, appID)
	return c.pushDetails(ctx, "app.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewAppWriteModel(actor.InstanceID, appID)
		if err := c.loadExistingApp(ctx, wm, ""); err != nil {
			return nil, err
		}
		var constraints []domain.UniqueConstraint
		if wm.ClientID != "" {
			constraints = append(constraints, domain.NewRelease(domain.UniqueAppClientID, wm.ClientID))
		}
		if wm.EntityID != "" {
			constraints = append(constraints, domain.NewRelease(domain.UniqueAppEntityID, wm.EntityID))
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.AppRemovedType,
			Creator:        actor.UserID,
			Constraints:    constraints,
		}}, nil
	})
}

// loadExistingApp loads the app and optionally checks its type.
func (c *Commands) loadExistingApp(ctx context.Context, wm *AppWriteModel, appType domain.AppType) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if !wm.State.Exists() {
		return errs.ThrowNotFound(nil, "COMMAND-app-notfound", "app %s not found", wm.AggregateID)
	}
	if appType != "" && wm.Type != appType {
		return errs.ThrowPrecondition(nil, "COMMAND-app-type", "app %s is a %s app", wm.AggregateID, wm.Type)
	}
	return nil
}

// projectOwner loads the project to confirm it exists and to resolve the
// owning org for new app aggregates.
func (c *Commands) projectOwner(ctx context.Context, instanceID, projectID string) (*ProjectWriteModel, error) {
	project := NewProjectWriteModel(instanceID, projectID)
	if err := c.loadExistingProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}
