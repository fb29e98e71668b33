package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type SAMLRequestWriteModel struct {
	WriteModel

	Issuer string
	UserID string
	State  domain.SAMLRequestState
}

func NewSAMLRequestWriteModel(instanceID, requestID string) *SAMLRequestWriteModel {
	return &SAMLRequestWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: requestID},
	}
}

func (wm *SAMLRequestWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateSAMLRequest, wm.AggregateID)
}

func (wm *SAMLRequestWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.SAMLRequestAddedType:
		var payload domain.SAMLRequestAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Issuer = payload.Issuer
		wm.UserID = payload.UserID
		wm.State = domain.SAMLRequestStateAdded
	case domain.SAMLRequestSucceededType:
		wm.State = domain.SAMLRequestStateSucceeded
	case domain.SAMLRequestFailedType:
		wm.State = domain.SAMLRequestStateFailed
	}
	return nil
}

func (wm *SAMLRequestWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateSAMLRequest,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// AddSAMLRequestInput is an inbound SP-initiated login. Issuer is the SAML
// entity id of the requesting service provider.
type AddSAMLRequestInput struct {
	Issuer     string
	ACSURL     string
	RelayState string
	Binding    string
	UserID     string
}

// AddSAMLRequest records an inbound SAML authentication request. The request
// is always written for audit; when the user is not authorized for the
// requested service provider it is immediately failed and the call returns
// PermissionDenied.
func (c *Commands) AddSAMLRequest(ctx context.Context, input AddSAMLRequestInput) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("issuer", input.Issuer); err != nil {
		return "", nil, err
	}
	if input.ACSURL != "" {
		if err := validateHTTPSURL("acs url", input.ACSURL); err != nil {
			return "", nil, err
		}
	}

	app, err := c.samlAppByEntityID(ctx, actor.InstanceID, input.Issuer)
	if err != nil {
		return "", nil, err
	}

	requestID := c.idGen.NextString()
	added := domain.SAMLRequestAdded{
		Issuer:     input.Issuer,
		ACSURL:     input.ACSURL,
		RelayState: input.RelayState,
		Binding:    input.Binding,
		UserID:     input.UserID,
	}
	aggregate := domain.Aggregate{
		InstanceID: actor.InstanceID,
		Type:       domain.AggregateSAMLRequest,
		ID:         requestID,
		Owner:      app.ResourceOwner,
	}

	var authzErr error
	if input.UserID != "" {
		authzErr = c.checkProjectAuthorization(ctx, actor.InstanceID, input.UserID, app.ProjectID)
		if authzErr != nil && !errs.IsPermissionDenied(authzErr) {
			return "", nil, authzErr
		}
	}

	wm := NewSAMLRequestWriteModel(actor.InstanceID, requestID)
	details, err := c.pushDetails(ctx, "saml.request.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		commands := []*domain.Command{{
			Aggregate: aggregate,
			Type:      domain.SAMLRequestAddedType,
			Payload:   added,
			Creator:   actor.UserID,
		}}
		if authzErr != nil {
			commands = append(commands, &domain.Command{
				Aggregate: aggregate,
				Type:      domain.SAMLRequestFailedType,
				Payload:   domain.SAMLRequestFailed{Reason: "user not authorized for service provider"},
				Creator:   actor.UserID,
			})
		}
		return commands, nil
	})
	if err != nil {
		return "", nil, err
	}
	if authzErr != nil {
		return requestID, details, authzErr
	}
	return requestID, details, nil
}

// SucceedSAMLRequest closes an open request with the authenticated user.
func (c *Commands) SucceedSAMLRequest(ctx context.Context, requestID, userID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("user id", userID); err != nil {
		return nil, err
	}

	wm := NewSAMLRequestWriteModel(actor.InstanceID, requestID)
	return c.pushDetails(ctx, "saml.request.succeed", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewSAMLRequestWriteModel(actor.InstanceID, requestID)
		if err := c.loadOpenSAMLRequest(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.SAMLRequestSucceededType,
			Payload:        domain.SAMLRequestSucceeded{UserID: userID},
			Creator:        actor.UserID,
		}}, nil
	})
}

// FailSAMLRequest closes an open request with a reason.
func (c *Commands) FailSAMLRequest(ctx context.Context, requestID, reason string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewSAMLRequestWriteModel(actor.InstanceID, requestID)
	return c.pushDetails(ctx, "saml.request.fail", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewSAMLRequestWriteModel(actor.InstanceID, requestID)
		if err := c.loadOpenSAMLRequest(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.SAMLRequestFailedType,
			Payload:        domain.SAMLRequestFailed{Reason: reason},
			Creator:        actor.UserID,
		}}, nil
	})
}

// HandleLogout terminates every active session carrying the given SAML
// session index. Logout is idempotent: an unknown index terminates nothing
// and still succeeds.
func (c *Commands) HandleLogout(ctx context.Context, sessionIndex string) (int, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if err := requireNonEmpty("session index", sessionIndex); err != nil {
		return 0, err
	}

	events, err := c.es.Filter(ctx, eventstore.NewSearchQuery(actor.InstanceID).
		WithAggregate(domain.AggregateSession))
	if err != nil {
		return 0, err
	}

	sessions := make(map[string]*SessionWriteModel)
	order := make([]string, 0)
	for i := range events {
		wm, ok := sessions[events[i].AggregateID]
		if !ok {
			wm = NewSessionWriteModel(actor.InstanceID, events[i].AggregateID)
			sessions[events[i].AggregateID] = wm
			order = append(order, events[i].AggregateID)
		}
		if err := wm.Reduce(&events[i]); err != nil {
			return 0, err
		}
	}

	terminated := 0
	for _, sessionID := range order {
		wm := sessions[sessionID]
		if wm.State != domain.SessionStateActive || wm.SessionIndex != sessionIndex {
			continue
		}
		_, err := c.push(ctx, "session.logout", func(ctx context.Context) ([]*domain.Command, error) {
			return []*domain.Command{{
				Aggregate:      wm.aggregate(),
				CurrentVersion: wm.Version,
				Type:           domain.SessionTerminatedType,
				Payload:        domain.SessionTerminated{Reason: "saml logout"},
				Creator:        actor.UserID,
			}}, nil
		})
		if err != nil {
			if errs.IsConcurrencyConflict(err) {
				continue
			}
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}

// samlAppByEntityID resolves the active SAML app registered for an entity
// id by folding the app aggregates of the instance.
func (c *Commands) samlAppByEntityID(ctx context.Context, instanceID, entityID string) (*AppWriteModel, error) {
	events, err := c.es.Filter(ctx, eventstore.NewSearchQuery(instanceID).
		WithAggregate(domain.AggregateApp))
	if err != nil {
		return nil, err
	}

	apps := make(map[string]*AppWriteModel)
	for i := range events {
		wm, ok := apps[events[i].AggregateID]
		if !ok {
			wm = NewAppWriteModel(instanceID, events[i].AggregateID)
			apps[events[i].AggregateID] = wm
		}
		if err := wm.Reduce(&events[i]); err != nil {
			return nil, err
		}
	}
	for _, wm := range apps {
		if wm.Type == domain.AppTypeSAML && wm.EntityID == entityID && wm.State.Exists() {
			return wm, nil
		}
	}
	return nil, errs.ThrowNotFound(nil, "COMMAND-saml-sp-unknown", "no service provider registered for entity id %s", entityID)
}

// checkProjectAuthorization requires the user to hold an active grant on
// the project.
func (c *Commands) checkProjectAuthorization(ctx context.Context, instanceID, userID, projectID string) error {
	events, err := c.es.Filter(ctx, eventstore.NewSearchQuery(instanceID).
		WithAggregate(domain.AggregateUserGrant))
	if err != nil {
		return err
	}

	grants := make(map[string]*UserGrantWriteModel)
	for i := range events {
		wm, ok := grants[events[i].AggregateID]
		if !ok {
			wm = NewUserGrantWriteModel(instanceID, events[i].AggregateID)
			grants[events[i].AggregateID] = wm
		}
		if err := wm.Reduce(&events[i]); err != nil {
			return err
		}
	}
	for _, wm := range grants {
		if wm.State == domain.GrantStateActive && wm.UserID == userID && wm.ProjectID == projectID {
			return nil
		}
	}
	return errs.ThrowPermissionDenied(nil, "COMMAND-saml-denied", "user %s has no active grant on project %s", userID, projectID)
}

func (c *Commands) loadOpenSAMLRequest(ctx context.Context, wm *SAMLRequestWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if wm.State == "" {
		return errs.ThrowNotFound(nil, "COMMAND-saml-request-notfound", "saml request %s not found", wm.AggregateID)
	}
	if wm.State != domain.SAMLRequestStateAdded {
		return errs.ThrowPrecondition(nil, "COMMAND-saml-request-closed", "saml request %s is already %s", wm.AggregateID, wm.State)
	}
	return nil
}
