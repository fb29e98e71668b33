package command

import (
	"context"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/crypto"
	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type IntentWriteModel struct {
	WriteModel

	IDPID     string
	IDPType   domain.IDPType
	State     domain.IntentState
	CSRFState string
	ExpiresAt time.Time
}

func NewIntentWriteModel(instanceID, intentID string) *IntentWriteModel {
	return &IntentWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: intentID},
	}
}

func (wm *IntentWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateIDPIntent, wm.AggregateID)
}

func (wm *IntentWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.IDPIntentStartedType:
		var payload domain.IDPIntentStarted
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.IDPID = payload.IDPID
		wm.IDPType = payload.IDPType
		wm.State = domain.IntentStateStarted
		wm.CSRFState = payload.State
		wm.ExpiresAt = payload.ExpiresAt
	case domain.IDPIntentSucceededType:
		wm.State = domain.IntentStateSucceeded
	case domain.IDPIntentFailedType:
		wm.State = domain.IntentStateFailed
	}
	return nil
}

func (wm *IntentWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateIDPIntent,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// StartIntentResult carries the values the caller needs to redirect the
// browser to the provider.
type StartIntentResult struct {
	IntentID string
	// State is the CSRF token bound to the flow.
	State string
	// CodeVerifier is set for OAuth and OIDC providers (PKCE).
	CodeVerifier string
	// Nonce is set for OIDC providers.
	Nonce     string
	ExpiresAt time.Time
	Details   *domain.ObjectDetails
}

// StartIntent opens a federated login flow against a configured provider.
// State, verifier and nonce are generated server-side; the state is claimed
// unique per instance so replays collide.
func (c *Commands) StartIntent(ctx context.Context, idpID, redirectURI, authRequestID string) (*StartIntentResult, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateHTTPSURL("redirect uri", redirectURI); err != nil {
		return nil, err
	}

	idp := NewIDPWriteModel(actor.InstanceID, idpID)
	if err := c.loadExistingIDP(ctx, idp); err != nil {
		return nil, err
	}

	intentID := c.idGen.NextString()
	result := &StartIntentResult{
		IntentID:  intentID,
		State:     crypto.NewState(),
		ExpiresAt: c.now().Add(c.config.IntentTTL),
	}
	switch idp.Type {
	case domain.IDPTypeOAuth:
		result.CodeVerifier = crypto.NewCodeVerifier()
	case domain.IDPTypeOIDC:
		result.CodeVerifier = crypto.NewCodeVerifier()
		result.Nonce = crypto.NewNonce()
	}

	wm := NewIntentWriteModel(actor.InstanceID, intentID)
	details, err := c.pushDetails(ctx, "idp.intent.start", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateIDPIntent, ID: intentID, Owner: actor.InstanceID},
			Type:      domain.IDPIntentStartedType,
			Payload: domain.IDPIntentStarted{
				IDPID:         idpID,
				IDPType:       idp.Type,
				State:         result.State,
				CodeVerifier:  result.CodeVerifier,
				Nonce:         result.Nonce,
				RedirectURI:   redirectURI,
				AuthRequestID: authRequestID,
				ExpiresAt:     result.ExpiresAt,
			},
			Creator: actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueIntentState, result.State),
			},
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	result.Details = details
	return result, nil
}

// SucceedIntentRequest carries the identity asserted by the provider. When
// UserID is set the external identity is linked to that user; otherwise a
// new user is provisioned in the actor's org.
type SucceedIntentRequest struct {
	UserID      string
	Username    string
	ExternalID  string
	DisplayName string
	Email       string
}

// SucceedIntent closes a started, unexpired intent and records the user
// side effect in the same atomic batch. Closing twice fails the
// precondition; the state claim is released so the value cannot be replayed
// into a new intent by accident.
func (c *Commands) SucceedIntent(ctx context.Context, intentID string, req SucceedIntentRequest) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("external id", req.ExternalID); err != nil {
		return "", nil, err
	}
	if err := validateEmail(req.Email); err != nil {
		return "", nil, err
	}

	userID := req.UserID
	wm := NewIntentWriteModel(actor.InstanceID, intentID)
	details, err := c.pushDetails(ctx, "idp.intent.succeed", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewIntentWriteModel(actor.InstanceID, intentID)
		if err := c.loadOpenIntent(ctx, wm); err != nil {
			return nil, err
		}

		intentCommand := &domain.Command{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.IDPIntentSucceededType,
			Creator:        actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewRelease(domain.UniqueIntentState, wm.CSRFState),
			},
		}

		if req.UserID != "" {
			user := NewUserWriteModel(actor.InstanceID, req.UserID)
			if err := c.loadExistingUser(ctx, user); err != nil {
				return nil, err
			}
			intentCommand.Payload = domain.IDPIntentSucceeded{
				UserID:      req.UserID,
				ExternalID:  req.ExternalID,
				DisplayName: req.DisplayName,
				Email:       req.Email,
			}
			return []*domain.Command{intentCommand, {
				Aggregate:      user.aggregate(),
				CurrentVersion: user.Version,
				Type:           domain.UserIDPLinkAddedType,
				Payload: domain.UserIDPLinkAdded{
					IDPID:       wm.IDPID,
					ExternalID:  req.ExternalID,
					DisplayName: req.DisplayName,
				},
				Creator: actor.UserID,
			}}, nil
		}

		if actor.OrgID == "" {
			return nil, errs.ThrowInvalid(nil, "COMMAND-intent-org", "org id required to provision a user")
		}
		org := NewOrgWriteModel(actor.InstanceID, actor.OrgID)
		if err := c.load(ctx, org); err != nil {
			return nil, err
		}
		if !org.State.Exists() {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-intent-org-removed", "org %s no longer exists", actor.OrgID)
		}

		username := req.Username
		if username == "" {
			username = req.Email
		}
		if err := requireNonEmpty("username", username); err != nil {
			return nil, err
		}
		userID = c.idGen.NextString()
		intentCommand.Payload = domain.IDPIntentSucceeded{
			UserID:      userID,
			ExternalID:  req.ExternalID,
			DisplayName: req.DisplayName,
			Email:       req.Email,
		}
		return []*domain.Command{intentCommand, {
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateUser, ID: userID, Owner: actor.OrgID},
			Type:      domain.UserIDPProvisionedType,
			Payload: domain.UserIDPProvisioned{
				Username:    username,
				IDPID:       wm.IDPID,
				ExternalID:  req.ExternalID,
				DisplayName: req.DisplayName,
				Email:       req.Email,
			},
			Creator: actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueUsername, usernameConstraintValue(actor.OrgID, username)),
			},
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return userID, details, nil
}

// FailIntent closes a started intent with a reason.
func (c *Commands) FailIntent(ctx context.Context, intentID, reason string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewIntentWriteModel(actor.InstanceID, intentID)
	return c.pushDetails(ctx, "idp.intent.fail", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewIntentWriteModel(actor.InstanceID, intentID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if wm.State == "" {
			return nil, errs.ThrowNotFound(nil, "COMMAND-intent-notfound", "intent %s not found", intentID)
		}
		if wm.State != domain.IntentStateStarted {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-intent-closed", "intent %s is already %s", intentID, wm.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.IDPIntentFailedType,
			Payload:        domain.IDPIntentFailed{Reason: reason},
			Creator:        actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewRelease(domain.UniqueIntentState, wm.CSRFState),
			},
		}}, nil
	})
}

// ReapIntents fails every started intent of the instance whose deadline has
// passed. It is driven periodically by the runner and returns the number of
// intents closed.
func (c *Commands) ReapIntents(ctx context.Context, instanceID string) (int, error) {
	events, err := c.es.Filter(ctx, eventstore.NewSearchQuery(instanceID).
		WithAggregate(domain.AggregateIDPIntent))
	if err != nil {
		return 0, err
	}

	models := make(map[string]*IntentWriteModel)
	order := make([]string, 0)
	for i := range events {
		wm, ok := models[events[i].AggregateID]
		if !ok {
			wm = NewIntentWriteModel(instanceID, events[i].AggregateID)
			models[events[i].AggregateID] = wm
			order = append(order, events[i].AggregateID)
		}
		if err := wm.Reduce(&events[i]); err != nil {
			return 0, err
		}
	}

	now := c.now()
	reaped := 0
	for _, intentID := range order {
		wm := models[intentID]
		if wm.State != domain.IntentStateStarted || wm.ExpiresAt.After(now) {
			continue
		}
		_, err := c.push(ctx, "idp.intent.reap", func(ctx context.Context) ([]*domain.Command, error) {
			return []*domain.Command{{
				Aggregate:      wm.aggregate(),
				CurrentVersion: wm.Version,
				Type:           domain.IDPIntentFailedType,
				Payload:        domain.IDPIntentFailed{Reason: "expired"},
				Constraints: []domain.UniqueConstraint{
					domain.NewRelease(domain.UniqueIntentState, wm.CSRFState),
				},
			}}, nil
		})
		if err != nil {
			// a conflict here means the intent was closed concurrently
			if errs.IsConcurrencyConflict(err) {
				continue
			}
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

// loadOpenIntent loads an intent and requires it to be started and inside
// its deadline.
func (c *Commands) loadOpenIntent(ctx context.Context, wm *IntentWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if wm.State == "" {
		return errs.ThrowNotFound(nil, "COMMAND-intent-notfound", "intent %s not found", wm.AggregateID)
	}
	if wm.State != domain.IntentStateStarted {
		return errs.ThrowPrecondition(nil, "COMMAND-intent-closed", "intent %s is already %s", wm.AggregateID, wm.State)
	}
	if !wm.ExpiresAt.After(c.now()) {
		return errs.ThrowPrecondition(nil, "COMMAND-intent-expired", "intent %s expired at %s", wm.AggregateID, wm.ExpiresAt)
	}
	return nil
}
