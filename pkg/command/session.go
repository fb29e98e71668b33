package command

import (
	"context"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/crypto"
	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type SessionWriteModel struct {
	WriteModel

	UserID       string
	SessionIndex string
	State        domain.SessionState
	Tokens       map[string]string // token id -> token
	LastActivity time.Time
}

func NewSessionWriteModel(instanceID, sessionID string) *SessionWriteModel {
	return &SessionWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: sessionID},
		Tokens:     make(map[string]string),
	}
}

func (wm *SessionWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateSession, wm.AggregateID)
}

func (wm *SessionWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	wm.LastActivity = event.CreatedAt
	switch domain.Normalize(event.Type) {
	case domain.SessionAddedType:
		var payload domain.SessionAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.UserID = payload.UserID
		wm.SessionIndex = payload.SessionIndex
		wm.State = domain.SessionStateActive
	case domain.SessionTokenSetType:
		var payload domain.SessionTokenSet
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Tokens[payload.TokenID] = payload.Token
	case domain.SessionUserCheckedType:
		var payload domain.SessionUserChecked
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.UserID = payload.UserID
	case domain.SessionTerminatedType:
		wm.State = domain.SessionStateTerminated
	}
	return nil
}

func (wm *SessionWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateSession,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// CreateSession opens a session, optionally pre-bound to a user and a SAML
// session index, and returns the opaque session token once.
func (c *Commands) CreateSession(ctx context.Context, userID, sessionIndex string) (sessionID, token string, details *domain.ObjectDetails, err error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", "", nil, err
	}
	if userID != "" {
		user := NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, user); err != nil {
			return "", "", nil, err
		}
		if user.State != domain.UserStateActive {
			return "", "", nil, errs.ThrowPrecondition(nil, "COMMAND-session-user-state", "user %s is %s", userID, user.State)
		}
	}

	sessionID = c.idGen.NextString()
	token = crypto.NewSessionToken()
	tokenID := c.idGen.NextString()

	wm := NewSessionWriteModel(actor.InstanceID, sessionID)
	details, err = c.pushDetails(ctx, "session.create", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		aggregate := domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateSession, ID: sessionID, Owner: actor.InstanceID}
		return []*domain.Command{{
			Aggregate: aggregate,
			Type:      domain.SessionAddedType,
			Payload:   domain.SessionAdded{UserID: userID, SessionIndex: sessionIndex},
			Creator:   actor.UserID,
		}, {
			Aggregate: aggregate,
			Type:      domain.SessionTokenSetType,
			Payload:   domain.SessionTokenSet{TokenID: tokenID, Token: token},
			Creator:   actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", "", nil, err
	}
	return sessionID, token, details, nil
}

// SetSessionToken writes a token under the given id: the same id replaces
// the stored token, a new id is appended alongside the existing ones.
func (c *Commands) SetSessionToken(ctx context.Context, sessionID, tokenID string) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("token id", tokenID); err != nil {
		return "", nil, err
	}

	token := crypto.NewSessionToken()
	wm := NewSessionWriteModel(actor.InstanceID, sessionID)
	details, err := c.pushDetails(ctx, "session.token.set", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewSessionWriteModel(actor.InstanceID, sessionID)
		if err := c.loadActiveSession(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.SessionTokenSetType,
			Payload:        domain.SessionTokenSet{TokenID: tokenID, Token: token},
			Creator:        actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return token, details, nil
}

// CheckSessionUser records a successful user verification on the session.
// Method names the factor, e.g. "password" or "intent".
func (c *Commands) CheckSessionUser(ctx context.Context, sessionID, userID, method string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("user id", userID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("method", method); err != nil {
		return nil, err
	}

	wm := NewSessionWriteModel(actor.InstanceID, sessionID)
	return c.pushDetails(ctx, "session.user.check", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewSessionWriteModel(actor.InstanceID, sessionID)
		if err := c.loadActiveSession(ctx, wm); err != nil {
			return nil, err
		}
		if wm.UserID != "" && wm.UserID != userID {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-session-user-mismatch", "session %s belongs to another user", sessionID)
		}
		user := NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, user); err != nil {
			return nil, err
		}
		if user.State != domain.UserStateActive {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-session-user-state", "user %s is %s", userID, user.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.SessionUserCheckedType,
			Payload:        domain.SessionUserChecked{UserID: userID, CheckedAt: c.now().UTC().Format(time.RFC3339), Method: method},
			Creator:        actor.UserID,
		}}, nil
	})
}

// TerminateSession ends a session. Terminating twice fails the
// precondition.
func (c *Commands) TerminateSession(ctx context.Context, sessionID, reason string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewSessionWriteModel(actor.InstanceID, sessionID)
	return c.pushDetails(ctx, "session.terminate", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewSessionWriteModel(actor.InstanceID, sessionID)
		if err := c.loadActiveSession(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.SessionTerminatedType,
			Payload:        domain.SessionTerminated{Reason: reason},
			Creator:        actor.UserID,
		}}, nil
	})
}

// loadActiveSession loads a session and requires it active and within the
// idle deadline.
func (c *Commands) loadActiveSession(ctx context.Context, wm *SessionWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if wm.State == "" {
		return errs.ThrowNotFound(nil, "COMMAND-session-notfound", "session %s not found", wm.AggregateID)
	}
	if wm.State != domain.SessionStateActive {
		return errs.ThrowPrecondition(nil, "COMMAND-session-terminated", "session %s is terminated", wm.AggregateID)
	}
	if c.now().Sub(wm.LastActivity) > c.config.SessionIdleTTL {
		return errs.ThrowPrecondition(nil, "COMMAND-session-idle", "session %s exceeded the idle deadline", wm.AggregateID)
	}
	return nil
}
