package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type UserWriteModel struct {
	WriteModel

	Type          domain.UserType
	State         domain.UserState
	Username      string
	FirstName     string
	LastName      string
	Email         string
	EmailVerified bool
	Phone         string
	PhoneVerified bool
	PasswordHash  string
}

func NewUserWriteModel(instanceID, userID string) *UserWriteModel {
	return &UserWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: userID},
	}
}

func (wm *UserWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateUser, wm.AggregateID)
}

func (wm *UserWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.UserAddedType:
		var payload domain.UserAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Type = domain.UserTypeHuman
		wm.State = domain.UserStateActive
		wm.Username = payload.Username
		wm.FirstName = payload.FirstName
		wm.LastName = payload.LastName
		wm.Email = payload.Email
		wm.Phone = payload.Phone
		wm.PasswordHash = payload.PasswordHash
	case domain.UserMachineAddedType:
		var payload domain.UserMachineAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Type = domain.UserTypeMachine
		wm.State = domain.UserStateActive
		wm.Username = payload.Username
	case domain.UserIDPProvisionedType:
		var payload domain.UserIDPProvisioned
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Type = domain.UserTypeHuman
		wm.State = domain.UserStateActive
		wm.Username = payload.Username
		wm.Email = payload.Email
	case domain.UserProfileChangedType:
		var payload domain.UserProfileChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.FirstName != nil {
			wm.FirstName = *payload.FirstName
		}
		if payload.LastName != nil {
			wm.LastName = *payload.LastName
		}
	case domain.UserUsernameChangedType:
		var payload domain.UserUsernameChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Username = payload.Username
	case domain.UserEmailChangedType:
		var payload domain.UserEmailChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Email = payload.Email
		wm.EmailVerified = false
	case domain.UserEmailVerifiedType:
		wm.EmailVerified = true
	case domain.UserPhoneChangedType:
		var payload domain.UserPhoneChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Phone = payload.Phone
		wm.PhoneVerified = false
	case domain.UserPhoneVerifiedType:
		wm.PhoneVerified = true
	case domain.UserPhoneRemovedType:
		wm.Phone = ""
		wm.PhoneVerified = false
	case domain.UserPasswordChangedType:
		var payload domain.UserPasswordChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.PasswordHash = payload.PasswordHash
	case domain.UserDeactivatedType:
		wm.State = domain.UserStateInactive
	case domain.UserReactivatedType:
		wm.State = domain.UserStateActive
	case domain.UserLockedType:
		wm.State = domain.UserStateLocked
	case domain.UserUnlockedType:
		wm.State = domain.UserStateActive
	case domain.UserRemovedType:
		wm.State = domain.UserStateDeleted
	}
	return nil
}

func (wm *UserWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateUser,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// AddHumanUserRequest is the input of AddHumanUser. Password is optional
// plaintext; it is entropy-checked and hashed before the event is written.
type AddHumanUserRequest struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
}

// AddHumanUser creates a human user in the actor's org. The username is
// unique within the org.
func (c *Commands) AddHumanUser(ctx context.Context, req AddHumanUserRequest) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if actor.OrgID == "" {
		return "", nil, errs.ThrowInvalid(nil, "COMMAND-user-org", "org id missing in actor context")
	}
	if err := requireNonEmpty("username", req.Username); err != nil {
		return "", nil, err
	}
	if err := validateEmail(req.Email); err != nil {
		return "", nil, err
	}
	payload := domain.UserAdded{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	}
	if req.Password != "" {
		hash, err := c.hasher.Hash(req.Password)
		if err != nil {
			return "", nil, err
		}
		payload.PasswordHash = hash
	}

	userID := c.idGen.NextString()
	wm := NewUserWriteModel(actor.InstanceID, userID)
	details, err := c.pushDetails(ctx, "user.human.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateUser, ID: userID, Owner: actor.OrgID},
			Type:      domain.UserAddedType,
			Payload:   payload,
			Creator:   actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueUsername, usernameConstraintValue(actor.OrgID, req.Username)),
			},
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return userID, details, nil
}

// AddMachineUser creates a service user. Machine users have no password and
// no contact details.
func (c *Commands) AddMachineUser(ctx context.Context, machine domain.UserMachineAdded) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if actor.OrgID == "" {
		return "", nil, errs.ThrowInvalid(nil, "COMMAND-user-org", "org id missing in actor context")
	}
	if err := requireNonEmpty("username", machine.Username); err != nil {
		return "", nil, err
	}
	if err := requireNonEmpty("name", machine.Name); err != nil {
		return "", nil, err
	}

	userID := c.idGen.NextString()
	wm := NewUserWriteModel(actor.InstanceID, userID)
	details, err := c.pushDetails(ctx, "user.machine.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateUser, ID: userID, Owner: actor.OrgID},
			Type:      domain.UserMachineAddedType,
			Payload:   machine,
			Creator:   actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueUsername, usernameConstraintValue(actor.OrgID, machine.Username)),
			},
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return userID, details, nil
}

// ChangeProfile applies a partial profile update. When no field actually
// changes, the command is a no-op and emits nothing.
func (c *Commands) ChangeProfile(ctx context.Context, userID string, change domain.UserProfileChanged) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.profile.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Type != domain.UserTypeHuman {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-user-machine", "user %s is not a human user", userID)
		}
		payload := domain.UserProfileChanged{}
		if change.FirstName != nil && *change.FirstName != wm.FirstName {
			payload.FirstName = change.FirstName
		}
		if change.LastName != nil && *change.LastName != wm.LastName {
			payload.LastName = change.LastName
		}
		if payload.FirstName == nil && payload.LastName == nil {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserProfileChangedType,
			Payload:        payload,
			Creator:        actor.UserID,
		}}, nil
	})
}

// ChangeUsername moves the unique claim from the old name to the new one.
func (c *Commands) ChangeUsername(ctx context.Context, userID, username string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("username", username); err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.username.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if normalizeUsername(wm.Username) == normalizeUsername(username) {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserUsernameChangedType,
			Payload:        domain.UserUsernameChanged{Username: username},
			Creator:        actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewRelease(domain.UniqueUsername, usernameConstraintValue(wm.ResourceOwner, wm.Username)),
				domain.NewClaim(domain.UniqueUsername, usernameConstraintValue(wm.ResourceOwner, username)),
			},
		}}, nil
	})
}

// ChangeEmail sets a new address and resets the verified flag. The current
// address is a no-op regardless of verification state.
func (c *Commands) ChangeEmail(ctx context.Context, userID, email string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireEmail(email); err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.email.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Email == email {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserEmailChangedType,
			Payload:        domain.UserEmailChanged{Email: email},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) VerifyEmail(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.email.verify", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Email == "" {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-user-email-none", "user %s has no email to verify", userID)
		}
		if wm.EmailVerified {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserEmailVerifiedType,
			Payload:        domain.UserEmailVerified{VerifiedAt: c.now()},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) ChangePhone(ctx context.Context, userID, phone string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("phone", phone); err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.phone.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Phone == phone && !wm.PhoneVerified {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserPhoneChangedType,
			Payload:        domain.UserPhoneChanged{Phone: phone},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) VerifyPhone(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.phone.verify", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Phone == "" {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-user-phone-none", "user %s has no phone to verify", userID)
		}
		if wm.PhoneVerified {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserPhoneVerifiedType,
			Payload:        domain.UserPhoneVerified{VerifiedAt: c.now()},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) RemovePhone(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.phone.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Phone == "" {
			return nil, errs.ThrowNotFound(nil, "COMMAND-user-phone-notfound", "user %s has no phone", userID)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserPhoneRemovedType,
			Creator:        actor.UserID,
		}}, nil
	})
}

// ChangePassword validates the plaintext against the entropy floor and
// stores the bcrypt hash.
func (c *Commands) ChangePassword(ctx context.Context, userID, password string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	hash, err := c.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.password.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.Type != domain.UserTypeHuman {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-user-machine", "user %s is not a human user", userID)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserPasswordChangedType,
			Payload:        domain.UserPasswordChanged{PasswordHash: hash, ChangedAt: c.now()},
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) DeactivateUser(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, "user.deactivate", userID, domain.UserStateActive, domain.UserDeactivatedType)
}

func (c *Commands) ReactivateUser(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, "user.reactivate", userID, domain.UserStateInactive, domain.UserReactivatedType)
}

func (c *Commands) LockUser(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, "user.lock", userID, domain.UserStateActive, domain.UserLockedType)
}

func (c *Commands) UnlockUser(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, "user.unlock", userID, domain.UserStateLocked, domain.UserUnlockedType)
}

// changeUserState implements the lifecycle transitions; any other source
// state fails the precondition.
func (c *Commands) changeUserState(ctx context.Context, name, userID string, requiredState domain.UserState, eventType string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, name, &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		if wm.State != requiredState {
			return nil, errs.ThrowPrecondition(nil, "COMMAND-user-state", "user %s is %s", userID, wm.State)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           eventType,
			Creator:        actor.UserID,
		}}, nil
	})
}

// RemoveUser soft-deletes the user and frees its username for reuse.
func (c *Commands) RemoveUser(ctx context.Context, userID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(actor.InstanceID, userID)
	return c.pushDetails(ctx, "user.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewUserWriteModel(actor.InstanceID, userID)
		if err := c.loadExistingUser(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.UserRemovedType,
			Creator:        actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewRelease(domain.UniqueUsername, usernameConstraintValue(wm.ResourceOwner, wm.Username)),
			},
		}}, nil
	})
}

func (c *Commands) loadExistingUser(ctx context.Context, wm *UserWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if !wm.State.Exists() {
		return errs.ThrowNotFound(nil, "COMMAND-user-notfound", "user %s not found", wm.AggregateID)
	}
	return nil
}
