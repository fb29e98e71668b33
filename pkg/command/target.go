package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/crypto"
	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type TargetWriteModel struct {
	WriteModel

	Name             string
	TargetType       domain.TargetType
	Endpoint         string
	TimeoutMillis    int64
	InterruptOnError bool
	State            domain.TargetState
}

func NewTargetWriteModel(instanceID, targetID string) *TargetWriteModel {
	return &TargetWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: targetID},
	}
}

func (wm *TargetWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateTarget, wm.AggregateID)
}

func (wm *TargetWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.TargetAddedType:
		var payload domain.TargetAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Name = payload.Name
		wm.TargetType = payload.TargetType
		wm.Endpoint = payload.Endpoint
		wm.TimeoutMillis = payload.TimeoutMillis
		wm.InterruptOnError = payload.InterruptOnError
		wm.State = domain.TargetStateActive
	case domain.TargetChangedType:
		var payload domain.TargetChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Name != nil {
			wm.Name = *payload.Name
		}
		if payload.Endpoint != nil {
			wm.Endpoint = *payload.Endpoint
		}
		if payload.TimeoutMillis != nil {
			wm.TimeoutMillis = *payload.TimeoutMillis
		}
		if payload.InterruptOnError != nil {
			wm.InterruptOnError = *payload.InterruptOnError
		}
	case domain.TargetRemovedType:
		wm.State = domain.TargetStateRemoved
	}
	return nil
}

func (wm *TargetWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateTarget,
		ID:         wm.AggregateID,
		Owner:      wm.ResourceOwner,
	}
}

// AddTargetRequest describes a new hook target. A zero timeout falls back
// to 10 seconds.
type AddTargetRequest struct {
	Name             string
	TargetType       domain.TargetType
	Endpoint         string
	TimeoutMillis    int64
	InterruptOnError bool
}

const defaultTargetTimeoutMillis = 10_000

// AddTarget registers a webhook or request/response hook endpoint. A
// signing key is generated and returned once; payload signatures are
// computed with it.
func (c *Commands) AddTarget(ctx context.Context, req AddTargetRequest) (targetID, signingKey string, details *domain.ObjectDetails, err error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", "", nil, err
	}
	if err := requireNonEmpty("name", req.Name); err != nil {
		return "", "", nil, err
	}
	if req.TargetType != domain.TargetTypeWebhook && req.TargetType != domain.TargetTypeRequestResponse {
		return "", "", nil, errs.ThrowInvalid(nil, "COMMAND-target-type", "unknown target type %q", req.TargetType)
	}
	if err := validateHTTPSURL("endpoint", req.Endpoint); err != nil {
		return "", "", nil, err
	}
	if req.TimeoutMillis <= 0 {
		req.TimeoutMillis = defaultTargetTimeoutMillis
	}

	targetID = c.idGen.NextString()
	signingKey = crypto.NewSigningKey()

	wm := NewTargetWriteModel(actor.InstanceID, targetID)
	details, err = c.pushDetails(ctx, "target.add", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateTarget, ID: targetID, Owner: actor.InstanceID},
			Type:      domain.TargetAddedType,
			Payload: domain.TargetAdded{
				Name:             req.Name,
				TargetType:       req.TargetType,
				Endpoint:         req.Endpoint,
				TimeoutMillis:    req.TimeoutMillis,
				InterruptOnError: req.InterruptOnError,
				SigningKey:       signingKey,
			},
			Creator: actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", "", nil, err
	}
	return targetID, signingKey, details, nil
}

// ChangeTargetRequest is a partial update; RotateSigningKey asks for a new
// key, returned through ChangeTarget's result.
type ChangeTargetRequest struct {
	Name             *string
	Endpoint         *string
	TimeoutMillis    *int64
	InterruptOnError *bool
	RotateSigningKey bool
}

// ChangeTarget applies a partial update. When the signing key is rotated
// the new plaintext key is returned once.
func (c *Commands) ChangeTarget(ctx context.Context, targetID string, req ChangeTargetRequest) (string, *domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return "", nil, err
	}
	if req.Endpoint != nil {
		if err := validateHTTPSURL("endpoint", *req.Endpoint); err != nil {
			return "", nil, err
		}
	}

	var newKey string
	if req.RotateSigningKey {
		newKey = crypto.NewSigningKey()
	}

	wm := NewTargetWriteModel(actor.InstanceID, targetID)
	details, err := c.pushDetails(ctx, "target.change", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewTargetWriteModel(actor.InstanceID, targetID)
		if err := c.loadExistingTarget(ctx, wm); err != nil {
			return nil, err
		}
		payload := domain.TargetChanged{}
		if req.Name != nil && *req.Name != wm.Name {
			payload.Name = req.Name
		}
		if req.Endpoint != nil && *req.Endpoint != wm.Endpoint {
			payload.Endpoint = req.Endpoint
		}
		if req.TimeoutMillis != nil && *req.TimeoutMillis != wm.TimeoutMillis {
			payload.TimeoutMillis = req.TimeoutMillis
		}
		if req.InterruptOnError != nil && *req.InterruptOnError != wm.InterruptOnError {
			payload.InterruptOnError = req.InterruptOnError
		}
		if req.RotateSigningKey {
			payload.SigningKey = &newKey
		}
		if payload == (domain.TargetChanged{}) {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.TargetChangedType,
			Payload:        payload,
			Creator:        actor.UserID,
		}}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return newKey, details, nil
}

// RemoveTarget drops the target. Executions still referencing it keep the
// dangling id; the hook dispatcher skips unknown targets.
func (c *Commands) RemoveTarget(ctx context.Context, targetID string) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	wm := NewTargetWriteModel(actor.InstanceID, targetID)
	return c.pushDetails(ctx, "target.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewTargetWriteModel(actor.InstanceID, targetID)
		if err := c.loadExistingTarget(ctx, wm); err != nil {
			return nil, err
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.TargetRemovedType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func (c *Commands) loadExistingTarget(ctx context.Context, wm *TargetWriteModel) error {
	if err := c.load(ctx, wm); err != nil {
		return err
	}
	if wm.State != domain.TargetStateActive {
		return errs.ThrowNotFound(nil, "COMMAND-target-notfound", "target %s not found", wm.AggregateID)
	}
	return nil
}
