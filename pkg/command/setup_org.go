package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

// SetUpOrgRequest creates an org together with its first admin user in one
// atomic batch.
type SetUpOrgRequest struct {
	Name  string
	Admin AddHumanUserRequest
}

// SetUpOrgResult carries the ids created by SetUpOrg.
type SetUpOrgResult struct {
	OrgID   string
	UserID  string
	Details *domain.ObjectDetails
}

// SetUpOrg creates the org and its admin user in a single push: either both
// aggregates are written or neither is. A colliding org name or username
// rolls the whole batch back.
func (c *Commands) SetUpOrg(ctx context.Context, req SetUpOrgRequest) (*SetUpOrgResult, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty("name", req.Name); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("username", req.Admin.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(req.Admin.Email); err != nil {
		return nil, err
	}

	admin := domain.UserAdded{
		Username:  req.Admin.Username,
		FirstName: req.Admin.FirstName,
		LastName:  req.Admin.LastName,
		Email:     req.Admin.Email,
		Phone:     req.Admin.Phone,
	}
	if req.Admin.Password != "" {
		hash, err := c.hasher.Hash(req.Admin.Password)
		if err != nil {
			return nil, err
		}
		admin.PasswordHash = hash
	}

	orgID := c.idGen.NextString()
	userID := c.idGen.NextString()

	events, err := c.push(ctx, "org.setup", func(ctx context.Context) ([]*domain.Command, error) {
		return []*domain.Command{{
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateOrg, ID: orgID, Owner: orgID},
			Type:      domain.OrgAddedType,
			Payload:   domain.OrgAdded{Name: req.Name},
			Creator:   actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueOrgName, normalizeDomain(req.Name)),
			},
		}, {
			Aggregate: domain.Aggregate{InstanceID: actor.InstanceID, Type: domain.AggregateUser, ID: userID, Owner: orgID},
			Type:      domain.UserAddedType,
			Payload:   admin,
			Creator:   actor.UserID,
			Constraints: []domain.UniqueConstraint{
				domain.NewClaim(domain.UniqueUsername, usernameConstraintValue(orgID, req.Admin.Username)),
			},
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &SetUpOrgResult{
		OrgID:   orgID,
		UserID:  userID,
		Details: domain.DetailsFromEvents(events),
	}, nil
}
