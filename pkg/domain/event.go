// Package domain defines the shared write-side model: the event envelope, the
// pending-event command, aggregate coordinates, actor context and the JSON
// payload structs for every aggregate.
package domain

import (
	"encoding/json"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

// AggregateType names the identity boundary an event belongs to.
type AggregateType string

const (
	AggregateInstance    AggregateType = "instance"
	AggregateOrg         AggregateType = "org"
	AggregateUser        AggregateType = "user"
	AggregateProject     AggregateType = "project"
	AggregateApp         AggregateType = "app"
	AggregateUserGrant   AggregateType = "usergrant"
	AggregateIDP         AggregateType = "idp"
	AggregateIDPIntent   AggregateType = "idpintent"
	AggregateSAMLRequest AggregateType = "samlrequest"
	AggregateSession     AggregateType = "session"
	AggregateTarget      AggregateType = "target"
	AggregateExecution   AggregateType = "execution"
	AggregateAction      AggregateType = "action"
)

// Aggregate are the coordinates of one identity boundary.
type Aggregate struct {
	InstanceID string
	Type       AggregateType
	ID         string
	Owner      string // resource owner: org id, or the instance id for instance-level entities
}

// Event is an immutable, persisted fact. The store assigns ID, CreatedAt and
// Position; the command layer assigns Version.
type Event struct {
	ID         string
	InstanceID string

	AggregateType AggregateType
	AggregateID   string
	Version       int64

	Type    string
	Payload []byte

	Creator string
	Owner   string

	CreatedAt time.Time
	Position  int64
}

// Sequence is the aggregate version under the name the read side uses.
func (e *Event) Sequence() int64 { return e.Version }

// UnmarshalPayload decodes the event payload into v. Empty payloads decode to
// the zero value.
func (e *Event) UnmarshalPayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errs.ThrowInvalid(err, "DOMAIN-payload", "malformed payload for event %s", e.Type)
	}
	return nil
}

// ConstraintOp defines operations on unique constraints.
type ConstraintOp string

const (
	// ConstraintClaim claims a unique value for the aggregate.
	ConstraintClaim ConstraintOp = "claim"
	// ConstraintRelease releases a previously claimed value.
	ConstraintRelease ConstraintOp = "release"
	// ConstraintReleaseAll releases every value the aggregate holds on the index.
	ConstraintReleaseAll ConstraintOp = "release_all"
)

// UniqueConstraint is a uniqueness claim or release validated atomically with
// the append that carries it. Values are scoped per instance.
type UniqueConstraint struct {
	Index string
	Value string
	Op    ConstraintOp
}

// NewClaim claims value on index.
func NewClaim(index, value string) UniqueConstraint {
	return UniqueConstraint{Index: index, Value: value, Op: ConstraintClaim}
}

// NewRelease releases value on index.
func NewRelease(index, value string) UniqueConstraint {
	return UniqueConstraint{Index: index, Value: value, Op: ConstraintRelease}
}

// NewReleaseAll releases every value the aggregate holds on index.
func NewReleaseAll(index string) UniqueConstraint {
	return UniqueConstraint{Index: index, Op: ConstraintReleaseAll}
}

// Unique constraint indexes.
const (
	UniqueOrgName     = "org_name"
	UniqueOrgDomain   = "org_domain"
	UniqueUsername    = "username"
	UniqueIntentState = "idp_intent_state"
	UniqueAppClientID = "app_client_id"
	UniqueAppEntityID = "app_entity_id"
)

// Command is a pending event: everything the caller decides, nothing the
// store assigns. Commands for the same aggregate within one push must form a
// contiguous extension of CurrentVersion.
type Command struct {
	Aggregate Aggregate

	// CurrentVersion is the aggregate version the emitter observed, 0 for a
	// new aggregate. The store verifies it against the persisted version.
	CurrentVersion int64

	Type    string
	Payload any

	Creator     string
	Constraints []UniqueConstraint
}

// MarshalPayload serializes the payload for storage. Nil payloads persist as
// empty blobs.
func (c *Command) MarshalPayload() ([]byte, error) {
	if c.Payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, errs.ThrowInternal(err, "DOMAIN-marshal", "failed to marshal payload for %s", c.Type)
	}
	return data, nil
}
