package domain_test

import (
	"context"
	"testing"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user.added", "user.added"},
		{"user.created", "user.added"},
		{"user.registered", "user.added"},
		{"user.human.added", "user.added"},
		{"user.v2.added", "user.added"},
		{"user.v2.email.changed", "user.email.changed"},
		{"user.human.password.changed", "user.password.changed"},
		{"user.v3.human.email.verified", "user.email.verified"},
		{"org.domain.primary.set", "org.domain.primary.set"},
		{"app.removed", "application.removed"},
		{"user.grant.added", "usergrant.added"},
		{"something.unknown", "something.unknown"},
		{"user.verylong", "user.verylong"}, // "verylong" is not a version segment
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.Normalize(tt.in))
		})
	}
}

func TestActorContextRoundTrip(t *testing.T) {
	ctx := domain.WithActor(context.Background(), domain.Actor{
		InstanceID: "inst1",
		OrgID:      "org1",
		UserID:     "u1",
	})

	actor, err := domain.ActorFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "inst1", actor.InstanceID)
	assert.NotEmpty(t, actor.RequestID, "request id is filled when missing")
}

func TestActorContextMissing(t *testing.T) {
	_, err := domain.ActorFromContext(context.Background())
	assert.True(t, errs.IsInvalid(err))
}

func TestExecutionConditionID(t *testing.T) {
	tests := []struct {
		cond domain.ExecutionCondition
		want string
	}{
		{domain.ExecutionCondition{Kind: domain.ExecutionKindEvent, Event: "user.added"}, "event-user.added"},
		{domain.ExecutionCondition{Kind: domain.ExecutionKindEvent, Group: "user"}, "event-user.*"},
		{domain.ExecutionCondition{Kind: domain.ExecutionKindEvent, All: true}, "event-all"},
		{domain.ExecutionCondition{Kind: domain.ExecutionKindRequest, Method: "/v1.UserService/AddUser"}, "request-/v1.UserService/AddUser"},
		{domain.ExecutionCondition{Kind: domain.ExecutionKindFunction, Name: "preauth"}, "function-preauth"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.NoError(t, tt.cond.Validate())
			assert.Equal(t, tt.want, tt.cond.ID())
		})
	}
}

func TestExecutionConditionExactlyOne(t *testing.T) {
	err := domain.ExecutionCondition{
		Kind:  domain.ExecutionKindEvent,
		Event: "user.added",
		All:   true,
	}.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))

	err = domain.ExecutionCondition{Kind: domain.ExecutionKindEvent}.Validate()
	assert.True(t, errs.IsInvalid(err))
}

func TestParseExecutionID(t *testing.T) {
	kind, suffix, err := domain.ParseExecutionID("event-user.added")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionKindEvent, kind)
	assert.Equal(t, "user.added", suffix)

	_, _, err = domain.ParseExecutionID("bogus")
	assert.True(t, errs.IsInvalid(err))
}

func TestUnmarshalPayload(t *testing.T) {
	evt := domain.Event{Type: domain.UserAddedType, Payload: []byte(`{"username":"alice"}`)}

	var payload domain.UserAdded
	require.NoError(t, evt.UnmarshalPayload(&payload))
	assert.Equal(t, "alice", payload.Username)

	evt.Payload = []byte(`{not json`)
	err := evt.UnmarshalPayload(&payload)
	assert.True(t, errs.IsInvalid(err))

	evt.Payload = nil
	assert.NoError(t, evt.UnmarshalPayload(&payload))
}
