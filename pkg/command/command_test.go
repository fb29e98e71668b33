package command_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/pkg/command"
	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore/sqlite"
)

const (
	testInstance = "instance-1"
	testPassword = "Str0ng-Passw0rd!42"
)

type commandsTest struct {
	store    *sqlite.Store
	commands *command.Commands
	now      time.Time
}

func newCommandsTest(t *testing.T) *commandsTest {
	t.Helper()
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ct := &commandsTest{store: store, now: time.Now()}
	ct.commands = command.New(store,
		command.WithConfig(command.Config{BcryptCost: 4}),
		command.WithClock(func() time.Time { return ct.now }),
	)
	return ct
}

func (ct *commandsTest) advance(d time.Duration) { ct.now = ct.now.Add(d) }

func actorCtx(orgID string) context.Context {
	return domain.WithActor(context.Background(), domain.Actor{
		InstanceID: testInstance,
		OrgID:      orgID,
		UserID:     "admin",
	})
}

func setUpOrg(t *testing.T, ct *commandsTest, orgName, username string) *command.SetUpOrgResult {
	t.Helper()
	result, err := ct.commands.SetUpOrg(actorCtx(""), command.SetUpOrgRequest{
		Name: orgName,
		Admin: command.AddHumanUserRequest{
			Username: username,
			Email:    username + "@example.com",
			Password: testPassword,
		},
	})
	require.NoError(t, err)
	return result
}

func TestSetUpOrgIsAtomic(t *testing.T) {
	ct := newCommandsTest(t)

	first := setUpOrg(t, ct, "acme", "alice")
	require.NotEmpty(t, first.OrgID)
	require.NotEmpty(t, first.UserID)

	// same org name again: the whole batch must roll back
	_, err := ct.commands.SetUpOrg(actorCtx(""), command.SetUpOrgRequest{
		Name:  "acme",
		Admin: command.AddHumanUserRequest{Username: "bob", Password: testPassword},
	})
	require.Error(t, err)
	assert.True(t, errs.IsAlreadyExists(err))

	events, err := ct.store.Filter(context.Background(), eventstore.NewSearchQuery(testInstance).
		WithEventTypes(domain.UserAddedType))
	require.NoError(t, err)
	require.Len(t, events, 1, "the second admin user must not have been written")
}

func TestCommandsRequireActorContext(t *testing.T) {
	ct := newCommandsTest(t)

	_, _, err := ct.commands.AddOrg(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))
}

func TestOrgRename(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	// rename to the same name is a no-op
	details, err := ct.commands.ChangeOrg(ctx, org.OrgID, "acme")
	require.NoError(t, err)
	noopSeq := details.Sequence

	details, err = ct.commands.ChangeOrg(ctx, org.OrgID, "acme gmbh")
	require.NoError(t, err)
	assert.Greater(t, details.Sequence, noopSeq)

	// the old name is free again
	_, _, err = ct.commands.AddOrg(ctx, "acme")
	require.NoError(t, err)
}

func TestOrgDomainLifecycle(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	_, err := ct.commands.AddOrgDomain(ctx, org.OrgID, "Acme.Example.COM")
	require.NoError(t, err)

	// primary requires verification first
	_, err = ct.commands.SetPrimaryOrgDomain(ctx, org.OrgID, "acme.example.com")
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))

	_, err = ct.commands.VerifyOrgDomain(ctx, org.OrgID, "acme.example.com")
	require.NoError(t, err)
	_, err = ct.commands.SetPrimaryOrgDomain(ctx, org.OrgID, "acme.example.com")
	require.NoError(t, err)

	// a verified domain is unique per instance
	other := setUpOrg(t, ct, "other", "otto")
	_, err = ct.commands.AddOrgDomain(ctx, other.OrgID, "acme.example.com")
	require.NoError(t, err)
	_, err = ct.commands.VerifyOrgDomain(ctx, other.OrgID, "acme.example.com")
	require.Error(t, err)
	assert.True(t, errs.IsAlreadyExists(err))

	// primary domains cannot be removed
	_, err = ct.commands.RemoveOrgDomain(ctx, org.OrgID, "acme.example.com")
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
}

func TestUserLifecycle(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	userID, _, err := ct.commands.AddHumanUser(ctx, command.AddHumanUserRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)

	// duplicate username in the same org
	_, _, err = ct.commands.AddHumanUser(ctx, command.AddHumanUserRequest{Username: "Bob"})
	require.Error(t, err)
	assert.True(t, errs.IsAlreadyExists(err), "usernames are case-insensitive unique")

	// email change resets the verified flag
	_, err = ct.commands.VerifyEmail(ctx, userID)
	require.NoError(t, err)
	_, err = ct.commands.ChangeEmail(ctx, userID, "bob2@example.com")
	require.NoError(t, err)
	_, err = ct.commands.VerifyEmail(ctx, userID)
	require.NoError(t, err)

	// lifecycle: lock requires active, unlock requires locked
	_, err = ct.commands.LockUser(ctx, userID)
	require.NoError(t, err)
	_, err = ct.commands.DeactivateUser(ctx, userID)
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
	_, err = ct.commands.UnlockUser(ctx, userID)
	require.NoError(t, err)

	// removal frees the username
	_, err = ct.commands.RemoveUser(ctx, userID)
	require.NoError(t, err)
	_, _, err = ct.commands.AddHumanUser(ctx, command.AddHumanUserRequest{Username: "bob"})
	require.NoError(t, err)

	_, err = ct.commands.DeactivateUser(ctx, userID)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestChangeProfileNoOp(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	first := "Ada"
	_, err := ct.commands.ChangeProfile(ctx, org.UserID, domain.UserProfileChanged{FirstName: &first})
	require.NoError(t, err)

	before, err := ct.store.LatestPosition(ctx, testInstance)
	require.NoError(t, err)

	_, err = ct.commands.ChangeProfile(ctx, org.UserID, domain.UserProfileChanged{FirstName: &first})
	require.NoError(t, err)

	after, err := ct.store.LatestPosition(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a no-op change must not append events")
}

func TestChangeEmailSameAddressNoOp(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	userID, _, err := ct.commands.AddHumanUser(ctx, command.AddHumanUserRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	_, err = ct.commands.VerifyEmail(ctx, userID)
	require.NoError(t, err)

	before, err := ct.store.LatestPosition(ctx, testInstance)
	require.NoError(t, err)

	// the current address must not emit anything, verified or not
	_, err = ct.commands.ChangeEmail(ctx, userID, "bob@example.com")
	require.NoError(t, err)

	after, err := ct.store.LatestPosition(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, before, after, "re-submitting the verified address must stay a no-op")

	// the verified flag survived: verifying again emits nothing either
	_, err = ct.commands.VerifyEmail(ctx, userID)
	require.NoError(t, err)
	final, err := ct.store.LatestPosition(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, after, final)
}

func TestWeakPasswordRejected(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")

	_, _, err := ct.commands.AddHumanUser(actorCtx(org.OrgID), command.AddHumanUserRequest{
		Username: "bob",
		Password: "123456",
	})
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))
}

func TestProjectRolesAndGrants(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	projectID, _, err := ct.commands.AddProject(ctx, "crm")
	require.NoError(t, err)
	_, err = ct.commands.AddProjectRole(ctx, projectID, domain.ProjectRoleAdded{Key: "admin"})
	require.NoError(t, err)

	// grants may only use defined role keys
	_, _, err = ct.commands.AddUserGrant(ctx, org.UserID, projectID, []string{"reader"})
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))

	grantID, _, err := ct.commands.AddUserGrant(ctx, org.UserID, projectID, []string{"admin"})
	require.NoError(t, err)

	_, err = ct.commands.DeactivateUserGrant(ctx, grantID)
	require.NoError(t, err)
	_, err = ct.commands.DeactivateUserGrant(ctx, grantID)
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
}

func TestIntentLifecycle(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	idpID, _, err := ct.commands.AddOIDCIDP(ctx, domain.IDPOIDCAdded{
		Name:     "corp idp",
		Issuer:   "https://idp.example.com",
		ClientID: "client-1",
	})
	require.NoError(t, err)

	intent, err := ct.commands.StartIntent(ctx, idpID, "https://app.example.com/callback", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(intent.State), 22)
	assert.Len(t, intent.CodeVerifier, 43, "oidc intents carry a PKCE verifier")
	assert.NotEmpty(t, intent.Nonce)

	userID, _, err := ct.commands.SucceedIntent(ctx, intent.IntentID, command.SucceedIntentRequest{
		ExternalID: "ext-123",
		Email:      "carol@example.com",
	})
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	// the provisioned user exists and is usable
	_, err = ct.commands.VerifyEmail(ctx, userID)
	require.NoError(t, err)

	// closing twice fails the precondition
	_, _, err = ct.commands.SucceedIntent(ctx, intent.IntentID, command.SucceedIntentRequest{ExternalID: "ext-123"})
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
}

func TestIntentExpiry(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	idpID, _, err := ct.commands.AddOIDCIDP(ctx, domain.IDPOIDCAdded{
		Name:     "corp idp",
		Issuer:   "https://idp.example.com",
		ClientID: "client-1",
	})
	require.NoError(t, err)

	intent, err := ct.commands.StartIntent(ctx, idpID, "https://app.example.com/callback", "")
	require.NoError(t, err)

	ct.advance(11 * time.Minute)

	_, _, err = ct.commands.SucceedIntent(ctx, intent.IntentID, command.SucceedIntentRequest{ExternalID: "ext-1"})
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))

	// the reaper closes it and releases the state claim
	reaped, err := ct.commands.ReapIntents(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	reaped, err = ct.commands.ReapIntents(ctx, testInstance)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestIntentLinksExistingUser(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	idpID, _, err := ct.commands.AddOAuthIDP(ctx, domain.IDPOAuthAdded{
		Name:     "hub",
		ClientID: "client-2",
		AuthURL:  "https://hub.example.com/authorize",
		TokenURL: "https://hub.example.com/token",
	})
	require.NoError(t, err)

	intent, err := ct.commands.StartIntent(ctx, idpID, "https://app.example.com/callback", "")
	require.NoError(t, err)
	assert.Empty(t, intent.Nonce, "oauth intents carry no nonce")

	userID, _, err := ct.commands.SucceedIntent(ctx, intent.IntentID, command.SucceedIntentRequest{
		UserID:     org.UserID,
		ExternalID: "ext-9",
	})
	require.NoError(t, err)
	assert.Equal(t, org.UserID, userID)

	events, err := ct.store.Filter(ctx, eventstore.NewSearchQuery(testInstance).
		WithEventTypes(domain.UserIDPLinkAddedType))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, org.UserID, events[0].AggregateID)
}

func TestSAMLRequestAuthorization(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	projectID, _, err := ct.commands.AddProject(ctx, "portal")
	require.NoError(t, err)
	_, err = ct.commands.AddProjectRole(ctx, projectID, domain.ProjectRoleAdded{Key: "user"})
	require.NoError(t, err)
	_, _, err = ct.commands.AddSAMLApp(ctx, projectID, domain.AppSAMLAdded{
		Name:     "portal sp",
		EntityID: "https://portal.example.com/metadata",
	})
	require.NoError(t, err)

	// unknown issuer
	_, _, err = ct.commands.AddSAMLRequest(ctx, command.AddSAMLRequestInput{
		Issuer: "https://unknown.example.com",
		UserID: org.UserID,
	})
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	// no grant yet: the request is recorded and failed, the caller gets
	// PermissionDenied
	requestID, _, err := ct.commands.AddSAMLRequest(ctx, command.AddSAMLRequestInput{
		Issuer: "https://portal.example.com/metadata",
		UserID: org.UserID,
	})
	require.Error(t, err)
	assert.True(t, errs.IsPermissionDenied(err))
	require.NotEmpty(t, requestID)

	events, err := ct.store.Filter(ctx, eventstore.NewSearchQuery(testInstance).
		WithAggregate(domain.AggregateSAMLRequest, requestID))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.SAMLRequestAddedType, events[0].Type)
	assert.Equal(t, domain.SAMLRequestFailedType, events[1].Type)

	// with an active grant the request stays open and can be succeeded
	_, _, err = ct.commands.AddUserGrant(ctx, org.UserID, projectID, []string{"user"})
	require.NoError(t, err)

	requestID, _, err = ct.commands.AddSAMLRequest(ctx, command.AddSAMLRequestInput{
		Issuer: "https://portal.example.com/metadata",
		UserID: org.UserID,
	})
	require.NoError(t, err)
	_, err = ct.commands.SucceedSAMLRequest(ctx, requestID, org.UserID)
	require.NoError(t, err)
	_, err = ct.commands.SucceedSAMLRequest(ctx, requestID, org.UserID)
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
}

func TestSessionLogoutBySessionIndex(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	_, _, _, err := ct.commands.CreateSession(ctx, org.UserID, "idx-1")
	require.NoError(t, err)
	_, _, _, err = ct.commands.CreateSession(ctx, org.UserID, "idx-1")
	require.NoError(t, err)
	keep, _, _, err := ct.commands.CreateSession(ctx, org.UserID, "idx-2")
	require.NoError(t, err)

	terminated, err := ct.commands.HandleLogout(ctx, "idx-1")
	require.NoError(t, err)
	assert.Equal(t, 2, terminated)

	// logout is idempotent
	terminated, err = ct.commands.HandleLogout(ctx, "idx-1")
	require.NoError(t, err)
	assert.Zero(t, terminated)

	// the unrelated session is still alive
	_, err = ct.commands.TerminateSession(ctx, keep, "test")
	require.NoError(t, err)
}

func TestSessionTokenReplaceByID(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	sessionID, _, _, err := ct.commands.CreateSession(ctx, org.UserID, "")
	require.NoError(t, err)

	first, _, err := ct.commands.SetSessionToken(ctx, sessionID, "refresh")
	require.NoError(t, err)
	second, _, err := ct.commands.SetSessionToken(ctx, sessionID, "refresh")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = ct.commands.TerminateSession(ctx, sessionID, "done")
	require.NoError(t, err)
	_, _, err = ct.commands.SetSessionToken(ctx, sessionID, "refresh")
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
}

func TestExecutionCycleRejected(t *testing.T) {
	ct := newCommandsTest(t)
	ctx := actorCtx("")

	targetID, _, _, err := ct.commands.AddTarget(ctx, command.AddTargetRequest{
		Name:       "audit hook",
		TargetType: domain.TargetTypeWebhook,
		Endpoint:   "https://hooks.example.com/audit",
	})
	require.NoError(t, err)

	condA := domain.ExecutionCondition{Kind: domain.ExecutionKindEvent, Event: "user.added"}
	condB := domain.ExecutionCondition{Kind: domain.ExecutionKindEvent, Event: "user.removed"}
	condC := domain.ExecutionCondition{Kind: domain.ExecutionKindEvent, All: true}

	_, err = ct.commands.SetExecution(ctx, condC, []domain.ExecutionTarget{
		{Type: domain.ExecutionTargetTypeTarget, TargetID: targetID},
	})
	require.NoError(t, err)
	_, err = ct.commands.SetExecution(ctx, condB, []domain.ExecutionTarget{
		{Type: domain.ExecutionTargetTypeInclude, IncludeID: condC.ID()},
	})
	require.NoError(t, err)
	_, err = ct.commands.SetExecution(ctx, condA, []domain.ExecutionTarget{
		{Type: domain.ExecutionTargetTypeInclude, IncludeID: condB.ID()},
	})
	require.NoError(t, err)

	// closing the loop C -> A must fail
	_, err = ct.commands.SetExecution(ctx, condC, []domain.ExecutionTarget{
		{Type: domain.ExecutionTargetTypeTarget, TargetID: targetID},
		{Type: domain.ExecutionTargetTypeInclude, IncludeID: condA.ID()},
	})
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))

	// a self include is the smallest cycle
	_, err = ct.commands.SetExecution(ctx, condA, []domain.ExecutionTarget{
		{Type: domain.ExecutionTargetTypeInclude, IncludeID: condA.ID()},
	})
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))
}

func TestSetExecutionValidation(t *testing.T) {
	ct := newCommandsTest(t)
	ctx := actorCtx("")

	cond := domain.ExecutionCondition{Kind: domain.ExecutionKindRequest, All: true}

	_, err := ct.commands.SetExecution(ctx, cond, nil)
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err), "empty target lists are rejected, RemoveExecution unbinds")

	_, err = ct.commands.SetExecution(ctx, cond, []domain.ExecutionTarget{
		{Type: domain.ExecutionTargetTypeTarget, TargetID: "missing"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	_, err = ct.commands.SetExecution(ctx, cond, []domain.ExecutionTarget{
		{Type: domain.ExecutionTargetTypeInclude, IncludeID: "event-user.added"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err), "includes must reference configured executions")

	_, err = ct.commands.RemoveExecution(ctx, cond)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestTargetSigningKeyRotation(t *testing.T) {
	ct := newCommandsTest(t)
	ctx := actorCtx("")

	targetID, key, _, err := ct.commands.AddTarget(ctx, command.AddTargetRequest{
		Name:       "hook",
		TargetType: domain.TargetTypeRequestResponse,
		Endpoint:   "https://hooks.example.com/call",
	})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	rotated, _, err := ct.commands.ChangeTarget(ctx, targetID, command.ChangeTargetRequest{RotateSigningKey: true})
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)
	assert.NotEqual(t, key, rotated)

	// plain http endpoints are rejected
	bad := "http://hooks.example.com/call"
	_, _, err = ct.commands.ChangeTarget(ctx, targetID, command.ChangeTargetRequest{Endpoint: &bad})
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))
}

func TestAppSecretsReturnedOnce(t *testing.T) {
	ct := newCommandsTest(t)
	org := setUpOrg(t, ct, "acme", "alice")
	ctx := actorCtx(org.OrgID)

	projectID, _, err := ct.commands.AddProject(ctx, "crm")
	require.NoError(t, err)

	appID, clientID, secret, _, err := ct.commands.AddOIDCApp(ctx, projectID, "web", []string{"https://app.example.com/cb"})
	require.NoError(t, err)
	require.NotEmpty(t, clientID)
	require.NotEmpty(t, secret)

	// the stored payload carries the hash, never the plaintext
	events, err := ct.store.Filter(ctx, eventstore.NewSearchQuery(testInstance).
		WithAggregate(domain.AggregateApp, appID))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	var payload domain.AppOIDCAdded
	require.NoError(t, events[0].UnmarshalPayload(&payload))
	assert.NotEqual(t, secret, payload.ClientSecret)

	rotated, _, err := ct.commands.RotateAppSecret(ctx, appID)
	require.NoError(t, err)
	assert.NotEqual(t, secret, rotated)
}
