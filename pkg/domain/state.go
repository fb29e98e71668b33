package domain

// Entity lifecycle states, shared by write models and projection rows.

type UserState string

const (
	UserStateActive   UserState = "active"
	UserStateInactive UserState = "inactive"
	UserStateLocked   UserState = "locked"
	UserStateDeleted  UserState = "deleted"
)

// Exists reports whether the user is present (any state but deleted/unset).
func (s UserState) Exists() bool {
	return s == UserStateActive || s == UserStateInactive || s == UserStateLocked
}

type UserType string

const (
	UserTypeHuman   UserType = "human"
	UserTypeMachine UserType = "machine"
)

type OrgState string

const (
	OrgStateActive   OrgState = "active"
	OrgStateInactive OrgState = "inactive"
	OrgStateRemoved  OrgState = "removed"
)

func (s OrgState) Exists() bool {
	return s == OrgStateActive || s == OrgStateInactive
}

type ProjectState string

const (
	ProjectStateActive   ProjectState = "active"
	ProjectStateInactive ProjectState = "inactive"
	ProjectStateRemoved  ProjectState = "removed"
)

func (s ProjectState) Exists() bool {
	return s == ProjectStateActive || s == ProjectStateInactive
}

type AppState string

const (
	AppStateActive   AppState = "active"
	AppStateInactive AppState = "inactive"
	AppStateRemoved  AppState = "removed"
)

func (s AppState) Exists() bool {
	return s == AppStateActive || s == AppStateInactive
}

type AppType string

const (
	AppTypeOIDC AppType = "oidc"
	AppTypeSAML AppType = "saml"
	AppTypeAPI  AppType = "api"
)

type GrantState string

const (
	GrantStateActive   GrantState = "active"
	GrantStateInactive GrantState = "inactive"
	GrantStateRemoved  GrantState = "removed"
)

func (s GrantState) Exists() bool {
	return s == GrantStateActive || s == GrantStateInactive
}

type IDPType string

const (
	IDPTypeOAuth IDPType = "oauth"
	IDPTypeOIDC  IDPType = "oidc"
	IDPTypeSAML  IDPType = "saml"
)

type IntentState string

const (
	IntentStateStarted   IntentState = "started"
	IntentStateSucceeded IntentState = "succeeded"
	IntentStateFailed    IntentState = "failed"
)

type SAMLRequestState string

const (
	SAMLRequestStateAdded     SAMLRequestState = "added"
	SAMLRequestStateSucceeded SAMLRequestState = "succeeded"
	SAMLRequestStateFailed    SAMLRequestState = "failed"
)

type SessionState string

const (
	SessionStateActive     SessionState = "active"
	SessionStateTerminated SessionState = "terminated"
)

type TargetType string

const (
	TargetTypeWebhook         TargetType = "webhook"
	TargetTypeRequestResponse TargetType = "request_response"
)

type TargetState string

const (
	TargetStateActive  TargetState = "active"
	TargetStateRemoved TargetState = "removed"
)

type ActionState string

const (
	ActionStateActive   ActionState = "active"
	ActionStateInactive ActionState = "inactive"
	ActionStateRemoved  ActionState = "removed"
)

func (s ActionState) Exists() bool {
	return s == ActionStateActive || s == ActionStateInactive
}
