package domain

import "strings"

// Event types, canonical form. History may also carry legacy or versioned
// names (user.created, user.v2.email.changed); Normalize folds them all onto
// these constants so reducers and write models dispatch on a single name.
const (
	InstanceAddedType   = "instance.added"
	InstanceRemovedType = "instance.removed"

	OrgAddedType            = "org.added"
	OrgChangedType          = "org.changed"
	OrgDeactivatedType      = "org.deactivated"
	OrgReactivatedType      = "org.reactivated"
	OrgRemovedType          = "org.removed"
	OrgDomainAddedType      = "org.domain.added"
	OrgDomainVerifiedType   = "org.domain.verified"
	OrgDomainPrimarySetType = "org.domain.primary.set"
	OrgDomainRemovedType    = "org.domain.removed"

	UserAddedType           = "user.added"
	UserMachineAddedType    = "user.machine.added"
	UserProfileChangedType  = "user.profile.changed"
	UserUsernameChangedType = "user.username.changed"
	UserEmailChangedType    = "user.email.changed"
	UserEmailVerifiedType   = "user.email.verified"
	UserPhoneChangedType    = "user.phone.changed"
	UserPhoneVerifiedType   = "user.phone.verified"
	UserPhoneRemovedType    = "user.phone.removed"
	UserPasswordChangedType = "user.password.changed"
	UserDeactivatedType     = "user.deactivated"
	UserReactivatedType     = "user.reactivated"
	UserLockedType          = "user.locked"
	UserUnlockedType        = "user.unlocked"
	UserRemovedType         = "user.removed"
	UserIDPProvisionedType  = "user.idp.provisioned"
	UserIDPLinkAddedType    = "user.idp.link.added"

	ProjectAddedType         = "project.added"
	ProjectChangedType       = "project.changed"
	ProjectDeactivatedType   = "project.deactivated"
	ProjectReactivatedType   = "project.reactivated"
	ProjectRemovedType       = "project.removed"
	ProjectRoleAddedType     = "project.role.added"
	ProjectRoleChangedType   = "project.role.changed"
	ProjectRoleRemovedType   = "project.role.removed"
	ProjectMemberAddedType   = "project.member.added"
	ProjectMemberChangedType = "project.member.changed"
	ProjectMemberRemovedType = "project.member.removed"
	ProjectGrantAddedType    = "project.grant.added"
	ProjectGrantChangedType  = "project.grant.changed"
	ProjectGrantRemovedType  = "project.grant.removed"

	AppOIDCAddedType         = "app.oidc.added"
	AppOIDCChangedType       = "app.oidc.changed"
	AppOIDCSecretChangedType = "app.oidc.secret.changed"
	AppSAMLAddedType         = "app.saml.added"
	AppSAMLChangedType       = "app.saml.changed"
	AppAPIAddedType          = "app.api.added"
	AppAPIChangedType        = "app.api.changed"
	AppAPISecretChangedType  = "app.api.secret.changed"
	AppDeactivatedType       = "application.deactivated"
	AppReactivatedType       = "application.reactivated"
	AppRemovedType           = "application.removed"

	UserGrantAddedType       = "usergrant.added"
	UserGrantChangedType     = "usergrant.changed"
	UserGrantDeactivatedType = "usergrant.deactivated"
	UserGrantReactivatedType = "usergrant.reactivated"
	UserGrantRemovedType     = "usergrant.removed"

	IDPOAuthAddedType   = "idp.oauth.added"
	IDPOAuthChangedType = "idp.oauth.changed"
	IDPOIDCAddedType    = "idp.oidc.added"
	IDPOIDCChangedType  = "idp.oidc.changed"
	IDPSAMLAddedType    = "idp.saml.added"
	IDPSAMLChangedType  = "idp.saml.changed"
	IDPRemovedType      = "idp.removed"

	IDPIntentStartedType   = "idp.intent.started"
	IDPIntentSucceededType = "idp.intent.succeeded"
	IDPIntentFailedType    = "idp.intent.failed"

	SAMLRequestAddedType     = "saml.request.added"
	SAMLRequestSucceededType = "saml.request.succeeded"
	SAMLRequestFailedType    = "saml.request.failed"

	SessionAddedType       = "session.added"
	SessionTokenSetType    = "session.token.set"
	SessionUserCheckedType = "session.user.checked"
	SessionTerminatedType  = "session.terminated"

	TargetAddedType   = "target.added"
	TargetChangedType = "target.changed"
	TargetRemovedType = "target.removed"

	ExecutionSetType     = "execution.set"
	ExecutionRemovedType = "execution.removed"

	ActionAddedType       = "action.added"
	ActionChangedType     = "action.changed"
	ActionDeactivatedType = "action.deactivated"
	ActionReactivatedType = "action.reactivated"
	ActionRemovedType     = "action.removed"
)

// legacyEventTypes maps historical names onto canonical ones. Versioned
// infixes are stripped before the lookup, so "user.v2.created" normalizes the
// same way "user.created" does.
var legacyEventTypes = map[string]string{
	"user.created":     UserAddedType,
	"user.registered":  UserAddedType,
	"user.human.added": UserAddedType,

	"user.human.profile.changed":  UserProfileChangedType,
	"user.human.email.changed":    UserEmailChangedType,
	"user.human.email.verified":   UserEmailVerifiedType,
	"user.human.phone.changed":    UserPhoneChangedType,
	"user.human.phone.verified":   UserPhoneVerifiedType,
	"user.human.phone.removed":    UserPhoneRemovedType,
	"user.human.password.changed": UserPasswordChangedType,

	"app.deactivated": AppDeactivatedType,
	"app.reactivated": AppReactivatedType,
	"app.removed":     AppRemovedType,

	"user.grant.added":       UserGrantAddedType,
	"user.grant.changed":     UserGrantChangedType,
	"user.grant.deactivated": UserGrantDeactivatedType,
	"user.grant.reactivated": UserGrantReactivatedType,
	"user.grant.removed":     UserGrantRemovedType,
}

// Normalize maps an event type, legacy or versioned, onto its canonical name.
// Unknown types pass through unchanged so forward-compat reducers can keep
// the raw bytes.
func Normalize(eventType string) string {
	stripped := stripVersion(eventType)
	if canonical, ok := legacyEventTypes[stripped]; ok {
		return canonical
	}
	return stripped
}

// stripVersion removes a version segment ("v2", "v3", ...) from a dotted
// event name: "user.v2.email.changed" -> "user.email.changed".
func stripVersion(eventType string) string {
	parts := strings.Split(eventType, ".")
	out := parts[:0]
	for _, p := range parts {
		if len(p) >= 2 && p[0] == 'v' && isDigits(p[1:]) {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
