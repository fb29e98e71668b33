package domain

import "time"

// UserAdded covers human user creation, including the legacy user.created,
// user.registered and user.human.added histories.
type UserAdded struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	// PasswordHash is set when the user was created with a password.
	PasswordHash string `json:"passwordHash,omitempty"`
}

type UserMachineAdded struct {
	Username    string `json:"username"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UserProfileChanged is a partial update: nil fields mean "no change".
type UserProfileChanged struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

type UserUsernameChanged struct {
	Username string `json:"username"`
}

type UserEmailChanged struct {
	Email string `json:"email"`
}

type UserEmailVerified struct {
	VerifiedAt time.Time `json:"verifiedAt"`
}

type UserPhoneChanged struct {
	Phone string `json:"phone"`
}

type UserPhoneVerified struct {
	VerifiedAt time.Time `json:"verifiedAt"`
}

type UserPasswordChanged struct {
	PasswordHash string    `json:"passwordHash"`
	ChangedAt    time.Time `json:"changedAt"`
}

// UserIDPProvisioned records a user created from a federated identity.
type UserIDPProvisioned struct {
	Username    string `json:"username"`
	IDPID       string `json:"idpId"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// UserIDPLinkAdded links a federated identity to an existing user.
type UserIDPLinkAdded struct {
	IDPID       string `json:"idpId"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName,omitempty"`
}
