package domain

type SAMLRequestAdded struct {
	Issuer     string `json:"issuer"`
	ACSURL     string `json:"acsUrl"`
	RelayState string `json:"relayState,omitempty"`
	UserID     string `json:"userId,omitempty"`
	Binding    string `json:"binding,omitempty"`
}

type SAMLRequestSucceeded struct {
	UserID string `json:"userId"`
}

type SAMLRequestFailed struct {
	Reason string `json:"reason"`
}

type SessionAdded struct {
	UserID string `json:"userId,omitempty"`
	// SessionIndex correlates the session with SAML logout requests.
	SessionIndex string `json:"sessionIndex,omitempty"`
}

// SessionTokenSet replaces the token with the same id, appends otherwise.
type SessionTokenSet struct {
	TokenID string `json:"tokenId"`
	Token   string `json:"token"`
}

type SessionUserChecked struct {
	UserID    string `json:"userId"`
	CheckedAt string `json:"checkedAt"`
	Method    string `json:"method"` // password, intent
}

type SessionTerminated struct {
	Reason string `json:"reason,omitempty"`
}
