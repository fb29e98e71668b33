package domain

import "time"

// IDPOAuthAdded configures a generic OAuth identity provider.
type IDPOAuthAdded struct {
	Name         string   `json:"name"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	AuthURL      string   `json:"authUrl"`
	TokenURL     string   `json:"tokenUrl"`
	UserURL      string   `json:"userUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

type IDPOAuthChanged struct {
	Name         *string  `json:"name,omitempty"`
	ClientID     *string  `json:"clientId,omitempty"`
	ClientSecret *string  `json:"clientSecret,omitempty"`
	AuthURL      *string  `json:"authUrl,omitempty"`
	TokenURL     *string  `json:"tokenUrl,omitempty"`
	UserURL      *string  `json:"userUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

type IDPOIDCAdded struct {
	Name         string   `json:"name"`
	Issuer       string   `json:"issuer"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	Scopes       []string `json:"scopes,omitempty"`
}

type IDPOIDCChanged struct {
	Name         *string  `json:"name,omitempty"`
	Issuer       *string  `json:"issuer,omitempty"`
	ClientID     *string  `json:"clientId,omitempty"`
	ClientSecret *string  `json:"clientSecret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

type IDPSAMLAdded struct {
	Name        string `json:"name"`
	MetadataURL string `json:"metadataUrl,omitempty"`
	Metadata    []byte `json:"metadata,omitempty"`
}

type IDPSAMLChanged struct {
	Name        *string `json:"name,omitempty"`
	MetadataURL *string `json:"metadataUrl,omitempty"`
	Metadata    []byte  `json:"metadata,omitempty"`
}

// IDPIntentStarted opens a federated login flow. State, verifier and nonce
// are generated, never caller-supplied.
type IDPIntentStarted struct {
	IDPID         string    `json:"idpId"`
	IDPType       IDPType   `json:"idpType"`
	State         string    `json:"state"`
	CodeVerifier  string    `json:"codeVerifier,omitempty"`
	Nonce         string    `json:"nonce,omitempty"`
	RedirectURI   string    `json:"redirectUri"`
	AuthRequestID string    `json:"authRequestId,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type IDPIntentSucceeded struct {
	UserID      string `json:"userId"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

type IDPIntentFailed struct {
	Reason string `json:"reason"`
}
