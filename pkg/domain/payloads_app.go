package domain

type AppOIDCAdded struct {
	ProjectID    string   `json:"projectId"`
	Name         string   `json:"name"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	RedirectURIs []string `json:"redirectUris,omitempty"`
}

type AppOIDCChanged struct {
	Name         *string  `json:"name,omitempty"`
	RedirectURIs []string `json:"redirectUris,omitempty"`
}

type AppSecretChanged struct {
	ClientSecret string `json:"clientSecret"`
}

type AppSAMLAdded struct {
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	EntityID    string `json:"entityId"`
	MetadataURL string `json:"metadataUrl,omitempty"`
	ACSURL      string `json:"acsUrl,omitempty"`
}

type AppSAMLChanged struct {
	Name        *string `json:"name,omitempty"`
	MetadataURL *string `json:"metadataUrl,omitempty"`
	ACSURL      *string `json:"acsUrl,omitempty"`
}

type AppAPIAdded struct {
	ProjectID    string `json:"projectId"`
	Name         string `json:"name"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type AppAPIChanged struct {
	Name *string `json:"name,omitempty"`
}
