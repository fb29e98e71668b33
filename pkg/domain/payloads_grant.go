package domain

type UserGrantAdded struct {
	UserID         string   `json:"userId"`
	ProjectID      string   `json:"projectId"`
	ProjectGrantID string   `json:"projectGrantId,omitempty"`
	RoleKeys       []string `json:"roleKeys"`
}

type UserGrantChanged struct {
	RoleKeys []string `json:"roleKeys"`
}
