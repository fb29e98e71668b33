package domain

type ProjectAdded struct {
	Name string `json:"name"`
}

type ProjectChanged struct {
	Name *string `json:"name,omitempty"`
}

type ProjectRoleAdded struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName,omitempty"`
	Group       string `json:"group,omitempty"`
}

type ProjectRoleChanged struct {
	Key         string  `json:"key"`
	DisplayName *string `json:"displayName,omitempty"`
	Group       *string `json:"group,omitempty"`
}

type ProjectRoleRemoved struct {
	Key string `json:"key"`
}

type ProjectMemberAdded struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

type ProjectMemberChanged struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

type ProjectMemberRemoved struct {
	UserID string `json:"userId"`
}

// ProjectGrant shares a project with another org, restricted to role keys.
type ProjectGrantAdded struct {
	GrantID      string   `json:"grantId"`
	GrantedOrgID string   `json:"grantedOrgId"`
	RoleKeys     []string `json:"roleKeys"`
}

type ProjectGrantChanged struct {
	GrantID  string   `json:"grantId"`
	RoleKeys []string `json:"roleKeys"`
}

type ProjectGrantRemoved struct {
	GrantID string `json:"grantId"`
}
