package domain

type InstanceAdded struct {
	Name string `json:"name"`
}

type OrgAdded struct {
	Name string `json:"name"`
}

type OrgChanged struct {
	Name *string `json:"name,omitempty"`
}

type OrgDomainAdded struct {
	Domain string `json:"domain"`
}

type OrgDomainVerified struct {
	Domain string `json:"domain"`
}

type OrgDomainPrimarySet struct {
	Domain string `json:"domain"`
}

type OrgDomainRemoved struct {
	Domain string `json:"domain"`
}
