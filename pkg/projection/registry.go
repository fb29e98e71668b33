package projection

// All returns one instance of every projection. The server registers the
// full set; tests pick the handlers they need.
func All() []Handler {
	return []Handler{
		NewInstances(),
		NewOrgs(),
		NewOrgDomains(),
		NewUsers(),
		NewProjects(),
		NewProjectRoles(),
		NewProjectMembers(),
		NewProjectGrants(),
		NewApps(),
		NewUserGrants(),
		NewIDPs(),
		NewIDPIntents(),
		NewSAMLRequests(),
		NewSessions(),
		NewTargets(),
		NewExecutions(),
		NewActions(),
	}
}
