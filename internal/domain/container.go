package domain

// Container is a project-like unit in the remote tracking service. It owns
// work items, queries, classification nodes, security groups, wiki pages and
// feature-visibility flags. Containers are only ever read from the remote
// service; the sync engine never fabricates one except as a clone target.
type Container struct {
	ID          string
	Name        string
	Description string
	State       string
	URL         string
}

// Repository is a version control repository owned by a container.
type Repository struct {
	ID            string
	Name          string
	DefaultBranch string
	RemoteURL     string
}

// Team is a container-scoped team.
type Team struct {
	ID          string
	Name        string
	Description string
}

// PipelineDefinition is a build or release definition. The definition body is
// carried opaquely; clone re-creates it by name in the target container.
type PipelineDefinition struct {
	ID   int
	Name string
	Path string
	Body []byte
}

// Dashboard is a container dashboard summary.
type Dashboard struct {
	ID   string
	Name string
}

// SecurityGroup holds a group and its member principal names.
type SecurityGroup struct {
	ID      string
	Name    string
	Members []string
}

// WikiPage identifies a page within a container wiki.
type WikiPage struct {
	ID   string
	Path string
}
