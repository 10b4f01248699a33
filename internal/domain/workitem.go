package domain

// WorkItem is a single tracked item. The numeric ID is assigned by the remote
// service and scoped to the owning container; cross-container identity exists
// only through a recorded WorkItemMapping.
type WorkItem struct {
	ID            int
	Type          string
	Title         string
	State         string
	Priority      int
	AssignedTo    string
	AreaPath      string
	IterationPath string
	Tags          string
	ParentID      int
	Description   string
	Attachments   []Attachment
	Relations     []Relation
}

// Relation is a raw work item relation as reported by the remote service.
type Relation struct {
	Rel     string
	URL     string
	Comment string
}

// Attachment describes an attached file relation.
type Attachment struct {
	ID      string
	Name    string
	Comment string
	URL     string
}

// WorkItemPatch carries the fields an update touches. Nil pointers leave the
// target field unchanged.
type WorkItemPatch struct {
	Title         *string
	State         *string
	Priority      *int
	AssignedTo    *string
	AreaPath      *string
	IterationPath *string
	Tags          *string
	Description   *string
}

// ClassificationKind distinguishes area from iteration path trees.
type ClassificationKind string

const (
	ClassificationArea      ClassificationKind = "areas"
	ClassificationIteration ClassificationKind = "iterations"
)

// ClassificationNode is a node in a container's area or iteration tree. Path
// is the full slash-separated path from the root, root name included.
type ClassificationNode struct {
	ID       int
	Name     string
	Path     string
	Children []ClassificationNode
}

// Flatten returns all full paths in the tree, depth first.
func (n ClassificationNode) Flatten() []string {
	paths := []string{n.Path}
	for _, child := range n.Children {
		paths = append(paths, child.Flatten()...)
	}
	return paths
}

// Query is a saved query or query folder. Children is populated for folders.
type Query struct {
	ID        string
	Name      string
	Path      string
	WIQL      string
	QueryType string
	IsFolder  bool
	IsPublic  bool
	Children  []Query
}
