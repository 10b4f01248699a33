package domain

// systemQueryFolders are pre-provisioned by the remote service in every
// container and can never be created by a user.
var systemQueryFolders = map[string]struct{}{
	"Shared Queries": {},
	"My Queries":     {},
}

// IsSystemQueryFolder reports whether name is a reserved query folder.
func IsSystemQueryFolder(name string) bool {
	_, ok := systemQueryFolders[name]
	return ok
}
