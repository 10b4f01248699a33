package domain

import "strings"

// Classification paths are container-rooted: the first backslash segment is
// the owning container's name, so the same tree in two containers never
// matches verbatim. RelativeClassificationPath strips that root segment,
// normalizing forward slashes, and returns "" for a root-only path.
func RelativeClassificationPath(path string) string {
	normalized := strings.ReplaceAll(path, "/", "\\")
	if idx := strings.IndexByte(normalized, '\\'); idx >= 0 {
		return normalized[idx+1:]
	}
	return ""
}

// RerootPath rewrites path under root, replacing the source container's root
// segment. Empty inputs pass through unchanged so callers degrade to the
// verbatim path when the target root cannot be resolved.
func RerootPath(path, root string) string {
	if path == "" || root == "" {
		return path
	}
	rel := RelativeClassificationPath(path)
	if rel == "" {
		return root
	}
	return root + "\\" + rel
}

// RerootWorkItemPaths returns a copy of item with its area and iteration
// paths rewritten under root. Writes against a target container must go
// through this; source-rooted paths do not exist there.
func RerootWorkItemPaths(item WorkItem, root string) WorkItem {
	item.AreaPath = RerootPath(item.AreaPath, root)
	item.IterationPath = RerootPath(item.IterationPath, root)
	return item
}
