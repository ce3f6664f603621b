package scanner

import "strings"

type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
)

type Source string

const (
	SourceSweep Source = "sweep"
	SourceWatch Source = "watch"
)

// Change is one file-level event in the watch directory.
type Change struct {
	Path   string
	Kind   Kind
	Source Source
}

// isTempName reports names left behind by copy tools while a transfer is still running.
func isTempName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return true
	}
	if strings.HasPrefix(n, ".") {
		// dotfiles, plus rsync's ".file.mkv.XXXXXX"
		return true
	}
	return strings.HasSuffix(n, ".part") || strings.HasSuffix(n, ".partial") ||
		strings.HasSuffix(n, ".tmp") || strings.HasSuffix(n, ".!qb") || strings.HasSuffix(n, ".crdownload")
}
