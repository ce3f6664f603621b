// Package version is stamped at build time:
//
//	go build -ldflags "-X github.com/gaby/plexscanner/internal/version.Version=v1.2.0 -X github.com/gaby/plexscanner/internal/version.Commit=abc123"
package version

var (
	Version = "dev"
	Commit  = "none"
)
