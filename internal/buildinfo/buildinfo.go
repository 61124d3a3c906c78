// Package buildinfo carries version metadata injected at link time with
// -ldflags "-X github.com/modoterra/droidwatch/internal/buildinfo.Version=...".
package buildinfo

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
