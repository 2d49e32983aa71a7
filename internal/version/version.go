// Package version holds build metadata injected via ldflags.
package version

import "fmt"

// Name is reported by /info and the CLI.
const Name = "ragbot"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String formats the build metadata for `ragbot version`.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, Commit, Date)
}
