// Package version carries the conduit build stamp.
package version

import "fmt"

// Set via -ldflags "-X github.com/GoCodeAlone/conduit/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns the full build stamp, e.g. "v1.2.0 (commit abc123, built 2026-01-02)".
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}

// UserAgent identifies conduit in outgoing HTTP requests.
func UserAgent() string {
	return "conduit/" + Version
}
