// Package version exposes build-time version information, set via ldflags.
package version

import "fmt"

var (
	// Version is the release version
	Version = "dev"
	// Commit is the git commit the binary was built from
	Commit = "none"
	// Date is the build date
	Date = "unknown"
)

// Info returns a single-line version description.
func Info() string {
	return fmt.Sprintf("modelrelay %s (commit %s, built %s)", Version, Commit, Date)
}
