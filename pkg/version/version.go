package version

import (
	"fmt"

	"github.com/sameehj/fence/pkg/lang"
)

var (
	// Version is the semantic version or git describe result.
	Version = "dev"
	// GitCommit is the short git commit hash for this build.
	GitCommit = "unknown"
	// BuildDate is the RFC3339 timestamp when the binary was built.
	BuildDate = "unknown"
)

// String returns a human readable version summary including the language
// version the bundled engine accepts.
func String() string {
	return fmt.Sprintf("%s (lang %s, commit %s, built %s)", Version, lang.Version, GitCommit, BuildDate)
}
