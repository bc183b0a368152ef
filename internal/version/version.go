package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build stamp for --version output and the debug routes.
func String() string {
	return fmt.Sprintf("lasercut %s (%s, built %s)", Version, GitSHA, BuildTime)
}
