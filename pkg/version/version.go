// Package version exposes build metadata.
package version

import "fmt"

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/quartzshell/netmirror/pkg/version.Version=v1.0.0 \
//	  -X github.com/quartzshell/netmirror/pkg/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a human-readable version line.
func Info() string {
	return fmt.Sprintf("netmirror %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
