package version

import "fmt"

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/newtron-network/tsa/pkg/version.Version=v1.0.0 \
//	  -X github.com/newtron-network/tsa/pkg/version.GitCommit=abc1234 \
//	  -X github.com/newtron-network/tsa/pkg/version.BuildDate=2026-01-01"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a single-line human-readable version string for the
// "tsa version" subcommand's output.
func Info() string {
	return fmt.Sprintf("tsa %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
