// Package version carries build information stamped in via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/eve-market/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/eve-market/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/eve-market/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/ingestd
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build information reported by /health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Go        string `json:"go"`
}

// Get returns the current build information.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime, Go: runtime.Version()}
}

// String returns a one-line summary for startup logs.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
