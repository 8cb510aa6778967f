// Package version reports the rkflash build version.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at release time:
//
//	go build -ldflags="-X github.com/muurk/rkflash/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/rkflash/internal/version.Commit=abc1234"
//
// Development builds fall back to the VCS stamp in the build info.
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if rev := settings["vcs.revision"]; Commit == "" && rev != "" {
		Commit = rev[:min(len(rev), 7)]
		if settings["vcs.modified"] == "true" {
			Commit += "-dirty"
		}
	}

	if Version == "" {
		if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
			Version = "dev-" + t.Format("20060102")
		}
	}
}

// Full returns the version with its commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Platform returns the Go runtime and target, e.g. "go1.24.10 linux/amd64"
func Platform() string {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
