// Package buildinfo reports the version of the running binary. Release
// builds stamp the variables below with -ldflags; other builds fall back
// to the VCS metadata the Go toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set at build time via -ldflags "-X .../buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var resolveOnce sync.Once

// resolve fills commit and build time from debug.ReadBuildInfo when
// ldflags left them unset.
func resolve() {
	resolveOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			Version = bi.Main.Version
		}
		var modified bool
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if GitCommit == "unknown" && s.Value != "" {
					GitCommit = shortCommit(s.Value)
				}
			case "vcs.time":
				if BuildTime == "unknown" && s.Value != "" {
					BuildTime = s.Value
				}
			case "vcs.modified":
				modified = s.Value == "true"
			}
		}
		if modified && GitCommit != "unknown" {
			GitCommit += "-dirty"
		}
	})
}

func shortCommit(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// BuildInfo returns build metadata for the version command.
func BuildInfo() map[string]string {
	resolve()
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// UserAgent is the User-Agent header sent on every outbound request.
func UserAgent() string {
	resolve()
	return fmt.Sprintf("AutoProfiler/%s (+%s)", Version, runtime.GOOS)
}

// String returns a one-line summary for logging.
func String() string {
	resolve()
	return fmt.Sprintf("AutoProfiler %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
