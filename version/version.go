// Package version carries the build identity served by /version.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set at build time via -ldflags "-X wellpipe/version.Build=... ".
// Binaries built without ldflags fall back to the embedded vcs info.
var (
	Build  = "dev"
	GitSHA = ""
)

const service = "wellpipe"

// Info is the /version response payload.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get resolves the running binary's build identity.
func Get() Info {
	info := Info{
		Service:   service,
		Version:   Build,
		GitSHA:    GitSHA,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitSHA == "" {
					info.GitSHA = s.Value
				}
			case "vcs.time":
				info.BuildTime = s.Value
			}
		}
	}
	return info
}
