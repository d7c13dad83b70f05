package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/willibrandon/calltrace/pkg/trace"
)

// Set with -ldflags "-X github.com/willibrandon/calltrace/pkg/version.Version=...".
// Unset values fall back to the module and VCS data embedded by the go tool.
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

// Info describes the running binary
type Info struct {
	Version     string
	Commit      string
	BuildTime   string
	TraceFormat int
	GoVersion   string
	Platform    string
}

// Get resolves build information
func Get() Info {
	return resolve(Version, Commit, BuildTime, readBuildInfo)
}

func readBuildInfo() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

func resolve(ver, commit, built string, read func() (*debug.BuildInfo, bool)) Info {
	info := Info{
		Version:     ver,
		Commit:      commit,
		BuildTime:   built,
		TraceFormat: trace.Version,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := read(); ok {
		dirty := false
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = strings.TrimPrefix(bi.Main.Version, "v")
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
		if dirty && commit == "" && info.Commit != "" {
			if len(info.Commit) > 12 {
				info.Commit = info.Commit[:12]
			}
			info.Commit += "-dirty"
		}
		if bi.GoVersion != "" {
			info.GoVersion = bi.GoVersion
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	if len(info.Commit) > 12 && !strings.HasSuffix(info.Commit, "-dirty") {
		info.Commit = info.Commit[:12]
	}
	return info
}

// String formats the info on one line
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "calltrace v%s (trace format %d", i.Version, i.TraceFormat)
	if i.Commit != "" {
		fmt.Fprintf(&b, ", commit %s", i.Commit)
	}
	fmt.Fprintf(&b, ", built: %s, %s, %s)", i.BuildTime, i.GoVersion, i.Platform)
	return b.String()
}

// GetVersionInfo returns a formatted string with version information
func GetVersionInfo() string {
	return Get().String()
}

// GetVersion returns just the version number
func GetVersion() string {
	return Get().Version
}
