package buildinfo

import (
	"runtime"
	"runtime/debug"
)

const modulePath = "github.com/yndnr/bunqsession-go"

// Build-time variables (set via ldflags).
var (
	Version = "dev"
	Commit  = "unknown"
)

// Info contains build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   version(debug.ReadBuildInfo),
		Commit:    Commit,
		GoVersion: runtime.Version(),
	}
}

// UserAgent identifies this library, e.g. "bunqsession-go/v1.2.0". It
// is the default device description.
func UserAgent() string {
	return "bunqsession-go/" + version(debug.ReadBuildInfo)
}

// version prefers the ldflags value, then the module version of this
// library as a dependency of the running binary.
func version(read func() (*debug.BuildInfo, bool)) string {
	if Version != "dev" {
		return Version
	}
	bi, ok := read()
	if !ok {
		return Version
	}
	if bi.Main.Path == modulePath && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	for _, dep := range bi.Deps {
		if dep.Path == modulePath && dep.Version != "" {
			return dep.Version
		}
	}
	return Version
}
