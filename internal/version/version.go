package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const devVersion = "0.1.0-dev"

var (
	AppName = "kbsync"

	// set with -ldflags "-X github.com/openmined/kbsync/internal/version.Version=..."
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// Info is the machine readable build description served by `kbsync version --json` and GET /
type Info struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// fillFromBuild uses module and VCS metadata for whatever ldflags left at its default
func fillFromBuild(mainVersion string, settings map[string]string) {
	if Version == devVersion || Version == "" {
		if mainVersion != "" && mainVersion != "(devel)" {
			Version = strings.TrimPrefix(mainVersion, "v")
		}
	}

	if Revision == "HEAD" || Revision == "" {
		if r := settings["vcs.revision"]; r != "" {
			if len(r) > 12 {
				r = r[:12]
			}
			if settings["vcs.modified"] == "true" {
				r += "-dirty"
			}
			Revision = r
		}
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

// Short returns `0.1.0 (5e23a4)`
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// Detailed returns `0.1.0 (5e23a4; go1.24.1; linux/amd64; 2026-01-02T03:04:05Z)`
func Detailed() string {
	info := Get()
	if info.BuildDate == "" {
		return fmt.Sprintf("%s (%s; %s; %s)", info.Version, info.Revision, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s (%s; %s; %s; %s)", info.Version, info.Revision, info.GoVersion, info.Platform, info.BuildDate)
}

func DetailedWithApp() string {
	return AppName + " " + Detailed()
}

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	fillFromBuild(info.Main.Version, settings)
}
