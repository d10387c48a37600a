// Package version reports the kernelx build version.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"

	"pkt.systems/kernelx/schema"
)

const (
	defaultModule  = "pkt.systems/kernelx"
	unknownVersion = "v0.0.0-unknown"
)

// buildVersion is set via -ldflags "-X pkt.systems/kernelx/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Version         string `json:"version" yaml:"version"`
	Module          string `json:"module" yaml:"module"`
	Revision        string `json:"revision,omitempty" yaml:"revision,omitempty"`
	Modified        bool   `json:"modified,omitempty" yaml:"modified,omitempty"`
	GoVersion       string `json:"go_version" yaml:"go_version"`
	ProtocolVersion string `json:"protocol_version" yaml:"protocol_version"`
}

// Current returns the release version, or v0.0.0-unknown for local builds.
func Current() string {
	return Describe().Version
}

// Module returns the module path from build info when available.
func Module() string {
	return Describe().Module
}

// Describe returns the build description printed by the version command.
func Describe() Info {
	info, _ := debug.ReadBuildInfo()
	return describe(info, buildVersion)
}

func describe(build *debug.BuildInfo, override string) Info {
	out := Info{
		Version:         unknownVersion,
		Module:          defaultModule,
		GoVersion:       runtime.Version(),
		ProtocolVersion: schema.ProtocolVersion,
	}
	if build != nil {
		if path := strings.TrimSpace(build.Main.Path); path != "" {
			out.Module = path
		}
		if v := strings.TrimSpace(build.Main.Version); v != "" && v != "(devel)" {
			out.Version = v
		}
		for _, setting := range build.Settings {
			switch setting.Key {
			case "vcs.revision":
				out.Revision = setting.Value
			case "vcs.modified":
				out.Modified = setting.Value == "true"
			}
		}
	}
	if v := strings.TrimSpace(override); v != "" {
		out.Version = v
	}
	return out
}
