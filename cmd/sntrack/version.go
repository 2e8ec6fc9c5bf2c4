package main

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/joshuapare/safetynet/internal/config"
)

// version is stamped with -ldflags "-X main.version=..." on release builds.
var version = ""

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Built     string `json:"built"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Provider  string `json:"default_provider"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion() error {
	info := buildInfo(debug.ReadBuildInfo)
	if jsonOut {
		return printJSON(info)
	}
	printInfo("sntrack %s\n", info.Version)
	printInfo("  commit:   %s\n", info.Commit)
	printInfo("  built:    %s\n", info.Built)
	printInfo("  go:       %s %s\n", info.GoVersion, info.Platform)
	printInfo("  provider: %s\n", info.Provider)
	return nil
}

// buildInfo merges the ldflags version with the module and VCS data the
// toolchain embeds.
func buildInfo(read func() (*debug.BuildInfo, bool)) VersionInfo {
	info := VersionInfo{
		Version:   "dev",
		Commit:    "none",
		Built:     "unknown",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Provider:  config.Default().Provider,
	}
	if bi, ok := read(); ok {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			info.Version = v
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				info.Built = s.Value
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	if version != "" {
		info.Version = version
	}
	return info
}
