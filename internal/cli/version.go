package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/serializer"
	"github.com/roach88/memstate/internal/storage"
)

// Version is stamped at build time with -ldflags "-X .../cli.Version=...".
var Version = "dev"

// VersionInfo describes the binary.
type VersionInfo struct {
	Version       string   `json:"version" yaml:"version"`
	Revision      string   `json:"revision,omitempty" yaml:"revision,omitempty"`
	GoVersion     string   `json:"go_version" yaml:"go_version"`
	RecordVersion int      `json:"record_version" yaml:"record_version"`
	Backends      []string `json:"backends" yaml:"backends"`
	Serializers   []string `json:"serializers" yaml:"serializers"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version information",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo()
			f := newFormatter(rootOpts, cmd)
			if f.Structured() {
				return f.Success(info)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "memstate %s", info.Version)
			if info.Revision != "" {
				fmt.Fprintf(w, " (%s)", info.Revision)
			}
			fmt.Fprintf(w, " %s\n", info.GoVersion)
			fmt.Fprintf(w, "record format: v%d\n", info.RecordVersion)
			fmt.Fprintf(w, "backends: %v\n", info.Backends)
			fmt.Fprintf(w, "serializers: %v\n", info.Serializers)
			return nil
		},
	}
}

func versionInfo() VersionInfo {
	info := VersionInfo{
		Version:       Version,
		GoVersion:     runtime.Version(),
		RecordVersion: journal.RecordVersion,
		Backends:      storage.Backends(),
		Serializers:   serializer.Names(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}
	return info
}
