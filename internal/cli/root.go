package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"

	// ConfigPath names a YAML or CUE config file. Empty means defaults plus
	// MEMSTATE_* environment variables.
	ConfigPath string

	// Overrides applied on top of the loaded config when non-empty.
	Backend    string
	Location   string
	Serializer string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the memstate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "memstate",
		Short: "memstate - journal-backed in-memory state",
		Long: `An in-memory state engine whose durability comes from an append-only
command journal. Every state change is journaled before it is acknowledged,
and the state is rebuilt on startup by replaying the journal.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (memory|file|sqlite|badger)")
	cmd.PersistentFlags().StringVar(&opts.Location, "location", "", "journal location, usually a path")
	cmd.PersistentFlags().StringVar(&opts.Serializer, "serializer", "", "command codec (json|cbor)")

	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
