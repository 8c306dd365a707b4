package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	From  uint64
	Limit int
}

// InspectEntry is one journal record as listed by inspect.
type InspectEntry struct {
	Seq  uint64 `json:"seq" yaml:"seq"`
	Time string `json:"time" yaml:"time"`
	Kind string `json:"kind" yaml:"kind"`
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// InspectResult holds the listed records.
type InspectResult struct {
	Records []InspectEntry `json:"records" yaml:"records"`
	LastSeq uint64         `json:"last_seq" yaml:"last_seq"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List journal records",
		Long: `List the records in the journal: sequence number, timestamp, command
kind, registered type name and command ID.

Examples:
  memstate inspect --location ./memstate.journal
  memstate inspect --location ./memstate.journal --from 100 --limit 20
  memstate inspect --backend badger --location ./data --format yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.From, "from", 1, "first sequence number to list")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum records to list (0 = all)")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	if opts.From == 0 {
		return NewExitError(ExitCommandError, "--from must be at least 1")
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	ctx := commandContext(cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	j, reg, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal(j, logger)

	result := InspectResult{Records: []InspectEntry{}, LastSeq: j.LastSeq()}
	for rec, err := range j.ReadFrom(ctx, opts.From) {
		if err != nil {
			return replayExit("failed to read journal", err)
		}
		name, err := reg.NameOf(rec.Command)
		if err != nil {
			name = fmt.Sprintf("%T", rec.Command)
		}
		result.Records = append(result.Records, InspectEntry{
			Seq:  rec.Seq,
			Time: rec.Timestamp.Format(time.RFC3339Nano),
			Kind: rec.Command.Kind().String(),
			Type: name,
			ID:   rec.Command.CommandID(),
		})
		if opts.Limit > 0 && len(result.Records) == opts.Limit {
			break
		}
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.Structured() {
		return f.Success(result)
	}
	return outputInspectText(cmd, result)
}

func outputInspectText(cmd *cobra.Command, result InspectResult) error {
	w := cmd.OutOrStdout()
	if len(result.Records) == 0 {
		fmt.Fprintf(w, "No records (journal ends at seq %d).\n", result.LastSeq)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tTYPE\tID")
	for _, r := range result.Records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.Time, r.Kind, r.Type, r.ID)
	}
	return tw.Flush()
}
