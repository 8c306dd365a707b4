package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	ShowState bool
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Records       int               `json:"records" yaml:"records"`
	Mutations     int               `json:"mutations" yaml:"mutations"`
	Queries       int               `json:"queries" yaml:"queries"`
	LastSeq       uint64            `json:"last_seq" yaml:"last_seq"`
	Keys          int               `json:"keys" yaml:"keys"`
	Deterministic bool              `json:"deterministic" yaml:"deterministic"`
	State         map[string]kvNode `json:"state,omitempty" yaml:"state,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify determinism",
		Long: `Replay the journal into a fresh model and report statistics.

The journal is replayed twice into two fresh models and the resulting
states are compared. Both replays must produce identical state.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed or the journal is corrupt
  2 - Command error (journal not found, bad config, etc.)

Examples:
  memstate replay --location ./memstate.journal
  memstate replay --backend sqlite --location ./journal.db --format json
  memstate replay -c memstate.cue --state`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowState, "state", false, "include the rebuilt state in the output")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	j, _, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal(j, logger)

	first, stats, err := replayJournal(ctx, j)
	if err != nil {
		return replayExit("first replay failed", err)
	}
	second, _, err := replayJournal(ctx, j)
	if err != nil {
		return replayExit("second replay failed", err)
	}

	result := stats
	result.Deterministic = reflect.DeepEqual(first.Snapshot(), second.Snapshot())
	result.Keys = len(first.Snapshot())
	if opts.ShowState {
		result.State = first.Snapshot()
	}

	logger.Debug("replay finished",
		"records", result.Records,
		"last_seq", result.LastSeq,
		"deterministic", result.Deterministic)

	f := newFormatter(opts.RootOptions, cmd)
	if f.Structured() {
		return outputReplayStructured(f, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayJournal applies every mutation in j to a fresh model.
func replayJournal(ctx context.Context, j *journal.Journal) (*kvStore, ReplayResult, error) {
	model := newKVStore()
	var res ReplayResult
	for rec, err := range j.ReadFrom(ctx, 1) {
		if err != nil {
			return nil, res, err
		}
		res.Records++
		res.LastSeq = rec.Seq
		if rec.Command.Kind() != command.Mutating {
			res.Queries++
			continue
		}
		res.Mutations++
		if _, err := engine.Replay(model, rec); err != nil {
			return nil, res, err
		}
	}
	if want := j.LastSeq(); res.LastSeq != want {
		return nil, res, fmt.Errorf("%w: log holds %d records but only %d could be read", journal.ErrCorrupt, want, res.LastSeq)
	}
	return model, res, nil
}

func replayExit(message string, err error) error {
	if errors.Is(err, journal.ErrCorrupt) {
		return WrapExitError(ExitFailure, "journal is corrupt", err)
	}
	return WrapExitError(ExitFailure, message, err)
}

// outputReplayStructured outputs the replay result as JSON or YAML.
func outputReplayStructured(f *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	if err := f.Respond(response); err != nil {
		return err
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.Records == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d record(s), last seq %d\n", result.Records, result.LastSeq)
	if verbose {
		fmt.Fprintf(w, "  Mutations: %d\n", result.Mutations)
		fmt.Fprintf(w, "  Queries: %d\n", result.Queries)
	}
	fmt.Fprintf(w, "  Keys: %d\n", result.Keys)

	if result.State != nil {
		for _, k := range slices.Sorted(maps.Keys(result.State)) {
			n := result.State[k]
			fmt.Fprintf(w, "  %s = %d (v%d)\n", k, n.Value, n.Version)
		}
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
