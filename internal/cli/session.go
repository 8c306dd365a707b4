package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/model/kv"
	"github.com/roach88/memstate/internal/serializer"
	"github.com/roach88/memstate/internal/storage"
	_ "github.com/roach88/memstate/internal/storage/all"
	"github.com/roach88/memstate/internal/storage/badger"
	"github.com/roach88/memstate/internal/storage/file"
)

// The CLI works on a kv model with int values: the demo writes Set("key-i", i).
type (
	kvStore = kv.Store[int]
	kvNode  = kv.Node[int]
	kvSet   = kv.Set[int]
)

func newKVStore() *kvStore { return kv.New[int]() }

// newRegistry returns the command registry shared by every subcommand.
func newRegistry() *command.Registry {
	reg := command.NewRegistry()
	if err := kv.Register[int](reg); err != nil {
		panic(err)
	}
	return reg
}

// newLogger builds the slog logger for a command. Debug when --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads --config (or defaults and environment) and applies the
// --backend, --location and --serializer overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Location != "" {
		cfg.Location = opts.Location
	}
	if opts.Serializer != "" {
		cfg.Serializer = opts.Serializer
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid flags", err)
	}
	return cfg, nil
}

// newProvider resolves a backend name. Backends that log get logger; the
// rest come from the storage registry.
func newProvider(backend string, logger *slog.Logger) (storage.Provider, error) {
	switch backend {
	case file.Backend:
		return &file.Provider{Logger: logger}, nil
	case badger.Backend:
		return badger.NewProvider(logger.With("backend", badger.Backend)), nil
	default:
		p, err := storage.Lookup(backend)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid backend", err)
		}
		return p, nil
	}
}

// engineConfig turns cfg into a ready engine.Config over the kv model.
func engineConfig(cfg config.Config, logger *slog.Logger) (engine.Config, error) {
	provider, err := newProvider(cfg.Backend, logger)
	if err != nil {
		return engine.Config{}, err
	}
	ec := cfg.EngineOptions()
	ec.Provider = provider
	ec.Registry = newRegistry()
	ec.NewModel = func() engine.Model { return newKVStore() }
	ec.Logger = logger
	return ec, nil
}

// openJournal opens an existing journal for reading. Backends that live on
// disk must already exist: inspecting a path that is not there would
// otherwise create an empty journal.
func openJournal(ctx context.Context, cfg config.Config, logger *slog.Logger) (*journal.Journal, *command.Registry, error) {
	switch cfg.Backend {
	case "file", "sqlite", "badger":
		if _, err := os.Stat(cfg.Location); err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "journal not found", err)
		}
	}

	reg := newRegistry()
	ser, err := serializer.New(cfg.Serializer, reg)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid serializer", err)
	}

	provider, err := newProvider(cfg.Backend, logger)
	if err != nil {
		return nil, nil, err
	}
	log, err := provider.OpenOrCreate(ctx, cfg.Location)
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			return nil, nil, WrapExitError(ExitFailure, "journal is corrupt", err)
		}
		return nil, nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}

	j, err := journal.Open(ctx, log, ser, journal.WithLogger(logger))
	if err != nil {
		_ = log.Close()
		return nil, nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, reg, nil
}

// engineExit maps an engine error to an exit code.
func engineExit(message string, err error) error {
	switch engine.CodeOf(err) {
	case engine.ErrCodeCorruptJournal, engine.ErrCodeReplay:
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// closeJournal logs instead of failing: by the time it runs the command
// has produced its output.
func closeJournal(j *journal.Journal, logger *slog.Logger) {
	if err := j.Close(); err != nil {
		logger.Error("error closing journal", "error", err)
	}
}
