package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/serializer"
	"github.com/roach88/memstate/internal/storage"
)

// Model is the application state the engine owns. Apply must be
// deterministic: the same command sequence applied to a fresh model always
// yields the same state and results.
//
// A mutating command whose rejection depends on state reports that in its
// result value. An error from Apply on a mutating command means the model is
// broken; during replay it is fatal.
type Model interface {
	Apply(cmd command.Command) (any, error)
}

// Durability selects when mutating commands touch the model.
type Durability string

const (
	// DurabilityStrict applies a mutation only after its batch is durable.
	// Queries wait behind earlier unresolved mutations.
	DurabilityStrict Durability = "strict"

	// DurabilityRelaxed applies a mutation at admission and holds its result
	// until durable. Queries read immediately and may observe state whose
	// batch later fails; the model is then rebuilt from the journal. Set
	// Config.QueryIsolation to hold query results until earlier mutations
	// are durable.
	DurabilityRelaxed Durability = "relaxed"
)

// DefaultDedupWindow is the number of completed command IDs remembered.
const DefaultDedupWindow = 1024

// Config configures Start.
type Config struct {
	// Provider opens the journal log. Required.
	Provider storage.Provider

	// Backend labels the provider in logs.
	Backend string

	// Location is passed to the provider (a path for file backends).
	Location string

	// Serializer names the command codec ("json" or "cbor").
	Serializer string

	// Registry maps command type names to Go types. Required.
	Registry *command.Registry

	// NewModel constructs a fresh model. Required.
	NewModel func() Model

	MaxBatchSize int
	MaxBatchWait time.Duration

	Durability Durability

	// JournalQueries journals queries like mutations.
	JournalQueries bool

	// QueryIsolation makes relaxed-mode queries read at admission but
	// release their result only after every earlier mutation is durable. If
	// an earlier batch fails, the query is re-read against the rebuilt model.
	// Strict mode always behaves this way.
	QueryIsolation bool

	// DedupWindow bounds the completed-ID cache. 0 disables de-duplication.
	DedupWindow int

	// QueueCapacity pre-sizes the admission queue.
	QueueCapacity int

	Logger *slog.Logger

	// Clock stamps journal records. Default: time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a strict in-memory configuration. Registry and
// NewModel still have to be set.
func DefaultConfig() Config {
	return Config{
		Backend:      "memory",
		Location:     "default",
		Serializer:   serializer.Default,
		MaxBatchSize: journal.DefaultMaxBatchSize,
		MaxBatchWait: journal.DefaultMaxBatchWait,
		Durability:   DurabilityStrict,
		DedupWindow:  DefaultDedupWindow,
	}
}

func (c Config) withDefaults() Config {
	if c.Serializer == "" {
		c.Serializer = serializer.Default
	}
	if c.Durability == "" {
		c.Durability = DurabilityStrict
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = journal.DefaultMaxBatchSize
	}
	if c.MaxBatchWait == 0 {
		c.MaxBatchWait = journal.DefaultMaxBatchWait
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.Registry == nil {
		errs = append(errs, errors.New("registry is required"))
	}
	if c.NewModel == nil {
		errs = append(errs, errors.New("model factory is required"))
	}
	if c.Provider == nil {
		errs = append(errs, errors.New("storage provider is required"))
	}
	if c.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize))
	}
	if c.MaxBatchWait < 0 {
		errs = append(errs, fmt.Errorf("max batch wait must be positive, got %s", c.MaxBatchWait))
	}
	if c.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("dedup window must be >= 0, got %d", c.DedupWindow))
	}
	switch c.Durability {
	case DurabilityStrict, DurabilityRelaxed:
	default:
		errs = append(errs, fmt.Errorf("unknown durability mode %q", c.Durability))
	}
	return errors.Join(errs...)
}
