package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/model/kv"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Duration     time.Duration
	Burst        int
	PollInterval time.Duration
	MetricsAddr  string

	// IDs overrides the command ID generator (for testing).
	// If nil, defaults to command.UUIDv7Generator.
	IDs command.IDGenerator
}

// DemoResult summarizes a demo run.
type DemoResult struct {
	Commands     int64   `json:"commands" yaml:"commands"`
	Records      uint64  `json:"records" yaml:"records"`
	LastSeq      uint64  `json:"last_seq" yaml:"last_seq"`
	ElapsedMS    int64   `json:"elapsed_ms" yaml:"elapsed_ms"`
	RecordsPerMS float64 `json:"records_per_ms" yaml:"records_per_ms"`
	Key0Version  uint64  `json:"key0_version" yaml:"key0_version"`

	// Startup replay of the existing journal.
	LoadMS           int64   `json:"load_ms" yaml:"load_ms"`
	LoadRecords      uint64  `json:"load_records" yaml:"load_records"`
	LoadRecordsPerMS float64 `json:"load_records_per_ms" yaml:"load_records_per_ms"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a Set/Get load demo against the engine",
		Long: `Start the engine over the configured journal and drive it with load.

A producer submits bursts of Set("key-i", i) for i in [0, burst) and waits
for each burst to be acknowledged. A consumer polls Get("key-0") and prints
every version change it observes. The run stops after --duration or on
SIGINT/SIGTERM, disposes the engine and reports journal throughput.

Examples:
  memstate demo --duration 10s
  memstate demo --backend sqlite --location ./journal.db --burst 500
  memstate demo --metrics-addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 10*time.Second, "how long to run (0 = until interrupted)")
	cmd.Flags().IntVar(&opts.Burst, "burst", 100, "commands per producer burst")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll", 50*time.Millisecond, "consumer poll interval")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	if opts.Burst <= 0 {
		return NewExitError(ExitCommandError, "--burst must be positive")
	}
	if opts.PollInterval <= 0 {
		return NewExitError(ExitCommandError, "--poll must be positive")
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	ids := opts.IDs
	if ids == nil {
		ids = command.UUIDv7Generator{}
	}

	parent := commandContext(cmd)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if opts.MetricsAddr != "" {
		_, shutdown, err := serveMetrics(opts.MetricsAddr, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer shutdown()
	}

	logger.Info("engine starting", "backend", cfg.Backend, "location", cfg.Location, "durability", cfg.Durability)
	ec, err := engineConfig(cfg, logger)
	if err != nil {
		return err
	}
	loadStart := time.Now()
	e, err := engine.Start(parent, ec)
	if err != nil {
		return engineExit("failed to start engine", err)
	}
	loadElapsed := time.Since(loadStart)
	startSeq := e.LastRecordNumber()
	loadRate := perMS(startSeq, loadElapsed)
	logger.Info("engine loaded", "records", startSeq, "elapsed", loadElapsed)

	f := newFormatter(opts.RootOptions, cmd)
	if !f.Structured() {
		fmt.Fprintf(cmd.OutOrStdout(), "Engine load: %dms, %d records (%.2f records/ms)\n",
			loadElapsed.Milliseconds(), startSeq, loadRate)
		fmt.Fprintf(cmd.OutOrStdout(), "Engine started at seq %d. Press Ctrl-C to stop.\n", startSeq)
	}

	var submitted atomic.Int64
	var key0 atomic.Uint64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return produce(gctx, e, ids, opts.Burst, &submitted)
	})
	g.Go(func() error {
		return consume(gctx, e, ids, opts.PollInterval, &key0, func(v uint64) {
			if !f.Structured() {
				fmt.Fprintf(cmd.OutOrStdout(), "key-0 version %d\n", v)
			}
		})
	})
	runErr := g.Wait()
	elapsed := time.Since(start)

	disposeCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer cancel()
	if err := e.Dispose(disposeCtx); err != nil {
		logger.Error("dispose failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return engineExit("demo failed", runErr)
	}

	last := e.LastRecordNumber()
	result := DemoResult{
		Commands:    submitted.Load(),
		Records:     last - startSeq,
		LastSeq:     last,
		ElapsedMS:   elapsed.Milliseconds(),
		Key0Version: key0.Load(),

		LoadMS:           loadElapsed.Milliseconds(),
		LoadRecords:      startSeq,
		LoadRecordsPerMS: loadRate,
	}
	result.RecordsPerMS = perMS(result.Records, elapsed)

	logger.Info("engine stopped gracefully", "records", result.Records, "last_seq", last)

	if f.Structured() {
		return f.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records in %dms (%.2f records/ms), last seq %d\n",
		result.Records, result.ElapsedMS, result.RecordsPerMS, result.LastSeq)
	return nil
}

// perMS is records per millisecond, 0 when no time elapsed.
func perMS(records uint64, d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return float64(records) / ms
}

// produce submits bursts of Set("key-i", i) until ctx ends. Each burst is
// awaited before the next so the writer sees full batches.
func produce(ctx context.Context, e *engine.Engine, ids command.IDGenerator, burst int, submitted *atomic.Int64) error {
	pending := make([]*engine.Pending, 0, burst)
	for ctx.Err() == nil {
		pending = pending[:0]
		for i := 0; i < burst; i++ {
			p, err := e.Submit(kvSet{Base: command.Base{ID: ids.Generate()}, Key: fmt.Sprintf("key-%d", i), Value: i})
			if err != nil {
				return err
			}
			pending = append(pending, p)
		}
		for _, p := range pending {
			if _, err := p.Wait(ctx); err != nil {
				if stopping(ctx, err) {
					return nil
				}
				return err
			}
			submitted.Add(1)
		}
	}
	return nil
}

// consume polls Get("key-0") and calls onChange with every new version.
func consume(ctx context.Context, e *engine.Engine, ids command.IDGenerator, interval time.Duration, version *atomic.Uint64, onChange func(uint64)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := engine.ExecuteAs[kvNode](ctx, e, kv.Get{Base: command.Base{ID: ids.Generate()}, Key: "key-0"})
		if err != nil {
			if stopping(ctx, err) {
				return nil
			}
			return err
		}
		if n.Version != version.Load() {
			version.Store(n.Version)
			onChange(n.Version)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// stopping reports whether err is only the demo shutting down.
func stopping(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// serveMetrics exposes the default Prometheus registry on addr/metrics and
// returns the bound address.
func serveMetrics(addr string, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
