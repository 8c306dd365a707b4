package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/model/kv"
	"github.com/roach88/memstate/internal/storage/file"
	"github.com/roach88/memstate/internal/storage/memory"
	"github.com/roach88/memstate/internal/testutil"
)

var ids = command.NewSequenceGenerator("cmd")

func set(key string, v int) kv.Set[int] {
	return kv.Set[int]{Base: command.Base{ID: ids.Generate()}, Key: key, Value: v}
}

func get(key string) kv.Get {
	return kv.Get{Base: command.Base{ID: ids.Generate()}, Key: key}
}

func testConfig(t *testing.T, p *memory.Provider) Config {
	t.Helper()
	reg := command.NewRegistry()
	require.NoError(t, kv.Register[int](reg))

	cfg := DefaultConfig()
	cfg.Provider = p
	cfg.Location = "journal"
	cfg.Registry = reg
	cfg.NewModel = func() Model { return kv.New[int]() }
	cfg.MaxBatchWait = time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func startEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Dispose(context.Background()) })
	return e
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// snapshot reads every key through the engine.
func snapshot(t *testing.T, e *Engine) map[string]kv.Node[int] {
	t.Helper()
	ctx := waitCtx(t)
	keys, err := ExecuteAs[[]string](ctx, e, kv.Keys{Base: command.Base{ID: ids.Generate()}})
	require.NoError(t, err)

	out := make(map[string]kv.Node[int], len(keys))
	for _, k := range keys {
		n, err := ExecuteAs[kv.Node[int]](ctx, e, get(k))
		require.NoError(t, err)
		out[k] = n
	}
	return out
}

func TestEngine_ExecuteSetThenGet(t *testing.T) {
	e := startEngine(t, testConfig(t, memory.NewProvider()))
	ctx := waitCtx(t)

	n, err := ExecuteAs[kv.Node[int]](ctx, e, set("a", 1))
	require.NoError(t, err)
	assert.Equal(t, kv.Node[int]{Value: 1, Version: 1}, n)

	n, err = ExecuteAs[kv.Node[int]](ctx, e, get("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n.Value)
	assert.Equal(t, uint64(1), e.LastRecordNumber())

	_, err = ExecuteAs[string](ctx, e, get("a"))
	assert.Error(t, err, "wrong result type")
}

func TestEngine_SetGetScenarioAndReplay(t *testing.T) {
	p := memory.NewProvider()
	cfg := testConfig(t, p)
	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	ctx := waitCtx(t)

	_, err = e.Execute(ctx, set("key-0", 0))
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := e.Execute(ctx, set(fmt.Sprintf("key-%d", i), i))
			return err
		})
		g.Go(func() error {
			n, err := ExecuteAs[kv.Node[int]](ctx, e, get("key-0"))
			if err != nil {
				return err
			}
			if !n.Exists() || n.Value != 0 || n.Version > 2 {
				return fmt.Errorf("get observed %+v", n)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	before := snapshot(t, e)
	assert.Len(t, before, 50)
	last := e.LastRecordNumber()
	assert.Equal(t, uint64(51), last)
	require.NoError(t, e.Dispose(ctx))

	again := startEngine(t, cfg)
	assert.Equal(t, last, again.LastRecordNumber())
	assert.Equal(t, before, snapshot(t, again))
}

func TestEngine_TotalOrder(t *testing.T) {
	e := startEngine(t, testConfig(t, memory.NewProvider()))
	ctx := waitCtx(t)

	const workers, each = 8, 20
	var mu sync.Mutex
	var seqs []uint64

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < each; i++ {
				p, err := e.Submit(set("counter", w*100+i))
				if err != nil {
					return err
				}
				res, err := p.Wait(ctx)
				if err != nil {
					return err
				}
				// Every record sets the same key, so the version is the
				// position in the total order.
				if v := res.(kv.Node[int]).Version; v != p.Seq() {
					return fmt.Errorf("version %d applied at seq %d", v, p.Seq())
				}
				mu.Lock()
				seqs = append(seqs, p.Seq())
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}
}

func TestEngine_BatchSizes(t *testing.T) {
	p := memory.NewProvider()
	log := p.Open("journal")
	cfg := testConfig(t, p)
	cfg.MaxBatchSize = 10
	cfg.MaxBatchWait = time.Hour
	e := startEngine(t, cfg)
	ctx := waitCtx(t)

	pendings := make([]*Pending, 25)
	for i := range pendings {
		var err error
		pendings[i], err = e.Submit(set(fmt.Sprintf("k%d", i), i))
		require.NoError(t, err)
	}

	for _, p := range pendings[:20] {
		_, err := p.Wait(ctx)
		require.NoError(t, err)
	}
	for _, p := range pendings[20:] {
		select {
		case <-p.Done():
			t.Fatal("partial batch resolved before it was appended")
		default:
		}
	}
	assert.Equal(t, []int{10, 10}, log.BatchSizes())

	e.Flush()
	for _, p := range pendings[20:] {
		_, err := p.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{10, 10, 5}, log.BatchSizes())
	assert.Equal(t, uint64(25), pendings[24].Seq())
}

func TestEngine_FailingSecondBatch(t *testing.T) {
	p := memory.NewProvider()
	log := p.Open("journal")
	boom := errors.New("disk full")
	log.FailAppend(2, boom)

	cfg := testConfig(t, p)
	cfg.MaxBatchSize = 10
	cfg.MaxBatchWait = time.Hour
	e := startEngine(t, cfg)
	ctx := waitCtx(t)

	pendings := make([]*Pending, 25)
	for i := range pendings {
		var err error
		pendings[i], err = e.Submit(set(fmt.Sprintf("k%d", i), i))
		require.NoError(t, err)
	}
	e.Flush()

	for i, p := range pendings {
		_, err := p.Wait(ctx)
		switch {
		case i < 10:
			require.NoError(t, err)
			assert.Equal(t, uint64(i+1), p.Seq())
		case i < 20:
			assert.True(t, IsPersistenceError(err), "command %d: %v", i, err)
			assert.ErrorIs(t, err, boom)
		default:
			require.NoError(t, err)
			assert.Equal(t, uint64(i-9), p.Seq())
		}
	}

	state := snapshot(t, e)
	assert.Len(t, state, 15)
	assert.Contains(t, state, "k9")
	assert.NotContains(t, state, "k10")
	assert.NotContains(t, state, "k19")
	assert.Contains(t, state, "k20")
	require.NoError(t, e.Dispose(ctx))

	again := startEngine(t, cfg)
	assert.Equal(t, uint64(15), again.LastRecordNumber())
	assert.Equal(t, state, snapshot(t, again))
}

func TestEngine_StrictQueryWaitsForDurability(t *testing.T) {
	cfg := testConfig(t, memory.NewProvider())
	cfg.MaxBatchWait = time.Hour
	e := startEngine(t, cfg)
	ctx := waitCtx(t)

	sp, err := e.Submit(set("a", 1))
	require.NoError(t, err)
	gp, err := e.Submit(get("a"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	select {
	case <-gp.Done():
		t.Fatal("query ran before the preceding mutation was durable")
	default:
	}

	e.Flush()
	_, err = sp.Wait(ctx)
	require.NoError(t, err)
	res, err := gp.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.(kv.Node[int]).Value)
	assert.Zero(t, gp.Seq(), "queries are not journaled")
}

func TestEngine_RelaxedRollbackOnFailedBatch(t *testing.T) {
	p := memory.NewProvider()
	log := p.Open("journal")
	log.FailAppend(2, errors.New("disk full"))

	cfg := testConfig(t, p)
	cfg.Durability = DurabilityRelaxed
	cfg.MaxBatchSize = 1
	e := startEngine(t, cfg)
	ctx := waitCtx(t)

	_, err := e.Execute(ctx, set("a", 1))
	require.NoError(t, err)

	_, err = e.Execute(ctx, set("b", 2))
	require.True(t, IsPersistenceError(err), "got %v", err)

	n, err := ExecuteAs[kv.Node[int]](ctx, e, get("b"))
	require.NoError(t, err)
	assert.False(t, n.Exists(), "failed mutation must not survive")

	_, err = e.Execute(ctx, set("c", 3))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.LastRecordNumber())

	state := snapshot(t, e)
	assert.Equal(t, map[string]kv.Node[int]{
		"a": {Value: 1, Version: 1},
		"c": {Value: 3, Version: 1},
	}, state)
	require.NoError(t, e.Dispose(ctx))

	again := startEngine(t, cfg)
	assert.Equal(t, state, snapshot(t, again))
}

func TestEngine_Dedup(t *testing.T) {
	p := memory.NewProvider()
	cfg := testConfig(t, p)
	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	ctx := waitCtx(t)

	cmd := set("a", 1)
	first, err := e.Execute(ctx, cmd)
	require.NoError(t, err)
	second, err := e.Execute(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), e.LastRecordNumber(), "duplicate must not be journaled")
	require.NoError(t, e.Dispose(ctx))

	// The window is rebuilt by replay.
	again := startEngine(t, cfg)
	third, err := again.Execute(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, uint64(1), again.LastRecordNumber())
}

func TestEngine_DedupMatchesOnIDOnly(t *testing.T) {
	e := startEngine(t, testConfig(t, memory.NewProvider()))
	ctx := waitCtx(t)
	fixed := testutil.NewFixedIDGenerator("retry-1")

	first, err := ExecuteAs[kv.Node[int]](ctx, e, kv.Set[int]{Base: command.Base{ID: fixed.Generate()}, Key: "a", Value: 1})
	require.NoError(t, err)
	// A retry carrying a different payload is still the same command.
	second, err := ExecuteAs[kv.Node[int]](ctx, e, kv.Set[int]{Base: command.Base{ID: fixed.Generate()}, Key: "a", Value: 2})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]kv.Node[int]{"a": {Value: 1, Version: 1}}, snapshot(t, e))
}

func TestEngine_RecordsStampedByClock(t *testing.T) {
	cfg := testConfig(t, memory.NewProvider())
	clock := testutil.NewStepClock(time.Second)
	cfg.Clock = clock.Now
	e := startEngine(t, cfg)
	ctx := waitCtx(t)

	for i := 0; i < 3; i++ {
		_, err := e.Execute(ctx, set("a", i))
		require.NoError(t, err)
	}

	var stamps []time.Time
	for rec, err := range e.journal.ReadFrom(ctx, 1) {
		require.NoError(t, err)
		stamps = append(stamps, rec.Timestamp)
	}
	assert.Equal(t, []time.Time{
		testutil.Epoch,
		testutil.Epoch.Add(time.Second),
		testutil.Epoch.Add(2 * time.Second),
	}, stamps)
}

func TestEngine_DuplicateInFlight(t *testing.T) {
	cfg := testConfig(t, memory.NewProvider())
	cfg.MaxBatchWait = time.Hour
	e := startEngine(t, cfg)

	cmd := set("a", 1)
	_, err := e.Submit(cmd)
	require.NoError(t, err)
	_, err = e.Submit(cmd)
	assert.True(t, IsDuplicateError(err), "got %v", err)
}

func TestEngine_DedupDisabled(t *testing.T) {
	cfg := testConfig(t, memory.NewProvider())
	cfg.DedupWindow = 0
	e := startEngine(t, cfg)
	ctx := waitCtx(t)

	cmd := set("a", 1)
	_, err := e.Execute(ctx, cmd)
	require.NoError(t, err)
	n, err := ExecuteAs[kv.Node[int]](ctx, e, cmd)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n.Version)
}

func TestEngine_ValidationRejectedBeforeJournal(t *testing.T) {
	p := memory.NewProvider()
	e := startEngine(t, testConfig(t, p))

	_, err := e.Submit(set("", 1))
	assert.True(t, IsDomainError(err), "got %v", err)
	assert.ErrorIs(t, err, kv.ErrEmptyKey)

	_, err = e.Submit(nil)
	assert.True(t, IsDomainError(err))

	_, err = e.Submit(kv.Set[string]{Key: "a", Value: "x"})
	assert.True(t, IsDomainError(err), "unregistered type")

	assert.Zero(t, p.Open("journal").Len())
}

func TestEngine_DisposeTwice(t *testing.T) {
	e, err := Start(context.Background(), testConfig(t, memory.NewProvider()))
	require.NoError(t, err)

	require.NoError(t, e.Dispose(context.Background()))
	err = e.Dispose(context.Background())
	assert.True(t, IsInvalidStateError(err), "got %v", err)

	_, err = e.Submit(set("a", 1))
	assert.True(t, IsInvalidStateError(err), "got %v", err)
}

func TestEngine_DisposeFlushesPartialBatch(t *testing.T) {
	p := memory.NewProvider()
	cfg := testConfig(t, p)
	cfg.MaxBatchWait = time.Hour
	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)

	pendings := make([]*Pending, 3)
	for i := range pendings {
		pendings[i], err = e.Submit(set(fmt.Sprintf("k%d", i), i))
		require.NoError(t, err)
	}
	require.NoError(t, e.Dispose(context.Background()))

	for _, p := range pendings {
		_, err := p.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []int{3}, p.Open("journal").BatchSizes())
}

func TestEngine_WaitTimeoutDoesNotWithdraw(t *testing.T) {
	cfg := testConfig(t, memory.NewProvider())
	cfg.MaxBatchWait = time.Hour
	e := startEngine(t, cfg)

	p, err := e.Submit(set("a", 1))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Wait(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	e.Flush()
	_, err = p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Seq())
}

func TestEngine_JournalQueries(t *testing.T) {
	p := memory.NewProvider()
	cfg := testConfig(t, p)
	cfg.JournalQueries = true
	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	ctx := waitCtx(t)

	_, err = e.Execute(ctx, set("a", 1))
	require.NoError(t, err)
	gp, err := e.Submit(get("a"))
	require.NoError(t, err)
	_, err = gp.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gp.Seq())
	require.NoError(t, e.Dispose(ctx))

	again := startEngine(t, cfg)
	assert.Equal(t, uint64(2), again.LastRecordNumber())
	assert.Equal(t, map[string]kv.Node[int]{"a": {Value: 1, Version: 1}}, snapshot(t, again))
}

func TestEngine_FileBackendSurvivesRestart(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Provider = &file.Provider{Logger: cfg.Logger}
	cfg.Backend = file.Backend
	cfg.Location = filepath.Join(t.TempDir(), "journal.log")
	cfg.Serializer = "cbor"

	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	ctx := waitCtx(t)
	for i := 0; i < 5; i++ {
		_, err := e.Execute(ctx, set("k", i))
		require.NoError(t, err)
	}
	require.NoError(t, e.Dispose(ctx))

	again := startEngine(t, cfg)
	assert.Equal(t, map[string]kv.Node[int]{"k": {Value: 4, Version: 5}}, snapshot(t, again))
}

func TestStart_CorruptJournal(t *testing.T) {
	p := memory.NewProvider()
	cfg := testConfig(t, p)
	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	_, err = e.Execute(waitCtx(t), set("a", 1))
	require.NoError(t, err)
	require.NoError(t, e.Dispose(context.Background()))

	p.Open("journal").Corrupt(0, []byte("not a record"))

	_, err = Start(context.Background(), cfg)
	assert.True(t, IsCorruptJournalError(err), "got %v", err)
}

type failingModel struct{}

func (failingModel) Apply(command.Command) (any, error) {
	return nil, errors.New("model rejects everything")
}

func TestStart_ReplayFailureIsFatal(t *testing.T) {
	p := memory.NewProvider()
	cfg := testConfig(t, p)
	e, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	_, err = e.Execute(waitCtx(t), set("a", 1))
	require.NoError(t, err)
	require.NoError(t, e.Dispose(context.Background()))

	cfg.NewModel = func() Model { return failingModel{} }
	_, err = Start(context.Background(), cfg)
	assert.True(t, IsReplayError(err), "got %v", err)
}

func TestStart_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no registry", func(c *Config) { c.Registry = nil }},
		{"no model", func(c *Config) { c.NewModel = nil }},
		{"bad durability", func(c *Config) { c.Durability = "eventual" }},
		{"negative dedup", func(c *Config) { c.DedupWindow = -1 }},
		{"no provider", func(c *Config) { c.Provider = nil; c.Backend = file.Backend }},
		{"unknown serializer", func(c *Config) { c.Serializer = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, memory.NewProvider())
			tt.mutate(&cfg)
			_, err := Start(context.Background(), cfg)
			assert.True(t, IsInitializationError(err), "got %v", err)
		})
	}
}
