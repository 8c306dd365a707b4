package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/memstate/internal/command"
	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/model/kv"
	"github.com/roach88/memstate/internal/testutil"
)

// seedJournal writes sets Set commands and then queries journaled Get
// commands to a file journal under t.TempDir and returns its path. Record
// timestamps step by one second from testutil.Epoch and IDs run cmd-1,
// cmd-2, ...
func seedJournal(t *testing.T, sets, queries int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memstate.journal")

	cfg := config.Default()
	cfg.Location = path
	cfg.JournalQueries = queries > 0

	ec, err := engineConfig(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ec.Clock = testutil.NewStepClock(time.Second).Now

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, err := engine.Start(ctx, ec)
	require.NoError(t, err)

	ids := command.NewSequenceGenerator("cmd")
	for i := 0; i < sets; i++ {
		_, err := e.Execute(ctx, kvSet{Base: command.Base{ID: ids.Generate()}, Key: fmt.Sprintf("key-%d", i%3), Value: i})
		require.NoError(t, err)
	}
	for i := 0; i < queries; i++ {
		_, err := e.Execute(ctx, kv.Get{Base: command.Base{ID: ids.Generate()}, Key: "key-0"})
		require.NoError(t, err)
	}
	require.NoError(t, e.Dispose(ctx))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
