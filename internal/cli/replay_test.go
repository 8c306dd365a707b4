package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestReplayMissingJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.journal")
	_, err := execute(t, "--location", path, "replay")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "journal not found")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "replay must not create the journal")
}

func TestReplayEmptyJournal(t *testing.T) {
	path := seedJournal(t, 0, 0)

	out, err := execute(t, "--location", path, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "Journal is empty.")
}

func TestReplayText(t *testing.T) {
	path := seedJournal(t, 5, 1)

	out, err := execute(t, "--location", path, "replay", "--state", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "6 record(s), last seq 6")
	assert.Contains(t, out, "Mutations: 5")
	assert.Contains(t, out, "Queries: 1")
	assert.Contains(t, out, "Keys: 3")
	assert.Contains(t, out, "key-0 = 3 (v2)")
	assert.Contains(t, out, "key-2 = 2 (v1)")
	assert.Contains(t, out, "✓ Replay verified deterministic")
}

func TestReplayJSON(t *testing.T) {
	path := seedJournal(t, 5, 0)

	out, err := execute(t, "--location", path, "--format", "json", "replay")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ReplayResult{
		Records:       5,
		Mutations:     5,
		LastSeq:       5,
		Keys:          3,
		Deterministic: true,
	}, resp.Data)
}

func TestReplayYAMLWithState(t *testing.T) {
	path := seedJournal(t, 2, 0)

	out, err := execute(t, "--location", path, "--format", "yaml", "replay", "--state")
	require.NoError(t, err)

	var resp struct {
		Status string       `yaml:"status"`
		Data   ReplayResult `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]kvNode{
		"key-0": {Value: 0, Version: 1},
		"key-1": {Value: 1, Version: 1},
	}, resp.Data.State)
}

func TestReplayCorruptJournal(t *testing.T) {
	path := seedJournal(t, 3, 0)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = execute(t, "--location", path, "replay")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "corrupt")
}

func TestReplayWrongSerializer(t *testing.T) {
	path := seedJournal(t, 1, 0)

	_, err := execute(t, "--location", path, "--serializer", "cbor", "replay")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
