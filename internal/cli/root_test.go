package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "memstate", cmd.Use)
	assert.Contains(t, cmd.Long, "append-only")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"demo", "replay", "inspect", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	for _, name := range []string{"backend", "location", "serializer"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue, "%s defaults to the config value", name)
	}
}

func TestDemoCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	demoCmd, _, err := cmd.Find([]string{"demo"})
	require.NoError(t, err)

	durationFlag := demoCmd.Flags().Lookup("duration")
	require.NotNil(t, durationFlag)
	assert.Equal(t, "d", durationFlag.Shorthand)
	assert.Equal(t, "10s", durationFlag.DefValue)

	burstFlag := demoCmd.Flags().Lookup("burst")
	require.NotNil(t, burstFlag)
	assert.Equal(t, "100", burstFlag.DefValue)

	require.NotNil(t, demoCmd.Flags().Lookup("metrics-addr"))
}

func TestInspectCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	inspectCmd, _, err := cmd.Find([]string{"inspect"})
	require.NoError(t, err)

	fromFlag := inspectCmd.Flags().Lookup("from")
	require.NotNil(t, fromFlag)
	assert.Equal(t, "1", fromFlag.DefValue)

	limitFlag := inspectCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "n", limitFlag.Shorthand)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.True(t, isValidFormat("yaml"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestFlagOverridesAreValidated(t *testing.T) {
	_, err := execute(t, "--backend", "tape", "--location", "x", "inspect")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "backend")
}
