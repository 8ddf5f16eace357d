package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommandAndCaptureOutput runs the root command with args.
func executeCommandAndCaptureOutput(t *testing.T, cmd *cobra.Command, args []string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetArgs(nil)
	})

	err := cmd.Execute()
	return strings.TrimSpace(buf.String()), err
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "qrcascade", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Same(t, rootCmd, GetRootCommand())
}

func TestRootCommandHelp(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--help"})
	require.NoError(t, err)

	assert.Contains(t, output, "cost-ordered cascade")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--version"})
	require.NoError(t, err)
	assert.Contains(t, output, "qrcascade version ")
	require.NoError(t, rootCmd.PersistentFlags().Set("version", "false"))
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"detect", "serve", "inference", "models", "config"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--invalid-flag"})
	require.Error(t, err)
	assert.Contains(t, output, "unknown flag")
}

func TestRootCommandPipelineFlags(t *testing.T) {
	pf := rootCmd.PersistentFlags()
	for _, name := range []string{
		"config", "verbose", "log-level", "models-dir",
		"native", "decoders", "ml", "variants", "min-confidence",
		"fallback", "fallback-url", "fallback-timeout",
		"cache", "cache-backend", "redis-addr", "max-workers",
		"gpu", "gpu-device", "gpu-mem-limit",
	} {
		assert.NotNil(t, pf.Lookup(name), "missing persistent flag %q", name)
	}
}

func TestGetConfig_Defaults(t *testing.T) {
	cfg := GetConfig()
	require.NotNil(t, cfg)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Native.Enabled)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8008, cfg.Inference.Port)
}
