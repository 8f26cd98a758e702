package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/config"
)

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer

	newLogger(&out, config.LogConfig{Level: "info", Format: "json"}).Debug("hidden")
	assert.Empty(t, out.String())

	newLogger(&out, config.LogConfig{Level: "info", Format: "json"}).Info("shown", "k", "v")
	assert.Contains(t, out.String(), `"msg":"shown"`)

	out.Reset()
	newLogger(&out, config.LogConfig{Level: "debug", Format: "text"}).Debug("shown")
	assert.Contains(t, out.String(), "msg=shown")
}

func TestVersionCommand_NeedsNoConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/config.yml"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.NotEmpty(t, bytes.TrimSpace(out.Bytes()))
}

func TestServeFlags(t *testing.T) {
	assert.NotNil(t, serveCmd.Flags().Lookup("no-mlock"))
	assert.NotNil(t, rootCmd.PersistentFlags().ShorthandLookup("c"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("debug"))
}
