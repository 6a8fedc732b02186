package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysync/internal/events"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = newLogger("loud")
	require.Error(t, err)
}

func TestRunSelectors(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runSelectors(cmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, events.NamePaymentCompleted, first["event"])
	assert.Equal(t, events.Selectors()[events.NamePaymentCompleted], first["selector"])
}

func newCursorCommand(t *testing.T, run func(*cobra.Command, []string) error, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{Use: "cursor", RunE: run}
	cmd.Flags().String("config", "", "")
	addCursorFlags(cmd.Flags())
	cmd.Flags().Uint64("block", 0, "")
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	return cmd, &out
}

func TestCursorCommandsWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")

	show, out := newCursorCommand(t, runCursorShow, "--cursor-file", path, "--log-level", "error")
	require.NoError(t, show.Execute())
	assert.Equal(t, "payment-gateway: no cursor stored\n", out.String())

	set, _ := newCursorCommand(t, runCursorSet, "--cursor-file", path, "--block", "4242", "--log-level", "error")
	require.NoError(t, set.Execute())

	show, out = newCursorCommand(t, runCursorShow, "--cursor-file", path, "--log-level", "error")
	require.NoError(t, show.Execute())
	assert.Equal(t, "payment-gateway: 4242\n", out.String())
}
