package utils

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "*****", MaskSecret(""))
	assert.Equal(t, "*****", MaskSecret("short"))
	assert.Equal(t, "cli_*****89", MaskSecret("cli_a123456789"))
}

func TestMultiLogHandler(t *testing.T) {
	var info, debug bytes.Buffer
	h := NewMultiLogHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("run", "r1").WithGroup("sync")

	logger.Debug("listing", "space", "HR")
	logger.Info("done", "files", 3)

	assert.NotContains(t, info.String(), "listing")
	assert.Contains(t, info.String(), "run=r1 sync.files=3")
	assert.Contains(t, debug.String(), "sync.space=HR")
	assert.Contains(t, debug.String(), "sync.files=3")
	assert.True(t, h.Enabled(t.Context(), slog.LevelDebug))
	assert.False(t, NewMultiLogHandler().Enabled(t.Context(), slog.LevelError))
}
