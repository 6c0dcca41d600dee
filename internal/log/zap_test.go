package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	require.NoError(t, Init("debug", "json"))
	assert.NotNil(t, Logger)
	assert.True(t, Logger.Core().Enabled(-1))

	require.NoError(t, Init("warn", "console"))
	assert.False(t, Logger.Core().Enabled(0))
}

func TestInitRejectsBadInput(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	assert.Error(t, Init("loud", "json"))
	assert.Error(t, Init("info", "xml"))
}
