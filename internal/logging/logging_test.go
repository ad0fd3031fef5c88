package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	lg, err := New("debug", "json")
	require.NoError(t, err)
	assert.True(t, lg.Core().Enabled(zapcore.DebugLevel))

	lg, err = New("nonsense", "console")
	require.NoError(t, err)
	assert.False(t, lg.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, lg.Core().Enabled(zapcore.InfoLevel))
}
