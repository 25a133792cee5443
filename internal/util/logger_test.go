package util

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	require.Error(t, InitLogger("loud"))
}

func TestSetLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	require.NoError(t, SetLogLevel("debug"))
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	require.Error(t, SetLogLevel("loud"))
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel(), "a bad level must not change the current one")
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	require.NotEmpty(t, info.Arch)
	require.Positive(t, info.CPUCores)
}
