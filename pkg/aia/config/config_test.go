package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsSane(t *testing.T) {
	cfg := DefaultConfig()
	require.NotEmpty(t, cfg.BrokerURL)
	require.Greater(t, cfg.SpeakerOverrunWarningBytes, cfg.SpeakerUnderrunWarningBytes)
	require.Greater(t, uint64(cfg.SpeakerBufferBytes), cfg.SpeakerOverrunWarningBytes)
}

func TestLoadEnvOverridesAppliesSetVars(t *testing.T) {
	os.Setenv("AIA_BROKER_URL", "tcp://broker.example:1883")
	os.Setenv("AIA_ALERT_OFFLINE_VOLUME", "80")
	os.Setenv("AIA_REGULATOR_PERIOD_MS", "50")
	defer os.Unsetenv("AIA_BROKER_URL")
	defer os.Unsetenv("AIA_ALERT_OFFLINE_VOLUME")
	defer os.Unsetenv("AIA_REGULATOR_PERIOD_MS")

	cfg := LoadEnvOverrides(DefaultConfig())

	require.Equal(t, "tcp://broker.example:1883", cfg.BrokerURL)
	require.Equal(t, uint8(80), cfg.AlertOfflineVolume)
	require.Equal(t, 50*time.Millisecond, cfg.RegulatorPeriod)
}

func TestLoadEnvOverridesLeavesDefaultsWhenUnset(t *testing.T) {
	cfg := LoadEnvOverrides(DefaultConfig())
	require.Equal(t, DefaultConfig().MicrophoneChunkSamples, cfg.MicrophoneChunkSamples)
}
