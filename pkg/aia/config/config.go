// Package config defines the settings every engine component needs at
// construction time, following a Config/DefaultConfig shape with .env
// overrides loaded via godotenv.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config collects every tunable the engine's components need at
// construction time.
type Config struct {
	DeviceTopicRoot string
	BrokerURL       string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string

	// One reorder window/timeout shared across topics, not per-topic:
	// simpler than the protocol technically allows for, matching how the
	// teacher's own Config carries one timeout per concern.
	SequencerMaxSlots int
	SequencerTimeout  time.Duration
	RegulatorPeriod   time.Duration
	MaxMessageBytes   int

	SpeakerBufferBytes          int
	SpeakerOverrunWarningBytes  uint64
	SpeakerUnderrunWarningBytes uint64

	SpeakerMinVolume uint8
	SpeakerMaxVolume uint8

	MicrophoneBufferBytes    int
	MicrophoneChunkSamples   int
	MicrophoneWordSize       int
	MicrophonePrerollSamples uint64

	// SampleRate is the capture/playback rate the physical audio device
	// is opened at. Not used by any engine package directly; carried here
	// so cmd/aia-client's device setup reads it from the same Config.
	SampleRate int

	AlertOfflineVolume      uint8
	AlertExpiration         time.Duration
	AlertOfflineCheckPeriod time.Duration

	AlertStorePath  string
	VolumeStorePath string
}

// DefaultConfig returns sane defaults for every setting, mirroring the
// teacher's DefaultConfig().
func DefaultConfig() Config {
	return Config{
		DeviceTopicRoot: "aia/device/",
		BrokerURL:       "tcp://localhost:1883",
		MQTTClientID:    "aia-client",

		SequencerMaxSlots: 16,
		SequencerTimeout:  5 * time.Second,
		RegulatorPeriod:   20 * time.Millisecond,
		MaxMessageBytes:   1 << 20,

		SpeakerBufferBytes:          1 << 20,
		SpeakerOverrunWarningBytes:  (1 << 20) * 7 / 10,
		SpeakerUnderrunWarningBytes: (1 << 20) * 3 / 10,

		SpeakerMinVolume: 0,
		SpeakerMaxVolume: 100,

		MicrophoneBufferBytes:    1 << 18,
		MicrophoneChunkSamples:   320,
		MicrophoneWordSize:       2,
		MicrophonePrerollSamples: 8000,
		SampleRate:               16000,

		AlertOfflineVolume:      50,
		AlertExpiration:         24 * time.Hour,
		AlertOfflineCheckPeriod: time.Hour,

		AlertStorePath:  "alerts.db",
		VolumeStorePath: "volume.db",
	}
}

// LoadEnvOverrides reads a .env file (if present) with godotenv, exactly
// as the device entrypoint does, then applies any recognized
// environment variables on top of cfg.
func LoadEnvOverrides(cfg Config) Config {
	_ = godotenv.Load()

	if v := os.Getenv("AIA_DEVICE_TOPIC_ROOT"); v != "" {
		cfg.DeviceTopicRoot = v
	}
	if v := os.Getenv("AIA_BROKER_URL"); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv("AIA_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTTClientID = v
	}
	if v := os.Getenv("AIA_MQTT_USERNAME"); v != "" {
		cfg.MQTTUsername = v
	}
	if v := os.Getenv("AIA_MQTT_PASSWORD"); v != "" {
		cfg.MQTTPassword = v
	}
	if v := os.Getenv("AIA_ALERT_STORE_PATH"); v != "" {
		cfg.AlertStorePath = v
	}
	if v := os.Getenv("AIA_VOLUME_STORE_PATH"); v != "" {
		cfg.VolumeStorePath = v
	}
	if v, ok := parseUint8(os.Getenv("AIA_ALERT_OFFLINE_VOLUME")); ok {
		cfg.AlertOfflineVolume = v
	}
	if v, ok := parseDuration(os.Getenv("AIA_REGULATOR_PERIOD_MS")); ok {
		cfg.RegulatorPeriod = v
	}
	if v, ok := parseInt(os.Getenv("AIA_SAMPLE_RATE")); ok {
		cfg.SampleRate = v
	}
	return cfg
}

func parseUint8(s string) (uint8, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
