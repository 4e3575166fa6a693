package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/aia-client/cmd/aia-client/devstream"
	"github.com/lokutor-ai/aia-client/pkg/aia/alertstore"
	"github.com/lokutor-ai/aia-client/pkg/aia/clock"
	"github.com/lokutor-ai/aia-client/pkg/aia/config"
	"github.com/lokutor-ai/aia-client/pkg/aia/crypto"
	"github.com/lokutor-ai/aia-client/pkg/aia/engine"
	"github.com/lokutor-ai/aia-client/pkg/aia/log"
	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
	"github.com/lokutor-ai/aia-client/pkg/aia/transport"
	"github.com/lokutor-ai/aia-client/pkg/aia/volumestore"
)

// maxQueuedPlaybackBytes bounds how far ahead of the device the speaker
// manager is allowed to push frames before PushFrame starts reporting
// backpressure.
const maxQueuedPlaybackBytes = 1 << 16

// speakerPlatform queues decoded speaker frames for the playback device
// and forwards volume changes to it. Playback itself happens in the
// malgo data callback, which drains playbackBytes into pOutput.
type speakerPlatform struct {
	mu            sync.Mutex
	playbackBytes []byte
	volume        uint8
}

func (p *speakerPlatform) PushFrame(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.playbackBytes) >= maxQueuedPlaybackBytes {
		return false
	}
	p.playbackBytes = append(p.playbackBytes, frame...)
	return true
}

func (p *speakerPlatform) SetVolume(v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

// drain copies queued playback bytes into out, scaled by the last applied
// volume, padding the remainder with silence. Called from the audio
// device's data callback.
func (p *speakerPlatform) drain(out []byte) {
	p.mu.Lock()
	n := copy(out, p.playbackBytes)
	p.playbackBytes = p.playbackBytes[n:]
	vol := p.volume
	p.mu.Unlock()

	scaleVolume(out[:n], vol)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// scaleVolume applies a linear 0-100 gain to a buffer of signed 16-bit
// little-endian samples in place.
func scaleVolume(buf []byte, volume uint8) {
	if volume >= 100 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(buf[i]) | int16(buf[i+1])<<8
		scaled := int32(sample) * int32(volume) / 100
		buf[i] = byte(scaled)
		buf[i+1] = byte(scaled >> 8)
	}
}

// offlineAlertPlatform synthesizes a plain sine tone as the offline alert
// sound. The protocol only carries a scheduled-alert token and volume;
// what actually plays on expiry is a device concern, not a wire concern,
// so this exists purely to give alert.Platform a working implementation
// for this entrypoint.
type offlineAlertPlatform struct {
	speaker *speakerPlatform

	mu      sync.Mutex
	playing bool
	stop    chan struct{}
}

func newOfflineAlertPlatform(spk *speakerPlatform) *offlineAlertPlatform {
	return &offlineAlertPlatform{speaker: spk}
}

func (a *offlineAlertPlatform) PlayOfflineAlert(_ alertstore.Record, volume uint8) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playing {
		return true
	}
	a.playing = true
	a.stop = make(chan struct{})
	stop := a.stop

	go func() {
		const (
			sampleRate = 16000
			freqHz     = 880.0
			chunk      = sampleRate / 10
		)
		buf := make([]byte, chunk*2)
		phase := 0.0
		step := 2 * 3.14159265 * freqHz / sampleRate
		for {
			select {
			case <-stop:
				return
			default:
			}
			for i := 0; i < chunk; i++ {
				s := int16(8000 * sineApprox(phase))
				phase += step
				buf[i*2] = byte(s)
				buf[i*2+1] = byte(s >> 8)
			}
			a.speaker.SetVolume(volume)
			a.speaker.PushFrame(buf)
			time.Sleep(100 * time.Millisecond)
		}
	}()
	return true
}

func (a *offlineAlertPlatform) StopOfflineAlert() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.playing {
		return true
	}
	close(a.stop)
	a.playing = false
	return true
}

// sineApprox is a minimal Taylor-series sine, avoiding a math import for
// one call site.
func sineApprox(x float64) float64 {
	for x > 3.14159265 {
		x -= 2 * 3.14159265
	}
	for x < -3.14159265 {
		x += 2 * 3.14159265
	}
	x2 := x * x
	return x * (1 - x2/6*(1-x2/20*(1-x2/42)))
}

func loadTopicKeys(logger log.Logger) crypto.StaticKeySource {
	topics := []topic.Topic{
		topic.Directive, topic.Event, topic.Capabilities, topic.CapabilitiesAck,
		topic.Microphone, topic.Speaker, topic.ConnectionFromService, topic.ConnectionFromClient,
	}
	keys := make(crypto.StaticKeySource, len(topics))
	for _, t := range topics {
		envName := "AIA_KEY_" + strings.ToUpper(strings.ReplaceAll(string(t), "-", "_"))
		raw := os.Getenv(envName)
		if raw == "" {
			logger.Fatal("missing topic key", "env", envName)
			os.Exit(1)
		}
		key, err := hex.DecodeString(raw)
		if err != nil {
			logger.Fatal("invalid topic key hex", "env", envName, "err", err)
			os.Exit(1)
		}
		keys[t] = key
	}
	return keys
}

func main() {
	logger := log.New()
	cfg := config.LoadEnvOverrides(config.DefaultConfig())

	keys := loadTopicKeys(logger)

	alertStore, err := alertstore.Open(cfg.AlertStorePath)
	if err != nil {
		logger.Fatal("opening alert store", "err", err)
		os.Exit(1)
	}
	defer alertStore.Close()

	volStore, err := volumestore.Open(cfg.VolumeStorePath)
	if err != nil {
		logger.Fatal("opening volume store", "err", err)
		os.Exit(1)
	}
	defer volStore.Close()

	tr := transport.New(transport.Config{
		BrokerURL: cfg.BrokerURL,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		KeepAlive: 30 * time.Second,
	}, func(err error) { logger.Error("transport error", "err", err) })

	spkPlat := &speakerPlatform{}
	alertPlat := newOfflineAlertPlatform(spkPlat)

	clk := clock.New()

	eng, err := engine.New(tr, keys, engine.Platform{Speaker: spkPlat, Alert: alertPlat}, alertStore, volStore, clk, cfg, logger)
	if err != nil {
		logger.Fatal("constructing engine", "err", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Fatal("starting engine", "err", err)
		os.Exit(1)
	}
	defer eng.Close()

	devServer := devstream.New()
	if addr := os.Getenv("AIA_DEVSTREAM_ADDR"); addr != "" {
		go func() {
			if err := http.ListenAndServe(addr, devServer); err != nil {
				logger.Warn("devstream server exited", "err", err)
			}
		}()
	}
	go func() {
		for ev := range eng.Events() {
			logger.Debug("engine event", "type", ev.Type)
			devServer.Broadcast(ev)
		}
	}()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Fatal("initializing audio context", "err", err)
		os.Exit(1)
	}
	defer mctx.Uninit()

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			if err := eng.WriteMicrophoneSamples(pInput); err != nil {
				logger.Warn("writing microphone samples", "err", err)
			}
			eng.TickMicrophone()
		}
		if pOutput != nil {
			eng.TickSpeaker()
			spkPlat.drain(pOutput)
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		logger.Fatal("initializing audio device", "err", err)
		os.Exit(1)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		logger.Fatal("starting audio device", "err", err)
		os.Exit(1)
	}

	fmt.Printf("aia-client connected to %s as %s, topic root %s\n", cfg.BrokerURL, cfg.MQTTClientID, cfg.DeviceTopicRoot)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("shutting down...")
}
