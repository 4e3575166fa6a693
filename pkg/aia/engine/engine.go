// Package engine ties every component package together into one running
// connection: one sequencer/regulator/emitter pair per topic, the
// speaker/microphone/ux/alert managers, and a single buffered event
// channel the caller drains.
package engine

import (
	"fmt"
	"sync"

	"github.com/lokutor-ai/aia-client/pkg/aia/alert"
	"github.com/lokutor-ai/aia-client/pkg/aia/alertstore"
	"github.com/lokutor-ai/aia-client/pkg/aia/capabilities"
	"github.com/lokutor-ai/aia-client/pkg/aia/clock"
	"github.com/lokutor-ai/aia-client/pkg/aia/config"
	"github.com/lokutor-ai/aia-client/pkg/aia/crypto"
	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/log"
	"github.com/lokutor-ai/aia-client/pkg/aia/microphone"
	"github.com/lokutor-ai/aia-client/pkg/aia/regulator"
	"github.com/lokutor-ai/aia-client/pkg/aia/sequencer"
	"github.com/lokutor-ai/aia-client/pkg/aia/speaker"
	"github.com/lokutor-ai/aia-client/pkg/aia/streambuf"
	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
	"github.com/lokutor-ai/aia-client/pkg/aia/ux"
	"github.com/lokutor-ai/aia-client/pkg/aia/volumestore"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

// Transport is the broker collaborator the engine publishes and
// subscribes through. Satisfied by *transport.Client.
type Transport interface {
	Publish(publishPath string, payload []byte) error
	Subscribe(publishPath string, handler func(publishPath string, payload []byte)) error
}

// Platform groups every physical-device collaborator the caller supplies;
// the managers that need them receive the relevant subset directly.
type Platform struct {
	Speaker speaker.Platform
	Alert   alert.Platform
}

const eventChanBufferSize = 1024

// Engine is one live connection: every per-topic sequencer/regulator/
// emitter, the two stream buffers, and every manager wired together.
type Engine struct {
	cfg    config.Config
	logger log.Logger

	transport Transport
	secrets   *crypto.SecretManager

	events chan events.Event

	inboundSeqs map[topic.Topic]*sequencer.Sequencer
	outboundReg map[topic.Topic]*regulator.Regulator

	speakerBuf *streambuf.Buffer
	micBuf     *streambuf.Buffer
	micWriter  *streambuf.Writer

	speaker *speaker.Manager
	mic     *microphone.Manager
	ux      *ux.Manager
	alert   *alert.Manager

	capsSender   *capabilities.CapabilitiesSender
	clockMgr     *capabilities.ClockManager
	buttonSender *capabilities.ButtonSender

	alertStore  *alertstore.Store
	volumeStore *volumestore.Store

	closeOnce sync.Once
}

// New wires every component for one connection and returns the running
// Engine. Call Start to begin the regulator tick loops and broker
// subscriptions, and Close to tear everything down.
func New(transport Transport, keys crypto.KeySource, plat Platform, store *alertstore.Store, volStore *volumestore.Store, clk clock.Clock, cfg config.Config, logger log.Logger) (*Engine, error) {
	logger = log.Normalize(logger)

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		transport:   transport,
		secrets:     crypto.New(keys),
		events:      make(chan events.Event, eventChanBufferSize),
		inboundSeqs: make(map[topic.Topic]*sequencer.Sequencer),
		outboundReg: make(map[topic.Topic]*regulator.Regulator),
		alertStore:  store,
		volumeStore: volStore,
	}

	if err := e.buildOutbound(); err != nil {
		return nil, err
	}
	if err := e.buildSpeakerAndMicrophone(plat.Speaker); err != nil {
		return nil, err
	}
	e.ux = ux.New(e.speaker, func(state events.UXState) {
		e.emit(events.Event{Type: events.UXStateChanged, Data: events.UXStateChangedData{State: state}})
	})
	if err := e.buildAlert(plat.Alert, clk); err != nil {
		return nil, err
	}
	e.buildInboundDispatch()

	e.capsSender = capabilities.NewCapabilitiesSender(e.outboundReg[topic.Capabilities], e.emit)
	e.clockMgr = capabilities.NewClockManager(e.outboundReg[topic.Event], clk, e.emit)
	e.buttonSender = capabilities.NewButtonSender(e.outboundReg[topic.Event])

	return e, nil
}

func (e *Engine) emit(ev events.Event) {
	switch ev.Type {
	case events.MicrophoneOpened:
		e.ux.SetMicrophoneState(true)
	case events.MicrophoneClosed:
		e.ux.SetMicrophoneState(false)
	case events.VolumeChanged:
		if data, ok := ev.Data.(events.VolumeChangedData); ok {
			if err := e.volumeStore.StoreVolume(data.Volume); err != nil {
				e.reportError(fmt.Errorf("engine: persisting boot volume: %w", err))
			}
		}
	}

	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event channel full, dropping event", "type", ev.Type)
	}
}

func (e *Engine) reportError(err error) {
	e.logger.Error("engine error", "err", err)
}

func (e *Engine) fatal(err error) {
	e.logger.Fatal("unrecoverable engine error, connection must be torn down", "err", err)
	e.emit(events.Event{Type: events.ExceptionEncountered, Data: events.ExceptionEncounteredData{Kind: "fatal"}})
}

// Events returns the channel every component's emitted event arrives on.
// The caller is responsible for draining it.
func (e *Engine) Events() <-chan events.Event {
	return e.events
}

// buildOutbound creates one regulator+emitter pair per outbound topic.
func (e *Engine) buildOutbound() error {
	for _, t := range []topic.Topic{topic.Event, topic.Capabilities, topic.Microphone, topic.ConnectionFromClient} {
		emitter := regulator.NewEmitter(t, e.cfg.DeviceTopicRoot, e.cfg.MaxMessageBytes, e.secrets, e.transport, 0, e.reportError)
		reg := regulator.New(emitter, e.cfg.RegulatorPeriod)
		e.outboundReg[t] = reg
	}
	return nil
}

// buildSpeakerAndMicrophone constructs both stream buffers and their
// managers, wiring the speaker's inbound sequencer ahead of the manager
// itself (the sequencer's handler closure captures the not-yet-created
// manager by pointer, resolved by the time the first message arrives).
func (e *Engine) buildSpeakerAndMicrophone(speakerPlatform speaker.Platform) error {
	speakerMem := make([]byte, e.cfg.SpeakerBufferBytes)
	speakerBuf, err := streambuf.Create(speakerMem, 1, 1)
	if err != nil {
		return fmt.Errorf("engine: creating speaker buffer: %w", err)
	}
	e.speakerBuf = speakerBuf

	var spkMgr *speaker.Manager
	spkSeq := sequencer.New(0, e.cfg.SequencerMaxSlots, int(e.cfg.SequencerTimeout.Milliseconds()), func(seq uint32, payload []byte) {
		entries, err := wire.ParseEntries(payload)
		if err != nil {
			e.reportMalformed(topic.Speaker, seq, nil)
			return
		}
		spkMgr.HandleMessage(seq, entries)
	}, func() { e.emitTimeout(topic.Speaker) })
	e.inboundSeqs[topic.Speaker] = spkSeq

	spkMgr, err = speaker.New(speakerBuf, speakerPlatform, spkSeq, e.emit, e.fatal, speaker.Thresholds{
		OverrunWarningBytes:  e.cfg.SpeakerOverrunWarningBytes,
		UnderrunWarningBytes: e.cfg.SpeakerUnderrunWarningBytes,
	}, e.cfg.SpeakerMinVolume, e.cfg.SpeakerMaxVolume)
	if err != nil {
		return fmt.Errorf("engine: creating speaker manager: %w", err)
	}
	e.speaker = spkMgr

	bootVolume, err := e.volumeStore.LoadVolume()
	if err != nil {
		return fmt.Errorf("engine: loading boot volume: %w", err)
	}
	spkMgr.ApplyInitialVolume(bootVolume)

	micMem := make([]byte, e.cfg.MicrophoneBufferBytes)
	micBuf, err := streambuf.Create(micMem, e.cfg.MicrophoneWordSize, 1)
	if err != nil {
		return fmt.Errorf("engine: creating microphone buffer: %w", err)
	}
	e.micBuf = micBuf

	micWriter, err := micBuf.CreateWriter(streambuf.Nonblockable, false)
	if err != nil {
		return fmt.Errorf("engine: creating microphone writer: %w", err)
	}
	e.micWriter = micWriter

	micMgr, err := microphone.New(micBuf, e.outboundReg[topic.Microphone], e.cfg.MicrophoneChunkSamples, e.cfg.MicrophonePrerollSamples, e.emit, e.fatal)
	if err != nil {
		return fmt.Errorf("engine: creating microphone manager: %w", err)
	}
	e.mic = micMgr

	return nil
}

func (e *Engine) buildAlert(plat alert.Platform, clk clock.Clock) error {
	mgr, err := alert.New(e.alertStore, plat, e.speaker, e.ux, clk, e.emit, e.reportError,
		e.cfg.AlertOfflineVolume, e.cfg.AlertExpiration, e.cfg.AlertOfflineCheckPeriod)
	if err != nil {
		return fmt.Errorf("engine: creating alert manager: %w", err)
	}
	e.alert = mgr
	return nil
}

// buildInboundDispatch creates the sequencers for every remaining inbound
// topic (the speaker sequencer was already created in
// buildSpeakerAndMicrophone, ahead of its manager).
func (e *Engine) buildInboundDispatch() {
	e.inboundSeqs[topic.Directive] = sequencer.New(0, e.cfg.SequencerMaxSlots, int(e.cfg.SequencerTimeout.Milliseconds()),
		func(seq uint32, payload []byte) { e.handleDirectiveBody(seq, payload) },
		func() { e.emitTimeout(topic.Directive) })

	e.inboundSeqs[topic.CapabilitiesAck] = sequencer.New(0, e.cfg.SequencerMaxSlots, int(e.cfg.SequencerTimeout.Milliseconds()),
		func(seq uint32, payload []byte) { e.handleCapabilitiesAckBody(seq, payload) },
		func() { e.emitTimeout(topic.CapabilitiesAck) })

	e.inboundSeqs[topic.ConnectionFromService] = sequencer.New(0, e.cfg.SequencerMaxSlots, int(e.cfg.SequencerTimeout.Milliseconds()),
		func(seq uint32, payload []byte) { e.handleConnectionFromServiceBody(seq, payload) },
		func() { e.emitTimeout(topic.ConnectionFromService) })
}

func (e *Engine) emitTimeout(t topic.Topic) {
	e.emit(events.Event{Type: events.ExceptionEncountered, Data: events.ExceptionEncounteredData{
		Message: events.MessageRef{Topic: string(t)},
		Kind:    "timeout",
	}})
}

func (e *Engine) reportMalformed(t topic.Topic, seq uint32, index *int) {
	e.emit(events.Event{Type: events.ExceptionEncountered, Data: events.ExceptionEncounteredData{
		Message: events.MessageRef{Topic: string(t), SequenceNumber: seq},
		Index:   index,
		Kind:    "malformed",
	}})
}

// Start begins the outbound regulator tick loops and subscribes to every
// inbound topic on the broker. Call in its own goroutine set; Start
// returns once subscriptions are registered.
func (e *Engine) Start() error {
	for _, reg := range e.outboundReg {
		go reg.Start()
	}
	for t, seqr := range e.inboundSeqs {
		path := topic.PublishPath(e.cfg.DeviceTopicRoot, t)
		if err := e.transport.Subscribe(path, e.inboundHandler(t, seqr)); err != nil {
			return fmt.Errorf("engine: subscribing to %s: %w", path, err)
		}
	}
	return nil
}

// inboundHandler strips the common header, decrypts, verifies the
// sequence witness, and forwards the plaintext body to seqr.
func (e *Engine) inboundHandler(t topic.Topic, seqr *sequencer.Sequencer) func(string, []byte) {
	return func(_ string, payload []byte) {
		h, rest, err := wire.DecodeHeader(payload)
		if err != nil {
			e.reportMalformed(t, 0, nil)
			return
		}
		plaintext, err := e.secrets.Decrypt(t, h.Sequence, h.IV, h.MAC, rest)
		if err != nil {
			e.reportMalformed(t, h.Sequence, nil)
			return
		}
		witnessed, err := wire.Witness(plaintext)
		if err != nil || witnessed != h.Sequence {
			e.reportMalformed(t, h.Sequence, nil)
			return
		}
		seqr.Write(h.Sequence, plaintext[wire.SequenceSize:])
	}
}

// Close tears down every sequencer timer and the alert manager's offline
// timer. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		for _, seqr := range e.inboundSeqs {
			seqr.Destroy()
		}
		for _, reg := range e.outboundReg {
			reg.Stop()
		}
		e.alert.Stop()
		close(e.events)
	})
}

// TapToTalkStart forwards a local tap-to-talk gesture to the microphone
// manager.
func (e *Engine) TapToTalkStart(index int64, profile string) {
	e.mic.TapToTalkStart(index, profile)
}

// HoldToTalkStart forwards a local hold-to-talk gesture.
func (e *Engine) HoldToTalkStart(index int64) {
	e.mic.HoldToTalkStart(index)
}

// WakeWordStart forwards a local wake-word detection.
func (e *Engine) WakeWordStart(begin, end uint64, profile, word string) error {
	return e.mic.WakeWordStart(begin, end, profile, word)
}

// LocalStop implements barge-in: invalidate pending speaker offset
// actions and close the speaker immediately.
func (e *Engine) LocalStop() {
	e.speaker.LocalStop()
}

// SendButtonPress forwards a physical button press to the button sender.
func (e *Engine) SendButtonPress(button string) error {
	return e.buttonSender.SendButtonPress(button)
}

// TickSpeaker drives one speaker playback iteration. Intended to be
// called from the platform's audio callback cadence.
func (e *Engine) TickSpeaker() {
	e.speaker.Tick()
}

// TickMicrophone drives one microphone capture iteration.
func (e *Engine) TickMicrophone() {
	e.mic.Tick()
}

// WriteMicrophoneSamples copies raw capture samples from the platform's
// audio callback into the microphone's ring buffer, at the word size
// (cfg.MicrophoneWordSize) the buffer was created with.
func (e *Engine) WriteMicrophoneSamples(samples []byte) error {
	wordSize := e.micBuf.GetWordSize()
	if wordSize <= 0 || len(samples)%wordSize != 0 {
		return fmt.Errorf("engine: microphone sample buffer length %d not a multiple of word size %d", len(samples), wordSize)
	}
	words := make([][]byte, len(samples)/wordSize)
	for i := range words {
		words[i] = samples[i*wordSize : (i+1)*wordSize]
	}
	_, err := e.micWriter.Write(words)
	return err
}
