// Package microphone implements the microphone manager:
// closed/pending-open/open state over a platform-filled data-stream
// buffer, directive and local-gesture handling, and the periodic capture
// task that hands chunks to the microphone regulator.
package microphone

import (
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/regulator"
	"github.com/lokutor-ai/aia-client/pkg/aia/streambuf"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

// Regulator is the outbound collaborator the capture task hands finished
// microphone-content entries to. Satisfied by *regulator.Regulator.
type Regulator interface {
	Write(c regulator.Chunk)
}

// FatalFunc reports an unrecoverable reader error (closed buffer, policy
// violation) the caller should treat as a connection fault.
type FatalFunc func(error)

// InitiatorKind names the local gesture that last opened (or is about to
// open) the microphone.
type InitiatorKind string

const (
	InitiatorHold     InitiatorKind = "hold"
	InitiatorTap      InitiatorKind = "tap"
	InitiatorWakeword InitiatorKind = "wakeword"
)

// Manager owns the closed/pending-open/open state machine and the single
// reader attached to the platform capture ring.
type Manager struct {
	mu sync.Mutex

	reader   *streambuf.Reader
	wordSize int

	regulator        Regulator
	chunkSizeSamples int
	prerollSamples   uint64

	emit  func(events.Event)
	fatal FatalFunc

	isOpen bool

	pendingOpen          bool
	pendingOpenExpiry    time.Time
	pendingOpenInitiator events.Initiator
	openTimeout          *time.Timer

	lastInitiatorKind InitiatorKind
	lastProfile       string
	lastOffsetSent    uint64

	echoGuard *EchoGuard
}

// New attaches a reader to buf (filled by a platform capture source) and
// returns a closed microphone manager.
func New(buf *streambuf.Buffer, reg Regulator, chunkSizeSamples int, prerollSamples uint64, emit func(events.Event), fatal FatalFunc) (*Manager, error) {
	reader, err := buf.CreateReader(streambuf.NonblockingReader, false)
	if err != nil {
		return nil, fmt.Errorf("microphone: creating reader: %w", err)
	}
	return &Manager{
		reader:           reader,
		wordSize:         buf.GetWordSize(),
		regulator:        reg,
		chunkSizeSamples: chunkSizeSamples,
		prerollSamples:   prerollSamples,
		emit:             emit,
		fatal:            fatal,
	}, nil
}

func (m *Manager) emitEvent(t events.Type, data interface{}) {
	if m.emit != nil {
		m.emit(events.Event{Type: t, Data: data})
	}
}

// IsOpen reports whether the microphone is currently open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

// openLocked transitions to open, records the gesture/profile, and
// publishes MicrophoneOpened at the current published-stream offset.
func (m *Manager) openLocked(profile string, kind InitiatorKind, initiator events.Initiator) {
	m.isOpen = true
	m.lastProfile = profile
	m.lastInitiatorKind = kind
	m.emitEvent(events.MicrophoneOpened, events.MicrophoneOpenedData{
		Profile:   profile,
		Offset:    m.lastOffsetSent,
		Initiator: &initiator,
	})
}

func (m *Manager) closeLocked() {
	m.isOpen = false
	m.emitEvent(events.MicrophoneClosed, events.MicrophoneClosedData{Offset: m.lastOffsetSent})
}

// OpenMicrophone is the service directive: acted on only while closed.
// While the last gesture was hold, this enters pending-open instead of
// opening immediately.
func (m *Manager) OpenMicrophone(timeoutMs uint32, initiator *events.Initiator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isOpen {
		return
	}

	if m.lastInitiatorKind == InitiatorHold {
		m.pendingOpen = true
		m.pendingOpenExpiry = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
		if initiator != nil {
			m.pendingOpenInitiator = *initiator
		} else {
			m.pendingOpenInitiator = events.Initiator{}
		}
		m.armOpenTimeoutLocked(timeoutMs)
		return
	}

	_ = m.reader.Seek(0, streambuf.BeforeWriter)
	var init events.Initiator
	if initiator != nil {
		init = *initiator
	}
	m.openLocked(m.lastProfile, m.lastInitiatorKind, init)
}

func (m *Manager) armOpenTimeoutLocked(timeoutMs uint32) {
	if m.openTimeout != nil {
		m.openTimeout.Stop()
	}
	m.openTimeout = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.pendingOpen {
			return
		}
		m.pendingOpen = false
		m.emitEvent(events.OpenMicrophoneTimedOut, nil)
	})
}

// CloseMicrophone is the service directive: close and publish
// MicrophoneClosed at the last offset sent.
func (m *Manager) CloseMicrophone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOpen {
		return
	}
	m.closeLocked()
}

// TapToTalkStart seeks the reader to index and opens immediately with a
// tap initiator.
func (m *Manager) TapToTalkStart(index int64, profile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.reader.Seek(index, streambuf.Absolute)
	m.openLocked(profile, InitiatorTap, events.Initiator{Type: string(InitiatorTap)})
}

// HoldToTalkStart consumes an unexpired pending-open (echoing its stored
// initiator) if one is active, otherwise opens immediately with a hold
// initiator. Either way the reader seeks to index first.
func (m *Manager) HoldToTalkStart(index int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingOpen && time.Now().Before(m.pendingOpenExpiry) {
		m.pendingOpen = false
		if m.openTimeout != nil {
			m.openTimeout.Stop()
		}
		initiator := m.pendingOpenInitiator
		_ = m.reader.Seek(index, streambuf.Absolute)
		m.openLocked(m.lastProfile, InitiatorHold, initiator)
		return
	}

	_ = m.reader.Seek(index, streambuf.Absolute)
	m.openLocked(m.lastProfile, InitiatorHold, events.Initiator{Type: string(InitiatorHold)})
}

// WakeWordStart opens the microphone after a wake-word detection. begin/end
// are absolute reader-index positions in the capture ring; only the
// "alexa" label is accepted, and begin must leave room for the configured
// preroll.
func (m *Manager) WakeWordStart(begin, end uint64, profile, word string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if word != "alexa" {
		return fmt.Errorf("microphone: unsupported wake word %q", word)
	}
	if begin < m.prerollSamples {
		return fmt.Errorf("microphone: wake word begin %d precedes preroll window %d", begin, m.prerollSamples)
	}

	if err := m.reader.Seek(int64(begin-m.prerollSamples), streambuf.Absolute); err != nil {
		return fmt.Errorf("microphone: seeking to preroll start: %w", err)
	}

	prerollBytes := m.prerollSamples * uint64(m.wordSize)
	beginOffset := m.lastOffsetSent + prerollBytes
	endOffset := beginOffset + (end-begin)*uint64(m.wordSize)

	initiator := events.Initiator{
		Type: string(InitiatorWakeword),
		Payload: &events.WakeWordPayload{
			WakeWord: word,
			WakeWordIndices: events.WakeWordIndices{
				BeginOffset: beginOffset,
				EndOffset:   endOffset,
			},
		},
	}
	m.openLocked(profile, InitiatorWakeword, initiator)
	return nil
}

// SetEchoGuard installs an optional echo-filtering pre-processor the
// capture task runs before handing samples to the regulator.
func (m *Manager) SetEchoGuard(g *EchoGuard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echoGuard = g
}

// Tick is the periodic capture task: while open, reads up to
// chunk_size_samples samples, prefixes the running published-stream
// offset, and hands the entry to the regulator.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isOpen {
		return
	}

	buf := make([]byte, m.chunkSizeSamples*m.wordSize)
	words := make([][]byte, m.chunkSizeSamples)
	for i := range words {
		words[i] = buf[i*m.wordSize : (i+1)*m.wordSize]
	}

	n, err := m.reader.Read(words)
	switch {
	case err == streambuf.ErrWouldBlock:
		return
	case err == streambuf.ErrClosed, err == streambuf.ErrInvalid, err == streambuf.ErrOverrun:
		if m.fatal != nil {
			m.fatal(fmt.Errorf("microphone: reader error: %w", err))
		}
		return
	case err != nil:
		return
	}
	if n == 0 {
		return
	}

	samples := buf[:n*m.wordSize]
	if m.echoGuard != nil {
		samples = m.echoGuard.Process(samples)
	}

	data := wire.EncodeMicrophoneContent(m.lastOffsetSent, samples)
	entry := wire.EncodeEntry(wire.EntryMicrophoneContent, 0, data)
	m.regulator.Write(regulator.Chunk{Data: entry})

	m.lastOffsetSent += uint64(n) * uint64(m.wordSize)
}
