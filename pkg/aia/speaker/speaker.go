// Package speaker implements the speaker manager:
// consumes the speaker topic's binary entries into a data-stream buffer
// and drives playback through a platform push_frame callback, handling
// overrun/underrun flow control, offset actions, markers, and volume.
package speaker

import (
	"fmt"
	"sync"

	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/offsetaction"
	"github.com/lokutor-ai/aia-client/pkg/aia/sequencer"
	"github.com/lokutor-ai/aia-client/pkg/aia/streambuf"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

// Platform is the physical playback device collaborator.
type Platform interface {
	PushFrame(frame []byte) bool
	SetVolume(v uint8)
}

// FatalFunc tears down the connection on an unrecoverable invariant
// breach.
type FatalFunc func(error)

// Thresholds are the fill-level byte counts, measured as writer-minus-
// reader bytes currently buffered, that drive the buffer-state machine.
type Thresholds struct {
	OverrunWarningBytes  uint64 // crossing above this while open: overrun_warning
	UnderrunWarningBytes uint64 // falling below this while open: underrun_warning
}

type marker struct {
	offset uint64
	value  uint32
}

// Manager is the speaker component. All mutable state is guarded by mu;
// exported methods acquire it and call an unexported "...Locked" helper.
type Manager struct {
	mu sync.Mutex

	buf    *streambuf.Buffer
	writer *streambuf.Writer
	reader *streambuf.Reader

	platform Platform
	seq      *sequencer.Sequencer
	emit     func(events.Event)
	fatal    FatalFunc

	thresholds Thresholds
	actions    offsetaction.Queue

	overrunSequence   uint32
	frameSize         int
	frameSizeKnown    bool
	isOpen            bool
	pendingOpen       bool
	pendingOpenOffset uint64

	bufferState         events.BufferState
	overrunWarnReported bool

	isReadyForData bool
	backupFrame    []byte
	markers        []marker

	volume          uint8
	volumeIsInitial bool
	minVolume       uint8
	maxVolume       uint8
}

// New builds a speaker manager over buf, a single-writer, single-reader
// data-stream buffer created with a one-byte word size so that ring-
// absolute indices line up directly with the wire protocol's byte
// offsets.
func New(buf *streambuf.Buffer, platform Platform, seq *sequencer.Sequencer, emit func(events.Event), fatal FatalFunc, thresholds Thresholds, minVolume, maxVolume uint8) (*Manager, error) {
	writer, err := buf.CreateWriter(streambuf.Nonblockable, false)
	if err != nil {
		return nil, fmt.Errorf("speaker: creating writer: %w", err)
	}
	reader, err := buf.CreateReader(streambuf.NonblockingReader, false)
	if err != nil {
		return nil, fmt.Errorf("speaker: creating reader: %w", err)
	}

	return &Manager{
		buf:            buf,
		writer:         writer,
		reader:         reader,
		platform:       platform,
		seq:            seq,
		emit:           emit,
		fatal:          fatal,
		thresholds:     thresholds,
		bufferState:    events.BufferNone,
		isReadyForData: true,
		minVolume:      minVolume,
		maxVolume:      maxVolume,
	}, nil
}

func (m *Manager) emitEvent(t events.Type, data interface{}) {
	if m.emit != nil {
		m.emit(events.Event{Type: t, Data: data})
	}
}

// freeSpaceLocked returns the number of words not yet occupied by
// unconsumed audio, from the reader's point of view.
func (m *Manager) freeSpaceLocked() int64 {
	used := m.writer.Tell() - m.reader.Tell(streambuf.Absolute)
	free := m.buf.DataSize() - used
	if free < 0 {
		return 0
	}
	return free
}

// HandleMessage implements the per-message handling,
// called from the sequencer's handler thread for every speaker-topic
// delivery.
func (m *Manager) HandleMessage(seq uint32, entries []wire.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.overrunSequence != 0 {
		if seq != m.overrunSequence {
			return
		}
		m.overrunSequence = 0
	}

	var totalAudio int
	var contents []wire.SpeakerContent
	var markerSets [][]uint32

	for _, e := range entries {
		switch e.Type {
		case wire.EntrySpeakerContent:
			c, err := wire.DecodeSpeakerContent(e)
			if err != nil {
				m.reportMalformedLocked(seq, nil)
				return
			}
			totalAudio += len(c.Frames) * c.FrameSize
			contents = append(contents, c)
		case wire.EntrySpeakerMarker:
			ms, err := wire.DecodeSpeakerMarkers(e)
			if err != nil {
				m.reportMalformedLocked(seq, nil)
				return
			}
			markerSets = append(markerSets, ms)
		}
	}

	if int64(totalAudio) > m.freeSpaceLocked() && m.isOpen {
		m.emitEvent(events.BufferStateChanged, events.BufferStateChangedData{
			Message: events.MessageRef{Topic: "speaker", SequenceNumber: seq},
			State:   events.BufferOverrun,
		})
		m.overrunSequence = seq
		m.seq.ResetSequenceNumber(seq)
		m.bufferState = events.BufferOverrun
		return
	}

	for _, c := range contents {
		if ok := m.writeContentLocked(seq, c); !ok {
			return
		}
	}
	for _, ms := range markerSets {
		at := uint64(m.writer.Tell())
		for _, v := range ms {
			m.markers = append(m.markers, marker{offset: at, value: v})
		}
	}
}

func (m *Manager) reportMalformedLocked(seq uint32, index *int) {
	m.emitEvent(events.ExceptionEncountered, events.ExceptionEncounteredData{
		Message: events.MessageRef{Topic: "speaker", SequenceNumber: seq},
		Index:   index,
		Kind:    "malformed",
	})
}

// writeContentLocked verifies the offset and frame_size contract, then
// writes audio bytes with the open/closed writer policy this manager requires.
func (m *Manager) writeContentLocked(seq uint32, c wire.SpeakerContent) bool {
	if c.Offset != uint64(m.writer.Tell()) {
		m.reportMalformedLocked(seq, nil)
		return false
	}

	if !m.frameSizeKnown {
		m.frameSize = c.FrameSize
		m.frameSizeKnown = true
	} else if c.FrameSize != m.frameSize {
		m.reportMalformedLocked(seq, nil)
		return false
	}

	if m.isOpen {
		m.writer.SetPolicy(streambuf.AllOrNothing)
	} else {
		m.writer.SetPolicy(streambuf.Nonblockable)
	}

	flat := make([]byte, 0, len(c.Frames)*c.FrameSize)
	for _, f := range c.Frames {
		flat = append(flat, f...)
	}
	if _, err := m.writer.Write(bytesToWords(flat)); err != nil {
		m.reportMalformedLocked(seq, nil)
		return false
	}

	m.updateBufferStateLocked()
	return true
}

// bytesToWords splits a flat byte slice into one-byte words, the
// granularity the speaker's data-stream buffer is created with so that
// ring-absolute indices line up directly with the wire protocol's
// byte offsets (u64 LE offset).
func bytesToWords(flat []byte) [][]byte {
	words := make([][]byte, len(flat))
	for i := range flat {
		words[i] = flat[i : i+1]
	}
	return words
}

// updateBufferStateLocked recomputes the fill-level state and emits a
// one-shot BufferStateChanged event when a threshold is crossed upward
// while the speaker is open.
func (m *Manager) updateBufferStateLocked() {
	if !m.isOpen {
		return
	}
	used := uint64(m.writer.Tell() - m.reader.Tell(streambuf.Absolute))

	switch {
	case used >= m.thresholds.OverrunWarningBytes:
		if !m.overrunWarnReported {
			m.overrunWarnReported = true
			m.emitEvent(events.BufferStateChanged, events.BufferStateChangedData{State: events.BufferOverrunWarning})
		}
	case used <= m.thresholds.UnderrunWarningBytes:
		// Handled by the playback worker after each successful read;
		// writes alone don't clear an underrun warning.
	default:
		m.overrunWarnReported = false
	}
}

// Tick runs one pass of the playback worker (Playback
// worker"). Intended to be called on a fixed cadence by the owning
// engine.
func (m *Manager) Tick() {
	// FireDue runs callbacks (closeNow, applyVolume) that acquire m.mu
	// themselves, so it must happen before m.mu is taken below; the
	// reader's own Tell is lock-free and safe to read without it.
	m.actions.FireDue(uint64(m.reader.Tell(streambuf.Absolute)))

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isReadyForData {
		return
	}

	if m.pendingOpen {
		writerPos := m.writer.Tell()
		if int64(writerPos)-int64(m.pendingOpenOffset) > m.buf.DataSize() || m.pendingOpenOffset > uint64(writerPos) {
			if m.fatal != nil {
				m.fatal(fmt.Errorf("speaker: pending-open offset %d outside buffer window", m.pendingOpenOffset))
			}
			return
		}
		if err := m.reader.Seek(int64(m.pendingOpenOffset), streambuf.Absolute); err != nil {
			if m.fatal != nil {
				m.fatal(fmt.Errorf("speaker: seeking to pending-open offset: %w", err))
			}
			return
		}
		m.writer.SetPolicy(streambuf.AllOrNothing)
		m.pendingOpen = false
	}

	if !m.frameSizeKnown {
		return
	}

	frame := m.backupFrame
	m.backupFrame = nil
	wasOpeningFrame := !m.isOpen

	if frame == nil {
		buf := make([]byte, m.frameSize)
		n, err := m.reader.Read(bytesToWords(buf))
		switch {
		case err == streambuf.ErrClosed || err == streambuf.ErrInvalid:
			if m.fatal != nil {
				m.fatal(fmt.Errorf("speaker: reader error: %w", err))
			}
			return
		case err == streambuf.ErrOverrun:
			if m.fatal != nil {
				m.fatal(fmt.Errorf("speaker: unexpected overrun under all-or-nothing policy"))
			}
			return
		case err == streambuf.ErrWouldBlock:
			if m.isOpen && m.bufferState != events.BufferUnderrun {
				m.bufferState = events.BufferUnderrun
				m.emitEvent(events.BufferStateChanged, events.BufferStateChangedData{State: events.BufferUnderrun})
			}
			return
		case err != nil:
			return
		default:
			_ = n
			if m.bufferState == events.BufferUnderrun {
				m.bufferState = events.BufferNone
			}
			used := uint64(m.writer.Tell() - m.reader.Tell(streambuf.Absolute))
			if m.isOpen && m.bufferState == events.BufferNone && used <= m.thresholds.UnderrunWarningBytes {
				m.bufferState = events.BufferUnderrunWarning
				m.emitEvent(events.BufferStateChanged, events.BufferStateChangedData{State: events.BufferUnderrunWarning})
			}
		}
		frame = buf
	}

	if ok := m.platform.PushFrame(frame); !ok {
		m.backupFrame = frame
		m.isReadyForData = false
		return
	}

	if wasOpeningFrame {
		m.isOpen = true
		m.emitEvent(events.SpeakerOpened, events.SpeakerOpenedData{
			Offset: uint64(m.reader.Tell(streambuf.Absolute)) - uint64(m.frameSize),
		})
	}

	m.fireMarkersLocked()
}

func (m *Manager) fireMarkersLocked() {
	pos := uint64(m.reader.Tell(streambuf.Absolute))
	i := 0
	for i < len(m.markers) && m.markers[i].offset <= pos {
		m.emitEvent(events.SpeakerMarkerEncountered, events.SpeakerMarkerEncounteredData{Marker: m.markers[i].value})
		i++
	}
	m.markers = m.markers[i:]
}

// OnSpeakerReady restores is_ready_for_data after the platform previously
// rejected a frame.
func (m *Manager) OnSpeakerReady() {
	m.mu.Lock()
	m.isReadyForData = true
	m.mu.Unlock()
}

// OpenSpeaker handles an OpenSpeaker{offset} directive: the worker
// consummates the open on its next tick.
func (m *Manager) OpenSpeaker(offset uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingOpen = true
	m.pendingOpenOffset = offset
}

// CloseSpeaker handles a CloseSpeaker{offset?} directive. When offset is
// nil, it closes at the reader's current offset — in practice this closes
// one frame-Tick late relative to the directive's arrival, a documented
// 1-frame latency rather than an eliminated race (see DESIGN.md).
func (m *Manager) CloseSpeaker(offset *uint64) {
	target := offset
	if target == nil {
		m.mu.Lock()
		now := uint64(m.reader.Tell(streambuf.Absolute))
		m.mu.Unlock()
		target = &now
	}

	m.actions.InvokeAtOffset(*target, func(valid bool) {
		if !valid {
			return
		}
		m.closeNow()
	})
}

func (m *Manager) closeNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOpen = false
	m.writer.SetPolicy(streambuf.Nonblockable)
	m.bufferState = events.BufferNone
	m.overrunWarnReported = false
	closedAt := uint64(m.reader.Tell(streambuf.Absolute))
	m.emitEvent(events.SpeakerClosed, events.SpeakerClosedData{Offset: closedAt})
}

// LocalStop implements barge-in: invalidate every pending offset action,
// then close the speaker immediately.
func (m *Manager) LocalStop() {
	m.actions.InvalidateAll()
	m.closeNow()
}

// InvokeAtOffset exposes the shared offset-action queue to other
// components (e.g. the UX manager).
func (m *Manager) InvokeAtOffset(offset uint64, cb offsetaction.Callback) offsetaction.Handle {
	return m.actions.InvokeAtOffset(offset, cb)
}

// CancelOffsetAction cancels a previously scheduled action.
func (m *Manager) CancelOffsetAction(h offsetaction.Handle) {
	m.actions.Cancel(h)
}

// SetVolume schedules a volume action; without offset, effectively now
// (at the reader's current offset).
func (m *Manager) SetVolume(volume uint8, offset *uint64) {
	target := offset
	if target == nil {
		m.mu.Lock()
		now := uint64(m.reader.Tell(streambuf.Absolute))
		m.mu.Unlock()
		target = &now
	}
	at := *target
	m.actions.InvokeAtOffset(at, func(valid bool) {
		if !valid {
			return
		}
		m.applyVolume(volume, &at)
	})
}

// ApplyInitialVolume applies the boot volume (loaded from persistent
// storage or a default) at offset 0, suppressing the VolumeChanged event.
func (m *Manager) ApplyInitialVolume(volume uint8) {
	m.mu.Lock()
	m.volumeIsInitial = true
	m.mu.Unlock()
	m.applyVolume(volume, nil)
}

func (m *Manager) applyVolume(volume uint8, offset *uint64) {
	m.mu.Lock()
	if volume < m.minVolume {
		volume = m.minVolume
	}
	if volume > m.maxVolume {
		volume = m.maxVolume
	}
	unchanged := volume == m.volume
	m.volume = volume
	isOpen := m.isOpen
	suppressed := m.volumeIsInitial
	m.volumeIsInitial = false
	m.mu.Unlock()

	m.platform.SetVolume(volume)

	if unchanged || suppressed {
		return
	}
	if isOpen {
		m.emitEvent(events.VolumeChanged, events.VolumeChangedData{Volume: volume, Offset: offset})
	} else {
		m.emitEvent(events.VolumeChanged, events.VolumeChangedData{Volume: volume})
	}
}

// AdjustVolume applies a relative volume delta, clamped to [min, max],
// through the same path as SetVolume.
func (m *Manager) AdjustVolume(delta int) {
	m.mu.Lock()
	v := int(m.volume) + delta
	if v < int(m.minVolume) {
		v = int(m.minVolume)
	}
	if v > int(m.maxVolume) {
		v = int(m.maxVolume)
	}
	m.mu.Unlock()
	m.SetVolume(uint8(v), nil)
}

// IsOpen reports whether the speaker is currently open, for the UX and
// alert managers' priority decisions.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

// BufferState reports the current fill-level state for the alert
// manager's stuck-state detection.
func (m *Manager) BufferState() events.BufferState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bufferState
}
