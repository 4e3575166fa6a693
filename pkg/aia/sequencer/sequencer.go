// Package sequencer implements per-topic in-order delivery over an
// unreliable, out-of-order transport.
package sequencer

import (
	"sync"
	"time"
)

// Result is the outcome of a Write call.
type Result int

const (
	ResultOK Result = iota
	ResultOld
	ResultBuffered
	ResultDropped
)

// Handler receives payloads in strictly increasing sequence order. It owns
// the payload bytes after this call returns.
type Handler func(seq uint32, payload []byte)

// TimeoutFunc is invoked when the missing-message timer expires while the
// sequencer is still waiting for a gap to fill. The owning component
// decides whether to disconnect, reset, or emit an exception.
type TimeoutFunc func()

// Sequencer reorders inbound messages for a single topic and delivers them
// to Handler strictly in order, tolerating up to maxSlots of reordering.
type Sequencer struct {
	mu sync.Mutex

	nextExpected uint32
	maxSlots     int
	slots        []slot

	sequenceTimeoutMS int
	timer             *time.Timer
	waiting           bool

	handler   Handler
	onTimeout TimeoutFunc
}

type slot struct {
	occupied bool
	seq      uint32
	payload  []byte
}

// New creates a sequencer expecting firstExpected next, with a reorder
// window of maxSlots and a one-shot missing-message timeout of
// sequenceTimeoutMS (0 disables the timer).
func New(firstExpected uint32, maxSlots int, sequenceTimeoutMS int, handler Handler, onTimeout TimeoutFunc) *Sequencer {
	s := &Sequencer{
		nextExpected:      firstExpected,
		maxSlots:          maxSlots,
		slots:             make([]slot, maxSlots),
		sequenceTimeoutMS: sequenceTimeoutMS,
		onTimeout:         onTimeout,
	}
	// The handler is always invoked with s.mu held; it runs with the lock
	// released so it can call ResetSequenceNumber on this same sequencer.
	s.handler = func(seq uint32, payload []byte) {
		s.mu.Unlock()
		defer s.mu.Lock()
		handler(seq, payload)
	}
	return s
}

// distance computes the forward (incoming - expected) and backward
// (2^32 - forward) modular distances. The wrap rule: the smaller distance
// decides old-vs-future; ties favor future.
func distance(incoming, expected uint32) (forward, backward uint32) {
	forward = incoming - expected
	backward = ^forward + 1 // 2^32 - forward, computed via two's complement
	return forward, backward
}

func isFuture(incoming, expected uint32) bool {
	forward, backward := distance(incoming, expected)
	return forward <= backward
}

// Write delivers or buffers one inbound message. seq is already extracted
// by the caller, since the on-wire framing differs by topic (handler-
// specific extraction lives in the dispatcher, not here).
func (s *Sequencer) Write(seq uint32, payload []byte) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(seq, payload)
}

func (s *Sequencer) writeLocked(seq uint32, payload []byte) Result {
	if seq == s.nextExpected {
		return s.deliverInOrderLocked(seq, payload)
	}

	if !isFuture(seq, s.nextExpected) {
		return ResultOld
	}

	forward, _ := distance(seq, s.nextExpected)
	idx := int(forward) - 1
	if idx < 0 || idx >= s.maxSlots {
		// Out of window: drop silently, rely on the missing-message timer.
		return ResultDropped
	}

	s.slots[idx] = slot{occupied: true, seq: seq, payload: payload}
	s.armTimerLocked()
	return ResultBuffered
}

// deliverInOrderLocked increments nextExpected *before* invoking the
// handler so a re-entrant ResetSequenceNumber call from inside the handler
// survives, then drains any buffered slots
// that are now in order.
func (s *Sequencer) deliverInOrderLocked(seq uint32, payload []byte) Result {
	s.nextExpected = seq + 1
	s.handler(seq, payload)

	s.drainLocked()
	return ResultOK
}

// drainLocked delivers buffered slots in order while slot 0 is occupied and
// matches nextExpected, then shifts the window down.
func (s *Sequencer) drainLocked() {
	for s.maxSlots > 0 && s.slots[0].occupied && s.slots[0].seq == s.nextExpected {
		delivered := s.slots[0]
		copy(s.slots, s.slots[1:])
		s.slots[s.maxSlots-1] = slot{}

		s.nextExpected = delivered.seq + 1
		s.handler(delivered.seq, delivered.payload)
	}

	if s.hasBufferedLocked() {
		s.armTimerLocked()
	} else {
		s.disarmTimerLocked()
		s.waiting = false
	}
}

func (s *Sequencer) hasBufferedLocked() bool {
	for _, sl := range s.slots {
		if sl.occupied {
			return true
		}
	}
	return false
}

func (s *Sequencer) armTimerLocked() {
	if s.sequenceTimeoutMS <= 0 {
		return
	}
	s.waiting = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(time.Duration(s.sequenceTimeoutMS)*time.Millisecond, s.onTimerFire)
}

func (s *Sequencer) disarmTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Sequencer) onTimerFire() {
	s.mu.Lock()
	stillWaiting := s.waiting
	cb := s.onTimeout
	s.mu.Unlock()

	if stillWaiting && cb != nil {
		cb()
	}
}

// ResetSequenceNumber sets nextExpected without touching buffered slots
// (used by the speaker manager after an overrun to demand a redrive). Safe
// to call re-entrantly from within Handler.
func (s *Sequencer) ResetSequenceNumber(newExpected uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExpected = newExpected
}

// NextExpected returns the next sequence number the sequencer will accept
// in order.
func (s *Sequencer) NextExpected() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextExpected
}

// Destroy cancels the missing-message timer and frees buffered slot
// payloads.
func (s *Sequencer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmTimerLocked()
	for i := range s.slots {
		s.slots[i] = slot{}
	}
	s.waiting = false
}
