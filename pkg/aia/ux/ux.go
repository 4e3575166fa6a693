// Package ux implements the UX manager: it aggregates
// the attention state received from the service and the microphone's
// open/closed state into a single reported UX state, with microphone
// "listening" taking strict priority over whatever attention state is in
// effect.
package ux

import (
	"sync"

	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/offsetaction"
)

// AttentionState is the service-reported state this manager aggregates
// with microphone openness. It excludes "listening", which is derived
// locally rather than reported by the service.
type AttentionState string

const (
	AttentionIdle                  AttentionState = "idle"
	AttentionThinking              AttentionState = "thinking"
	AttentionSpeaking              AttentionState = "speaking"
	AttentionAlerting              AttentionState = "alerting"
	AttentionNotificationAvailable AttentionState = "notification-available"
	AttentionDoNotDisturb          AttentionState = "do-not-disturb"
)

func (s AttentionState) toUXState() events.UXState {
	switch s {
	case AttentionThinking:
		return events.UXThinking
	case AttentionSpeaking:
		return events.UXSpeaking
	case AttentionAlerting:
		return events.UXAlerting
	case AttentionNotificationAvailable:
		return events.UXNotificationAvailable
	case AttentionDoNotDisturb:
		return events.UXDoNotDisturb
	default:
		return events.UXIdle
	}
}

// Scheduler is the offset-action collaborator an offset-qualified
// SetAttentionState schedules against. Satisfied by *speaker.Manager.
type Scheduler interface {
	InvokeAtOffset(offset uint64, cb offsetaction.Callback) offsetaction.Handle
}

// Manager owns the attention/microphone aggregation and reports the
// recomputed UX state to an observer on every change.
type Manager struct {
	mu sync.Mutex

	attention      AttentionState
	microphoneOpen bool
	current        events.UXState
	scheduler      Scheduler
	observe        func(events.UXState)
}

// New returns a manager reporting the idle state, with no microphone open.
func New(scheduler Scheduler, observe func(events.UXState)) *Manager {
	m := &Manager{
		attention: AttentionIdle,
		scheduler: scheduler,
		observe:   observe,
		current:   events.UXIdle,
	}
	return m
}

// recomputeLocked applies the strict-priority aggregation rule and, if the
// result changed, reports it to the observer.
func (m *Manager) recomputeLocked() {
	var next events.UXState
	if m.microphoneOpen {
		next = events.UXListening
	} else {
		next = m.attention.toUXState()
	}
	if next == m.current {
		return
	}
	m.current = next
	if m.observe != nil {
		m.observe(next)
	}
}

// SetMicrophoneState updates the aggregation's microphone input, to be
// called whenever the microphone manager opens or closes.
func (m *Manager) SetMicrophoneState(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.microphoneOpen = open
	m.recomputeLocked()
}

// SetAttentionState applies state immediately when offset is nil;
// otherwise it schedules the application via the speaker manager's
// offset-action queue, applying only if the action fires valid (i.e. is
// not invalidated by an intervening barge-in).
func (m *Manager) SetAttentionState(state AttentionState, offset *uint64) {
	if offset == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.attention = state
		m.recomputeLocked()
		return
	}

	m.scheduler.InvokeAtOffset(*offset, func(valid bool) {
		if !valid {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.attention = state
		m.recomputeLocked()
	})
}

// Current returns the last-reported aggregate UX state.
func (m *Manager) Current() events.UXState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
