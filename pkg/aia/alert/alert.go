// Package alert implements the alert manager: the
// persistent alerts list, the offline-playback / disconnect decision
// loop, and expiration pruning.
package alert

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lokutor-ai/aia-client/pkg/aia/alertstore"
	"github.com/lokutor-ai/aia-client/pkg/aia/clock"
	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/ux"
)

// Persistence is the durable-storage collaborator. Satisfied by
// *alertstore.Store.
type Persistence interface {
	Load() ([]alertstore.Record, error)
	StoreAlert(rec alertstore.Record) error
	DeleteAlert(token alertstore.Token) error
}

// Platform is the offline-playback capability. Satisfied by the concrete
// device platform object in cmd/aia-client.
type Platform interface {
	PlayOfflineAlert(alert alertstore.Record, volume uint8) bool
	StopOfflineAlert() bool
}

// SpeakerStreaming reports whether the speaker is actively playing and its
// buffer health, used by the offline-check loop. Satisfied by
// *speaker.Manager.
type SpeakerStreaming interface {
	IsOpen() bool
	BufferState() events.BufferState
}

// UXController is the UX aggregation collaborator the offline loop both
// reads (to decide whether a voice-facing state is active) and drives
// (to push "alerting"). Satisfied by *ux.Manager.
type UXController interface {
	Current() events.UXState
	SetAttentionState(state ux.AttentionState, offset *uint64)
}

type snapshot struct {
	buffer events.BufferState
	ux     events.UXState
}

// Manager owns the alerts list and the offline-playback decision loop.
type Manager struct {
	mu sync.Mutex

	alerts   []alertstore.Record
	store    Persistence
	platform Platform
	speaker  SpeakerStreaming
	uxCtl    UXController
	clock    clock.Clock

	emit    func(events.Event)
	onError func(error)

	offlineAlertVolume  uint8
	expirationDuration  time.Duration
	offlineCheckCadence time.Duration

	timer    *time.Timer
	timerGen uint64
	lastSnap *snapshot
	playing  *alertstore.Token
}

// New loads the persisted alerts list and arms the offline-check timer
// for the earliest one.
func New(store Persistence, platform Platform, speaker SpeakerStreaming, uxCtl UXController, clk clock.Clock, emit func(events.Event), onError func(error), offlineAlertVolume uint8, expirationDuration, offlineCheckCadence time.Duration) (*Manager, error) {
	records, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("alert: loading persisted alerts: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ScheduledTime < records[j].ScheduledTime
	})

	m := &Manager{
		alerts:              records,
		store:               store,
		platform:            platform,
		speaker:             speaker,
		uxCtl:               uxCtl,
		clock:               clk,
		emit:                emit,
		onError:             onError,
		offlineAlertVolume:  offlineAlertVolume,
		expirationDuration:  expirationDuration,
		offlineCheckCadence: offlineCheckCadence,
	}
	m.mu.Lock()
	m.rearmTimerLocked()
	m.mu.Unlock()
	return m, nil
}

func (m *Manager) emitEvent(t events.Type, data interface{}) {
	if m.emit != nil {
		m.emit(events.Event{Type: t, Data: data})
	}
}

func (m *Manager) reportError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

func tokenString(t alertstore.Token) string { return hex.EncodeToString(t[:]) }

// SetAlert removes any prior entry with the same token, inserts the new
// one in scheduled-time order, and persists it. On persistence failure
// the in-memory list is rolled back and SetAlertFailed is emitted;
// otherwise SetAlertSucceeded is emitted and the offline-check timer is
// rearmed for the (possibly new) earliest alert.
func (m *Manager) SetAlert(token alertstore.Token, scheduledTime uint64, durationMs uint32, kind uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := append([]alertstore.Record(nil), m.alerts...)
	m.removeTokenLocked(token)
	rec := alertstore.Record{Token: token, ScheduledTime: scheduledTime, DurationMs: durationMs, Kind: kind}
	m.insertSortedLocked(rec)

	if err := m.store.StoreAlert(rec); err != nil {
		m.alerts = prev
		m.emitEvent(events.SetAlertFailed, events.SetAlertFailedData{Token: tokenString(token)})
		return
	}

	m.rearmTimerLocked()
	m.emitEvent(events.SetAlertSucceeded, events.SetAlertSucceededData{Token: tokenString(token)})
}

// DeleteAlert deletes the persistent record first; on failure
// DeleteAlertFailed is emitted and the in-memory list is left untouched.
// On success the in-memory entry is removed, the timer rearmed, and
// DeleteAlertSucceeded emitted.
func (m *Manager) DeleteAlert(token alertstore.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteAlert(token); err != nil {
		m.emitEvent(events.DeleteAlertFailed, events.DeleteAlertFailedData{Token: tokenString(token)})
		return
	}

	m.removeTokenLocked(token)
	m.rearmTimerLocked()
	m.emitEvent(events.DeleteAlertSucceeded, events.DeleteAlertSucceededData{Token: tokenString(token)})
}

// SetAlertVolume updates the offline-alert playback volume.
func (m *Manager) SetAlertVolume(volume uint8) {
	m.mu.Lock()
	m.offlineAlertVolume = volume
	m.mu.Unlock()
	m.emitEvent(events.AlertVolumeChanged, events.AlertVolumeChangedData{Volume: volume})
}

func (m *Manager) removeTokenLocked(token alertstore.Token) {
	out := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Token != token {
			out = append(out, a)
		}
	}
	m.alerts = out
}

func (m *Manager) insertSortedLocked(rec alertstore.Record) {
	m.alerts = append(m.alerts, rec)
	sort.SliceStable(m.alerts, func(i, j int) bool {
		return m.alerts[i].ScheduledTime < m.alerts[j].ScheduledTime
	})
}

// pruneExpiredLocked removes, in memory and in storage, any alert more
// than expirationDuration in the past.
func (m *Manager) pruneExpiredLocked() {
	if len(m.alerts) == 0 {
		return
	}
	nowS := m.clock.NTPEpochSeconds()
	cutoff := uint64(m.expirationDuration / time.Second)

	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if nowS > a.ScheduledTime && nowS-a.ScheduledTime > cutoff {
			if err := m.store.DeleteAlert(a.Token); err != nil {
				m.reportError(fmt.Errorf("alert: pruning expired token %s: %w", tokenString(a.Token), err))
			}
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
}

func (m *Manager) delayUntilLocked(scheduledTime uint64) time.Duration {
	nowS := m.clock.NTPEpochSeconds()
	if scheduledTime <= nowS {
		return 0
	}
	return time.Duration(scheduledTime-nowS) * time.Second
}

// rearmTimerLocked cancels any pending timer and arms a new one for the
// earliest alert's scheduled time, invalidating any in-flight fixed-
// cadence checks from a prior arm cycle.
func (m *Manager) rearmTimerLocked() {
	m.timerGen++
	gen := m.timerGen
	if m.timer != nil {
		m.timer.Stop()
	}
	if len(m.alerts) == 0 {
		m.timer = nil
		return
	}
	delay := m.delayUntilLocked(m.alerts[0].ScheduledTime)
	m.timer = time.AfterFunc(delay, func() { m.onTimerFire(gen) })
}

// onTimerFire runs one offline-check inspection, then re-arms itself at
// the fixed offline-check cadence until superseded by a list mutation.
func (m *Manager) onTimerFire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.timerGen {
		return
	}
	m.pruneExpiredLocked()
	m.checkLocked()
	m.timer = time.AfterFunc(m.offlineCheckCadence, func() { m.onTimerFire(gen) })
}

func isVoiceFacing(state events.UXState) bool {
	return state == events.UXListening || state == events.UXSpeaking || state == events.UXThinking
}

// checkLocked implements the offline-playback / disconnect decision.
func (m *Manager) checkLocked() {
	streaming := m.speaker.IsOpen()
	current := m.uxCtl.Current()

	if !streaming && !isVoiceFacing(current) {
		m.lastSnap = nil
		if len(m.alerts) == 0 {
			return
		}
		next := m.alerts[0]
		if m.platform.PlayOfflineAlert(next, m.offlineAlertVolume) {
			tok := next.Token
			m.playing = &tok
			m.uxCtl.SetAttentionState(ux.AttentionAlerting, nil)
		}
		return
	}

	if m.playing != nil {
		m.platform.StopOfflineAlert()
		m.playing = nil
	}

	snap := snapshot{buffer: m.speaker.BufferState(), ux: current}
	stuck := m.lastSnap != nil && *m.lastSnap == snap &&
		(snap.buffer == events.BufferUnderrun || snap.ux == events.UXAlerting)
	if stuck {
		m.emitEvent(events.DisconnectRequested, events.DisconnectRequestedData{Cause: "going-offline"})
	}
	m.lastSnap = &snap
}

// Stop halts the offline-check timer, for connection teardown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
	}
}
