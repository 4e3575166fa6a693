package alert

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/aia-client/pkg/aia/alertstore"
	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/ux"
)

type fakeClock struct {
	mu     sync.Mutex
	epochS uint64
}

func (c *fakeClock) NTPEpochSeconds() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochS
}
func (c *fakeClock) MonotonicMillis() uint64    { return 0 }
func (c *fakeClock) SetNTPEpochSeconds(s uint64) { c.mu.Lock(); c.epochS = s; c.mu.Unlock() }

type fakeStore struct {
	mu       sync.Mutex
	records  map[alertstore.Token]alertstore.Record
	failNext bool
}

func newFakeStore() *fakeStore { return &fakeStore{records: map[alertstore.Token]alertstore.Record{}} }

func (s *fakeStore) Load() ([]alertstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alertstore.Record
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) StoreAlert(rec alertstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("store failed")
	}
	s.records[rec.Token] = rec
	return nil
}

func (s *fakeStore) DeleteAlert(token alertstore.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("delete failed")
	}
	delete(s.records, token)
	return nil
}

type fakePlatform struct {
	mu         sync.Mutex
	played     []alertstore.Record
	accept     bool
	stopCalled int
}

func (p *fakePlatform) PlayOfflineAlert(a alertstore.Record, volume uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accept {
		return false
	}
	p.played = append(p.played, a)
	return true
}

func (p *fakePlatform) StopOfflineAlert() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalled++
	return true
}

type fakeSpeaker struct {
	mu     sync.Mutex
	open   bool
	buffer events.BufferState
}

func (s *fakeSpeaker) IsOpen() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.open }
func (s *fakeSpeaker) BufferState() events.BufferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

type fakeUX struct {
	mu      sync.Mutex
	current events.UXState
	pushed  []ux.AttentionState
}

func (u *fakeUX) Current() events.UXState { u.mu.Lock(); defer u.mu.Unlock(); return u.current }
func (u *fakeUX) SetAttentionState(state ux.AttentionState, offset *uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pushed = append(u.pushed, state)
	if state == ux.AttentionAlerting {
		u.current = events.UXAlerting
	}
}

func tok(b byte) alertstore.Token {
	var t alertstore.Token
	for i := range t {
		t[i] = b
	}
	return t
}

func newTestManager(t *testing.T) (*Manager, *fakeStore, *fakePlatform, *fakeSpeaker, *fakeUX, *fakeClock, *[]events.Event) {
	t.Helper()
	store := newFakeStore()
	plat := &fakePlatform{accept: true}
	spk := &fakeSpeaker{}
	uxc := &fakeUX{current: events.UXIdle}
	clk := &fakeClock{epochS: 1000}

	var got []events.Event
	var mu sync.Mutex
	emit := func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	}

	m, err := New(store, plat, spk, uxc, clk, emit, nil, 50, 24*time.Hour, time.Hour)
	require.NoError(t, err)
	// Cancel the timer New armed. SetAlert rearms it, so tests that drive
	// checkLocked directly schedule alerts the timer cannot reach in time.
	m.Stop()
	return m, store, plat, spk, uxc, clk, &got
}

func TestSetAlertPersistsAndEmitsSucceeded(t *testing.T) {
	m, store, _, _, _, _, got := newTestManager(t)

	m.SetAlert(tok(1), 2000, 5000, 1)

	require.Len(t, m.alerts, 1)
	_, ok := store.records[tok(1)]
	require.True(t, ok)

	found := false
	for _, e := range *got {
		if e.Type == events.SetAlertSucceeded {
			found = true
		}
	}
	require.True(t, found)
}

func TestSetAlertRollsBackOnStoreFailure(t *testing.T) {
	m, store, _, _, _, _, got := newTestManager(t)
	store.failNext = true

	m.SetAlert(tok(2), 2000, 5000, 1)

	require.Len(t, m.alerts, 0)
	found := false
	for _, e := range *got {
		if e.Type == events.SetAlertFailed {
			found = true
		}
	}
	require.True(t, found)
}

func TestSetAlertReplacesSameToken(t *testing.T) {
	m, _, _, _, _, _, _ := newTestManager(t)
	m.SetAlert(tok(3), 2000, 5000, 1)
	m.SetAlert(tok(3), 9000, 1000, 2)

	require.Len(t, m.alerts, 1)
	require.Equal(t, uint64(9000), m.alerts[0].ScheduledTime)
}

func TestDeleteAlertSucceedsAndFails(t *testing.T) {
	m, store, _, _, _, _, got := newTestManager(t)
	m.SetAlert(tok(4), 2000, 5000, 1)

	store.failNext = true
	m.DeleteAlert(tok(4))
	require.Len(t, m.alerts, 1) // failed delete leaves it in place

	m.DeleteAlert(tok(4))
	require.Len(t, m.alerts, 0)

	var failed, succeeded bool
	for _, e := range *got {
		switch e.Type {
		case events.DeleteAlertFailed:
			failed = true
		case events.DeleteAlertSucceeded:
			succeeded = true
		}
	}
	require.True(t, failed)
	require.True(t, succeeded)
}

func TestSetAlertVolumeEmitsChange(t *testing.T) {
	m, _, _, _, _, _, got := newTestManager(t)
	m.SetAlertVolume(80)

	found := false
	for _, e := range *got {
		if e.Type == events.AlertVolumeChanged {
			found = true
			require.Equal(t, uint8(80), e.Data.(events.AlertVolumeChangedData).Volume)
		}
	}
	require.True(t, found)
}

func TestCheckPlaysEarliestAlertWhenIdleAndNotStreaming(t *testing.T) {
	m, _, plat, _, uxc, clk, _ := newTestManager(t)
	// Schedule while the clock reads 0 so SetAlert's rearmed timer is 500s
	// out, then move the clock to 1000, where the alert is already due.
	clk.SetNTPEpochSeconds(0)
	m.SetAlert(tok(5), 500, 1000, 0)
	clk.SetNTPEpochSeconds(1000)

	m.mu.Lock()
	m.checkLocked()
	m.mu.Unlock()

	require.Len(t, plat.played, 1)
	require.Equal(t, tok(5), plat.played[0].Token)
	require.Contains(t, uxc.pushed, ux.AttentionAlerting)
}

func TestCheckRequestsDisconnectAfterTwoStuckChecks(t *testing.T) {
	m, _, _, spk, _, _, got := newTestManager(t)
	spk.open = true
	spk.buffer = events.BufferUnderrun

	m.mu.Lock()
	m.checkLocked()
	m.checkLocked()
	m.mu.Unlock()

	found := false
	for _, e := range *got {
		if e.Type == events.DisconnectRequested {
			found = true
			require.Equal(t, "going-offline", e.Data.(events.DisconnectRequestedData).Cause)
		}
	}
	require.True(t, found)
}

func TestCheckDoesNotDisconnectWhenStateChangesBetweenChecks(t *testing.T) {
	m, _, _, spk, _, _, got := newTestManager(t)
	spk.open = true
	spk.buffer = events.BufferUnderrun

	m.mu.Lock()
	m.checkLocked()
	spk.buffer = events.BufferNone
	m.checkLocked()
	m.mu.Unlock()

	for _, e := range *got {
		require.NotEqual(t, events.DisconnectRequested, e.Type)
	}
}

func TestPruneExpiredRemovesOldAlerts(t *testing.T) {
	m, store, _, _, _, clk, _ := newTestManager(t)
	m.SetAlert(tok(6), 10, 1000, 0) // far in the past relative to epoch 1000

	clk.SetNTPEpochSeconds(1000 + 24*3600 + 10)
	m.mu.Lock()
	m.pruneExpiredLocked()
	m.mu.Unlock()

	require.Len(t, m.alerts, 0)
	_, ok := store.records[tok(6)]
	require.False(t, ok)
}
