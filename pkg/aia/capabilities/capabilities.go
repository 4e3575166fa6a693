// Package capabilities implements three outbound producers that sit
// alongside the speaker/microphone/UX/alert managers but carry no fixed
// payload shape of their own: the capabilities sender, the clock manager,
// and the button sender. Each assembles one JSON-array message per call
// and pushes it to its topic's regulator, exactly like every other
// producer in this package family.
package capabilities

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lokutor-ai/aia-client/pkg/aia/clock"
	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/regulator"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

// Outbound is the producer-facing collaborator every sender pushes its
// assembled message through. Satisfied by *regulator.Regulator.
type Outbound interface {
	Write(c regulator.Chunk)
}

func writeMsg(out Outbound, name string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("capabilities: marshaling %s payload: %w", name, err)
	}
	data, err := wire.EncodeMsg(wire.Msg{Name: name, Payload: raw})
	if err != nil {
		return fmt.Errorf("capabilities: encoding %s message: %w", name, err)
	}
	out.Write(regulator.Chunk{Data: data})
	return nil
}

// CapabilitiesSender publishes the device's supported capability names on
// the capabilities topic and reports the service's acknowledgement.
type CapabilitiesSender struct {
	mu   sync.Mutex
	out  Outbound
	emit func(events.Event)
}

// NewCapabilitiesSender returns a sender that pushes onto out.
func NewCapabilitiesSender(out Outbound, emit func(events.Event)) *CapabilitiesSender {
	return &CapabilitiesSender{out: out, emit: emit}
}

// SendCapabilities publishes the device's supported capability names.
func (s *CapabilitiesSender) SendCapabilities(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeMsg(s.out, "capabilities", struct {
		Capabilities []string `json:"capabilities"`
	}{Capabilities: names})
}

// HandleAck processes one decoded capabilities-ack element. Its payload
// shape is a service-defined negotiation detail left
// unspecified; this simply re-emits it as an EngineEvent for the caller to
// interpret.
func (s *CapabilitiesSender) HandleAck(name string, payload json.RawMessage) {
	if s.emit == nil {
		return
	}
	s.emit(events.Event{Type: events.Type(name), Data: payload})
}

// ClockManager requests and applies clock synchronization with the
// service, backed by the platform clock collaborator.
type ClockManager struct {
	mu    sync.Mutex
	out   Outbound
	clock clock.Clock
	emit  func(events.Event)
}

// NewClockManager returns a clock manager that requests sync messages on
// out and applies resync results to clk.
func NewClockManager(out Outbound, clk clock.Clock, emit func(events.Event)) *ClockManager {
	return &ClockManager{out: out, clock: clk, emit: emit}
}

// RequestSync publishes a SynchronizeClock request and emits the local
// SynchronizeClock{} event recording that a round trip is in flight.
func (c *ClockManager) RequestSync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeMsg(c.out, "synchronizeClock", struct{}{}); err != nil {
		return err
	}
	if c.emit != nil {
		c.emit(events.Event{Type: events.SynchronizeClock, Data: nil})
	}
	return nil
}

// ApplyEpoch applies a service-reported NTP epoch, completing a sync
// round trip begun by RequestSync.
func (c *ClockManager) ApplyEpoch(epochSeconds uint64) {
	c.clock.SetNTPEpochSeconds(epochSeconds)
}

// ButtonSender publishes physical button-press events on its outbound
// topic.
type ButtonSender struct {
	mu  sync.Mutex
	out Outbound
}

// NewButtonSender returns a sender that pushes onto out.
func NewButtonSender(out Outbound) *ButtonSender {
	return &ButtonSender{out: out}
}

// SendButtonPress publishes that button was pressed.
func (b *ButtonSender) SendButtonPress(button string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeMsg(b.out, "buttonPress", struct {
		Button string `json:"button"`
	}{Button: button})
}
