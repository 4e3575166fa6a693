package engine

import (
	"encoding/json"

	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

// handleCapabilitiesAckBody parses a capabilities-ack delivery and hands
// each element to the capabilities sender for re-emission.
func (e *Engine) handleCapabilitiesAckBody(seq uint32, payload []byte) {
	elems, err := wire.ParseJSONArray("capabilities", payload)
	if err != nil {
		e.reportMalformed(topic.CapabilitiesAck, seq, nil)
		return
	}
	for i, raw := range elems {
		idx := i
		msg, err := wire.ParseMsg(raw)
		if err != nil {
			e.reportMalformed(topic.CapabilitiesAck, seq, &idx)
			continue
		}
		e.capsSender.HandleAck(msg.Name, msg.Payload)
	}
}

type clockSyncPayload struct {
	EpochSeconds uint64 `json:"epochSeconds"`
}

// handleConnectionFromServiceBody parses a connection-from-service
// delivery. Today the only recognized message is the clock-sync reply
// completing a round trip started by ClockManager.RequestSync; any other
// message name is re-emitted verbatim as an engine event for the caller
// to interpret.
func (e *Engine) handleConnectionFromServiceBody(seq uint32, payload []byte) {
	elems, err := wire.ParseJSONArray("events", payload)
	if err != nil {
		e.reportMalformed(topic.ConnectionFromService, seq, nil)
		return
	}
	for i, raw := range elems {
		idx := i
		msg, err := wire.ParseMsg(raw)
		if err != nil {
			e.reportMalformed(topic.ConnectionFromService, seq, &idx)
			continue
		}

		switch msg.Name {
		case "synchronizeClock":
			var p clockSyncPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				e.reportMalformed(topic.ConnectionFromService, seq, &idx)
				continue
			}
			e.clockMgr.ApplyEpoch(p.EpochSeconds)
		default:
			e.emit(events.Event{Type: events.Type(msg.Name), Data: msg.Payload})
		}
	}
}
