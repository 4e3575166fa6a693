package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lokutor-ai/aia-client/pkg/aia/alertstore"
	"github.com/lokutor-ai/aia-client/pkg/aia/events"
	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
	"github.com/lokutor-ai/aia-client/pkg/aia/ux"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

type openSpeakerPayload struct {
	Offset uint64 `json:"offset"`
}

type closeSpeakerPayload struct {
	Offset *uint64 `json:"offset,omitempty"`
}

type setVolumePayload struct {
	Volume uint8   `json:"volume"`
	Offset *uint64 `json:"offset,omitempty"`
}

type adjustVolumePayload struct {
	Delta int `json:"delta"`
}

type openMicrophonePayload struct {
	TimeoutInMilliseconds uint32           `json:"timeoutInMilliseconds"`
	Initiator             *events.Initiator `json:"initiator,omitempty"`
}

type setAlertPayload struct {
	Token         string `json:"token"`
	ScheduledTime uint64 `json:"scheduledTime"`
	Duration      uint32 `json:"duration"`
	Type          uint8  `json:"type"`
}

type deleteAlertPayload struct {
	Token string `json:"token"`
}

type setAlertVolumePayload struct {
	Volume uint8 `json:"volume"`
}

type setAttentionStatePayload struct {
	State  string  `json:"state"`
	Offset *uint64 `json:"offset,omitempty"`
}

func parseToken(s string) (alertstore.Token, error) {
	var tok alertstore.Token
	raw, err := hex.DecodeString(s)
	if err != nil {
		return tok, fmt.Errorf("engine: decoding token %q: %w", s, err)
	}
	if len(raw) != len(tok) {
		return tok, fmt.Errorf("engine: token %q has wrong length %d", s, len(raw))
	}
	copy(tok[:], raw)
	return tok, nil
}

// handleDirectiveBody parses one directive-topic delivery (a JSON array of
// named messages) and dispatches each element in order. A malformed
// element is reported and skipped; the rest of the array still runs.
func (e *Engine) handleDirectiveBody(seq uint32, payload []byte) {
	elems, err := wire.ParseJSONArray("directives", payload)
	if err != nil {
		e.reportMalformed(topic.Directive, seq, nil)
		return
	}
	for i, raw := range elems {
		idx := i
		msg, err := wire.ParseMsg(raw)
		if err != nil {
			e.reportMalformed(topic.Directive, seq, &idx)
			continue
		}
		if err := e.dispatchDirective(msg); err != nil {
			e.reportMalformed(topic.Directive, seq, &idx)
		}
	}
}

func (e *Engine) dispatchDirective(msg wire.Msg) error {
	switch msg.Name {
	case "openSpeaker":
		var p openSpeakerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		e.speaker.OpenSpeaker(p.Offset)
		return nil

	case "closeSpeaker":
		var p closeSpeakerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		e.speaker.CloseSpeaker(p.Offset)
		return nil

	case "setVolume":
		var p setVolumePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		e.speaker.SetVolume(p.Volume, p.Offset)
		return nil

	case "adjustVolume":
		var p adjustVolumePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		e.speaker.AdjustVolume(p.Delta)
		return nil

	case "openMicrophone":
		var p openMicrophonePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		e.mic.OpenMicrophone(p.TimeoutInMilliseconds, p.Initiator)
		return nil

	case "closeMicrophone":
		e.mic.CloseMicrophone()
		return nil

	case "setAlert":
		var p setAlertPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		tok, err := parseToken(p.Token)
		if err != nil {
			return err
		}
		e.alert.SetAlert(tok, p.ScheduledTime, p.Duration, p.Type)
		return nil

	case "deleteAlert":
		var p deleteAlertPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		tok, err := parseToken(p.Token)
		if err != nil {
			return err
		}
		e.alert.DeleteAlert(tok)
		return nil

	case "setAlertVolume":
		var p setAlertVolumePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		e.alert.SetAlertVolume(p.Volume)
		return nil

	case "setAttentionState":
		var p setAttentionStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		e.ux.SetAttentionState(ux.AttentionState(p.State), p.Offset)
		return nil

	default:
		return fmt.Errorf("engine: unknown directive %q", msg.Name)
	}
}
