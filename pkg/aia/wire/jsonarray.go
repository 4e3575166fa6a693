package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// Msg is one element of a JSON-array topic body:
// {"name": string, "messageId": string?, "payload": object}.
type Msg struct {
	Name      string          `json:"name"`
	MessageID string          `json:"messageId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// EncodeMsg serializes a single message to the bytes a producer hands to
// the regulator as one chunk.
func EncodeMsg(m Msg) ([]byte, error) {
	return json.Marshal(m)
}

// ParseJSONArray walks {"<arrayName>":[<msg>,...]} using a slice-returning
// JSON value finder (jsonparser) rather than a full unmarshal, and returns
// each element's raw bytes in array order. The directive topic relies on
// this order to report an error index.
func ParseJSONArray(arrayName string, body []byte) ([][]byte, error) {
	var elems [][]byte
	var walkErr error

	value, dataType, _, err := jsonparser.Get(body, arrayName)
	if err != nil {
		return nil, fmt.Errorf("wire: missing array %q: %w", arrayName, err)
	}
	if dataType != jsonparser.Array {
		return nil, fmt.Errorf("wire: %q is not an array", arrayName)
	}

	_, err = jsonparser.ArrayEach(value, func(entry []byte, dt jsonparser.ValueType, offset int, e error) {
		if e != nil {
			walkErr = e
			return
		}
		if dt != jsonparser.Object {
			walkErr = fmt.Errorf("wire: array element %d is not an object", len(elems))
			return
		}
		// jsonparser.ArrayEach hands back an object element including its
		// surrounding braces, so the copy is a complete value for ParseMsg.
		elems = append(elems, append([]byte(nil), entry...))
	})
	if err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return elems, nil
}

// ParseMsg extracts name/messageId/payload out of one array element using
// the same slice-returning finder, without a full unmarshal.
func ParseMsg(elem []byte) (Msg, error) {
	name, err := jsonparser.GetString(elem, "name")
	if err != nil {
		return Msg{}, fmt.Errorf("wire: message missing name: %w", err)
	}
	msgID, _ := jsonparser.GetString(elem, "messageId")
	payload, dt, _, err := jsonparser.Get(elem, "payload")
	if err != nil {
		return Msg{}, fmt.Errorf("wire: message %q missing payload: %w", name, err)
	}
	if dt != jsonparser.Object && dt != jsonparser.Array {
		return Msg{}, fmt.Errorf("wire: message %q payload is not an object", name)
	}
	return Msg{Name: name, MessageID: msgID, Payload: append(json.RawMessage(nil), payload...)}, nil
}

// BuildJSONArrayBody assembles {"<arrayName>":[chunk1,chunk2,...]} by byte
// concatenation, exactly as the emitter does for an outbound message:
// preallocate wrapper + Σ chunk sizes + (N-1) commas, then append chunks
// verbatim.
func BuildJSONArrayBody(arrayName string, chunks [][]byte) []byte {
	prefix := `{"` + arrayName + `":[`
	suffix := "]}"

	total := len(prefix) + len(suffix)
	for i, c := range chunks {
		total += len(c)
		if i > 0 {
			total++ // comma
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, total))
	buf.WriteString(prefix)
	for i, c := range chunks {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(c)
	}
	buf.WriteString(suffix)
	return buf.Bytes()
}
