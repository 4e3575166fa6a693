// Package topic defines the closed set of AIA named channels and their
// wire kinds.
package topic

// Topic is a closed enumeration of the named channels the engine exchanges
// messages over. Each has its own sequence-number space, key schedule, and
// kind.
type Topic string

const (
	Directive             Topic = "directive"
	Event                 Topic = "event"
	Capabilities          Topic = "capabilities"
	CapabilitiesAck       Topic = "capabilities-ack"
	Microphone            Topic = "microphone"
	Speaker               Topic = "speaker"
	ConnectionFromService Topic = "connection-from-service"
	ConnectionFromClient  Topic = "connection-from-client"
)

// Kind identifies how a topic's payload is framed after decryption.
type Kind int

const (
	KindJSONArray Kind = iota
	KindBinary
)

// Info describes the fixed properties of a topic: its wire kind and, for
// JSON-array topics, the name of the array wrapper key.
type Info struct {
	Kind      Kind
	ArrayName string
	Inbound   bool
	Outbound  bool
}

// registry is the closed table of topic properties. It is never mutated at
// runtime; topics outside this table are a programmer error, not a runtime
// condition.
var registry = map[Topic]Info{
	Directive:             {Kind: KindJSONArray, ArrayName: "directives", Inbound: true},
	Event:                 {Kind: KindJSONArray, ArrayName: "events", Outbound: true},
	Capabilities:          {Kind: KindJSONArray, ArrayName: "capabilities", Outbound: true},
	CapabilitiesAck:       {Kind: KindJSONArray, ArrayName: "capabilities", Inbound: true},
	Microphone:            {Kind: KindBinary, Outbound: true},
	Speaker:               {Kind: KindBinary, Inbound: true},
	ConnectionFromService: {Kind: KindJSONArray, ArrayName: "events", Inbound: true},
	ConnectionFromClient:  {Kind: KindJSONArray, ArrayName: "events", Outbound: true},
}

// Lookup returns the wire info for a topic and whether it is known.
func Lookup(t Topic) (Info, bool) {
	info, ok := registry[t]
	return info, ok
}

// WireName returns the on-the-wire topic name, which today is simply the
// topic's string value.
func (t Topic) WireName() string {
	return string(t)
}

// PublishPath builds the full broker path for an outbound publish:
// <deviceTopicRoot><topicName>.
func PublishPath(deviceTopicRoot string, t Topic) string {
	return deviceTopicRoot + t.WireName()
}
