// Package regulator implements the per-topic outbound cadence and message
// assembly: producers push chunks, a ticking
// regulator flushes them to an emitter that assembles, signs, and publishes
// exactly one MQTT-level message at a time for its topic.
package regulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/aia-client/pkg/aia/crypto"
	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

// Publisher is the broker collaborator the emitter hands finished messages
// to. It is satisfied by pkg/aia/transport's MQTT client.
type Publisher interface {
	Publish(publishPath string, payload []byte) error
}

// Chunk is one producer-supplied unit of an in-progress message.
// RemainingBytes is the count of payload bytes still to come *after* this
// chunk (0 marks end-of-message); RemainingChunks is the count of chunks
// still to come after this one.
type Chunk struct {
	Data            []byte
	RemainingBytes  int
	RemainingChunks int
}

// Regulator queues chunks for a single topic and flushes them to its
// Emitter on a fixed cadence.
type Regulator struct {
	mu      sync.Mutex
	queue   []Chunk
	emitter *Emitter
	period  time.Duration

	stop chan struct{}
	once sync.Once
}

// New creates a regulator that ticks every period and flushes into emitter.
// Call Start to begin ticking and Stop to halt it.
func New(emitter *Emitter, period time.Duration) *Regulator {
	return &Regulator{
		emitter: emitter,
		period:  period,
		stop:    make(chan struct{}),
	}
}

// Write enqueues one chunk. Thread-safe; callers from any goroutine may
// push chunks belonging to the same in-progress message.
func (r *Regulator) Write(c Chunk) {
	r.mu.Lock()
	r.queue = append(r.queue, c)
	r.mu.Unlock()
}

// Start runs the regulator's tick loop until Stop is called. Intended to be
// run in its own goroutine.
func (r *Regulator) Start() {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			return
		}
	}
}

// Stop halts the tick loop. Safe to call more than once.
func (r *Regulator) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// flush drains the queue and forwards every chunk to the emitter in order.
// The emitter call is made outside the queue lock so a slow publish never
// blocks producers from enqueueing the next message's chunks.
func (r *Regulator) flush() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, c := range pending {
		r.emitter.emit(c.Data, c.RemainingBytes, c.RemainingChunks)
	}
}

// Emitter assembles one MQTT-level message at a time for its topic: a
// JSON-array wrapper or a raw binary concatenation, followed by sequence
// witnessing, AEAD sealing, header construction, and a QoS-0 publish.
type Emitter struct {
	mu sync.Mutex

	topic           topic.Topic
	deviceTopicRoot string
	maxMessageBytes int
	secrets         *crypto.SecretManager
	publisher       Publisher
	nextSeq         uint32
	onError         func(error)

	inFlightChunks [][]byte
}

// NewEmitter builds an emitter for one outbound topic.
func NewEmitter(t topic.Topic, deviceTopicRoot string, maxMessageBytes int, secrets *crypto.SecretManager, publisher Publisher, firstSeq uint32, onError func(error)) *Emitter {
	return &Emitter{
		topic:           t,
		deviceTopicRoot: deviceTopicRoot,
		maxMessageBytes: maxMessageBytes,
		secrets:         secrets,
		publisher:       publisher,
		nextSeq:         firstSeq,
		onError:         onError,
	}
}

// emit accumulates one chunk of the in-progress message and, at
// end-of-message (remainingBytes == 0), assembles, seals, and publishes it.
// Exactly one message is in flight per topic: the regulator serializes
// calls into emit, so this method does not itself need to block producers.
func (e *Emitter) emit(chunk []byte, remainingBytes, remainingChunks int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inFlightChunks = append(e.inFlightChunks, chunk)

	if remainingBytes != 0 {
		return
	}

	chunks := e.inFlightChunks
	e.inFlightChunks = nil

	body, err := e.assembleLocked(chunks)
	if err != nil {
		e.reportLocked(err)
		return
	}
	if e.maxMessageBytes > 0 && len(body) > e.maxMessageBytes {
		e.reportLocked(fmt.Errorf("regulator: message for topic %q exceeds max size (%d > %d)", e.topic, len(body), e.maxMessageBytes))
		return
	}

	seq := e.nextSeq
	sealed, err := e.sealLocked(seq, body)
	if err != nil {
		e.reportLocked(err)
		return
	}

	path := topic.PublishPath(e.deviceTopicRoot, e.topic)
	if err := e.publisher.Publish(path, sealed); err != nil {
		e.reportLocked(err)
		return
	}

	e.nextSeq = seq + 1
}

// assembleLocked builds the plaintext body for the topic's wire kind:
// {"<arrayName>":[chunk,...]} for JSON-array topics, or a verbatim
// concatenation for binary topics.
func (e *Emitter) assembleLocked(chunks [][]byte) ([]byte, error) {
	info, ok := topic.Lookup(e.topic)
	if !ok {
		return nil, fmt.Errorf("regulator: unknown topic %q", e.topic)
	}

	switch info.Kind {
	case topic.KindJSONArray:
		return wire.BuildJSONArrayBody(info.ArrayName, chunks), nil
	case topic.KindBinary:
		total := 0
		for _, c := range chunks {
			total += len(c)
		}
		body := make([]byte, 0, total)
		for _, c := range chunks {
			body = append(body, c...)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("regulator: topic %q has unknown wire kind", e.topic)
	}
}

// sealLocked writes the sequence witness into the plaintext, encrypts it,
// and prefixes the result with the common header.
func (e *Emitter) sealLocked(seq uint32, plaintext []byte) ([]byte, error) {
	witnessed := make([]byte, wire.SequenceSize+len(plaintext))
	wire.PutWitness(witnessed, seq)
	copy(witnessed[wire.SequenceSize:], plaintext)

	ciphertext, iv, mac, err := e.secrets.Encrypt(e.topic, seq, witnessed)
	if err != nil {
		return nil, fmt.Errorf("regulator: sealing topic %q seq %d: %w", e.topic, seq, err)
	}

	h := wire.Header{Sequence: seq, IV: iv, MAC: mac}
	out := make([]byte, wire.HeaderSize+len(ciphertext))
	h.Encode(out)
	copy(out[wire.HeaderSize:], ciphertext)
	return out, nil
}

func (e *Emitter) reportLocked(err error) {
	if e.onError != nil {
		e.onError(err)
	}
}

// NextSequence returns the next outbound sequence number the emitter will
// use, for diagnostics and tests.
func (e *Emitter) NextSequence() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSeq
}
