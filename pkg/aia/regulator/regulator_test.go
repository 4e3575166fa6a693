package regulator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/lokutor-ai/aia-client/pkg/aia/crypto"
	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	paths     []string
}

func (f *fakePublisher) Publish(path string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	f.published = append(f.published, payload)
	return nil
}

func (f *fakePublisher) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return nil
	}
	return f.published[len(f.published)-1]
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testSecrets(t *testing.T, topics ...topic.Topic) *crypto.SecretManager {
	t.Helper()
	keys := crypto.StaticKeySource{}
	for i, tp := range topics {
		key := make([]byte, chacha20poly1305.KeySize)
		for j := range key {
			key[j] = byte(i + j)
		}
		keys[tp] = key
	}
	return crypto.New(keys)
}

func TestEmitterAssemblesAndPublishesJSONArray(t *testing.T) {
	pub := &fakePublisher{}
	secrets := testSecrets(t, topic.Event)
	em := NewEmitter(topic.Event, "aia/device-1/", 0, secrets, pub, 0, nil)

	em.emit([]byte(`{"name":"Hello"}`), 0, 0)

	require.Equal(t, 1, pub.count())
	require.Equal(t, "aia/device-1/event", pub.paths[0])

	sealed := pub.last()
	h, ciphertext, err := wire.DecodeHeader(sealed)
	require.NoError(t, err)
	require.Equal(t, uint32(0), h.Sequence)

	plaintext, err := secrets.Decrypt(topic.Event, h.Sequence, h.IV, h.MAC, ciphertext)
	require.NoError(t, err)

	seq, err := wire.Witness(plaintext)
	require.NoError(t, err)
	require.Equal(t, uint32(0), seq)
	require.JSONEq(t, `{"events":[{"name":"Hello"}]}`, string(plaintext[wire.SequenceSize:]))

	require.Equal(t, uint32(1), em.NextSequence())
}

func TestEmitterAssemblesMultiChunkBinary(t *testing.T) {
	pub := &fakePublisher{}
	secrets := testSecrets(t, topic.Microphone)
	em := NewEmitter(topic.Microphone, "aia/device-1/", 0, secrets, pub, 5, nil)

	em.emit([]byte{1, 2, 3}, 3, 1)
	em.emit([]byte{4, 5, 6}, 0, 0)

	require.Equal(t, 1, pub.count())
	sealed := pub.last()
	h, ciphertext, err := wire.DecodeHeader(sealed)
	require.NoError(t, err)
	require.Equal(t, uint32(5), h.Sequence)

	plaintext, err := secrets.Decrypt(topic.Microphone, h.Sequence, h.IV, h.MAC, ciphertext)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, plaintext[wire.SequenceSize:])
	require.Equal(t, uint32(6), em.NextSequence())
}

func TestEmitterSequenceIncrementsAcrossMessages(t *testing.T) {
	pub := &fakePublisher{}
	secrets := testSecrets(t, topic.Event)
	em := NewEmitter(topic.Event, "aia/device-1/", 0, secrets, pub, 0, nil)

	em.emit([]byte(`{"name":"A"}`), 0, 0)
	em.emit([]byte(`{"name":"B"}`), 0, 0)

	require.Equal(t, 2, pub.count())
	require.Equal(t, uint32(2), em.NextSequence())
}

func TestEmitterRejectsOversizeMessage(t *testing.T) {
	pub := &fakePublisher{}
	secrets := testSecrets(t, topic.Event)
	var gotErr error
	em := NewEmitter(topic.Event, "aia/device-1/", 8, secrets, pub, 0, func(err error) {
		gotErr = err
	})

	em.emit([]byte(`{"name":"waytoobig"}`), 0, 0)

	require.Equal(t, 0, pub.count())
	require.Error(t, gotErr)
}

func TestRegulatorFlushesOnTick(t *testing.T) {
	pub := &fakePublisher{}
	secrets := testSecrets(t, topic.Event)
	em := NewEmitter(topic.Event, "aia/device-1/", 0, secrets, pub, 0, nil)
	r := New(em, 10*time.Millisecond)

	go r.Start()
	defer r.Stop()

	r.Write(Chunk{Data: []byte(`{"name":"Ping"}`), RemainingBytes: 0, RemainingChunks: 0})

	require.Eventually(t, func() bool {
		return pub.count() == 1
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestRegulatorOrdersChunksWithinAFlush(t *testing.T) {
	pub := &fakePublisher{}
	secrets := testSecrets(t, topic.Microphone)
	em := NewEmitter(topic.Microphone, "aia/device-1/", 0, secrets, pub, 0, nil)
	r := New(em, time.Hour) // never ticks on its own; flush invoked manually

	r.Write(Chunk{Data: []byte{1, 2}, RemainingBytes: 2, RemainingChunks: 1})
	r.Write(Chunk{Data: []byte{3, 4}, RemainingBytes: 0, RemainingChunks: 0})
	r.flush()

	require.Equal(t, 1, pub.count())
	sealed := pub.last()
	h, ciphertext, err := wire.DecodeHeader(sealed)
	require.NoError(t, err)
	plaintext, err := secrets.Decrypt(topic.Microphone, h.Sequence, h.IV, h.MAC, ciphertext)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, plaintext[wire.SequenceSize:])
}
