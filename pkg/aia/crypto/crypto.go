// Package crypto implements the per-topic authenticated-encryption key
// schedule, treated as an external collaborator. It is grounded on
// the chacha20poly1305 AEAD framing used in the pack's wireguard-go example.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
	"github.com/lokutor-ai/aia-client/pkg/aia/wire"
)

// KeySource supplies the long-lived per-topic key material, e.g. loaded
// from a capabilities-negotiation handshake. It is out of this package's
// scope to obtain the keys, only to use them.
type KeySource interface {
	TopicKey(t topic.Topic) ([]byte, error)
}

// StaticKeySource is a KeySource backed by a fixed key-per-topic map, the
// shape a capabilities negotiation step would populate once per connection.
type StaticKeySource map[topic.Topic][]byte

func (s StaticKeySource) TopicKey(t topic.Topic) ([]byte, error) {
	k, ok := s[t]
	if !ok {
		return nil, fmt.Errorf("crypto: no key configured for topic %q", t)
	}
	return k, nil
}

// SecretManager is the engine's AEAD collaborator: encrypt/decrypt with the
// sequence number carried as associated data.
type SecretManager struct {
	mu    sync.RWMutex
	aeads map[topic.Topic]cipher.AEAD
	keys  KeySource
}

// New builds a SecretManager over a key source. AEAD ciphers are
// instantiated lazily per topic and cached.
func New(keys KeySource) *SecretManager {
	return &SecretManager{
		aeads: make(map[topic.Topic]cipher.AEAD),
		keys:  keys,
	}
}

func (s *SecretManager) aead(t topic.Topic) (cipher.AEAD, error) {
	s.mu.RLock()
	a, ok := s.aeads[t]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}

	key, err := s.keys.TopicKey(t)
	if err != nil {
		return nil, err
	}
	a, err = chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: bad key for topic %q: %w", t, err)
	}

	s.mu.Lock()
	s.aeads[t] = a
	s.mu.Unlock()
	return a, nil
}

// associatedData renders the sequence number as the 4-byte little-endian
// AEAD associated data, matching the witness encoding on the wire.
func associatedData(seq uint32) []byte {
	ad := make([]byte, wire.SequenceSize)
	wire.PutWitness(ad, seq)
	return ad
}

// Encrypt seals plaintext into a newly allocated ciphertext, using seq as
// associated data, and returns the iv/mac to place in the common header.
// It does not encrypt in place: plaintext is left unmodified.
func (s *SecretManager) Encrypt(t topic.Topic, seq uint32, plaintext []byte) (ciphertext []byte, iv [wire.IVSize]byte, mac [wire.MACSize]byte, err error) {
	a, err := s.aead(t)
	if err != nil {
		return nil, iv, mac, err
	}
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, iv, mac, fmt.Errorf("crypto: generating iv: %w", err)
	}

	sealed := a.Seal(nil, iv[:], plaintext, associatedData(seq))
	if len(sealed) < wire.MACSize {
		return nil, iv, mac, fmt.Errorf("crypto: sealed output shorter than MAC size")
	}
	ciphertext = sealed[:len(sealed)-wire.MACSize]
	copy(mac[:], sealed[len(sealed)-wire.MACSize:])
	return ciphertext, iv, mac, nil
}

// Decrypt verifies and opens ciphertext, using seqHeader (the header's
// sequence number) as associated data. The caller is responsible for then
// checking the 4-byte witness at the front of the plaintext against
// seqHeader.
func (s *SecretManager) Decrypt(t topic.Topic, seqHeader uint32, iv [wire.IVSize]byte, mac [wire.MACSize]byte, ciphertext []byte) ([]byte, error) {
	a, err := s.aead(t)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+wire.MACSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, mac[:]...)

	plaintext, err := a.Open(nil, iv[:], sealed, associatedData(seqHeader))
	if err != nil {
		return nil, fmt.Errorf("crypto: authentication failed for topic %q seq %d: %w", t, seqHeader, err)
	}
	return plaintext, nil
}
