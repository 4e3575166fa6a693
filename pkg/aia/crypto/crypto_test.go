package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/lokutor-ai/aia-client/pkg/aia/topic"
)

func testKeys(t *testing.T) StaticKeySource {
	t.Helper()
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return StaticKeySource{topic.Speaker: key}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sm := New(testKeys(t))

	plaintext := []byte("hello AIA")
	ciphertext, iv, mac, err := sm.Encrypt(topic.Speaker, 7, plaintext)
	require.NoError(t, err)

	got, err := sm.Decrypt(topic.Speaker, 7, iv, mac, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptWrongSequenceFails(t *testing.T) {
	sm := New(testKeys(t))

	ciphertext, iv, mac, err := sm.Encrypt(topic.Speaker, 7, []byte("payload"))
	require.NoError(t, err)

	_, err = sm.Decrypt(topic.Speaker, 8, iv, mac, ciphertext)
	require.Error(t, err)
}

func TestUnknownTopicFails(t *testing.T) {
	sm := New(StaticKeySource{})
	_, _, _, err := sm.Encrypt(topic.Directive, 1, []byte("x"))
	require.Error(t, err)
}
