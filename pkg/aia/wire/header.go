// Package wire implements the AIA bit-exact framing: the common message
// header, JSON-array topic bodies, and binary topic entries.
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// SequenceSize is the width of a sequence number on the wire.
	SequenceSize = 4
	// IVSize is the width of the AEAD initialization vector.
	IVSize = 12
	// MACSize is the width of the AEAD authentication tag.
	MACSize = 16
	// HeaderSize is the fixed common header: sequence | iv | mac.
	HeaderSize = SequenceSize + IVSize + MACSize
)

// ErrShortHeader is returned when a buffer is too small to contain a
// common header.
var ErrShortHeader = errors.New("wire: buffer shorter than common header")

// Header is the bit-exact, little-endian common message header that
// precedes every encrypted payload.
type Header struct {
	Sequence uint32
	IV       [IVSize]byte
	MAC      [MACSize]byte
}

// Encode writes the header into dst[:HeaderSize]. dst must be at least
// HeaderSize bytes.
func (h Header) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Sequence)
	copy(dst[4:4+IVSize], h.IV[:])
	copy(dst[4+IVSize:HeaderSize], h.MAC[:])
}

// DecodeHeader parses the common header from the front of buf and returns
// it along with the remaining (still-encrypted) payload.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, ErrShortHeader
	}
	var h Header
	h.Sequence = binary.LittleEndian.Uint32(buf[0:4])
	copy(h.IV[:], buf[4:4+IVSize])
	copy(h.MAC[:], buf[4+IVSize:HeaderSize])
	return h, buf[HeaderSize:], nil
}

// PutWitness writes the 4-byte sequence witness at the start of a
// to-be-encrypted payload buffer.
func PutWitness(dst []byte, seq uint32) {
	binary.LittleEndian.PutUint32(dst[0:4], seq)
}

// Witness reads the 4-byte sequence witness from the start of a decrypted
// payload buffer.
func Witness(buf []byte) (uint32, error) {
	if len(buf) < SequenceSize {
		return 0, ErrShortHeader
	}
	return binary.LittleEndian.Uint32(buf[0:4]), nil
}
