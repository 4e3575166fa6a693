package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EntryType identifies a binary topic entry's payload shape.
type EntryType uint8

const (
	EntrySpeakerContent    EntryType = 1
	EntrySpeakerMarker     EntryType = 2
	EntryMicrophoneContent EntryType = 3
)

const (
	entryHeaderSize = 4 + 1 + 1 + 2 // length | type | count | reserved
	offsetSize      = 8
	markerSize      = 4
)

// ErrShortEntry is returned when a buffer is too small to contain a
// declared binary entry.
var ErrShortEntry = errors.New("wire: truncated binary entry")

// Entry is one decoded binary-topic entry: length|type|count|reserved|data.
// Count is the raw zero-indexed wire field; decoders below add 1 to get the
// actual item count (the wire count field is zero-indexed).
type Entry struct {
	Type  EntryType
	Count uint8
	Data  []byte
}

// ParseEntries walks a concatenation of binary entries and returns them in
// wire order.
func ParseEntries(body []byte) ([]Entry, error) {
	var entries []Entry
	for len(body) > 0 {
		if len(body) < entryHeaderSize {
			return nil, ErrShortEntry
		}
		length := binary.LittleEndian.Uint32(body[0:4])
		typ := EntryType(body[4])
		count := body[5]
		// body[6:8] reserved, ignored on decode.
		end := entryHeaderSize + int(length)
		if end > len(body) {
			return nil, ErrShortEntry
		}
		entries = append(entries, Entry{Type: typ, Count: count, Data: body[entryHeaderSize:end]})
		body = body[end:]
	}
	return entries, nil
}

// EncodeEntry frames one binary entry: length|type|count|reserved|data.
// wireCount is the zero-indexed wire field (actual item count - 1).
func EncodeEntry(typ EntryType, wireCount uint8, data []byte) []byte {
	buf := make([]byte, entryHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(data)))
	buf[4] = byte(typ)
	buf[5] = wireCount
	// buf[6:8] reserved, left zero
	copy(buf[entryHeaderSize:], data)
	return buf
}

// SpeakerContent is a decoded speaker-content entry: an absolute audio byte
// offset followed by count+1 equal-size compressed frames.
type SpeakerContent struct {
	Offset    uint64
	FrameSize int
	Frames    [][]byte
}

// DecodeSpeakerContent splits a speaker-content entry's data into its
// offset and equally-sized frames.
func DecodeSpeakerContent(e Entry) (SpeakerContent, error) {
	if len(e.Data) < offsetSize {
		return SpeakerContent{}, ErrShortEntry
	}
	offset := binary.LittleEndian.Uint64(e.Data[0:offsetSize])
	rest := e.Data[offsetSize:]
	n := int(e.Count) + 1
	if n <= 0 || len(rest)%n != 0 {
		return SpeakerContent{}, fmt.Errorf("wire: speaker-content %d bytes does not divide evenly into %d frames", len(rest), n)
	}
	frameSize := len(rest) / n
	frames := make([][]byte, n)
	for i := 0; i < n; i++ {
		frames[i] = rest[i*frameSize : (i+1)*frameSize]
	}
	return SpeakerContent{Offset: offset, FrameSize: frameSize, Frames: frames}, nil
}

// EncodeSpeakerContent builds a speaker-content entry's data (without the
// surrounding entry header) from an absolute offset and equal-size frames.
func EncodeSpeakerContent(offset uint64, frames [][]byte) (data []byte, wireCount uint8, err error) {
	if len(frames) == 0 || len(frames) > 256 {
		return nil, 0, fmt.Errorf("wire: speaker-content frame count %d out of range", len(frames))
	}
	frameSize := len(frames[0])
	total := offsetSize
	for _, f := range frames {
		if len(f) != frameSize {
			return nil, 0, errors.New("wire: speaker-content frames must be equal size")
		}
		total += len(f)
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:offsetSize], offset)
	pos := offsetSize
	for _, f := range frames {
		pos += copy(buf[pos:], f)
	}
	return buf, uint8(len(frames) - 1), nil
}

// DecodeSpeakerMarkers splits a speaker-marker entry's data into its
// count+1 4-byte marker IDs.
func DecodeSpeakerMarkers(e Entry) ([]uint32, error) {
	n := int(e.Count) + 1
	if len(e.Data) != n*markerSize {
		return nil, fmt.Errorf("wire: speaker-marker data length %d does not match count %d", len(e.Data), n)
	}
	markers := make([]uint32, n)
	for i := 0; i < n; i++ {
		markers[i] = binary.LittleEndian.Uint32(e.Data[i*markerSize : (i+1)*markerSize])
	}
	return markers, nil
}

// EncodeSpeakerMarkers builds a speaker-marker entry's data from marker IDs.
func EncodeSpeakerMarkers(markers []uint32) (data []byte, wireCount uint8, err error) {
	if len(markers) == 0 || len(markers) > 256 {
		return nil, 0, fmt.Errorf("wire: speaker-marker count %d out of range", len(markers))
	}
	buf := make([]byte, len(markers)*markerSize)
	for i, m := range markers {
		binary.LittleEndian.PutUint32(buf[i*markerSize:(i+1)*markerSize], m)
	}
	return buf, uint8(len(markers) - 1), nil
}

// MicrophoneContent is a decoded microphone-content entry: an absolute
// offset followed by raw audio samples.
type MicrophoneContent struct {
	Offset  uint64
	Samples []byte
}

// DecodeMicrophoneContent splits a microphone-content entry's data.
func DecodeMicrophoneContent(e Entry) (MicrophoneContent, error) {
	if len(e.Data) < offsetSize {
		return MicrophoneContent{}, ErrShortEntry
	}
	offset := binary.LittleEndian.Uint64(e.Data[0:offsetSize])
	return MicrophoneContent{Offset: offset, Samples: e.Data[offsetSize:]}, nil
}

// EncodeMicrophoneContent builds a microphone-content entry's data.
func EncodeMicrophoneContent(offset uint64, samples []byte) []byte {
	buf := make([]byte, offsetSize+len(samples))
	binary.LittleEndian.PutUint64(buf[0:offsetSize], offset)
	copy(buf[offsetSize:], samples)
	return buf
}
