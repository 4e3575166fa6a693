package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpeakerContentRoundTrip(t *testing.T) {
	frames := [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}
	data, count, err := EncodeSpeakerContent(1000, frames)
	require.NoError(t, err)
	require.Equal(t, uint8(2), count) // count+1 == 3 frames

	entry := EncodeEntry(EntrySpeakerContent, count, data)
	parsed, err := ParseEntries(entry)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	content, err := DecodeSpeakerContent(parsed[0])
	require.NoError(t, err)
	require.Equal(t, uint64(1000), content.Offset)
	require.Equal(t, frames, content.Frames)
}

func TestSpeakerMarkersRoundTrip(t *testing.T) {
	markers := []uint32{42, 7, 99}
	data, count, err := EncodeSpeakerMarkers(markers)
	require.NoError(t, err)
	require.Equal(t, uint8(2), count)

	entry := EncodeEntry(EntrySpeakerMarker, count, data)
	parsed, err := ParseEntries(entry)
	require.NoError(t, err)

	out, err := DecodeSpeakerMarkers(parsed[0])
	require.NoError(t, err)
	require.Equal(t, markers, out)
}

func TestMicrophoneContentRoundTrip(t *testing.T) {
	samples := []byte{1, 2, 3, 4, 5, 6}
	data := EncodeMicrophoneContent(500, samples)
	entry := EncodeEntry(EntryMicrophoneContent, 0, data)

	parsed, err := ParseEntries(entry)
	require.NoError(t, err)
	content, err := DecodeMicrophoneContent(parsed[0])
	require.NoError(t, err)
	require.Equal(t, uint64(500), content.Offset)
	require.Equal(t, samples, content.Samples)
}

func TestParseEntriesMultiple(t *testing.T) {
	data1 := EncodeMicrophoneContent(0, []byte{1, 2})
	data2 := EncodeMicrophoneContent(2, []byte{3, 4})
	body := append(EncodeEntry(EntryMicrophoneContent, 0, data1), EncodeEntry(EntryMicrophoneContent, 0, data2)...)

	entries, err := ParseEntries(body)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestParseEntriesTruncated(t *testing.T) {
	_, err := ParseEntries([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortEntry)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Sequence: 0xDEADBEEF}
	for i := range h.IV {
		h.IV[i] = byte(i)
	}
	for i := range h.MAC {
		h.MAC[i] = byte(i + 100)
	}
	buf := make([]byte, HeaderSize+4)
	h.Encode(buf)

	got, rest, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Len(t, rest, 4)
}

func TestWitnessRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	PutWitness(buf, 12345)
	seq, err := Witness(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(12345), seq)
}

func TestBuildJSONArrayBody(t *testing.T) {
	chunks := [][]byte{
		[]byte(`{"name":"a"}`),
		[]byte(`{"name":"b"}`),
	}
	body := BuildJSONArrayBody("events", chunks)
	require.JSONEq(t, `{"events":[{"name":"a"},{"name":"b"}]}`, string(body))
}

func TestParseJSONArrayAndMsg(t *testing.T) {
	body := []byte(`{"directives":[{"name":"OpenSpeaker","messageId":"m1","payload":{"offset":0}},{"name":"CloseSpeaker","payload":{}}]}`)
	elems, err := ParseJSONArray("directives", body)
	require.NoError(t, err)
	require.Len(t, elems, 2)

	m0, err := ParseMsg(elems[0])
	require.NoError(t, err)
	require.Equal(t, "OpenSpeaker", m0.Name)
	require.Equal(t, "m1", m0.MessageID)

	m1, err := ParseMsg(elems[1])
	require.NoError(t, err)
	require.Equal(t, "CloseSpeaker", m1.Name)
	require.Equal(t, "", m1.MessageID)
}
