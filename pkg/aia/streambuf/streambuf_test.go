package streambuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const wordSize = 4

func word(b byte) []byte { return []byte{b, b, b, b} }

func wordsOf(bs ...byte) [][]byte {
	out := make([][]byte, len(bs))
	for i, b := range bs {
		out[i] = word(b)
	}
	return out
}

func newTestBuffer(t *testing.T, capacityWords int) *Buffer {
	t.Helper()
	b, err := Create(make([]byte, capacityWords*wordSize), wordSize, 4)
	require.NoError(t, err)
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := newTestBuffer(t, 8)
	w, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	n, err := w.Write(wordsOf(1, 2, 3))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	out := make([][]byte, 3)
	for i := range out {
		out[i] = make([]byte, wordSize)
	}
	n, err = r.Read(out)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, word(1), out[0])
	require.Equal(t, word(2), out[1])
	require.Equal(t, word(3), out[2])
}

func TestReaderWouldBlockWhenCaughtUp(t *testing.T) {
	b := newTestBuffer(t, 8)
	_, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	_, err = r.Read([][]byte{make([]byte, wordSize)})
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestNonblockableOverwritesAndReaderDetectsOverrun(t *testing.T) {
	b := newTestBuffer(t, 4)
	w, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	_, err = w.Write(wordsOf(1, 2, 3, 4, 5, 6)) // overwrites words 1,2 (capacity 4)
	require.NoError(t, err)

	_, err = r.Read([][]byte{make([]byte, wordSize)})
	require.ErrorIs(t, err, ErrOverrun)
}

func TestAllOrNothingRefusesToOverrun(t *testing.T) {
	b := newTestBuffer(t, 4)
	w, err := b.CreateWriter(AllOrNothing, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	// Fill the ring exactly; reader hasn't consumed anything.
	_, err = w.Write(wordsOf(1, 2, 3, 4))
	require.NoError(t, err)

	_, err = w.Write(wordsOf(5))
	require.ErrorIs(t, err, ErrWouldBlock)
	require.Equal(t, int64(4), w.Tell())

	out := make([]byte, wordSize)
	_, err = r.Read([][]byte{out})
	require.NoError(t, err)

	// Now there's one free slot.
	n, err := w.Write(wordsOf(5))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNonblockingWritesPartial(t *testing.T) {
	b := newTestBuffer(t, 4)
	w, err := b.CreateWriter(Nonblocking, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	n, err := w.Write(wordsOf(1, 2, 3, 4))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = w.Write(wordsOf(5, 6, 7))
	require.NoError(t, err)
	require.Equal(t, 0, n) // reader hasn't moved, ring is full

	out := make([]byte, wordSize)
	_, err = r.Read([][]byte{out})
	require.NoError(t, err)

	n, err = w.Write(wordsOf(5, 6, 7))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSeekAbsoluteFailsPastOverwritten(t *testing.T) {
	b := newTestBuffer(t, 4)
	w, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	_, err = w.Write(wordsOf(1, 2, 3, 4, 5, 6, 7, 8)) // writer at 8, window [4,8)

	err = r.Seek(0, Absolute)
	require.Error(t, err) // 0 is already overwritten

	err = r.Seek(5, Absolute)
	require.NoError(t, err)
	require.Equal(t, int64(5), r.Tell(Absolute))
}

func TestSeekBeforeWriter(t *testing.T) {
	b := newTestBuffer(t, 8)
	w, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	_, err = w.Write(wordsOf(1, 2, 3, 4, 5))
	require.NoError(t, err)

	err = r.Seek(2, BeforeWriter)
	require.NoError(t, err)
	require.Equal(t, int64(2), r.Tell(Absolute))
}

// TestSeekBeforeWriterZeroOffsetReturnsNewestWord locks in the documented
// boundary behavior: seek(0, before_writer) followed immediately by a read
// returns the newest word already written, not ErrWouldBlock.
func TestSeekBeforeWriterZeroOffsetReturnsNewestWord(t *testing.T) {
	b := newTestBuffer(t, 8)
	w, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	_, err = w.Write(wordsOf(1, 2, 3, 4, 5))
	require.NoError(t, err)

	err = r.Seek(0, BeforeWriter)
	require.NoError(t, err)

	out := make([][]byte, 1)
	out[0] = make([]byte, wordSize)
	n, err := r.Read(out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, word(5), out[0])
}

func TestCreateReaderStartAtOldest(t *testing.T) {
	b := newTestBuffer(t, 4)
	w, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	_, err = w.Write(wordsOf(1, 2, 3, 4, 5, 6)) // writer at 6, oldest still valid is 2

	r, err := b.CreateReader(NonblockingReader, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), r.Tell(Absolute))
}

func TestCloseImmediate(t *testing.T) {
	b := newTestBuffer(t, 4)
	_, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	r.Close(0, AfterReader)
	_, err = r.Read([][]byte{make([]byte, wordSize)})
	require.ErrorIs(t, err, ErrClosed)
}

func TestScheduledCloseFiresAtPosition(t *testing.T) {
	b := newTestBuffer(t, 8)
	w, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)

	r.Close(2, AfterReader) // close once 2 words have been consumed from here
	_, err = w.Write(wordsOf(1, 2, 3))

	out := make([]byte, wordSize)
	_, err = r.Read([][]byte{out})
	require.NoError(t, err)
	_, err = r.Read([][]byte{out})
	require.NoError(t, err)

	_, err = r.Read([][]byte{out})
	require.ErrorIs(t, err, ErrClosed)
}

func TestDisabledReaderDoesNotBlockAllOrNothingWrite(t *testing.T) {
	b := newTestBuffer(t, 4)
	w, err := b.CreateWriter(AllOrNothing, false)
	require.NoError(t, err)
	r, err := b.CreateReader(NonblockingReader, false)
	require.NoError(t, err)
	r.SetEnabled(false)

	_, err = w.Write(wordsOf(1, 2, 3, 4))
	require.NoError(t, err)
	n, err := w.Write(wordsOf(5))
	require.NoError(t, err) // r is disabled, so overrunning it is not a block condition
	require.Equal(t, 1, n)
}

func TestCreateWriterForceUsurps(t *testing.T) {
	b := newTestBuffer(t, 4)
	_, err := b.CreateWriter(Nonblockable, false)
	require.NoError(t, err)

	_, err = b.CreateWriter(Nonblockable, false)
	require.ErrorIs(t, err, ErrWriterExists)

	_, err = b.CreateWriter(Nonblockable, true)
	require.NoError(t, err)
}

func TestCreateReaderWithIDRejectsDuplicate(t *testing.T) {
	b := newTestBuffer(t, 4)
	_, err := b.CreateReaderWithID(1, NonblockingReader, false, false)
	require.NoError(t, err)

	_, err = b.CreateReaderWithID(1, NonblockingReader, false, false)
	require.ErrorIs(t, err, ErrReaderExists)

	_, err = b.CreateReaderWithID(1, NonblockingReader, false, true)
	require.NoError(t, err)
}
