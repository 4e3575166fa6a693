package streambuf

import (
	"sync/atomic"
	"time"
)

// Reader is one of up to max_readers consumers attached to a Buffer.
type Reader struct {
	buf    *Buffer
	id     uint32
	policy atomic.Int32

	index   atomic.Int64
	enabled atomic.Bool
	closed  atomic.Bool

	// scheduledClose holds the absolute index at which this reader should
	// close itself, set by Close(offset, reference); -1 means unscheduled.
	scheduledClose atomic.Int64
}

func (r *Reader) GetID() uint32             { return r.id }
func (r *Reader) GetWordSize() int          { return r.buf.wordSize }
func (r *Reader) policyValue() ReaderPolicy { return ReaderPolicy(r.policy.Load()) }

// SetEnabled toggles whether the writer's overrun calculations consider
// this reader. A disabled reader can never be overrun, and so can never
// block an all-or-nothing or nonblocking write.
func (r *Reader) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Detach removes the reader from its buffer; further calls are errors.
func (r *Reader) Detach() {
	r.closed.Store(true)
	r.buf.removeReader(r.id)
}

// Read copies up to len(words) words into the caller-supplied slices,
// subject to the reader's policy, returning the count actually read.
func (r *Reader) Read(words [][]byte) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	for _, word := range words {
		if len(word) != r.buf.wordSize {
			return 0, ErrInvalid
		}
	}
	if len(words) == 0 {
		return 0, nil
	}

	switch r.policyValue() {
	case NonblockingReader:
		return r.tryRead(words)
	default: // BlockingWithTimeout
		deadline := time.Now().Add(readBlockTimeout)
		for {
			n, err := r.tryRead(words)
			if err != ErrWouldBlock {
				return n, err
			}
			if time.Now().After(deadline) {
				return 0, ErrWouldBlock
			}
			time.Sleep(pollInterval)
		}
	}
}

// tryRead performs one non-blocking attempt: checks overrun, checks
// caught-up-to-writer, then copies as much as is available up to
// len(words).
func (r *Reader) tryRead(words [][]byte) (int, error) {
	idx := r.index.Load()
	writerPos := r.buf.writerIndex.Load()

	if writerPos-idx > r.buf.dataSize {
		// The oldest data this reader still needs has already been
		// overwritten. The index is not advanced; the
		// caller must Seek to a valid position.
		return 0, ErrOverrun
	}
	if idx == writerPos {
		return 0, ErrWouldBlock
	}

	available := writerPos - idx
	n := int64(len(words))
	if n > available {
		n = available
	}

	for i := int64(0); i < n; i++ {
		r.buf.copyWordOut(idx+i, words[i])
	}

	newIdx := idx + n
	r.index.Store(newIdx)
	r.checkScheduledClose(newIdx)
	return int(n), nil
}

func (r *Reader) checkScheduledClose(newIdx int64) {
	sc := r.scheduledClose.Load()
	if sc != -1 && newIdx >= sc {
		r.closed.Store(true)
	}
}

// Tell returns an absolute index chosen by reference. For BeforeWriter it
// is the writer's current index; for every other reference (Absolute,
// AfterReader, BeforeReader) it is the reader's own absolute index.
func (r *Reader) Tell(reference SeekReference) int64 {
	switch reference {
	case BeforeWriter:
		return r.buf.writerIndex.Load()
	default:
		return r.index.Load()
	}
}

// Seek repositions the reader. Absolute seeks fail if the target has
// already been overwritten (i.e. lies behind writer-dataSize).
func (r *Reader) Seek(offset int64, reference SeekReference) error {
	var target int64
	writerPos := r.buf.writerIndex.Load()

	switch reference {
	case Absolute:
		target = offset
	case AfterReader:
		target = r.index.Load() + offset
	case BeforeReader:
		target = r.index.Load() - offset
	case BeforeWriter:
		target = writerPos - 1 - offset
	default:
		return ErrInvalid
	}

	if target < 0 {
		return ErrInvalid
	}
	if target > writerPos {
		return ErrInvalid
	}
	if writerPos-target > r.buf.dataSize {
		return ErrInvalid // target already overwritten
	}

	r.index.Store(target)
	return nil
}

// Close schedules the reader to close when it next reaches the specified
// position, or immediately when offset is zero and reference is
// AfterReader.
func (r *Reader) Close(offset int64, reference SeekReference) {
	if offset == 0 && reference == AfterReader {
		r.closed.Store(true)
		return
	}

	var target int64
	switch reference {
	case Absolute:
		target = offset
	case AfterReader:
		target = r.index.Load() + offset
	case BeforeReader:
		target = r.index.Load() - offset
	case BeforeWriter:
		target = r.buf.writerIndex.Load() - 1 - offset
	}
	r.scheduledClose.Store(target)
}
