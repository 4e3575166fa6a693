// Package streambuf implements the single-writer, multi-reader ring of
// fixed-size words: readers and the writer advance
// absolute 64-bit indices, physical position is abs_index % data_size, and
// indices, policies, enable flags and scheduled-close positions are atomics.
// Reads and Nonblockable writes take no mutex; AllOrNothing and Nonblocking
// writes take the buffer's reader-table mutex to collect the enabled
// readers' indices.
package streambuf

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// WriterPolicy controls how Write behaves when an enabled reader would be
// overrun.
type WriterPolicy int

const (
	// Nonblockable always writes everything, silently overwriting unread
	// data; readers discover the overrun on their next Read.
	Nonblockable WriterPolicy = iota
	// AllOrNothing writes nothing and returns ErrWouldBlock if any enabled
	// reader would be overrun by the full write.
	AllOrNothing
	// Nonblocking writes as many words as fit without overrunning any
	// enabled reader, possibly zero.
	Nonblocking
)

// ReaderPolicy controls how Read behaves when the reader has caught up to
// the writer.
type ReaderPolicy int

const (
	// BlockingWithTimeout waits, up to an implementation-defined limit, for
	// the writer to advance.
	BlockingWithTimeout ReaderPolicy = iota
	// NonblockingReader returns ErrWouldBlock immediately instead of
	// waiting.
	NonblockingReader
)

// SeekReference names the reference point for a Seek or Tell call.
type SeekReference int

const (
	Absolute SeekReference = iota
	AfterReader
	BeforeReader
	BeforeWriter
)

// readBlockTimeout bounds BlockingWithTimeout waits; the contract only
// requires an implementation-defined limit, not a configurable one.
const readBlockTimeout = 2 * time.Second

// pollInterval is how often a blocking reader re-checks the writer index.
const pollInterval = time.Millisecond

var (
	ErrClosed         = errors.New("streambuf: closed")
	ErrInvalid        = errors.New("streambuf: invalid argument")
	ErrWouldBlock     = errors.New("streambuf: would block")
	ErrOverrun        = errors.New("streambuf: reader overrun")
	ErrNoWriter       = errors.New("streambuf: no writer attached")
	ErrWriterExists   = errors.New("streambuf: writer already attached")
	ErrReaderExists   = errors.New("streambuf: reader id already attached")
	ErrTooManyReaders = errors.New("streambuf: max_readers exceeded")
)

// Buffer is the shared ring. mem holds dataSize words of wordSize bytes
// each. writerIndex is the only field touched by Write's data path; reader
// indices are touched only by their own owning Reader. All are
// atomic.Int64; writerMu and readersMu guard only writer attachment and the
// reader table.
type Buffer struct {
	mem      []byte
	wordSize int
	dataSize int64 // words

	writerIndex atomic.Int64 // absolute index, never decreases

	writerMu sync.Mutex
	writer   *Writer

	readersMu    sync.Mutex
	readers      map[uint32]*Reader
	maxReaders   int
	nextReaderID uint32
}

// Create allocates a new ring over mem, which must be at least
// bytes == dataSizeWords*wordSize bytes long (mem's capacity fixes
// dataSize; it is not resized).
func Create(mem []byte, wordSize int, maxReaders int) (*Buffer, error) {
	if wordSize <= 0 || len(mem) == 0 || len(mem)%wordSize != 0 {
		return nil, ErrInvalid
	}
	b := &Buffer{
		mem:        mem,
		wordSize:   wordSize,
		dataSize:   int64(len(mem) / wordSize),
		readers:    make(map[uint32]*Reader),
		maxReaders: maxReaders,
	}
	return b, nil
}

func (b *Buffer) GetWordSize() int { return b.wordSize }

// DataSize returns the ring's capacity in words.
func (b *Buffer) DataSize() int64 { return b.dataSize }

// CreateWriter attaches the single writer with the given policy. force
// usurps any existing writer.
func (b *Buffer) CreateWriter(policy WriterPolicy, force bool) (*Writer, error) {
	b.writerMu.Lock()
	defer b.writerMu.Unlock()
	if b.writer != nil && !force {
		return nil, ErrWriterExists
	}
	w := &Writer{buf: b}
	w.policy.Store(int32(policy))
	b.writer = w
	return w, nil
}

// CreateReader attaches a new reader with an auto-assigned id.
func (b *Buffer) CreateReader(policy ReaderPolicy, startAtOldest bool) (*Reader, error) {
	b.readersMu.Lock()
	id := b.nextReaderID
	b.nextReaderID++
	b.readersMu.Unlock()
	return b.CreateReaderWithID(id, policy, startAtOldest, false)
}

// CreateReaderWithID attaches a reader under an explicit id, usurping any
// existing reader with that id when force is set.
func (b *Buffer) CreateReaderWithID(id uint32, policy ReaderPolicy, startAtOldest bool, force bool) (*Reader, error) {
	b.readersMu.Lock()
	defer b.readersMu.Unlock()

	if _, exists := b.readers[id]; exists && !force {
		return nil, ErrReaderExists
	}
	if _, exists := b.readers[id]; !exists && len(b.readers) >= b.maxReaders {
		return nil, ErrTooManyReaders
	}

	r := &Reader{buf: b, id: id}
	r.policy.Store(int32(policy))
	r.enabled.Store(true)
	r.scheduledClose.Store(-1)

	writerPos := b.writerIndex.Load()
	if startAtOldest {
		oldest := writerPos - b.dataSize
		if oldest < 0 {
			oldest = 0
		}
		r.index.Store(oldest)
	} else {
		r.index.Store(writerPos)
	}
	b.readers[id] = r
	return r, nil
}

func (b *Buffer) removeReader(id uint32) {
	b.readersMu.Lock()
	delete(b.readers, id)
	b.readersMu.Unlock()
}

// enabledReaderIndices returns the current absolute index of every enabled
// reader, used by the writer to decide overrun exposure.
func (b *Buffer) enabledReaderIndices() []int64 {
	b.readersMu.Lock()
	defer b.readersMu.Unlock()
	out := make([]int64, 0, len(b.readers))
	for _, r := range b.readers {
		if r.enabled.Load() {
			out = append(out, r.index.Load())
		}
	}
	return out
}

func (b *Buffer) copyIn(abs int64, words [][]byte) {
	for i, word := range words {
		b.copyWordIn(abs+int64(i), word)
	}
}

func (b *Buffer) copyWordIn(abs int64, word []byte) {
	pos := (abs % b.dataSize) * int64(b.wordSize)
	copy(b.mem[pos:pos+int64(b.wordSize)], word)
}

func (b *Buffer) copyWordOut(abs int64, dst []byte) {
	pos := (abs % b.dataSize) * int64(b.wordSize)
	copy(dst, b.mem[pos:pos+int64(b.wordSize)])
}
