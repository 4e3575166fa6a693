package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInOrderDelivery(t *testing.T) {
	var delivered []uint32
	s := New(7, 4, 0, func(seq uint32, payload []byte) {
		delivered = append(delivered, seq)
	}, nil)

	require.Equal(t, ResultOK, s.Write(7, nil))
	require.Equal(t, ResultOK, s.Write(8, nil))
	require.Equal(t, ResultOK, s.Write(9, nil))

	require.Equal(t, []uint32{7, 8, 9}, delivered)
	require.Equal(t, uint32(10), s.NextExpected())
	require.False(t, s.hasBufferedLocked())
}

func TestReorderWithinWindow(t *testing.T) {
	var delivered []uint32
	s := New(0, 4, 0, func(seq uint32, payload []byte) {
		delivered = append(delivered, seq)
	}, nil)

	require.Equal(t, ResultBuffered, s.Write(2, nil))
	require.Equal(t, ResultBuffered, s.Write(1, nil))
	require.Equal(t, ResultOK, s.Write(0, nil))

	require.Equal(t, []uint32{0, 1, 2}, delivered)
	require.Equal(t, uint32(3), s.NextExpected())
}

// TestWrapAndLate follows the documented wrap+late scenario in spirit: once
// the in-order message at the wraparound boundary arrives, later-wrapped
// messages are delivered in order and a message that lands behind the new
// expected value is dropped as old.
func TestWrapAndLate(t *testing.T) {
	var delivered []uint32
	s := New(0xFFFFFFFE, 2, 0, func(seq uint32, payload []byte) {
		delivered = append(delivered, seq)
	}, nil)

	require.Equal(t, ResultOK, s.Write(0xFFFFFFFE, nil))
	require.Equal(t, ResultOK, s.Write(0xFFFFFFFF, nil))
	require.Equal(t, ResultOld, s.Write(0xFFFFFFFD, nil))

	require.Equal(t, []uint32{0xFFFFFFFE, 0xFFFFFFFF}, delivered)
	require.Equal(t, uint32(0), s.NextExpected())
}

func TestOldVsFutureBoundary(t *testing.T) {
	// Once 2^32 - 1 has been delivered: receiving 0 is in-order; receiving
	// 2^32-2 is old.
	var delivered []uint32
	s := New(0xFFFFFFFF, 4, 0, func(seq uint32, payload []byte) {
		delivered = append(delivered, seq)
	}, nil)

	require.Equal(t, ResultOK, s.Write(0xFFFFFFFF, nil))
	require.Equal(t, ResultOld, s.Write(0xFFFFFFFE, nil))
	require.Equal(t, ResultOK, s.Write(0x00000000, nil))
	require.Equal(t, []uint32{0xFFFFFFFF, 0}, delivered)
}

func TestOutOfWindowDropped(t *testing.T) {
	s := New(0, 2, 0, func(seq uint32, payload []byte) {}, nil)
	require.Equal(t, ResultDropped, s.Write(5, nil))
}

func TestDuplicateSlotOverwrites(t *testing.T) {
	var delivered [][]byte
	s := New(0, 4, 0, func(seq uint32, payload []byte) {
		delivered = append(delivered, payload)
	}, nil)

	s.Write(1, []byte("first"))
	s.Write(1, []byte("second"))
	s.Write(0, []byte("zero"))

	require.Equal(t, [][]byte{[]byte("zero"), []byte("second")}, delivered)
}

func TestResetSequenceNumberFromWithinHandler(t *testing.T) {
	var s *Sequencer
	var delivered []uint32
	s = New(0, 4, 0, func(seq uint32, payload []byte) {
		delivered = append(delivered, seq)
		if seq == 0 {
			// Re-entrant reset: must survive the increment that already
			// happened before the handler was invoked.
			s.ResetSequenceNumber(100)
		}
	}, nil)

	s.Write(0, nil)
	require.Equal(t, uint32(100), s.NextExpected())
}

func TestMissingMessageTimeout(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := New(0, 4, 20, func(seq uint32, payload []byte) {}, func() {
		fired <- struct{}{}
	})

	s.Write(1, nil) // buffered, arms the timer

	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout callback did not fire")
	}
}

func TestMissingMessageTimeoutDisarmedByInOrderArrival(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := New(0, 4, 20, func(seq uint32, payload []byte) {}, func() {
		fired <- struct{}{}
	})

	s.Write(1, nil)
	s.Write(0, nil) // drains, disarms timer

	select {
	case <-fired:
		t.Fatal("timeout should not fire once the gap is filled")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDestroyDisarmsTimer(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := New(0, 4, 20, func(seq uint32, payload []byte) {}, func() {
		fired <- struct{}{}
	})
	s.Write(1, nil)
	s.Destroy()

	select {
	case <-fired:
		t.Fatal("timeout should not fire after Destroy")
	case <-time.After(100 * time.Millisecond):
	}
}
