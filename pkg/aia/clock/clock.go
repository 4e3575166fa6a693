// Package clock wraps the platform clock collaborator:
// NTP-epoch seconds, a monotonic millisecond counter, and a setter used
// after a SynchronizeClock round-trip.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the platform timekeeping collaborator.
type Clock interface {
	NTPEpochSeconds() uint64
	MonotonicMillis() uint64
	SetNTPEpochSeconds(s uint64)
}

// ntpUnixOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpUnixOffset = 2208988800

// System is a Clock backed by stdlib time, with the NTP/Unix epoch offset
// applied. No third-party NTP client is used: the only real collaborator
// boundary here is the Clock interface itself, and time.Now plus
// a fixed epoch constant is the correct minimal implementation of it.
type System struct {
	epochAdjustSeconds atomic.Int64 // applied on top of wall-clock NTP seconds
}

// New returns a System clock with no adjustment applied.
func New() *System {
	return &System{}
}

func (c *System) NTPEpochSeconds() uint64 {
	wallNTP := time.Now().Unix() + ntpUnixOffset
	return uint64(wallNTP + c.epochAdjustSeconds.Load())
}

// processStart anchors MonotonicMillis; time.Since reads Go's monotonic
// clock, so wall-clock adjustments do not move the counter.
var processStart = time.Now()

func (c *System) MonotonicMillis() uint64 {
	return uint64(time.Since(processStart).Milliseconds())
}

// SetNTPEpochSeconds records the delta between the service-reported NTP
// epoch and this clock's own wall-clock reading, applied to future
// NTPEpochSeconds calls.
func (c *System) SetNTPEpochSeconds(s uint64) {
	wallNTP := time.Now().Unix() + ntpUnixOffset
	c.epochAdjustSeconds.Store(int64(s) - wallNTP)
}
