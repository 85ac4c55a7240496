package clock

import (
	"sync"
	"time"
)

// Unknown is reported while the device has no trustworthy wall time.
const Unknown int64 = 0

// SyncFloor is the earliest epoch accepted as synchronized time (2020-01-01T00:00:00Z).
// An unsynchronized RTC boots near 1970 and must not be compared against expiries.
const SyncFloor int64 = 1577836800

// Clock reports the current epoch seconds, or Unknown.
type Clock interface {
	Now() int64
}

// System reads the host wall clock.
type System struct{}

func (System) Now() int64 {
	now := time.Now().Unix()
	if now < SyncFloor {
		return Unknown
	}
	return now
}

// Fake is a settable clock for tests and the simulator.
type Fake struct {
	mu  sync.Mutex
	now int64
}

func NewFake(now int64) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(now int64) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += int64(d / time.Second)
	f.mu.Unlock()
}

// Known reports whether epoch is a usable time value.
func Known(epoch int64) bool {
	return epoch > Unknown
}
