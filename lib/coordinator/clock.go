package coordinator

import (
	"math"
	"sync/atomic"
	"time"
)

// clock hands out strictly increasing unix millisecond timestamps
type clock struct {
	now  func() time.Time
	last atomic.Int64
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

// next returns the current time, or last+1 if the wall clock did not advance.
// Once math.MaxInt64 was handed out there is no later timestamp and next fails.
func (c *clock) next() (int64, error) {
	for {
		last := c.last.Load()
		t := c.now().UnixMilli()
		if t <= last {
			if last == math.MaxInt64 {
				return 0, ErrTimestampExhausted
			}
			t = last + 1
		}
		if c.last.CompareAndSwap(last, t) {
			return t, nil
		}
	}
}

// after returns a timestamp from next that is also strictly greater than prev
func (c *clock) after(prev int64) (int64, error) {
	if prev == math.MaxInt64 {
		return 0, ErrTimestampExhausted
	}
	for {
		t, err := c.next()
		if err != nil {
			return 0, err
		}
		if t > prev {
			return t, nil
		}
		// wall clock is behind the stored record, move our floor past it
		last := c.last.Load()
		if last < prev {
			c.last.CompareAndSwap(last, prev)
		}
	}
}
