package retry

import (
	"sync"
	"time"
)

const (
	defaultBudgetWindow = time.Minute
	budgetSlotWidth     = time.Second
)

// Budget caps retries across many runs to prevent retry storms. It counts
// initial calls and retries over a sliding window and refuses a retry when
// the initial call rate is above Rate and retries already make up more than
// Ratio of the initial calls.
//
// A single Budget is meant to be shared by every run against the same
// dependency. The zero value is usable with Rate and Ratio of 0, which refuses
// every retry once any traffic has been seen.
//
// Example:
//
//	budget := &retry.Budget{
//	    Rate:  10.0, // Only enforce when > 10 initial calls/sec
//	    Ratio: 0.1,  // Allow up to 10% of calls to be retries
//	}
type Budget struct {
	// Rate is the initial call rate (calls/sec) above which the budget is enforced.
	Rate float64
	// Ratio is the maximum allowed ratio of retries to initial calls.
	Ratio float64
	// Window is the sliding window the rates are computed over. Defaults to a minute.
	Window time.Duration

	mu     sync.Mutex
	counts *callCounts
}

// sendOK records an attempt starting at now and reports whether it may run.
// Initial calls always run. Retries are refused while the budget is exhausted.
func (b *Budget) sendOK(now time.Time, isRetry bool) bool {
	if b == nil {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.counts == nil {
		window := b.Window
		if window <= 0 {
			window = defaultBudgetWindow
		}

		b.counts = newCallCounts(window)
	}

	if !isRetry {
		b.counts.add(now, false)

		return true
	}

	initial, retried, span := b.counts.totals(now)
	if initial > 0 && float64(initial)/span.Seconds() > b.Rate &&
		float64(retried)/float64(initial) > b.Ratio {
		return false
	}

	b.counts.add(now, true)

	return true
}

// callCounts is a ring of one-second slots. A slot is reset when the clock
// reaches it again one window later.
type callCounts struct {
	slots []callSlot
	first time.Time
}

type callSlot struct {
	index   int64
	initial int
	retried int
}

func newCallCounts(window time.Duration) *callCounts {
	n := int(window / budgetSlotWidth)
	if n < 1 {
		n = 1
	}

	return &callCounts{slots: make([]callSlot, n)}
}

func (c *callCounts) slotIndex(t time.Time) int64 {
	return t.UnixNano() / int64(budgetSlotWidth)
}

func (c *callCounts) add(now time.Time, retry bool) {
	if c.first.IsZero() {
		c.first = now
	}

	idx := c.slotIndex(now)
	slot := &c.slots[idx%int64(len(c.slots))]

	if slot.index != idx {
		*slot = callSlot{index: idx}
	}

	if retry {
		slot.retried++
	} else {
		slot.initial++
	}
}

// totals sums the slots still inside the window ending at now, and returns the
// span of time they cover. The span is never shorter than one slot.
func (c *callCounts) totals(now time.Time) (int, int, time.Duration) {
	idx := c.slotIndex(now)
	oldest := idx - int64(len(c.slots))

	var initial, retried int

	for _, slot := range c.slots {
		if slot.index > oldest && slot.index <= idx {
			initial += slot.initial
			retried += slot.retried
		}
	}

	span := now.Sub(c.first)
	if limit := time.Duration(len(c.slots)) * budgetSlotWidth; span > limit {
		span = limit
	}

	if span < budgetSlotWidth {
		span = budgetSlotWidth
	}

	return initial, retried, span
}
