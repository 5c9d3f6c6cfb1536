package puller

import "sync"

// Budget is the per-run record cap threaded through combo processing. One
// unit is one lead inserted into one workspace.
type Budget struct {
	Cap  int `json:"cap"`
	Used int `json:"used"`
}

// Remaining returns the units still available.
func (b Budget) Remaining() int {
	if r := b.Cap - b.Used; r > 0 {
		return r
	}
	return 0
}

// Exhausted reports whether no units remain.
func (b Budget) Exhausted() bool {
	return b.Remaining() == 0
}

// budgetCounter is the single authority for a combo's budget while pages
// are fetched concurrently. Fetchers reserve units before calling the
// provider; the consumer commits what it used and releases the rest.
type budgetCounter struct {
	mu       sync.Mutex
	cap      int
	used     int
	reserved int
}

func newBudgetCounter(b Budget) *budgetCounter {
	return &budgetCounter{cap: b.Cap, used: b.Used}
}

// reserve grants up to want units, or nothing if fewer than min remain.
func (c *budgetCounter) reserve(want, min int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.cap - c.used - c.reserved
	if remaining < min || remaining <= 0 {
		return 0
	}
	grant := want
	if grant > remaining {
		grant = remaining
	}
	c.reserved += grant
	return grant
}

// settle returns a reservation, counting used of it as consumed.
func (c *budgetCounter) settle(reserved, used int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved -= reserved
	c.used += used
}

func (c *budgetCounter) budget() Budget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Budget{Cap: c.cap, Used: c.used}
}
