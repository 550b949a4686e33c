package keeper

import "sync"

// RetryKey identifies a match candidate across cycles.
type RetryKey struct {
	BuyID  uint64
	SellID uint64
}

// RetryLedger counts match attempts per candidate pair so the planner can
// abandon pairs that keep failing instead of retrying them forever. It is
// injectable: tests use the in-memory version, production can run the
// pebble-backed one to keep counts across restarts.
type RetryLedger interface {
	// Increment bumps the attempt count and returns the new value.
	Increment(key RetryKey) int
	// Remove drops the entry; the next Increment starts at 1 again.
	Remove(key RetryKey)
	// Prune removes every entry the keep func rejects and returns how many.
	Prune(keep func(RetryKey) bool) int
	// Len returns the number of live entries.
	Len() int
}

type memoryRetryLedger struct {
	mu     sync.Mutex
	counts map[RetryKey]int
}

// NewMemoryRetryLedger returns a process-lifetime RetryLedger. Counts reset
// on restart, which at worst re-attempts a doomed pair a few more times.
func NewMemoryRetryLedger() RetryLedger {
	return &memoryRetryLedger{counts: make(map[RetryKey]int)}
}

func (l *memoryRetryLedger) Increment(key RetryKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key]
}

func (l *memoryRetryLedger) Remove(key RetryKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
}

func (l *memoryRetryLedger) Prune(keep func(RetryKey) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key := range l.counts {
		if !keep(key) {
			delete(l.counts, key)
			removed++
		}
	}
	return removed
}

func (l *memoryRetryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
