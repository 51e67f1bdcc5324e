package history

import "sync"

// Tracker records which corpus items have been handed out. Items are
// visited in order, so a cursor and count describe the state fully.
type Tracker struct {
	mu      sync.Mutex
	total   int
	visited []bool
	last    int
	count   int
}

// NewTracker returns a tracker for a corpus of total items.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total, visited: make([]bool, total), last: -1}
}

// Next marks up to n items after the last visited one and returns the
// half-open range [start, end). ok is false when everything is visited.
func (t *Tracker) Next(n int) (start, end int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == t.total {
		return 0, 0, false
	}
	if n <= 0 {
		n = 1
	}
	start = t.last + 1
	end = min(start+n, t.total)
	for i := start; i < end; i++ {
		t.mark(i)
	}
	if end > start {
		t.last = end - 1
	}
	return start, end, end > start
}

// MarkAll marks every item visited.
func (t *Tracker) MarkAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.total {
		t.mark(i)
	}
	t.last = t.total - 1
}

func (t *Tracker) mark(i int) {
	if !t.visited[i] {
		t.visited[i] = true
		t.count++
	}
}

// Visited returns the number of visited items.
func (t *Tracker) Visited() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Total returns the corpus size.
func (t *Tracker) Total() int { return t.total }

// Complete reports whether every item has been visited.
func (t *Tracker) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count == t.total
}
