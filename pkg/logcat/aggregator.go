package logcat

// DefaultMaxRecords bounds the published buffer.
const DefaultMaxRecords = 200

// Aggregator collects records between flushes and folds them into a bounded,
// newest-first buffer. It is not safe for concurrent use; a Session owns one
// and touches it only from its run loop.
type Aggregator struct {
	max     int
	buffer  []Record
	pending []Record // arrival order

	targeted bool
	identity string
}

// NewAggregator returns an aggregator whose buffer holds at most max records.
func NewAggregator(max int) *Aggregator {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Aggregator{max: max}
}

// SetTargeted turns identity gating on or off. Either way the last known
// identity is forgotten, so a targeted aggregator drops everything until
// SetIdentity reports a pid.
func (a *Aggregator) SetTargeted(on bool) {
	a.targeted = on
	a.identity = ""
}

// SetIdentity records the target's current pid; "" means not running.
func (a *Aggregator) SetIdentity(pid string) {
	a.identity = pid
}

// Identity returns the last known target pid.
func (a *Aggregator) Identity() string {
	return a.identity
}

// Offer queues r for the next flush unless the identity gate rejects it.
// An unknown identity rejects every record while targeting is on.
func (a *Aggregator) Offer(r Record) bool {
	if a.targeted && (a.identity == "" || r.PID != a.identity) {
		return false
	}
	a.pending = append(a.pending, r)
	return true
}

// Pending returns the number of records waiting for a flush.
func (a *Aggregator) Pending() int {
	return len(a.pending)
}

// Flush moves pending records to the front of the buffer, most recent first,
// and trims the tail to capacity. It returns the new buffer and whether
// anything changed. The returned slice is freshly allocated and never written
// to again, so it may be shared with readers.
func (a *Aggregator) Flush() ([]Record, bool) {
	if len(a.pending) == 0 {
		return a.buffer, false
	}

	n := len(a.pending) + len(a.buffer)
	if n > a.max {
		n = a.max
	}
	next := make([]Record, 0, n)
	for i := len(a.pending) - 1; i >= 0 && len(next) < n; i-- {
		next = append(next, a.pending[i])
	}
	for i := 0; i < len(a.buffer) && len(next) < n; i++ {
		next = append(next, a.buffer[i])
	}

	a.buffer = next
	a.pending = nil
	return a.buffer, true
}

// Records returns the current buffer.
func (a *Aggregator) Records() []Record {
	return a.buffer
}

// Clear empties the buffer but keeps pending records.
func (a *Aggregator) Clear() {
	a.buffer = nil
}

// Discard drops pending records without flushing them.
func (a *Aggregator) Discard() {
	a.pending = nil
}

// Reset empties both the buffer and the pending records.
func (a *Aggregator) Reset() {
	a.buffer = nil
	a.pending = nil
}
