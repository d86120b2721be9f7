package hrv

// Ring stores a fixed number of float64 values in FIFO order.
// When capacity is reached, the oldest value is overwritten.
type Ring struct {
	data []float64
	head int // next write position
	size int
}

// NewRing creates an empty ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{data: make([]float64, capacity)}
}

// NewFilledRing creates a full ring with every slot set to v.
func NewFilledRing(capacity int, v float64) *Ring {
	r := NewRing(capacity)
	for range r.data {
		r.Push(v)
	}
	return r
}

// Push appends a value, evicting the oldest when full.
func (r *Ring) Push(v float64) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.size < len(r.data) {
		r.size++
	}
}

// Len returns the number of stored values.
func (r *Ring) Len() int {
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.data)
}

// At returns the value k positions back from the newest: At(1) is the
// newest, At(2) the one before it. Returns false when out of range.
func (r *Ring) At(k int) (float64, bool) {
	if k < 1 || k > r.size {
		return 0, false
	}
	idx := (r.head - k + len(r.data)) % len(r.data)
	return r.data[idx], true
}

// Last returns the newest value.
func (r *Ring) Last() (float64, bool) {
	return r.At(1)
}

// Values returns a copy of all values, oldest first.
func (r *Ring) Values() []float64 {
	return r.Tail(r.size)
}

// Tail returns a copy of the newest n values, oldest first.
func (r *Ring) Tail(n int) []float64 {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	start := (r.head - n + len(r.data)) % len(r.data)
	for i := range n {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// shift adds delta to every stored value.
func (r *Ring) shift(delta float64) {
	for k := 1; k <= r.size; k++ {
		idx := (r.head - k + len(r.data)) % len(r.data)
		r.data[idx] += delta
	}
}

// TimeSeries is a pair of parallel rings: values and elapsed seconds.
//
// Seconds are offsets relative to the newest sample: the newest entry is
// always 0 and older entries are negative. Each append rebases the
// existing offsets by the duration of the new sample, so the seconds
// ring stays non-decreasing from oldest to newest.
type TimeSeries struct {
	values  *Ring
	seconds *Ring
}

// NewTimeSeries creates a full series of the given capacity. Values are
// set to fill and seconds to -capacity..-1, one second apart.
func NewTimeSeries(capacity int, fill float64) *TimeSeries {
	ts := &TimeSeries{
		values:  NewFilledRing(capacity, fill),
		seconds: NewRing(capacity),
	}
	for i := capacity; i >= 1; i-- {
		ts.seconds.Push(-float64(i))
	}
	return ts
}

// Append adds a value whose duration (seconds since the previous sample)
// is elapsed. Negative durations are treated as zero.
func (ts *TimeSeries) Append(value, elapsed float64) {
	if elapsed < 0 {
		elapsed = 0
	}
	ts.seconds.shift(-elapsed)
	ts.seconds.Push(0)
	ts.values.Push(value)
}

// Values returns a copy of the values, oldest first.
func (ts *TimeSeries) Values() []float64 {
	return ts.values.Values()
}

// Seconds returns a copy of the elapsed-time offsets, oldest first.
func (ts *TimeSeries) Seconds() []float64 {
	return ts.seconds.Values()
}

// Last returns the newest value.
func (ts *TimeSeries) Last() (float64, bool) {
	return ts.values.Last()
}

// At returns the value k positions back from the newest (see Ring.At).
func (ts *TimeSeries) At(k int) (float64, bool) {
	return ts.values.At(k)
}

// Len returns the number of stored samples.
func (ts *TimeSeries) Len() int {
	return ts.values.Len()
}
