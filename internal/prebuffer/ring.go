package prebuffer

import (
	"sort"
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/demux"
)

// compactAfter is the number of front removals after which the backing
// array is reallocated so trimmed entries can be collected.
const compactAfter = 1000

// Entry is one buffered chunk and the time it was received.
type Entry struct {
	Chunk demux.Chunk
	At    time.Time
}

// Ring holds the chunks of one container received within the last window.
// It is not safe for concurrent use; the owning Controller serialises access.
type Ring struct {
	window  time.Duration
	entries []Entry
	shifts  int
	bytes   int64
}

// NewRing creates a ring retaining window worth of chunks.
func NewRing(window time.Duration) *Ring {
	return &Ring{window: window}
}

// Window returns the retention duration.
func (r *Ring) Window() time.Duration {
	return r.window
}

// SetWindow changes the retention duration. The next Append trims to it.
func (r *Ring) SetWindow(window time.Duration) {
	r.window = window
}

// Append records chunk at now and drops entries older than the window.
func (r *Ring) Append(chunk demux.Chunk, now time.Time) {
	if n := len(r.entries); n > 0 && now.Before(r.entries[n-1].At) {
		now = r.entries[n-1].At
	}
	r.entries = append(r.entries, Entry{Chunk: chunk, At: now})
	r.bytes += int64(chunk.Len())

	cutoff := now.Add(-r.window)
	for len(r.entries) > 0 && r.entries[0].At.Before(cutoff) {
		r.bytes -= int64(r.entries[0].Chunk.Len())
		r.entries[0] = Entry{}
		r.entries = r.entries[1:]
		r.shifts++
	}

	if r.shifts > compactAfter {
		r.entries = append(make([]Entry, 0, len(r.entries)+compactAfter/4), r.entries...)
		r.shifts = 0
	}
}

// Snapshot returns, in order, the entries received at or after since.
func (r *Ring) Snapshot(since time.Time) []Entry {
	i := r.firstAtOrAfter(since)
	out := make([]Entry, len(r.entries)-i)
	copy(out, r.entries[i:])
	return out
}

// AvailableBytes is the payload size of the entries at or after since.
func (r *Ring) AvailableBytes(since time.Time) int64 {
	var n int64
	for _, e := range r.entries[r.firstAtOrAfter(since):] {
		n += int64(e.Chunk.Len())
	}
	return n
}

// Bitrate returns the observed kbit/s across the buffered window, or 0
// when there is not enough history.
func (r *Ring) Bitrate(now time.Time) int64 {
	if len(r.entries) == 0 {
		return 0
	}
	elapsed := now.Sub(r.entries[0].At).Milliseconds()
	if elapsed <= 0 {
		return 0
	}
	// bytes per ms * 8 = kbit/s
	return r.bytes * 8 / elapsed
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	return len(r.entries)
}

// Bytes returns the total payload held.
func (r *Ring) Bytes() int64 {
	return r.bytes
}

// Clear drops every entry.
func (r *Ring) Clear() {
	r.entries = nil
	r.shifts = 0
	r.bytes = 0
}

// firstAtOrAfter returns the index of the first entry with At >= since.
func (r *Ring) firstAtOrAfter(since time.Time) int {
	return sort.Search(len(r.entries), func(i int) bool {
		return !r.entries[i].At.Before(since)
	})
}
