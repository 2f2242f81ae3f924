// Package connid provides the single process-wide connection-id counter
// (§4.5, §9): a monotonic u64, mutated by atomic fetch-add, requiring no
// lock.
package connid

import "sync/atomic"

var counter uint64

// Next returns the next connection id. Ids start at 1; 0 is never
// issued, so it can be used as a sentinel for "no session" where needed.
func Next() uint64 {
	return atomic.AddUint64(&counter, 1)
}
