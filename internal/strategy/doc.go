// Package strategy drives one scan from the first request to the last
// audit job.
//
// A scan runs in three phases, one after another:
//
//  1. infrastructure: the targets are checked for reachability, then every
//     infrastructure plugin runs once per target.
//  2. crawl: crawl plugins discover URLs breadth first, up to the configured
//     depth and discovery time.
//  3. audit: every audit plugin runs against every discovered URL.
//
// Plugin calls within a phase run in parallel on the worker pool. Grep
// plugins see every response of the scan; they run on their own consumer
// goroutines fed by the transport, never on the worker pool, because a pool
// task that issues a request must not wait on the pool itself.
//
// Design decision: the strategy never panics or returns sentinel errors to
// signal how a scan ended. Start returns a Result whose Outcome tells the
// caller whether the scan completed or why it stopped; the error return is
// reserved for conditions the caller cannot treat as a normal end.
package strategy
