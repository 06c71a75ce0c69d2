// Package drain replays the durable failure queue.
//
// A drain run lists pending records oldest first and retries each on its
// destination:
//
//	PENDING --delivered--------------------> removed
//	PENDING --broadcast now filtered-------> removed (resolved)
//	PENDING --failed-----------------------> PENDING, attempts+1
//	PENDING --failed, attempts >= max------> dead/ (only with MaxAttempts)
//
// A run processes a bounded batch and returns; it is not a loop. Runs must
// not overlap: two drainers may both read a record before either removes it.
// After a real run the drainer can raise a backlog alert, which is always sent
// best-effort so it never adds to the queue it reports on.
package drain
