package indexer

import "context"

// Indexer is the common contract every concrete indexer implements
// (spec.md section 4.2): a single tick fetches, processes, and advances
// the cursor as one logical step, so a mid-batch failure never advances
// past unprocessed work.
type Indexer interface {
	// Tick runs one adaptive-range iteration: determine the next
	// range, fetch its records, process them, and advance the cursor.
	// It returns false, nil when the indexer has caught up to the
	// chain head and there is nothing left to do this tick.
	Tick(ctx context.Context) (advanced bool, err error)
}
