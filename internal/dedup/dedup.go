package dedup

import "context"

// Guard short-circuits reprocessing of message ids already seen.
//
// TryAcquire atomically checks and marks id. It returns true when the caller
// owns the id and should process it, false when another caller got there first.
// On error the boolean still tells the caller whether to proceed.
// A Guard is an optimisation only; the storage primary key stays authoritative.
type Guard interface {
	TryAcquire(ctx context.Context, id string) (bool, error)
}
