package ledger

import "context"

// Order kinds as encoded by the order-book contract.
const (
	KindBuy  uint8 = 0
	KindSell uint8 = 1
)

// OrderRecord is the raw order tuple as it comes off the ledger. Numeric
// fields travel as decimal strings: the RPC boundary is loosely typed, so
// parsing and validation happen once, at the snapshot boundary.
type OrderRecord struct {
	ID          uint64
	Maker       string
	TokenIn     string
	TokenOut    string
	AmountIn    string
	TargetPrice string
	Expiry      int64
	Filled      bool
	Cancelled   bool
	Kind        uint8
}

// Gateway is the keeper's only window onto the external ledger. The ledger
// owns all order state; the keeper only reads it and requests mutations.
type Gateway interface {
	// NextOrderID returns the exclusive upper bound of assigned order ids.
	NextOrderID(ctx context.Context) (uint64, error)
	// GetOrder is a point read. Callers treat any error as "absent".
	GetOrder(ctx context.Context, id uint64) (*OrderRecord, error)
	// MatchOrders asks the ledger to atomically settle the two orders.
	// Failure reasons are opaque to the keeper.
	MatchOrders(ctx context.Context, buyID, sellID uint64) error
	// CancelOrder voids an order. Only succeeds for orders the keeper's
	// signing key owns; the ledger enforces that, not the keeper.
	CancelOrder(ctx context.Context, id uint64) error
}
