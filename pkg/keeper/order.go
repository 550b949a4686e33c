package keeper

import (
	"math/big"
	"strings"

	"github.com/keeperlabs/orderkeeper/pkg/ledger"
)

type Side uint8

const (
	Buy  Side = iota // tokenIn is the quote asset spent to acquire tokenOut
	Sell             // the inverse
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Order is the keeper's immutable per-cycle copy of a ledger order record,
// fully normalized: lowercase addresses, non-negative integers. The ledger is
// the only writer of order state; the keeper re-reads after every mutation.
type Order struct {
	ID          uint64
	Maker       string
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	TargetPrice *big.Int // tokenOut per tokenIn, fixed-point (1e18 scale)
	Expiry      int64
	Filled      bool
	Cancelled   bool
	Side        Side
}

// Open reports whether the order is still eligible for matching at `now`.
func (o *Order) Open(now int64) bool {
	return !o.Filled && !o.Cancelled && o.AmountIn.Sign() > 0 && o.Expiry > now
}

// Closed reports whether the order can no longer trade, independent of
// expiry. A closed counterparty after a match means the rest of the group is
// stale until the next snapshot.
func (o *Order) Closed() bool {
	return o.Filled || o.Cancelled || o.AmountIn.Sign() == 0
}

// Normalize parses a raw ledger record into the canonical Order. Records come
// off the wire loosely typed; a malformed numeric field defaults to zero (the
// order then simply fails the open filter) rather than poisoning the cycle.
func Normalize(rec *ledger.OrderRecord) *Order {
	side := Buy
	if rec.Kind == ledger.KindSell {
		side = Sell
	}
	return &Order{
		ID:          rec.ID,
		Maker:       strings.ToLower(rec.Maker),
		TokenIn:     strings.ToLower(rec.TokenIn),
		TokenOut:    strings.ToLower(rec.TokenOut),
		AmountIn:    parseAmount(rec.AmountIn),
		TargetPrice: parseAmount(rec.TargetPrice),
		Expiry:      rec.Expiry,
		Filled:      rec.Filled,
		Cancelled:   rec.Cancelled,
		Side:        side,
	}
}

func parseAmount(s string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}
