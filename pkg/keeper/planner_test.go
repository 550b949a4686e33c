package keeper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keeperlabs/orderkeeper/pkg/ledger"
)

const dustThreshold = "1000000000000" // 1e12

func newTestPlanner(gw ledger.Gateway, retry RetryLedger, allowlist ...string) *Planner {
	return NewPlanner(gw, retry, PlannerConfig{
		DustThreshold: bi(dustThreshold),
		RetryLimit:    3,
		Allowlist:     allowlist,
	}, zap.NewNop())
}

func testOrder(id uint64, side Side, maker, amount, price string) *Order {
	tokenIn, tokenOut := "0xusdt", "0xtkn"
	if side == Sell {
		tokenIn, tokenOut = "0xtkn", "0xusdt"
	}
	return &Order{
		ID: id, Maker: maker,
		TokenIn: tokenIn, TokenOut: tokenOut,
		AmountIn: bi(amount), TargetPrice: bi(price),
		Expiry: farFuture, Side: side,
	}
}

// seed mirrors the in-memory orders into the fake ledger so post-match
// re-reads see them still open.
func seed(g *fakeGateway, orders ...*Order) {
	for _, o := range orders {
		kind := ledger.KindBuy
		if o.Side == Sell {
			kind = ledger.KindSell
		}
		g.add(&ledger.OrderRecord{
			ID: o.ID, Maker: o.Maker,
			TokenIn: o.TokenIn, TokenOut: o.TokenOut,
			AmountIn: o.AmountIn.String(), TargetPrice: o.TargetPrice.String(),
			Expiry: o.Expiry, Kind: kind,
		})
	}
}

func TestPlanGroupMatchesWithinTolerance(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger())

	// Buy at 1.0, sell at 0.99: buy >= sell − 1bp holds comfortably.
	buy := testOrder(1, Buy, "0xa", "1000000000000000000000", "1000000000000000000")
	sell := testOrder(2, Sell, "0xb", "1000000000000000000", "990000000000000000")
	seed(gw, buy, sell)

	res := p.PlanGroup(context.Background(), []*Order{buy, sell})

	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Matches)
	assert.Equal(t, [][2]uint64{{1, 2}}, gw.matchedPairs())
	assert.False(t, res.StoppedEarly)
	assert.Empty(t, gw.cancelledIDs())
}

func TestPlanGroupToleranceBoundary(t *testing.T) {
	// tolerance = floor(buyPrice / 10000) = 1e14 for a 1e18 buy
	buyPrice := "1000000000000000000"

	tests := []struct {
		name      string
		sellPrice string
		matched   bool
	}{
		{"sell equals buy", "1000000000000000000", true},
		{"sell exactly one tolerance above", "1000100000000000000", true},
		{"sell one unit past tolerance", "1000100000000000001", false},
		{"sell below buy", "999000000000000000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			p := newTestPlanner(gw, NewMemoryRetryLedger())

			buy := testOrder(1, Buy, "0xa", "5000000000000000000", buyPrice)
			sell := testOrder(2, Sell, "0xb", "5000000000000000000", tt.sellPrice)
			seed(gw, buy, sell)

			res := p.PlanGroup(context.Background(), []*Order{buy, sell})
			if tt.matched {
				assert.Equal(t, 1, res.Matches)
			} else {
				assert.Zero(t, res.Candidates, "price gate should reject before any attempt")
				assert.Empty(t, gw.matchedPairs())
			}
		})
	}
}

func TestPlanGroupDustBuyCancelledWhenAllowlisted(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger(), "0xa")

	buy := testOrder(3, Buy, "0xa", "500000000000", "1000000000000000000") // below 1e12
	sell := testOrder(4, Sell, "0xb", "5000000000000000000", "900000000000000000")
	seed(gw, buy, sell)

	res := p.PlanGroup(context.Background(), []*Order{buy, sell})

	assert.Zero(t, res.Matches)
	assert.Empty(t, gw.matchedPairs(), "dust orders never become match candidates")
	assert.Equal(t, []uint64{3}, gw.cancelledIDs())
	assert.Equal(t, 1, res.Cancels)
}

func TestPlanGroupDustForeignMakerLeftAlone(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger()) // empty allowlist

	buy := testOrder(3, Buy, "0xa", "500000000000", "1000000000000000000")
	sell := testOrder(4, Sell, "0xb", "5000000000000000000", "900000000000000000")
	seed(gw, buy, sell)

	res := p.PlanGroup(context.Background(), []*Order{buy, sell})

	assert.Empty(t, gw.matchedPairs())
	assert.Empty(t, gw.cancelledIDs(), "keeper cannot cancel orders it does not own")
	assert.Zero(t, res.Cancels)
}

func TestPlanGroupDustSellSkippedNotFatal(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger())

	buy := testOrder(1, Buy, "0xa", "5000000000000000000", "1000000000000000000")
	dustSell := testOrder(2, Sell, "0xb", "1", "900000000000000000")
	goodSell := testOrder(3, Sell, "0xc", "5000000000000000000", "950000000000000000")
	seed(gw, buy, dustSell, goodSell)

	res := p.PlanGroup(context.Background(), []*Order{buy, dustSell, goodSell})

	// The dust sell sorts first (lowest price) but is skipped; the scan
	// carries on to the next sell.
	assert.Equal(t, [][2]uint64{{1, 3}}, gw.matchedPairs())
	assert.Equal(t, 1, res.Matches)
}

func TestPlanGroupSelfMatchBlocked(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger())

	buy := testOrder(6, Buy, "0xc", "5000000000000000000", "1000000000000000000")
	sell := testOrder(7, Sell, "0xc", "5000000000000000000", "900000000000000000")
	seed(gw, buy, sell)

	res := p.PlanGroup(context.Background(), []*Order{buy, sell})

	assert.Zero(t, res.Candidates, "self-match never becomes a candidate")
	assert.Empty(t, gw.matchedPairs())
}

func TestPlanGroupSelfMatchAllowlisted(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger(), "0xc")

	buy := testOrder(6, Buy, "0xc", "5000000000000000000", "1000000000000000000")
	sell := testOrder(7, Sell, "0xc", "5000000000000000000", "900000000000000000")
	seed(gw, buy, sell)

	res := p.PlanGroup(context.Background(), []*Order{buy, sell})
	assert.Equal(t, 1, res.Matches)
}

func TestPlanGroupBoundedRetry(t *testing.T) {
	gw := newFakeGateway()
	retry := NewMemoryRetryLedger()
	p := newTestPlanner(gw, retry, "0xa") // keeper operates for the buy maker only

	buy := testOrder(4, Buy, "0xa", "5000000000000000000", "1000000000000000000")
	sell := testOrder(5, Sell, "0xb", "5000000000000000000", "900000000000000000")
	seed(gw, buy, sell)
	gw.matchErr = errors.New("ledger rejected")

	group := []*Order{buy, sell}

	// Attempts 1 and 2 reach the ledger and fail; the counter survives.
	p.PlanGroup(context.Background(), group)
	p.PlanGroup(context.Background(), group)
	require.Len(t, gw.matchedPairs(), 2)
	assert.Equal(t, 1, retry.Len())
	assert.Empty(t, gw.cancelledIDs())

	// Attempt 3 abandons the pair: no third ledger call, owned side
	// cancelled, counter removed.
	res := p.PlanGroup(context.Background(), group)
	assert.Len(t, gw.matchedPairs(), 2)
	assert.Equal(t, []uint64{4}, gw.cancelledIDs(), "only the allow-listed side is cancelled")
	assert.Equal(t, 1, res.Cancels)
	assert.Zero(t, retry.Len())

	// A fourth observation of the exact same pair starts a fresh count.
	p.PlanGroup(context.Background(), group)
	assert.Len(t, gw.matchedPairs(), 3)
	assert.Equal(t, 1, retry.Len())
}

func TestPlanGroupStopsWhenMatchedOrderCloses(t *testing.T) {
	gw := newFakeGateway()
	retry := NewMemoryRetryLedger()
	p := newTestPlanner(gw, retry)

	buy := testOrder(8, Buy, "0xa", "9000000000000000000", "1000000000000000000")
	sell1 := testOrder(9, Sell, "0xb", "3000000000000000000", "900000000000000000")
	sell2 := testOrder(10, Sell, "0xc", "3000000000000000000", "950000000000000000")
	seed(gw, buy, sell1, sell2)

	// The first settlement consumes sell #9 entirely.
	gw.matchHook = func(buyID, sellID uint64) {
		gw.setAmount(sellID, "0")
	}

	res := p.PlanGroup(context.Background(), []*Order{buy, sell1, sell2})

	assert.Equal(t, [][2]uint64{{8, 9}}, gw.matchedPairs(),
		"remaining sells are stale once a matched order closes")
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, 1, res.Matches)
	assert.Zero(t, retry.Len(), "counter for the settled pair is dropped")
}

func TestPlanGroupPartialFillKeepsScanning(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger())

	buy := testOrder(1, Buy, "0xa", "9000000000000000000", "1000000000000000000")
	sell1 := testOrder(2, Sell, "0xb", "3000000000000000000", "900000000000000000")
	sell2 := testOrder(3, Sell, "0xc", "3000000000000000000", "950000000000000000")
	seed(gw, buy, sell1, sell2)

	// Each settlement leaves both sides partially open.
	gw.matchHook = func(buyID, sellID uint64) {
		gw.setAmount(buyID, "6000000000000000000")
		gw.setAmount(sellID, "1500000000000000000")
	}

	res := p.PlanGroup(context.Background(), []*Order{buy, sell1, sell2})

	assert.Equal(t, [][2]uint64{{1, 2}, {1, 3}}, gw.matchedPairs(),
		"a partially filled buy keeps scanning the remaining sells")
	assert.Equal(t, 2, res.Matches)
	assert.False(t, res.StoppedEarly)
}

func TestPlanGroupOneSidedGroupDoesNothing(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger())

	buys := []*Order{
		testOrder(1, Buy, "0xa", "5000000000000000000", "1000000000000000000"),
		testOrder(2, Buy, "0xb", "5000000000000000000", "1100000000000000000"),
	}
	res := p.PlanGroup(context.Background(), buys)
	assert.Equal(t, PlanResult{}, res)
	assert.Empty(t, gw.matchedPairs())
}

func TestPlanGroupMatchOrderIsPricePriority(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger())

	// Two crossing buys: the more aggressive one must be tried first.
	buyLow := testOrder(1, Buy, "0xa", "5000000000000000000", "1000000000000000000")
	buyHigh := testOrder(2, Buy, "0xb", "5000000000000000000", "1200000000000000000")
	sell := testOrder(3, Sell, "0xc", "5000000000000000000", "900000000000000000")
	seed(gw, buyLow, buyHigh, sell)

	p.PlanGroup(context.Background(), []*Order{buyLow, buyHigh, sell})

	pairs := gw.matchedPairs()
	require.NotEmpty(t, pairs)
	assert.Equal(t, uint64(2), pairs[0][0], "highest buy target goes first")
}

func TestPlanGroupCancelFailureIsNotFatal(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPlanner(gw, NewMemoryRetryLedger(), "0xa")

	dustBuy := testOrder(1, Buy, "0xa", "1", "1000000000000000000")
	sell := testOrder(2, Sell, "0xb", "5000000000000000000", "900000000000000000")
	seed(gw, dustBuy, sell)
	gw.cancelErr[1] = errors.New("nonce too low")

	res := p.PlanGroup(context.Background(), []*Order{dustBuy, sell})

	// Rejected cancel is a logged no-op; nothing else in the group breaks.
	assert.Zero(t, res.Cancels)
	assert.Empty(t, gw.cancelledIDs())
}
