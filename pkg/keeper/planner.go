package keeper

import (
	"context"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/keeperlabs/orderkeeper/pkg/ledger"
)

// toleranceDivisor gives the 1-basis-point price allowance that absorbs
// fixed-point rounding between buy and sell targets. Always computed from the
// buy side: eligible iff buy >= sell - floor(buy/10000).
const toleranceDivisor = 10000

// PlannerConfig carries the operator policy knobs.
type PlannerConfig struct {
	DustThreshold *big.Int
	RetryLimit    int
	// Allowlist holds lowercase maker addresses that may self-match and
	// whose orders the keeper is entitled to cancel.
	Allowlist []string
}

// PlanResult summarizes what one group plan did.
type PlanResult struct {
	Candidates    int
	Matches       int
	MatchFailures int
	Cancels       int
	StoppedEarly  bool
}

// Planner decides, for a single pair group, which matches and cancellations
// to attempt this cycle. It never mutates ledger state itself; it requests
// mutations through the gateway and re-reads the result. Every gateway call
// is independently guarded: a rejected action is a logged no-op, not a cycle
// abort.
type Planner struct {
	gateway    ledger.Gateway
	retry      RetryLedger
	dust       *big.Int
	retryLimit int
	allowlist  map[string]bool
	log        *zap.Logger
}

func NewPlanner(gateway ledger.Gateway, retry RetryLedger, cfg PlannerConfig, log *zap.Logger) *Planner {
	allow := make(map[string]bool, len(cfg.Allowlist))
	for _, addr := range cfg.Allowlist {
		allow[addr] = true
	}
	dust := cfg.DustThreshold
	if dust == nil {
		dust = new(big.Int)
	}
	limit := cfg.RetryLimit
	if limit <= 0 {
		limit = 3
	}
	return &Planner{
		gateway:    gateway,
		retry:      retry,
		dust:       dust,
		retryLimit: limit,
		allowlist:  allow,
		log:        log,
	}
}

// PlanGroup runs the nested buy/sell scan over one pair group.
//
// Buys are ordered most aggressive first (highest target), sells likewise
// (lowest target); the sort is stable so equal prices keep snapshot order.
// Gates apply per candidate in order: dust, self-match, price crossing. An
// eligible candidate is charged against the retry ledger before anything is
// sent, so a pair that keeps failing is abandoned after retryLimit attempts.
//
// A successful match is re-read from the ledger; if either side closed, the
// closed order has consumed available counterparties and the remainder of
// this group is stale until the next snapshot, so the scan stops here. Other
// groups in the same cycle are unaffected.
func (p *Planner) PlanGroup(ctx context.Context, group []*Order) PlanResult {
	var res PlanResult

	var buys, sells []*Order
	for _, o := range group {
		if o.Side == Buy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	if len(buys) == 0 || len(sells) == 0 {
		return res
	}

	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].TargetPrice.Cmp(buys[j].TargetPrice) > 0
	})
	sort.SliceStable(sells, func(i, j int) bool {
		return sells[i].TargetPrice.Cmp(sells[j].TargetPrice) < 0
	})

	// One cancel request per order per cycle is enough; the dust gate would
	// otherwise re-request on every pairing.
	requested := make(map[uint64]bool)

	for _, buy := range buys {
		for _, sell := range sells {
			if sell.Closed() {
				continue
			}
			if p.isDust(buy) {
				// Every remaining sell would hit the same gate; deal
				// with the buy once and move on. Partial fills can land
				// here mid-scan, so this is checked per candidate.
				res.Cancels += p.cancelDust(ctx, buy, requested)
				break
			}
			if p.isDust(sell) {
				res.Cancels += p.cancelDust(ctx, sell, requested)
				continue
			}
			if buy.Maker == sell.Maker && !p.allowlist[buy.Maker] {
				p.log.Debug("self_match_skipped",
					zap.Uint64("buy", buy.ID), zap.Uint64("sell", sell.ID),
					zap.String("maker", buy.Maker))
				continue
			}
			if !p.crosses(buy.TargetPrice, sell.TargetPrice) {
				continue
			}

			res.Candidates++
			key := RetryKey{BuyID: buy.ID, SellID: sell.ID}
			attempts := p.retry.Increment(key)
			if attempts >= p.retryLimit {
				p.log.Warn("candidate_abandoned",
					zap.Uint64("buy", buy.ID), zap.Uint64("sell", sell.ID),
					zap.Int("attempts", attempts))
				res.Cancels += p.abandon(ctx, buy, sell, requested)
				p.retry.Remove(key)
				continue
			}

			if err := p.gateway.MatchOrders(ctx, buy.ID, sell.ID); err != nil {
				// Counter stays; the pair gets charged again next cycle.
				res.MatchFailures++
				p.log.Warn("match_rejected",
					zap.Uint64("buy", buy.ID), zap.Uint64("sell", sell.ID),
					zap.Int("attempts", attempts), zap.Error(err))
				continue
			}
			res.Matches++
			p.log.Info("orders_matched",
				zap.Uint64("buy", buy.ID), zap.Uint64("sell", sell.ID),
				zap.String("pair", PairOf(buy).String()))

			if p.refresh(ctx, buy) || p.refresh(ctx, sell) {
				p.retry.Remove(key)
				res.StoppedEarly = true
				p.log.Info("group_scan_stopped",
					zap.Uint64("buy", buy.ID), zap.Uint64("sell", sell.ID),
					zap.String("pair", PairOf(buy).String()))
				return res
			}
			// Both sides still open (partial fills): same buy keeps
			// scanning the remaining sells with its reduced amount.
		}
	}
	return res
}

func (p *Planner) isDust(o *Order) bool {
	return o.AmountIn.Cmp(p.dust) < 0
}

// crosses applies the price gate: buy >= sell - floor(buy/10000).
func (p *Planner) crosses(buyPrice, sellPrice *big.Int) bool {
	tolerance := new(big.Int).Quo(buyPrice, big.NewInt(toleranceDivisor))
	floor := new(big.Int).Sub(sellPrice, tolerance)
	return buyPrice.Cmp(floor) >= 0
}

// cancelDust requests cancellation of a below-threshold order. The keeper can
// only cancel orders whose maker it operates for; anyone else's dust is left
// alone and will keep surfacing until its maker or expiry resolves it.
func (p *Planner) cancelDust(ctx context.Context, o *Order, requested map[uint64]bool) int {
	if !p.allowlist[o.Maker] {
		p.log.Debug("dust_skipped", zap.Uint64("order", o.ID),
			zap.String("maker", o.Maker), zap.String("amount", o.AmountIn.String()))
		return 0
	}
	return p.requestCancel(ctx, o, "dust", requested)
}

// abandon cancels whichever sides of a given-up candidate the keeper owns.
func (p *Planner) abandon(ctx context.Context, buy, sell *Order, requested map[uint64]bool) int {
	cancels := 0
	for _, o := range []*Order{buy, sell} {
		if p.allowlist[o.Maker] {
			cancels += p.requestCancel(ctx, o, "retries_exhausted", requested)
		}
	}
	return cancels
}

func (p *Planner) requestCancel(ctx context.Context, o *Order, reason string, requested map[uint64]bool) int {
	if requested[o.ID] {
		return 0
	}
	if err := p.gateway.CancelOrder(ctx, o.ID); err != nil {
		p.log.Warn("cancel_rejected", zap.Uint64("order", o.ID),
			zap.String("reason", reason), zap.Error(err))
		return 0
	}
	requested[o.ID] = true
	p.log.Info("order_cancelled", zap.Uint64("order", o.ID), zap.String("reason", reason))
	return 1
}

// refresh re-reads one side of a settled match and folds the post-match state
// into the local copy. Reports whether the order is now closed; an unreadable
// order counts as closed (treated as absent, and a fresh snapshot will settle
// the question next cycle).
func (p *Planner) refresh(ctx context.Context, o *Order) bool {
	rec, err := p.gateway.GetOrder(ctx, o.ID)
	if err != nil || rec == nil {
		p.log.Debug("post_match_read_failed", zap.Uint64("order", o.ID), zap.Error(err))
		return true
	}
	fresh := Normalize(rec)
	o.AmountIn = fresh.AmountIn
	o.Filled = fresh.Filled
	o.Cancelled = fresh.Cancelled
	return o.Closed()
}
