package keeper

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/keeperlabs/orderkeeper/pkg/metrics"
	"github.com/keeperlabs/orderkeeper/pkg/util"
)

// CycleSummary records what one reconciliation pass did.
type CycleSummary struct {
	Seq           int64  `json:"seq"`
	OrdersSeen    int    `json:"ordersSeen"`
	OpenOrders    int    `json:"openOrders"`
	Groups        int    `json:"groups"`
	Candidates    int    `json:"candidates"`
	Matches       int    `json:"matches"`
	MatchFailures int    `json:"matchFailures"`
	Cancels       int    `json:"cancels"`
	RetryEntries  int    `json:"retryEntries"`
	DurationMs    int64  `json:"durationMs"`
	Timestamp     int64  `json:"timestamp"` // cycle start, unix seconds
	Err           string `json:"error,omitempty"`
}

// Engine is the reconciliation loop: snapshot → group → plan on a fixed
// period. It has exactly two states, idle and running. A tick that lands
// while a cycle is in flight is dropped, never queued — at most one cycle
// executes at a time, which is the system's entire concurrency control.
// Nothing that happens inside a cycle can take the loop down.
type Engine struct {
	snap     *Snapshotter
	planner  *Planner
	retry    RetryLedger
	clock    util.Clock
	interval time.Duration
	log      *zap.Logger

	running      atomic.Bool
	cycleSeq     atomic.Int64
	ticksDropped atomic.Int64

	lastMu sync.RWMutex
	last   CycleSummary

	// OnCycle, if set, receives every completed cycle summary. Used to feed
	// the status server's websocket stream.
	OnCycle func(CycleSummary)
}

func NewEngine(snap *Snapshotter, planner *Planner, retry RetryLedger,
	clock util.Clock, interval time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		snap:     snap,
		planner:  planner,
		retry:    retry,
		clock:    clock,
		interval: interval,
		log:      log,
	}
}

// Run drives the loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("engine_started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine_stopped")
			return
		case <-e.clock.After(e.interval):
			if !e.running.CompareAndSwap(false, true) {
				e.ticksDropped.Add(1)
				metrics.TicksDropped.Inc()
				e.log.Debug("tick_dropped", zap.Int64("total_dropped", e.ticksDropped.Load()))
				continue
			}
			go func() {
				defer e.running.Store(false)
				e.RunCycle(ctx)
			}()
		}
	}
}

// RunCycle executes a single reconciliation pass. Panics and snapshot
// failures are absorbed here: the loop only ever skips a period. Exported so
// tests can drive cycles without the ticker.
func (e *Engine) RunCycle(ctx context.Context) (summary CycleSummary) {
	start := e.clock.Now()
	seq := e.cycleSeq.Add(1)

	defer func() {
		if r := recover(); r != nil {
			summary.Err = fmt.Sprintf("panic: %v", r)
			e.log.Error("cycle_panic",
				zap.Int64("cycle", seq),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
		summary.Seq = seq
		summary.Timestamp = start.Unix()
		summary.DurationMs = e.clock.Now().Sub(start).Milliseconds()
		summary.RetryEntries = e.retry.Len()
		e.finish(summary)
	}()

	now := start.Unix()
	open, seen, err := e.snap.Snapshot(ctx, now)
	if err != nil {
		summary.Err = err.Error()
		e.log.Warn("cycle_aborted", zap.Int64("cycle", seq), zap.Error(err))
		return
	}
	summary.OrdersSeen = seen
	summary.OpenOrders = len(open)

	e.pruneRetry(open)

	groups := GroupByPair(open)
	summary.Groups = len(groups)

	// Deterministic group order keeps logs and tests stable.
	keys := make([]PairKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})

	for _, key := range keys {
		res := e.planner.PlanGroup(ctx, groups[key])
		summary.Candidates += res.Candidates
		summary.Matches += res.Matches
		summary.MatchFailures += res.MatchFailures
		summary.Cancels += res.Cancels
	}
	return
}

func (e *Engine) finish(s CycleSummary) {
	metrics.Cycles.Inc()
	if s.Err != "" {
		metrics.CycleFailures.Inc()
	}
	metrics.Matches.Add(float64(s.Matches))
	metrics.MatchFailures.Add(float64(s.MatchFailures))
	metrics.Cancels.Add(float64(s.Cancels))
	metrics.OpenOrders.Set(float64(s.OpenOrders))
	metrics.RetryEntries.Set(float64(s.RetryEntries))

	e.lastMu.Lock()
	e.last = s
	e.lastMu.Unlock()

	e.log.Info("cycle_complete",
		zap.Int64("cycle", s.Seq),
		zap.Int("orders_seen", s.OrdersSeen),
		zap.Int("open_orders", s.OpenOrders),
		zap.Int("groups", s.Groups),
		zap.Int("candidates", s.Candidates),
		zap.Int("matches", s.Matches),
		zap.Int("match_failures", s.MatchFailures),
		zap.Int("cancels", s.Cancels),
		zap.Int("retry_entries", s.RetryEntries),
		zap.Int64("duration_ms", s.DurationMs))

	if e.OnCycle != nil {
		e.OnCycle(s)
	}
}

// pruneRetry drops counters whose orders left the open set: a retry entry
// dies when either side closes.
func (e *Engine) pruneRetry(open []*Order) {
	alive := make(map[uint64]bool, len(open))
	for _, o := range open {
		alive[o.ID] = true
	}
	removed := e.retry.Prune(func(key RetryKey) bool {
		return alive[key.BuyID] && alive[key.SellID]
	})
	if removed > 0 {
		e.log.Debug("retry_entries_pruned", zap.Int("removed", removed))
	}
}

// LastCycle returns the most recent cycle summary.
func (e *Engine) LastCycle() CycleSummary {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	return e.last
}

// TicksDropped returns how many scheduler ticks were skipped because a cycle
// was still in flight.
func (e *Engine) TicksDropped() int64 { return e.ticksDropped.Load() }
