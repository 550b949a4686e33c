package keeper

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/keeperlabs/orderkeeper/pkg/ledger"
)

const snapshotWorkers = 16

// Snapshotter pulls every order in [1, nextOrderId) off the ledger and
// returns the open subset. Point reads fan out concurrently; they are pure
// reads with no ordering dependency. A single failed read means that order is
// absent this cycle, nothing more. Only the id counter is load-bearing: if it
// cannot be read there is no range to scan and the cycle aborts.
type Snapshotter struct {
	gateway ledger.Gateway
	workers int
	log     *zap.Logger
}

func NewSnapshotter(gateway ledger.Gateway, log *zap.Logger) *Snapshotter {
	return &Snapshotter{gateway: gateway, workers: snapshotWorkers, log: log}
}

// Snapshot returns the open orders at `now` (id order preserved) and the
// total number of ids scanned.
func (s *Snapshotter) Snapshot(ctx context.Context, now int64) ([]*Order, int, error) {
	next, err := s.gateway.NextOrderID(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read next order id: %w", err)
	}
	if next <= 1 {
		return nil, 0, nil
	}
	total := int(next - 1)

	slots := make([]*Order, total)
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for id := uint64(1); id < next; id++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(id uint64) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := s.gateway.GetOrder(ctx, id)
			if err != nil {
				// Absent, not fatal: old ids may be gone entirely.
				s.log.Debug("order_read_failed", zap.Uint64("order", id), zap.Error(err))
				return
			}
			if rec == nil {
				return
			}
			slots[id-1] = Normalize(rec)
		}(id)
	}
	wg.Wait()

	open := make([]*Order, 0, total)
	for _, o := range slots {
		if o != nil && o.Open(now) {
			open = append(open, o)
		}
	}
	return open, total, nil
}
