package keeper

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/keeperlabs/orderkeeper/pkg/ledger"
)

var errNotFound = errors.New("order not found")

// fakeGateway is a scripted in-memory ledger. Tests control the order set,
// inject read/match/cancel failures, and observe every mutation request.
type fakeGateway struct {
	mu        sync.Mutex
	next      uint64
	nextErr   error
	panicNext bool
	records   map[uint64]*ledger.OrderRecord
	readErr   map[uint64]error
	matchErr  error
	matchHook func(buyID, sellID uint64)
	cancelErr map[uint64]error
	matched   [][2]uint64
	cancelled []uint64

	// optional hooks for loop tests
	started   chan struct{}
	blockNext chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		next:      1,
		records:   make(map[uint64]*ledger.OrderRecord),
		readErr:   make(map[uint64]error),
		cancelErr: make(map[uint64]error),
	}
}

func (g *fakeGateway) add(rec *ledger.OrderRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[rec.ID] = rec
	if rec.ID >= g.next {
		g.next = rec.ID + 1
	}
}

func (g *fakeGateway) setAmount(id uint64, amount string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[id].AmountIn = amount
}

func (g *fakeGateway) matchedPairs() [][2]uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][2]uint64(nil), g.matched...)
}

func (g *fakeGateway) cancelledIDs() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint64(nil), g.cancelled...)
}

func (g *fakeGateway) NextOrderID(ctx context.Context) (uint64, error) {
	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.blockNext != nil {
		<-g.blockNext
	}
	if g.panicNext {
		panic("ledger exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nextErr != nil {
		return 0, g.nextErr
	}
	return g.next, nil
}

func (g *fakeGateway) GetOrder(ctx context.Context, id uint64) (*ledger.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.readErr[id]; err != nil {
		return nil, err
	}
	rec, ok := g.records[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *rec
	return &cp, nil
}

func (g *fakeGateway) MatchOrders(ctx context.Context, buyID, sellID uint64) error {
	g.mu.Lock()
	g.matched = append(g.matched, [2]uint64{buyID, sellID})
	err := g.matchErr
	hook := g.matchHook
	g.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(buyID, sellID)
	}
	return nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, id uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.cancelErr[id]; err != nil {
		return err
	}
	g.cancelled = append(g.cancelled, id)
	return nil
}

// ---- fixture helpers ----

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return v
}

const farFuture = int64(4_000_000_000)

func buyRec(id uint64, maker, amount, price string) *ledger.OrderRecord {
	return &ledger.OrderRecord{
		ID: id, Maker: maker,
		TokenIn: "0xusdt", TokenOut: "0xtkn",
		AmountIn: amount, TargetPrice: price,
		Expiry: farFuture, Kind: ledger.KindBuy,
	}
}

func sellRec(id uint64, maker, amount, price string) *ledger.OrderRecord {
	return &ledger.OrderRecord{
		ID: id, Maker: maker,
		TokenIn: "0xtkn", TokenOut: "0xusdt",
		AmountIn: amount, TargetPrice: price,
		Expiry: farFuture, Kind: ledger.KindSell,
	}
}
