package keeper

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// keys: r:<8-byte buy id><8-byte sell id>, big-endian so iteration is ordered
var retryPrefix = []byte("r:")

func retryKeyBytes(key RetryKey) []byte {
	b := make([]byte, len(retryPrefix)+16)
	copy(b, retryPrefix)
	binary.BigEndian.PutUint64(b[len(retryPrefix):], key.BuyID)
	binary.BigEndian.PutUint64(b[len(retryPrefix)+8:], key.SellID)
	return b
}

func parseRetryKey(b []byte) (RetryKey, bool) {
	if len(b) != len(retryPrefix)+16 {
		return RetryKey{}, false
	}
	rest := b[len(retryPrefix):]
	return RetryKey{
		BuyID:  binary.BigEndian.Uint64(rest[:8]),
		SellID: binary.BigEndian.Uint64(rest[8:]),
	}, true
}

// PebbleRetryLedger keeps attempt counts in a pebble database so a restart
// does not reset retry history. The store is tiny (one uvarint per live
// candidate pair); a store error degrades to in-cycle counting, never to a
// crashed cycle.
type PebbleRetryLedger struct {
	mu  sync.Mutex
	db  *pebble.DB
	log *zap.Logger
}

func OpenPebbleRetryLedger(path string, log *zap.Logger) (*PebbleRetryLedger, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleRetryLedger{db: db, log: log}, nil
}

func (l *PebbleRetryLedger) Close() error { return l.db.Close() }

var _ RetryLedger = (*PebbleRetryLedger)(nil)

func (l *PebbleRetryLedger) Increment(key RetryKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kb := retryKeyBytes(key)
	count := l.read(kb)
	count++

	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, uint64(count))
	if err := l.db.Set(kb, buf[:n], pebble.Sync); err != nil {
		l.log.Warn("retry_store_write_failed", zap.Error(err),
			zap.Uint64("buy", key.BuyID), zap.Uint64("sell", key.SellID))
	}
	return count
}

func (l *PebbleRetryLedger) Remove(key RetryKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Delete(retryKeyBytes(key), pebble.Sync); err != nil {
		l.log.Warn("retry_store_delete_failed", zap.Error(err),
			zap.Uint64("buy", key.BuyID), zap.Uint64("sell", key.SellID))
	}
}

func (l *PebbleRetryLedger) Prune(keep func(RetryKey) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range l.keys() {
		if keep(key) {
			continue
		}
		if err := l.db.Delete(retryKeyBytes(key), pebble.Sync); err != nil {
			l.log.Warn("retry_store_delete_failed", zap.Error(err),
				zap.Uint64("buy", key.BuyID), zap.Uint64("sell", key.SellID))
			continue
		}
		removed++
	}
	return removed
}

func (l *PebbleRetryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys())
}

func (l *PebbleRetryLedger) read(kb []byte) int {
	val, closer, err := l.db.Get(kb)
	if err != nil {
		if err != pebble.ErrNotFound {
			l.log.Warn("retry_store_read_failed", zap.Error(err))
		}
		return 0
	}
	defer closer.Close()
	count, n := binary.Uvarint(val)
	if n <= 0 {
		return 0
	}
	return int(count)
}

// keys snapshots all live retry keys. Caller holds the lock.
func (l *PebbleRetryLedger) keys() []RetryKey {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: retryPrefix,
		UpperBound: []byte("r;"), // next byte after ':'
	})
	if err != nil {
		l.log.Warn("retry_store_iter_failed", zap.Error(err))
		return nil
	}
	defer iter.Close()

	var out []RetryKey
	for iter.First(); iter.Valid(); iter.Next() {
		if key, ok := parseRetryKey(iter.Key()); ok {
			out = append(out, key)
		}
	}
	return out
}
