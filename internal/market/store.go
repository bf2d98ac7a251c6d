package market

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// CandleStore caches the bounded per-symbol, per-interval candle windows the
// scan pipelines read from.
type CandleStore interface {
	Put(ctx context.Context, symbol, interval string, ks []Candle, max int) error
	Get(ctx context.Context, symbol, interval string) ([]Candle, error)
}

type MemoryCandleStore struct {
	shards []candleShard
}

type candleShard struct {
	mu   sync.RWMutex
	data map[string][]Candle
}

const defaultShardCount = 32

func NewMemoryCandleStore() *MemoryCandleStore {
	s := &MemoryCandleStore{shards: make([]candleShard, defaultShardCount)}
	for i := range s.shards {
		s.shards[i] = candleShard{data: make(map[string][]Candle)}
	}
	return s
}

func storeKey(symbol, interval string) string { return symbol + "@" + interval }

func (s *MemoryCandleStore) shardFor(key string) *candleShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Put merges candles into the cached window. A candle with a known open time
// replaces the cached one (the bar may still have been forming); newer candles
// append. Older-than-last candles are dropped so the window never reorders.
func (s *MemoryCandleStore) Put(ctx context.Context, symbol, interval string, ks []Candle, max int) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol and interval are required")
	}
	if len(ks) == 0 {
		return nil
	}
	if max <= 0 {
		max = 100
	}
	key := storeKey(symbol, interval)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[key]
	for _, candle := range ks {
		n := len(cur)
		switch {
		case n > 0 && cur[n-1].OpenTime == candle.OpenTime:
			cur[n-1] = candle
		case n > 0 && cur[n-1].OpenTime > candle.OpenTime:
			// out-of-order delivery, ignore rather than reorder
		default:
			cur = append(cur, candle)
		}
	}
	if len(cur) > max {
		cur = append([]Candle(nil), cur[len(cur)-max:]...)
	}
	sh.data[key] = cur
	return nil
}

func (s *MemoryCandleStore) Get(ctx context.Context, symbol, interval string) ([]Candle, error) {
	key := storeKey(symbol, interval)
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[key]
	if len(cur) == 0 {
		return nil, nil
	}
	out := make([]Candle, len(cur))
	copy(out, cur)
	return out, nil
}
