package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const quoteMirrorTTL = 30 * time.Second

type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// Quotes is the last-price cache. Reads are served from memory; when a redis
// client is configured, writes are mirrored there so sibling processes can
// serve quotes too. The mirror is best effort and never blocks the engine.
type Quotes struct {
	mu   sync.RWMutex
	data map[string]Quote

	rdb *redis.Client
	log *zap.Logger
}

func NewQuotes(rdb *redis.Client, log *zap.Logger) *Quotes {
	return &Quotes{data: make(map[string]Quote), rdb: rdb, log: log}
}

func (q *Quotes) Set(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) {
	if symbol == "" || price.LessThanOrEqual(decimal.Zero) {
		return
	}
	q.mu.Lock()
	q.data[symbol] = Quote{Symbol: symbol, Price: price, At: at}
	q.mu.Unlock()

	if q.rdb != nil {
		if err := q.rdb.Set(ctx, "quote:"+symbol, price.String(), quoteMirrorTTL).Err(); err != nil {
			q.log.Warn("quote mirror write failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (q *Quotes) Get(symbol string) (Quote, bool) {
	q.mu.RLock()
	quote, ok := q.data[symbol]
	q.mu.RUnlock()
	return quote, ok
}
