package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"lv-margin/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceTick is a validated upstream price sample. Prices are never generated
// locally; everything flows in through a feed.
type PriceTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

type wireTick struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	TS     int64  `json:"ts"`
}

// Feed subscribes to an upstream websocket and republishes validated ticks
// on the bus. Malformed or non-positive prices are counted and dropped.
type Feed struct {
	url    string
	bus    *Bus
	quotes *Quotes
	log    *zap.Logger
}

func NewFeed(url string, bus *Bus, quotes *Quotes, log *zap.Logger) *Feed {
	return &Feed{url: url, bus: bus, quotes: quotes, log: log}
}

// Run keeps the upstream connection alive until ctx is cancelled,
// reconnecting with doubling backoff capped at 30s.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := f.consume(ctx); err != nil && ctx.Err() == nil {
			f.log.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.log.Info("feed connected", zap.String("url", f.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, ok := f.parse(msg)
		if !ok {
			metrics.InvalidTicks.Inc()
			continue
		}
		f.quotes.Set(ctx, tick.Symbol, tick.Price, tick.At)
		f.bus.Publish(Event{Type: EventPrice, Data: tick})
	}
}

func (f *Feed) parse(msg []byte) (PriceTick, bool) {
	var w wireTick
	if err := json.Unmarshal(msg, &w); err != nil {
		return PriceTick{}, false
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil || w.Symbol == "" || price.LessThanOrEqual(decimal.Zero) {
		return PriceTick{}, false
	}
	at := time.Now().UTC()
	if w.TS > 0 {
		at = time.UnixMilli(w.TS).UTC()
	}
	return PriceTick{Symbol: w.Symbol, Price: price, At: at}, true
}
