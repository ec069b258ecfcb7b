package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFeed() *Feed {
	log := zap.NewNop()
	return NewFeed("ws://example.invalid/feed", NewBus(), NewQuotes(nil, log), log)
}

func TestParseTick(t *testing.T) {
	f := newTestFeed()

	tick, ok := f.parse([]byte(`{"symbol":"BTC-USDT","price":"42000.5","ts":1700000000000}`))
	assert.True(t, ok)
	assert.Equal(t, "BTC-USDT", tick.Symbol)
	assert.True(t, decimal.RequireFromString("42000.5").Equal(tick.Price))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tick.At)
}

func TestParseRejectsInvalidTicks(t *testing.T) {
	f := newTestFeed()

	cases := []string{
		`not json`,
		`{"symbol":"BTC-USDT","price":"0"}`,
		`{"symbol":"BTC-USDT","price":"-1"}`,
		`{"symbol":"","price":"100"}`,
		`{"symbol":"BTC-USDT","price":"abc"}`,
		`{"symbol":"BTC-USDT"}`,
	}
	for _, c := range cases {
		_, ok := f.parse([]byte(c))
		assert.False(t, ok, "should reject %s", c)
	}
}

func TestQuotesIgnoreInvalidWrites(t *testing.T) {
	q := NewQuotes(nil, zap.NewNop())
	ctx := context.Background()

	q.Set(ctx, "", decimal.RequireFromString("100"), time.Now())
	q.Set(ctx, "BTC-USDT", decimal.Zero, time.Now())
	_, ok := q.Get("BTC-USDT")
	assert.False(t, ok)

	q.Set(ctx, "BTC-USDT", decimal.RequireFromString("100"), time.Now())
	quote, ok := q.Get("BTC-USDT")
	assert.True(t, ok)
	assert.True(t, decimal.RequireFromString("100").Equal(quote.Price))
}

func TestConsumeReleasesWatcherOnDisconnect(t *testing.T) {
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	log := zap.NewNop()
	feed := NewFeed("ws"+strings.TrimPrefix(srv.URL, "http"), NewBus(), NewQuotes(nil, log), log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		require.Error(t, feed.consume(ctx))
	}

	// Each connection's ctx watcher must exit with the connection instead of
	// accumulating one goroutine per reconnect.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() < before+10
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBusDropsSlowSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Overfill the buffer; publishing must not block.
	for i := 0; i < 200; i++ {
		bus.Publish(Event{Type: EventPrice})
	}
	assert.Len(t, ch, 100)
}
