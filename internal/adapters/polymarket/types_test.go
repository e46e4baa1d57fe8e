package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/copybot/internal/domain"
)

func TestUnixTime_SecondsAndMillis(t *testing.T) {
	// La Data API mezcla epoch en segundos y milisegundos según endpoint.
	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, want, unixTime(json.Number("1785585600")))
	assert.Equal(t, want, unixTime(json.Number("1785585600000")))
	assert.Equal(t, want, unixTime(json.Number("1785585600.5")), "decimales se truncan a segundos")
	assert.True(t, unixTime(json.Number("")).IsZero())
	assert.True(t, unixTime(json.Number("garbage")).IsZero())
}

func TestNum_StringOrNumber(t *testing.T) {
	assert.InDelta(t, 0.55, num(json.Number("0.55")), 0.0001)
	assert.Zero(t, num(json.Number("")))
}

func TestToFeedActivity_NormalizesCase(t *testing.T) {
	act := toFeedActivity(rawActivity{
		TransactionHash: "0xdeadbeef",
		Type:            "trade",
		ConditionID:     "m1",
		Asset:           "o1",
		Side:            "buy",
		Price:           json.Number("0.55"),
		Size:            json.Number("100"),
		USDCSize:        json.Number("55"),
		Timestamp:       json.Number("1785585600"),
	})

	assert.Equal(t, "TRADE", act.Type)
	assert.Equal(t, "BUY", act.Side)
	assert.InDelta(t, 55.0, act.USDCSize, 0.001)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), act.Timestamp)
}

func TestToOrderBook_SortsLevels(t *testing.T) {
	book := toOrderBook(rawOrderBook{
		Market:  "m1",
		AssetID: "o1",
		Bids: []rawBookLevel{
			{Price: json.Number("0.40"), Size: json.Number("10")},
			{Price: json.Number("0.48"), Size: json.Number("5")},
			{Price: json.Number("0.45"), Size: json.Number("7")},
		},
		Asks: []rawBookLevel{
			{Price: json.Number("0.60"), Size: json.Number("10")},
			{Price: json.Number("0.52"), Size: json.Number("5")},
		},
	})

	assert.InDelta(t, 0.48, book.BestBid(), 0.0001, "mejor bid es el de mayor precio")
	assert.InDelta(t, 0.52, book.BestAsk(), 0.0001, "mejor ask es el de menor precio")
	assert.InDelta(t, 0.40, book.Bids[2].Price, 0.0001)
}

func TestToOrder_Statuses(t *testing.T) {
	base := rawOrder{
		ID:           "ord-1",
		Market:       "m1",
		AssetID:      "o1",
		Side:         "sell",
		Price:        json.Number("0.50"),
		OriginalSize: json.Number("100"),
	}

	matched := base
	matched.Status = "MATCHED"
	order := toOrder(matched)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, domain.SideSell, order.Side)
	assert.InDelta(t, 100.0, order.FilledSize, 0.001,
		"MATCHED sin size_matched reporta el size completo")

	partial := base
	partial.Status = "LIVE"
	partial.SizeMatched = json.Number("40")
	order = toOrder(partial)
	assert.Equal(t, domain.OrderStatusPartial, order.Status)
	assert.InDelta(t, 40.0, order.FilledSize, 0.001)

	cancelled := base
	cancelled.Status = "CANCELED"
	assert.Equal(t, domain.OrderStatusCancelled, toOrder(cancelled).Status)

	open := base
	open.Status = "LIVE"
	assert.Equal(t, domain.OrderStatusOpen, toOrder(open).Status)
}
