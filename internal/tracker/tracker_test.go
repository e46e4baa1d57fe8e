package tracker_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/events"
	"github.com/alejandrodnm/copybot/internal/tracker"
)

func fill(price, size float64) tracker.Fill {
	return tracker.Fill{
		TraderID:  "t1",
		MarketID:  "m1",
		OutcomeID: "o1",
		Outcome:   "Yes",
		Price:     price,
		Size:      size,
	}
}

func TestRecordBuy_WeightedAverage(t *testing.T) {
	trk := tracker.New(events.NewBus())

	pos := trk.RecordBuy(fill(0.50, 100)) // coste $50
	assert.InDelta(t, 0.50, pos.AvgEntryPrice, 0.0001)

	pos = trk.RecordBuy(fill(0.60, 100)) // coste $60, total $110 / 200
	assert.InDelta(t, 0.55, pos.AvgEntryPrice, 0.0001)
	assert.InDelta(t, 200, pos.Size, 0.0001)
	assert.InDelta(t, 110, pos.TotalCostUSD, 0.0001)
	assert.Equal(t, 2, pos.BuyCount)
}

func TestRecordBuy_PublishesOpenedThenUpdated(t *testing.T) {
	bus := events.NewBus()
	var opened, updated int
	bus.PositionOpened.Subscribe(func(domain.CopyPosition) { opened++ })
	bus.PositionUpdated.Subscribe(func(domain.CopyPosition) { updated++ })

	trk := tracker.New(bus)
	trk.RecordBuy(fill(0.50, 10))
	trk.RecordBuy(fill(0.55, 10))

	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, updated)
}

func TestRecordSell_RealizedPnL(t *testing.T) {
	trk := tracker.New(events.NewBus())
	trk.RecordBuy(fill(0.50, 100))

	// Vender 40 a 0.70: realized = 40×(0.70−0.50) = $8.
	pos, sold, ok := trk.RecordSell(fill(0.70, 40))
	require.True(t, ok)
	assert.InDelta(t, 40, sold, 0.0001)
	assert.InDelta(t, 8.0, pos.RealizedPnL, 0.0001)
	assert.InDelta(t, 60, pos.Size, 0.0001)
	// El avg entry no cambia en ventas.
	assert.InDelta(t, 0.50, pos.AvgEntryPrice, 0.0001)
}

func TestRecordSell_ExactSizeCloses(t *testing.T) {
	bus := events.NewBus()
	var closed []events.PositionClosed
	bus.PositionClosed.Subscribe(func(pc events.PositionClosed) { closed = append(closed, pc) })

	trk := tracker.New(bus)
	trk.RecordBuy(fill(0.50, 100))
	pos, _, ok := trk.RecordSell(fill(0.60, 100))

	require.True(t, ok)
	assert.False(t, pos.Open)
	assert.Zero(t, pos.Size)
	require.Len(t, closed, 1)
	assert.InDelta(t, 10.0, closed[0].RealizedPnL, 0.0001)
	assert.Empty(t, trk.OpenPositions())
	assert.Len(t, trk.ClosedPositions(), 1)
}

func TestRecordSell_WithoutPositionIsNoop(t *testing.T) {
	trk := tracker.New(events.NewBus())
	_, sold, ok := trk.RecordSell(fill(0.60, 10))
	assert.False(t, ok)
	assert.Zero(t, sold)
	assert.Empty(t, trk.ClosedPositions())
}

func TestRecordSell_OversellClamps(t *testing.T) {
	trk := tracker.New(events.NewBus())
	trk.RecordBuy(fill(0.50, 50))

	pos, sold, ok := trk.RecordSell(fill(0.60, 500))
	require.True(t, ok)
	assert.Zero(t, pos.Size, "nunca debe quedar size negativo")
	assert.InDelta(t, 50, sold, 0.0001, "el caller ve cuánto se vendió de verdad")
	// Solo se realiza el P&L de las 50 shares reales.
	assert.InDelta(t, 5.0, pos.RealizedPnL, 0.0001)
}

func TestRecordSell_EpsilonClosureIsPermanent(t *testing.T) {
	trk := tracker.New(events.NewBus())
	trk.RecordBuy(fill(0.50, 1.0))

	// Dejar un residuo por debajo del epsilon: cierra igual.
	pos, _, ok := trk.RecordSell(fill(0.50, 0.99995))
	require.True(t, ok)
	assert.False(t, pos.Open)

	// Una compra posterior abre un lifecycle nuevo, no reabre el viejo.
	fresh := trk.RecordBuy(fill(0.40, 10))
	assert.True(t, fresh.Open)
	assert.NotEqual(t, pos.ID, fresh.ID)
	assert.Equal(t, 1, fresh.BuyCount)
	assert.Len(t, trk.ClosedPositions(), 1)
}

func TestUpdatePrices_MarksOpenPositions(t *testing.T) {
	trk := tracker.New(events.NewBus())
	trk.RecordBuy(fill(0.50, 100))

	trk.UpdatePrices(map[string]float64{"o1": 0.65})

	positions := trk.OpenPositions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.65, positions[0].CurrentPrice, 0.0001)
	assert.InDelta(t, 15.0, positions[0].UnrealizedPnL, 0.0001) // 100×(0.65−0.50)
	// El cost basis no se toca.
	assert.InDelta(t, 0.50, positions[0].AvgEntryPrice, 0.0001)
}

func TestExposureQueries(t *testing.T) {
	trk := tracker.New(events.NewBus())
	trk.RecordBuy(tracker.Fill{TraderID: "t1", MarketID: "m1", OutcomeID: "o1", Price: 0.50, Size: 100}) // $50
	trk.RecordBuy(tracker.Fill{TraderID: "t1", MarketID: "m2", OutcomeID: "o2", Price: 0.25, Size: 100}) // $25
	trk.RecordBuy(tracker.Fill{TraderID: "t2", MarketID: "m1", OutcomeID: "o3", Price: 0.10, Size: 100}) // $10

	assert.InDelta(t, 75.0, trk.ExposureForTrader("t1"), 0.0001)
	assert.InDelta(t, 85.0, trk.TotalExposure(), 0.0001)
	assert.InDelta(t, 60.0, trk.ExposureForMarket("m1"), 0.0001)

	inMarket, total := trk.PositionCounts("m1")
	assert.Equal(t, 2, inMarket)
	assert.Equal(t, 3, total)
}

func TestPnL_IncludesClosedPositions(t *testing.T) {
	trk := tracker.New(events.NewBus())
	trk.RecordBuy(fill(0.50, 100))
	trk.RecordSell(fill(0.60, 100)) // +$10 realizado, posición cerrada

	trk.RecordBuy(tracker.Fill{TraderID: "t1", MarketID: "m2", OutcomeID: "o2", Price: 0.30, Size: 100})
	trk.UpdatePrices(map[string]float64{"o2": 0.35})

	realized, unrealized := trk.PnL()
	assert.InDelta(t, 10.0, realized, 0.0001)
	assert.InDelta(t, 5.0, unrealized, 0.0001)

	rT1, _ := trk.PnLForTrader("t1")
	assert.InDelta(t, 10.0, rT1, 0.0001)
	rT2, _ := trk.PnLForTrader("t2")
	assert.Zero(t, rT2)
}

// El invariante del avg entry: tras cualquier secuencia de compras,
// AvgEntryPrice × Size == coste acumulado.
func TestRecordBuy_RandomSequenceInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	trk := tracker.New(events.NewBus())

	var wantCost, wantSize float64
	for i := 0; i < 200; i++ {
		price := 0.01 + rng.Float64()*0.98
		size := 1 + rng.Float64()*100
		wantCost += price * size
		wantSize += size

		pos := trk.RecordBuy(fill(price, size))
		assert.InDelta(t, wantCost, pos.AvgEntryPrice*pos.Size, 0.01)
		assert.InDelta(t, wantSize, pos.Size, 0.0001)
	}
}
