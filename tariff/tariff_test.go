package tariff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cepro-home/energy-planner/entsoe"
	"github.com/cepro-home/energy-planner/planner"
)

// flatDocument builds an hourly price document covering [start, start+hours)
// with the given per-hour prices in currency/MWh.
func flatDocument(start time.Time, prices []float64) *entsoe.PublicationMarketDocument {
	end := start.Add(time.Duration(len(prices)) * time.Hour)
	points := make([]entsoe.Point, len(prices))
	for i, p := range prices {
		points[i] = entsoe.Point{Position: i + 1, PriceAmount: p}
	}
	return &entsoe.PublicationMarketDocument{
		PeriodTimeInterval: entsoe.TimeInterval{Start: start, End: end},
		TimeSeries: []entsoe.TimeSeries{{
			Period: entsoe.Period{
				TimeInterval: entsoe.TimeInterval{Start: start, End: end},
				Resolution:   time.Hour,
				Points:       points,
			},
		}},
	}
}

func TestImportPriceFeeStack(t *testing.T) {
	m := &Model{GridTransferFee: 30, EnergyTax: 10, VATPercent: 21}

	// (100 + 30 + 10) / 1000 * 1.21
	assert.InDelta(t, 0.1694, m.ImportPrice(100), 1e-9)

	// Negative spot stays negative through the stack.
	assert.InDelta(t, (-50.0+40)/1000*1.21, m.ImportPrice(-50), 1e-9)
}

func TestExportPriceIsBareSpot(t *testing.T) {
	m := &Model{GridTransferFee: 30, EnergyTax: 10, VATPercent: 21}
	assert.InDelta(t, 0.1, m.ExportPrice(100, 0), 1e-9)
	assert.InDelta(t, 0.095, m.ExportPrice(100, 5), 1e-9)
}

func TestBuildSlotGrid_SplitsHourlyPricesUniformly(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Model{Today: flatDocument(start, []float64{100, 200})}

	slots, err := m.BuildSlotGrid(start, 2*time.Hour, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, slots, 8)

	for i := 0; i < 4; i++ {
		assert.InDelta(t, m.ImportPrice(100), slots[i].ImportPrice, 1e-9, "slot %d", i)
	}
	for i := 4; i < 8; i++ {
		assert.InDelta(t, m.ImportPrice(200), slots[i].ImportPrice, 1e-9, "slot %d", i)
	}

	// The grid is contiguous and ascending.
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i].Start.Equal(slots[i-1].End), "slot %d contiguity", i)
	}
}

func TestBuildSlotGrid_TruncatesWhenPricesRunOut(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Model{Today: flatDocument(start, []float64{100, 100, 100})}

	slots, err := m.BuildSlotGrid(start, 48*time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
}

func TestBuildSlotGrid_NoPricesAtAll(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Model{Today: flatDocument(start.AddDate(0, 0, -2), []float64{100})}

	_, err := m.BuildSlotGrid(start, 24*time.Hour, time.Hour)
	require.Error(t, err)
	assert.True(t, planner.IsKind(err, planner.KindTariffUnavailable))
}

func TestBuildSlotGrid_FallBackDayHas25LocalHours(t *testing.T) {
	riga, err := time.LoadLocation("Europe/Riga")
	require.NoError(t, err)

	// DST fall-back in Riga: 2025-10-26, clocks go 04:00 EEST -> 03:00
	// EET; the local day spans 25 hours of absolute time.
	localMidnight := time.Date(2025, 10, 26, 0, 0, 0, 0, riga)
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 100
	}
	m := &Model{Today: flatDocument(localMidnight.UTC(), prices)}

	slots, err := m.BuildSlotGrid(localMidnight, 25*time.Hour, 15*time.Minute)
	require.NoError(t, err)
	assert.Len(t, slots, 100)

	for i := 1; i < len(slots); i++ {
		require.True(t, slots[i].Start.Equal(slots[i-1].End), "slot %d contiguity", i)
	}
	// The last slot ends at local midnight of the 27th.
	assert.True(t, slots[len(slots)-1].End.Equal(time.Date(2025, 10, 27, 0, 0, 0, 0, riga)))
}

func TestBuildSlotGrid_SpringForwardDayHas23LocalHours(t *testing.T) {
	riga, err := time.LoadLocation("Europe/Riga")
	require.NoError(t, err)

	// DST spring-forward in Riga: 2026-03-29, clocks jump 03:00 EET ->
	// 04:00 EEST; the local day spans only 23 absolute hours.
	localMidnight := time.Date(2026, 3, 29, 0, 0, 0, 0, riga)
	prices := make([]float64, 23)
	for i := range prices {
		prices[i] = 100
	}
	m := &Model{Today: flatDocument(localMidnight.UTC(), prices)}

	slots, err := m.BuildSlotGrid(localMidnight, 23*time.Hour, 15*time.Minute)
	require.NoError(t, err)
	assert.Len(t, slots, 92)

	for i := 1; i < len(slots); i++ {
		require.True(t, slots[i].Start.Equal(slots[i-1].End), "slot %d contiguity", i)
	}
	assert.True(t, slots[len(slots)-1].End.Equal(time.Date(2026, 3, 30, 0, 0, 0, 0, riga)))
}

func TestLookupSpotFallsBackToTomorrow(t *testing.T) {
	today := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)
	m := &Model{
		Today:    flatDocument(today, []float64{100}),
		Tomorrow: flatDocument(tomorrow, []float64{200}),
	}

	spot, ok := m.LookupSpotPerMWh(tomorrow.Add(30 * time.Minute))
	require.True(t, ok)
	assert.InDelta(t, 200, spot, 1e-9)

	_, ok = m.LookupSpotPerMWh(tomorrow.AddDate(0, 0, 3))
	assert.False(t, ok)
}
