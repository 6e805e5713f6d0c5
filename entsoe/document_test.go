package entsoe

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:3">
	<mRID>abc123</mRID>
	<createdDateTime>2026-01-01T11:31:00Z</createdDateTime>
	<period.timeInterval>
		<start>2025-12-31T23:00Z</start>
		<end>2026-01-01T23:00Z</end>
	</period.timeInterval>
	<TimeSeries>
		<mRID>1</mRID>
		<businessType>A62</businessType>
		<currency_Unit.name>EUR</currency_Unit.name>
		<price_Measure_Unit.name>MWH</price_Measure_Unit.name>
		<curveType>A03</curveType>
		<Period>
			<timeInterval>
				<start>2025-12-31T23:00Z</start>
				<end>2026-01-01T03:00Z</end>
			</timeInterval>
			<resolution>PT60M</resolution>
			<Point><position>1</position><price.amount>50.10</price.amount></Point>
			<Point><position>2</position><price.amount>42.00</price.amount></Point>
			<Point><position>4</position><price.amount>-5.30</price.amount></Point>
		</Period>
	</TimeSeries>
</Publication_MarketDocument>`

func TestDecode_ParsesDocument(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "abc123", doc.MRID)
	require.Len(t, doc.TimeSeries, 1)

	period := doc.TimeSeries[0].Period
	assert.Equal(t, time.Hour, period.Resolution)
	assert.Equal(t, time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), period.TimeInterval.Start)
	require.Len(t, period.Points, 3)
}

func TestLookupPriceByTime(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	price, ok := doc.LookupPriceByTime(time.Date(2025, 12, 31, 23, 30, 0, 0, time.UTC))
	require.True(t, ok)
	assert.InDelta(t, 50.10, price, 1e-9)

	// Position 3 is omitted (curve type A03): the previous price carries
	// forward.
	price, ok = doc.LookupPriceByTime(time.Date(2026, 1, 1, 1, 15, 0, 0, time.UTC))
	require.True(t, ok)
	assert.InDelta(t, 42.00, price, 1e-9)

	// Negative prices decode as-is.
	price, ok = doc.LookupPriceByTime(time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.InDelta(t, -5.30, price, 1e-9)

	// Outside the period.
	_, ok = doc.LookupPriceByTime(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	assert.False(t, ok)
	_, ok = doc.LookupPriceByTime(time.Date(2025, 12, 31, 22, 59, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestParseISODuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT15M":   15 * time.Minute,
		"PT30M":   30 * time.Minute,
		"PT60M":   time.Hour,
		"PT1H":    time.Hour,
		"PT1H30M": 90 * time.Minute,
		"P1D":     24 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseISODuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseISODuration("15M")
	assert.Error(t, err)
	_, err = parseISODuration("PT15X")
	assert.Error(t, err)
}

func TestParseInstant(t *testing.T) {
	for _, in := range []string{
		"2026-01-01T12:00:00Z",
		"2026-01-01T12:00Z",
		"2026-01-01T12:00+02:00",
	} {
		_, err := parseInstant(in)
		assert.NoError(t, err, in)
	}
	_, err := parseInstant("01.01.2026 12:00")
	assert.Error(t, err)
}

func TestPeriodPosition(t *testing.T) {
	p := Period{
		TimeInterval: TimeInterval{
			Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		Resolution: 15 * time.Minute,
	}

	assert.Equal(t, 1, p.position(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, p.position(time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)))
	assert.Equal(t, 96, p.position(time.Date(2026, 1, 1, 23, 45, 0, 0, time.UTC)))
	assert.Equal(t, 0, p.position(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, p.position(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)))
}
