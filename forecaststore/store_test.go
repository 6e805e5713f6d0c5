package forecaststore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("Skipping test: TEST_POSTGRES_CONN not set")
	}

	db, err := sql.Open("postgres", connString)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	_, err = db.Exec("DELETE FROM forecasts")
	require.NoError(t, err)
	return s
}

// Base and correction stay separately readable while the effective
// value joins them.
func TestCorrectionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	slot := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(ctx, Row{
		SlotStart: slot, Version: "v1",
		PVBaseKWh: 1.0, LoadBaseKWh: 0.5,
		PVCorrectionKWh: -0.2, LoadCorrectionKWh: 0.1,
	}))

	row, ok, err := s.Read(ctx, slot, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.8, row.EffectivePV(), 1e-9)
	assert.InDelta(t, 0.6, row.EffectiveLoad(), 1e-9)
	assert.InDelta(t, 1.0, row.PVBaseKWh, 1e-9)
	assert.InDelta(t, -0.2, row.PVCorrectionKWh, 1e-9)
}

func TestWriteReplacesSameKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	slot := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(ctx, Row{SlotStart: slot, Version: "v1", PVBaseKWh: 1.0}))
	require.NoError(t, s.Write(ctx, Row{SlotStart: slot, Version: "v1", PVBaseKWh: 2.0}))
	require.NoError(t, s.Write(ctx, Row{SlotStart: slot, Version: "v2", PVBaseKWh: 7.0}))

	row, ok, err := s.Read(ctx, slot, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2.0, row.PVBaseKWh, 1e-9)

	// Versions coexist.
	row, ok, err = s.Read(ctx, slot, "v2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 7.0, row.PVBaseKWh, 1e-9)
}

func TestReadRangeOrdered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var rows []Row
	for i := 0; i < 4; i++ {
		rows = append(rows, Row{SlotStart: base.Add(time.Duration(i) * time.Hour), Version: "v1", PVBaseKWh: float64(i)})
	}
	require.NoError(t, s.WriteBatch(ctx, rows))

	got, err := s.ReadRange(ctx, "v1", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, float64(i), r.PVBaseKWh)
	}
}

func TestMAE(t *testing.T) {
	slot := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	forecast := []Row{
		{SlotStart: slot, PVBaseKWh: 1.0},
		{SlotStart: slot.Add(time.Hour), PVBaseKWh: 2.0},
		{SlotStart: slot.Add(2 * time.Hour), PVBaseKWh: 5.0}, // no observation
	}
	realized := map[time.Time]float64{
		slot:                1.5,
		slot.Add(time.Hour): 1.0,
	}

	assert.InDelta(t, 0.75, MAE(forecast, realized), 1e-9)
	assert.Equal(t, 0.0, MAE(nil, realized))
	assert.Equal(t, 0.0, MAE(forecast, nil))
}
