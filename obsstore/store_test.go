package obsstore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cepro-home/energy-planner/planner"
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
	_, err = db.Exec("DELETE FROM observations; DELETE FROM sensor_totals")
	require.NoError(t, err)
	return s
}

func TestRecordFromCounters_DeltasAndBaselines(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	slot1 := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)

	// First read seeds the baselines with zero deltas.
	obs, err := s.RecordFromCounters(ctx, slot1, slot1.Add(15*time.Minute),
		Counters{PVKWh: 1000, ImportKWh: 500, ExportKWh: 200, ChargeKWh: 300, DischargeKWh: 250},
		50, 52, 0.15, 0.08)
	require.NoError(t, err)
	assert.Equal(t, 0.0, obs.PVKWh)
	assert.Equal(t, 0.0, obs.ImportKWh)
	assert.Contains(t, obs.QualityFlags, "auto_recorded")

	// Second slot sees the counter movement as deltas.
	slot2 := slot1.Add(15 * time.Minute)
	obs, err = s.RecordFromCounters(ctx, slot2, slot2.Add(15*time.Minute),
		Counters{PVKWh: 1001.5, ImportKWh: 500.2, ExportKWh: 200, ChargeKWh: 301, DischargeKWh: 250},
		52, 55, 0.15, 0.08)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, obs.PVKWh, 1e-9)
	assert.InDelta(t, 0.2, obs.ImportKWh, 1e-9)
	assert.InDelta(t, 1.0, obs.BattChargeKWh, 1e-9)
}

func TestRecordFromCounters_CounterReset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	slot1 := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)

	_, err := s.RecordFromCounters(ctx, slot1, slot1.Add(15*time.Minute),
		Counters{PVKWh: 1000}, 50, 50, 0, 0)
	require.NoError(t, err)

	// The PV counter goes backwards: zero delta, tagged, baseline moves
	// to the new total.
	slot2 := slot1.Add(15 * time.Minute)
	obs, err := s.RecordFromCounters(ctx, slot2, slot2.Add(15*time.Minute),
		Counters{PVKWh: 3}, 50, 50, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, obs.PVKWh)
	assert.Contains(t, obs.QualityFlags, "sensor_reset")

	slot3 := slot2.Add(15 * time.Minute)
	obs, err = s.RecordFromCounters(ctx, slot3, slot3.Add(15*time.Minute),
		Counters{PVKWh: 5}, 50, 50, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, obs.PVKWh, 1e-9)
}

// Re-recording a slot that already has an SoC reading leaves the stored
// row untouched.
func TestRecordIdempotentPerSlot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	slot := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)

	first := planner.Observation{
		SlotStart: slot, SlotEnd: slot.Add(15 * time.Minute),
		PVKWh: 1.0, SOCEndPercent: 60, QualityFlags: []string{"auto_recorded"},
	}
	require.NoError(t, s.Record(ctx, first))

	second := first
	second.PVKWh = 9.9
	require.NoError(t, s.Record(ctx, second))

	rows, err := s.ReadRange(ctx, slot, slot.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 1.0, rows[0].PVKWh, 1e-9)
}

func TestTrailingAverageForHour(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 10, 13, 0, 0, 0, time.UTC)

	for day := 1; day <= 3; day++ {
		slot := time.Date(2026, 1, 10-day, 13, 0, 0, 0, time.UTC)
		require.NoError(t, s.Record(ctx, planner.Observation{
			SlotStart: slot, SlotEnd: slot.Add(15 * time.Minute),
			PVKWh: float64(day), LoadKWh: 0.5, SOCEndPercent: 50,
		}))
	}

	pv, load, err := s.TrailingAverageForHour(ctx, at, 7)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pv, 1e-9)
	assert.InDelta(t, 0.5, load, 1e-9)
}
