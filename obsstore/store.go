// Package obsstore stores append-only per-slot realized energies
// derived from monotonically increasing cumulative sensor counters; the
// last-seen cumulative total and the derived delta commit in the same
// transaction.
package obsstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cepro-home/energy-planner/planner"
)

// Store is a Postgres-backed observation store.
type Store struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Migrate creates the observations and sensor-totals tables.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS observations (
			slot_start         TIMESTAMPTZ PRIMARY KEY,
			slot_end           TIMESTAMPTZ NOT NULL,
			pv_kwh             DOUBLE PRECISION NOT NULL,
			load_kwh           DOUBLE PRECISION NOT NULL,
			import_kwh         DOUBLE PRECISION NOT NULL,
			export_kwh         DOUBLE PRECISION NOT NULL,
			batt_charge_kwh    DOUBLE PRECISION NOT NULL,
			batt_discharge_kwh DOUBLE PRECISION NOT NULL,
			water_kwh          DOUBLE PRECISION NOT NULL,
			soc_start_percent  DOUBLE PRECISION NOT NULL,
			soc_end_percent    DOUBLE PRECISION,
			import_price       DOUBLE PRECISION NOT NULL,
			export_price       DOUBLE PRECISION NOT NULL,
			quality_flags      TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS sensor_totals (
			sensor_name TEXT PRIMARY KEY,
			last_total  DOUBLE PRECISION NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate observations tables: %w", err)
	}
	return nil
}

// Delta computes max(0, current-last) for one cumulative sensor and
// atomically updates its last-seen total. A counter reset
// (current < last) yields a zero delta and reports reset=true so the
// caller can tag the observation.
func (s *Store) Delta(ctx context.Context, tx *sql.Tx, sensorName string, current float64) (delta float64, reset bool, err error) {
	var last float64
	row := tx.QueryRowContext(ctx, `SELECT last_total FROM sensor_totals WHERE sensor_name = $1 FOR UPDATE`, sensorName)
	err = row.Scan(&last)
	switch {
	case err == sql.ErrNoRows:
		// First-ever read: record a zero delta and seed the baseline.
		_, err = tx.ExecContext(ctx, `INSERT INTO sensor_totals (sensor_name, last_total) VALUES ($1,$2)`, sensorName, current)
		return 0, false, err
	case err != nil:
		return 0, false, fmt.Errorf("failed to read sensor total for %s: %w", sensorName, err)
	}

	if current < last {
		// Counter reset.
		_, err = tx.ExecContext(ctx, `UPDATE sensor_totals SET last_total = $2 WHERE sensor_name = $1`, sensorName, current)
		return 0, true, err
	}

	delta = current - last
	_, err = tx.ExecContext(ctx, `UPDATE sensor_totals SET last_total = $2 WHERE sensor_name = $1`, sensorName, current)
	return delta, false, err
}

// Counters is one read of the site's cumulative, monotonically
// increasing energy sensors.
type Counters struct {
	PVKWh        float64
	ImportKWh    float64
	ExportKWh    float64
	ChargeKWh    float64
	DischargeKWh float64
	WaterKWh     float64
}

// RecordFromCounters derives one Observation for [slotStart, slotEnd)
// by diffing each counter against its last-seen total, all inside one
// transaction so the deltas and the updated baselines commit together.
// Any counter reset tags the row sensor_reset; household load is
// reconstructed from the other flows. Re-recording an already-written
// slot still advances the baselines but leaves the stored row alone.
func (s *Store) RecordFromCounters(ctx context.Context, slotStart, slotEnd time.Time, c Counters, socStartPct, socEndPct, importPrice, exportPrice float64) (planner.Observation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return planner.Observation{}, planner.NewError(planner.KindStoreTransient, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	obs := planner.Observation{
		SlotStart:       slotStart,
		SlotEnd:         slotEnd,
		SOCStartPercent: socStartPct,
		SOCEndPercent:   socEndPct,
		ImportPrice:     importPrice,
		ExportPrice:     exportPrice,
		QualityFlags:    []string{"auto_recorded"},
	}

	anyReset := false
	for _, sensor := range []struct {
		name    string
		current float64
		dst     *float64
	}{
		{"pv", c.PVKWh, &obs.PVKWh},
		{"grid_import", c.ImportKWh, &obs.ImportKWh},
		{"grid_export", c.ExportKWh, &obs.ExportKWh},
		{"batt_charge", c.ChargeKWh, &obs.BattChargeKWh},
		{"batt_discharge", c.DischargeKWh, &obs.BattDischargeKWh},
		{"water", c.WaterKWh, &obs.WaterKWh},
	} {
		delta, reset, derr := s.Delta(ctx, tx, sensor.name, sensor.current)
		if derr != nil {
			return planner.Observation{}, planner.NewError(planner.KindStoreTransient, derr)
		}
		*sensor.dst = delta
		anyReset = anyReset || reset
	}
	if anyReset {
		obs.QualityFlags = append(obs.QualityFlags, "sensor_reset")
	}

	obs.LoadKWh = obs.PVKWh + obs.ImportKWh - obs.ExportKWh + obs.BattDischargeKWh - obs.BattChargeKWh - obs.WaterKWh
	if obs.LoadKWh < 0 {
		obs.LoadKWh = 0
	}

	var existingSOCEnd sql.NullFloat64
	row := tx.QueryRowContext(ctx, `SELECT soc_end_percent FROM observations WHERE slot_start = $1`, obs.SlotStart)
	err = row.Scan(&existingSOCEnd)
	if err != nil && err != sql.ErrNoRows {
		return planner.Observation{}, planner.NewError(planner.KindStoreTransient, fmt.Errorf("check existing observation: %w", err))
	}
	if err == nil && existingSOCEnd.Valid {
		// Row already written; commit only the advanced baselines.
		return obs, tx.Commit()
	}

	if err := insertObservation(ctx, tx, obs); err != nil {
		return planner.Observation{}, err
	}
	return obs, tx.Commit()
}

// Record inserts or no-ops an Observation for obs.SlotStart. At most
// one Observation with a non-null soc_end_percent may exist per slot;
// re-recording the same slot (once soc_end_percent has already been
// written) is a no-op rather than an overwrite.
func (s *Store) Record(ctx context.Context, obs planner.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var existingSOCEnd sql.NullFloat64
	row := tx.QueryRowContext(ctx, `SELECT soc_end_percent FROM observations WHERE slot_start = $1`, obs.SlotStart)
	err = row.Scan(&existingSOCEnd)
	if err != nil && err != sql.ErrNoRows {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("check existing observation: %w", err))
	}
	if err == nil && existingSOCEnd.Valid {
		// Already recorded; keep the first row.
		return tx.Commit()
	}

	if err := insertObservation(ctx, tx, obs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertObservation(ctx context.Context, tx *sql.Tx, obs planner.Observation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO observations (
			slot_start, slot_end, pv_kwh, load_kwh, import_kwh, export_kwh,
			batt_charge_kwh, batt_discharge_kwh, water_kwh,
			soc_start_percent, soc_end_percent, import_price, export_price, quality_flags
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (slot_start) DO UPDATE SET
			pv_kwh = EXCLUDED.pv_kwh,
			load_kwh = EXCLUDED.load_kwh,
			import_kwh = EXCLUDED.import_kwh,
			export_kwh = EXCLUDED.export_kwh,
			batt_charge_kwh = EXCLUDED.batt_charge_kwh,
			batt_discharge_kwh = EXCLUDED.batt_discharge_kwh,
			water_kwh = EXCLUDED.water_kwh,
			soc_end_percent = EXCLUDED.soc_end_percent,
			quality_flags = EXCLUDED.quality_flags
	`, obs.SlotStart, obs.SlotEnd, obs.PVKWh, obs.LoadKWh, obs.ImportKWh, obs.ExportKWh,
		obs.BattChargeKWh, obs.BattDischargeKWh, obs.WaterKWh,
		obs.SOCStartPercent, obs.SOCEndPercent, obs.ImportPrice, obs.ExportPrice, joinFlags(obs.QualityFlags))
	if err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("insert observation: %w", err))
	}
	return nil
}

// ReadRange returns observations for [from, to) ordered by slot_start,
// used by the assembler to sum water energy delivered since midnight.
func (s *Store) ReadRange(ctx context.Context, from, to time.Time) ([]planner.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_start, slot_end, pv_kwh, load_kwh, import_kwh, export_kwh,
		       batt_charge_kwh, batt_discharge_kwh, water_kwh,
		       soc_start_percent, soc_end_percent, import_price, export_price, quality_flags
		FROM observations WHERE slot_start >= $1 AND slot_start < $2 ORDER BY slot_start ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []planner.Observation
	for rows.Next() {
		var o planner.Observation
		var socEnd sql.NullFloat64
		var flags string
		if err := rows.Scan(&o.SlotStart, &o.SlotEnd, &o.PVKWh, &o.LoadKWh, &o.ImportKWh, &o.ExportKWh,
			&o.BattChargeKWh, &o.BattDischargeKWh, &o.WaterKWh,
			&o.SOCStartPercent, &socEnd, &o.ImportPrice, &o.ExportPrice, &flags); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if socEnd.Valid {
			o.SOCEndPercent = socEnd.Float64
		}
		o.QualityFlags = splitFlags(flags)
		out = append(out, o)
	}
	return out, rows.Err()
}

// TrailingAverageForHour returns the trailing N-day average PV and load
// for the hour-of-day containing at, the naive fallback the input
// assembler substitutes when no forecast is present.
func (s *Store) TrailingAverageForHour(ctx context.Context, at time.Time, days int) (pvKWh, loadKWh float64, err error) {
	hour := at.Hour()
	rows, err := s.db.QueryContext(ctx, `
		SELECT pv_kwh, load_kwh FROM observations
		WHERE slot_start >= $1 AND EXTRACT(HOUR FROM slot_start) = $2
	`, at.AddDate(0, 0, -days), hour)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query trailing average: %w", err)
	}
	defer rows.Close()

	var pvSum, loadSum float64
	var n int
	for rows.Next() {
		var pv, load float64
		if err := rows.Scan(&pv, &load); err != nil {
			return 0, 0, err
		}
		pvSum += pv
		loadSum += load
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return pvSum / float64(n), loadSum / float64(n), rows.Err()
}

func joinFlags(flags []string) string {
	out := ""
	for i, f := range flags {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
