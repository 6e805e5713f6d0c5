// Package forecaststore stores per-slot PV and load forecasts plus
// percentile bands and correction deltas, versioned and keyed by
// (slot_start, forecast_version).
package forecaststore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Row is one stored forecast entry for a (slot_start, version) pair.
type Row struct {
	SlotStart         time.Time
	Version           string
	PVBaseKWh         float64
	LoadBaseKWh       float64
	PVCorrectionKWh   float64
	LoadCorrectionKWh float64
	PVP10             *float64
	PVP90             *float64
	LoadP10           *float64
	LoadP90           *float64
}

// EffectivePV and EffectiveLoad return the base+correction values a
// planning pass actually consumes; base and correction stay separately
// readable for diagnostics.
func (r Row) EffectivePV() float64   { return r.PVBaseKWh + r.PVCorrectionKWh }
func (r Row) EffectiveLoad() float64 { return r.LoadBaseKWh + r.LoadCorrectionKWh }

// Store is a Postgres-backed forecast store.
type Store struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB. The orchestrator owns the
// connection's lifecycle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Migrate creates the forecasts table if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS forecasts (
			slot_start          TIMESTAMPTZ NOT NULL,
			forecast_version    TEXT NOT NULL,
			pv_base_kwh         DOUBLE PRECISION NOT NULL,
			load_base_kwh       DOUBLE PRECISION NOT NULL,
			pv_correction_kwh   DOUBLE PRECISION NOT NULL DEFAULT 0,
			load_correction_kwh DOUBLE PRECISION NOT NULL DEFAULT 0,
			pv_p10              DOUBLE PRECISION,
			pv_p90              DOUBLE PRECISION,
			load_p10            DOUBLE PRECISION,
			load_p90            DOUBLE PRECISION,
			PRIMARY KEY (slot_start, forecast_version)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate forecasts table: %w", err)
	}
	return nil
}

// Write replaces any existing row for (slot_start, forecast_version).
func (s *Store) Write(ctx context.Context, r Row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forecasts (
			slot_start, forecast_version, pv_base_kwh, load_base_kwh,
			pv_correction_kwh, load_correction_kwh, pv_p10, pv_p90, load_p10, load_p90
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (slot_start, forecast_version) DO UPDATE SET
			pv_base_kwh = EXCLUDED.pv_base_kwh,
			load_base_kwh = EXCLUDED.load_base_kwh,
			pv_correction_kwh = EXCLUDED.pv_correction_kwh,
			load_correction_kwh = EXCLUDED.load_correction_kwh,
			pv_p10 = EXCLUDED.pv_p10,
			pv_p90 = EXCLUDED.pv_p90,
			load_p10 = EXCLUDED.load_p10,
			load_p90 = EXCLUDED.load_p90
	`, r.SlotStart, r.Version, r.PVBaseKWh, r.LoadBaseKWh,
		r.PVCorrectionKWh, r.LoadCorrectionKWh, r.PVP10, r.PVP90, r.LoadP10, r.LoadP90)
	if err != nil {
		return fmt.Errorf("failed to write forecast row: %w", err)
	}
	return nil
}

// WriteBatch writes many rows in one transaction.
func (s *Store) WriteBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO forecasts (
			slot_start, forecast_version, pv_base_kwh, load_base_kwh,
			pv_correction_kwh, load_correction_kwh, pv_p10, pv_p90, load_p10, load_p90
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (slot_start, forecast_version) DO UPDATE SET
			pv_base_kwh = EXCLUDED.pv_base_kwh,
			load_base_kwh = EXCLUDED.load_base_kwh,
			pv_correction_kwh = EXCLUDED.pv_correction_kwh,
			load_correction_kwh = EXCLUDED.load_correction_kwh,
			pv_p10 = EXCLUDED.pv_p10,
			pv_p90 = EXCLUDED.pv_p90,
			load_p10 = EXCLUDED.load_p10,
			load_p90 = EXCLUDED.load_p90
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.SlotStart, r.Version, r.PVBaseKWh, r.LoadBaseKWh,
			r.PVCorrectionKWh, r.LoadCorrectionKWh, r.PVP10, r.PVP90, r.LoadP10, r.LoadP90); err != nil {
			return fmt.Errorf("failed to write forecast row for %s: %w", r.SlotStart, err)
		}
	}
	return tx.Commit()
}

// Read returns the effective forecast for one slot and version, if any.
func (s *Store) Read(ctx context.Context, slotStart time.Time, version string) (Row, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slot_start, forecast_version, pv_base_kwh, load_base_kwh,
		       pv_correction_kwh, load_correction_kwh, pv_p10, pv_p90, load_p10, load_p90
		FROM forecasts WHERE slot_start = $1 AND forecast_version = $2
	`, slotStart, version)

	var r Row
	err := row.Scan(&r.SlotStart, &r.Version, &r.PVBaseKWh, &r.LoadBaseKWh,
		&r.PVCorrectionKWh, &r.LoadCorrectionKWh, &r.PVP10, &r.PVP90, &r.LoadP10, &r.LoadP90)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to read forecast: %w", err)
	}
	return r, true, nil
}

// ReadRange returns every row for the given version within [from, to),
// ordered by slot_start, for use by the input assembler (C4) and by MAE
// comparisons across forecast versions.
func (s *Store) ReadRange(ctx context.Context, version string, from, to time.Time) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_start, forecast_version, pv_base_kwh, load_base_kwh,
		       pv_correction_kwh, load_correction_kwh, pv_p10, pv_p90, load_p10, load_p90
		FROM forecasts
		WHERE forecast_version = $1 AND slot_start >= $2 AND slot_start < $3
		ORDER BY slot_start ASC
	`, version, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast range: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.SlotStart, &r.Version, &r.PVBaseKWh, &r.LoadBaseKWh,
			&r.PVCorrectionKWh, &r.LoadCorrectionKWh, &r.PVP10, &r.PVP90, &r.LoadP10, &r.LoadP90); err != nil {
			return nil, fmt.Errorf("failed to scan forecast row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MAE computes the mean absolute error between a version's effective PV
// forecast and a realized-observation series, used to compare forecast
// versions against each other.
func MAE(forecast []Row, realizedPV map[time.Time]float64) float64 {
	if len(forecast) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, r := range forecast {
		if actual, ok := realizedPV[r.SlotStart]; ok {
			diff := r.EffectivePV() - actual
			if diff < 0 {
				diff = -diff
			}
			sum += diff
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
