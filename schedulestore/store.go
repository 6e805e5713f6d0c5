// Package schedulestore persists the current ActionSchedule with a
// merge-on-write policy: slots that have already elapsed are preserved
// verbatim across replans, and only the future portion is replaced,
// delete-then-insert inside one transaction keyed by slot start.
package schedulestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cepro-home/energy-planner/planner"
)

// Store is a Postgres-backed schedule store.
type Store struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Migrate creates the schedule_slots table.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schedule_slots (
			slot_start            TIMESTAMPTZ PRIMARY KEY,
			slot_end              TIMESTAMPTZ NOT NULL,
			slot_number           INTEGER NOT NULL,
			battery_charge_kw     DOUBLE PRECISION NOT NULL,
			battery_discharge_kw  DOUBLE PRECISION NOT NULL,
			grid_import_kw        DOUBLE PRECISION NOT NULL,
			grid_export_kw        DOUBLE PRECISION NOT NULL,
			water_heating_kw      DOUBLE PRECISION NOT NULL,
			projected_soc_percent DOUBLE PRECISION NOT NULL,
			soc_target_percent    DOUBLE PRECISION NOT NULL,
			classification        TEXT NOT NULL,
			import_price          DOUBLE PRECISION NOT NULL,
			export_price          DOUBLE PRECISION NOT NULL,
			pv_forecast_kwh       DOUBLE PRECISION NOT NULL,
			load_forecast_kwh     DOUBLE PRECISION NOT NULL,
			is_historical         BOOLEAN NOT NULL DEFAULT FALSE,
			planned_at            TIMESTAMPTZ NOT NULL,
			planner_version       TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS schedule_meta (
			id         BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			last_error TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate schedule tables: %w", err)
	}
	return nil
}

// Save merges a newly planned ActionSchedule into the store: every slot
// with Start before now is left untouched, and every slot with
// Start >= now is replaced in one transaction.
func (s *Store) Save(ctx context.Context, now time.Time, sched planner.ActionSchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_slots WHERE slot_start >= $1`, now); err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("delete future slots: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schedule_slots (
			slot_start, slot_end, slot_number, battery_charge_kw, battery_discharge_kw,
			grid_import_kw, grid_export_kw, water_heating_kw, projected_soc_percent,
			soc_target_percent, classification, import_price, export_price,
			pv_forecast_kwh, load_forecast_kwh, is_historical, planned_at, planner_version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (slot_start) DO UPDATE SET
			slot_end = EXCLUDED.slot_end,
			slot_number = EXCLUDED.slot_number,
			battery_charge_kw = EXCLUDED.battery_charge_kw,
			battery_discharge_kw = EXCLUDED.battery_discharge_kw,
			grid_import_kw = EXCLUDED.grid_import_kw,
			grid_export_kw = EXCLUDED.grid_export_kw,
			water_heating_kw = EXCLUDED.water_heating_kw,
			projected_soc_percent = EXCLUDED.projected_soc_percent,
			soc_target_percent = EXCLUDED.soc_target_percent,
			classification = EXCLUDED.classification,
			import_price = EXCLUDED.import_price,
			export_price = EXCLUDED.export_price,
			pv_forecast_kwh = EXCLUDED.pv_forecast_kwh,
			load_forecast_kwh = EXCLUDED.load_forecast_kwh,
			is_historical = EXCLUDED.is_historical,
			planned_at = EXCLUDED.planned_at,
			planner_version = EXCLUDED.planner_version
	`)
	if err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("prepare statement: %w", err))
	}
	defer stmt.Close()

	for _, slot := range sched.Slots {
		if slot.Start.Before(now) {
			continue // elapsed slots are never rewritten
		}
		if _, err := stmt.ExecContext(ctx, slot.Start, slot.End, slot.SlotNumber,
			slot.BatteryChargeKW, slot.BatteryDischargeKW, slot.GridImportKW, slot.GridExportKW,
			slot.WaterHeatingKW, slot.ProjectedSOCPercent, slot.SOCTargetPercent, string(slot.Classification),
			slot.ImportPrice, slot.ExportPrice, slot.PVForecastKWh, slot.LoadForecastKWh,
			false, sched.PlannedAt, sched.PlannerVersion); err != nil {
			return planner.NewError(planner.KindStoreTransient, fmt.Errorf("insert slot %s: %w", slot.Start, err))
		}
	}

	// Re-sequence slot numbers across the merged historical+future set so
	// they stay monotonic without duplicates.
	if _, err := tx.ExecContext(ctx, `
		UPDATE schedule_slots SET slot_number = numbered.rn
		FROM (
			SELECT slot_start, ROW_NUMBER() OVER (ORDER BY slot_start) - 1 AS rn
			FROM schedule_slots
		) AS numbered
		WHERE schedule_slots.slot_start = numbered.slot_start
	`); err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("resequence slots: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schedule_meta (id, last_error) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET last_error = EXCLUDED.last_error
	`, sched.LastError); err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("update schedule meta: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Load returns the full current schedule (all slots, ordered by
// slot_start, historical and future alike) plus the last recorded
// orchestrator error.
func (s *Store) Load(ctx context.Context) (planner.ActionSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_start, slot_end, slot_number, battery_charge_kw, battery_discharge_kw,
		       grid_import_kw, grid_export_kw, water_heating_kw, projected_soc_percent,
		       soc_target_percent, classification, import_price, export_price,
		       pv_forecast_kwh, load_forecast_kwh, is_historical, planned_at, planner_version
		FROM schedule_slots ORDER BY slot_start ASC
	`)
	if err != nil {
		return planner.ActionSchedule{}, fmt.Errorf("failed to query schedule slots: %w", err)
	}
	defer rows.Close()

	var sched planner.ActionSchedule
	for rows.Next() {
		var slot planner.ActionScheduleSlot
		var classification string
		if err := rows.Scan(&slot.Start, &slot.End, &slot.SlotNumber,
			&slot.BatteryChargeKW, &slot.BatteryDischargeKW, &slot.GridImportKW, &slot.GridExportKW,
			&slot.WaterHeatingKW, &slot.ProjectedSOCPercent, &slot.SOCTargetPercent, &classification,
			&slot.ImportPrice, &slot.ExportPrice, &slot.PVForecastKWh, &slot.LoadForecastKWh,
			&slot.IsHistorical, &sched.PlannedAt, &sched.PlannerVersion); err != nil {
			return planner.ActionSchedule{}, fmt.Errorf("failed to scan schedule slot: %w", err)
		}
		slot.Classification = planner.Classification(classification)
		sched.Slots = append(sched.Slots, slot)
	}
	if err := rows.Err(); err != nil {
		return planner.ActionSchedule{}, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT last_error FROM schedule_meta WHERE id = TRUE`)
	if err := row.Scan(&sched.LastError); err != nil && err != sql.ErrNoRows {
		return planner.ActionSchedule{}, fmt.Errorf("failed to load schedule meta: %w", err)
	}

	return sched, nil
}

// SetLastError records the most recent tick failure in the schedule
// metadata without touching any slots, so the previous plan stays in
// force while the failure is visible to readers.
func (s *Store) SetLastError(ctx context.Context, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_meta (id, last_error) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET last_error = EXCLUDED.last_error
	`, msg)
	if err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("set last error: %w", err))
	}
	return nil
}

// MarkHistorical flags every stored slot with Start < now as historical,
// called once per tick before a fresh Save so readers can distinguish
// already-elapsed slots from the live plan.
func (s *Store) MarkHistorical(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedule_slots SET is_historical = TRUE WHERE slot_start < $1`, now)
	if err != nil {
		return planner.NewError(planner.KindStoreTransient, fmt.Errorf("mark historical: %w", err))
	}
	return nil
}
