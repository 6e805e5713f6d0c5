package milp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cepro-home/energy-planner/planner"
)

func makeHorizon(prices []float64, loadKWh, pvKWh float64, start time.Time) planner.Horizon {
	h := make(planner.Horizon, len(prices))
	for i, p := range prices {
		h[i] = planner.Slot{
			Start:           start.Add(time.Duration(i) * 15 * time.Minute),
			End:             start.Add(time.Duration(i+1) * 15 * time.Minute),
			ImportPrice:     p,
			ExportPrice:     p * 0.5,
			LoadForecastKWh: loadKWh,
			PVForecastKWh:   pvKWh,
		}
	}
	return h
}

func baseBattery() planner.BatteryState {
	return planner.BatteryState{
		CapacityKWh:    10,
		MinSOCPercent:  10,
		MaxSOCPercent:  100,
		MaxChargeKW:    5,
		MaxDischargeKW: 5,
		RoundTripEff:   0.9,
		WearCostPerKWh: 0.001,
	}
}

// A cheap-then-expensive price pattern induces charging followed by
// discharging, the basic energy-arbitrage shape.
func TestSolve_ArbitrageChargesOnCheapDischargesOnExpensive(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := makeHorizon([]float64{0.05, 0.05, 0.40, 0.40}, 0.5, 0, start)

	in := planner.SolverInput{
		Horizon:             horizon,
		Battery:             baseBattery(),
		InitialSOCKWh:       2,
		ExportEnabled:       true,
		LoadSheddingPenalty: 10_000,
		ImportBreachPenalty: 5_000,
		MinSOCViolationPenalty: 1_000,
		SolveTimeout:        5 * time.Second,
	}

	result, err := Solve(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, planner.StatusOptimal, result.Status)
	require.Len(t, result.Slots, 4)

	assert.Greater(t, result.Slots[0].ChargeKWh+result.Slots[1].ChargeKWh, 0.0, "should charge during the cheap slots")
	assert.Greater(t, result.Slots[2].DischargeKWh+result.Slots[3].DischargeKWh, 0.0, "should discharge during the expensive slots")
}

// P1: energy balance holds, within 1e-4 kWh, for every slot.
func TestSolve_EnergyBalanceHolds(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := makeHorizon([]float64{0.10, 0.30, 0.15, 0.25}, 1.0, 0.2, start)

	in := planner.SolverInput{
		Horizon:       horizon,
		Battery:       baseBattery(),
		InitialSOCKWh: 5,
		ExportEnabled: true,
		SolveTimeout:  5 * time.Second,
	}

	result, err := Solve(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, planner.StatusOptimal, result.Status)

	for i, s := range result.Slots {
		slot := horizon[i]
		lhs := s.GridImportKWh + s.DischargeKWh + (slot.PVForecastKWh - s.CurtailmentKWh)
		rhs := (slot.LoadForecastKWh - s.LoadSheddingKWh) + s.ChargeKWh + s.GridExportKWh
		assert.InDelta(t, rhs, lhs, 1e-4, "slot %d energy balance", i)
	}
}

// P3: SoC never leaves [0, capacity].
func TestSolve_SOCStaysWithinCapacity(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := makeHorizon([]float64{0.01, 0.01, 0.01, 0.01, 0.5, 0.5}, 0.1, 0, start)

	bat := baseBattery()
	in := planner.SolverInput{
		Horizon:       horizon,
		Battery:       bat,
		InitialSOCKWh: 1,
		ExportEnabled: false,
		SolveTimeout:  5 * time.Second,
	}

	result, err := Solve(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, planner.StatusOptimal, result.Status)

	for _, s := range result.Slots {
		assert.GreaterOrEqual(t, s.SOCEndKWh, -1e-6)
		assert.LessOrEqual(t, s.SOCEndKWh, bat.CapacityKWh+1e-6)
	}
}

// Export disabled (ExportEnabled=false) must force every slot's export
// to zero (I5).
func TestSolve_ExportDisabledForcesZeroExport(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := makeHorizon([]float64{0.05, -0.02, 0.3}, 0.2, 2.0, start)

	in := planner.SolverInput{
		Horizon:       horizon,
		Battery:       baseBattery(),
		InitialSOCKWh: 5,
		ExportEnabled: false,
		SolveTimeout:  5 * time.Second,
	}

	result, err := Solve(context.Background(), in)
	require.NoError(t, err)
	for _, s := range result.Slots {
		assert.Equal(t, 0.0, s.GridExportKWh)
	}
}

// The water-heater daily minimum is met and hard spacing keeps block
// starts apart.
func TestSolve_WaterHeaterDailyMinimumWithSpacing(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	importPrices := make([]float64, 24)
	exportPrices := make([]float64, 24)
	for i := range importPrices {
		// Two distinct cheap valleys, otherwise expensive.
		switch {
		case i == 2:
			importPrices[i] = 0.05
		case i == 14:
			importPrices[i] = 0.08
		default:
			importPrices[i] = 1.0 + float64(i)*0.01
		}
		exportPrices[i] = 0.02
	}
	horizon := hourlyHorizon(start, importPrices, exportPrices, 0.1, 0)

	in := planner.SolverInput{
		Horizon: horizon,
		Battery: planner.BatteryState{
			CapacityKWh: 0, MinSOCPercent: 0, MaxSOCPercent: 100,
			MaxChargeKW: 1, MaxDischargeKW: 1, RoundTripEff: 1.0,
			WearCostPerKWh: 0.001,
		},
		InitialSOCKWh: 0,
		ExportEnabled: false,
		WaterHeater: &planner.WaterHeater{
			PowerKW:         3,
			MinKWhPerDay:    6,
			MinSpacingHours: 4,
			HardSpacing:     true,
		},
		LoadSheddingPenalty: 10_000,
		ComfortPenalty:      150,
		BlockStartPenalty:   5,
		SolveTimeout:        20 * time.Second,
	}

	result, err := Solve(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, planner.StatusOptimal, result.Status)

	var totalKWh float64
	var startIdxs []int
	prevOn := false
	for i, s := range result.Slots {
		if s.WaterHeatOn {
			totalKWh += in.WaterHeater.PowerKW * horizon[i].DurationH()
			if !prevOn {
				startIdxs = append(startIdxs, i)
			}
		}
		prevOn = s.WaterHeatOn
	}
	assert.GreaterOrEqual(t, totalKWh, in.WaterHeater.MinKWhPerDay-1e-3)
	for i := 1; i < len(startIdxs); i++ {
		assert.GreaterOrEqual(t, startIdxs[i]-startIdxs[i-1], 4, "block starts respect spacing")
	}
}

// An initial SoC above capacity fails structural validation before any
// solve is attempted.
func TestSolve_InvalidInputRejected(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := makeHorizon([]float64{0.1}, 0.1, 0, start)

	in := planner.SolverInput{
		Horizon:       horizon,
		Battery:       baseBattery(),
		InitialSOCKWh: 999,
	}

	_, err := Solve(context.Background(), in)
	require.Error(t, err)
	assert.True(t, planner.IsKind(err, planner.KindConfigInvalid))
}
