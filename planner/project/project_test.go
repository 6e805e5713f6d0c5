package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cepro-home/energy-planner/planner"
)

func quarterHorizon(start time.Time, n int) planner.Horizon {
	h := make(planner.Horizon, n)
	for i := range h {
		h[i] = planner.Slot{
			Start: start.Add(time.Duration(i) * 15 * time.Minute),
			End:   start.Add(time.Duration(i+1) * 15 * time.Minute),
		}
	}
	return h
}

func TestProject_ClassifiesChargeDischargeExportAndPVCharge(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := quarterHorizon(start, 4)
	battery := planner.BatteryState{CapacityKWh: 10, MinSOCPercent: 10, MaxSOCPercent: 95}

	result := planner.SolverResult{
		Status: planner.StatusOptimal,
		Slots: []planner.SlotResult{
			{ChargeKWh: 1, GridImportKWh: 1, SOCEndKWh: 5},
			{ChargeKWh: 0.5, SOCEndKWh: 5.5}, // PV surplus, no grid import
			{DischargeKWh: 1, GridExportKWh: 1, SOCEndKWh: 4.5},
			{DischargeKWh: 1, SOCEndKWh: 3.5},
		},
	}

	sched, err := Project(horizon, battery, result, Opts{InitialSOCKWh: 4})
	require.NoError(t, err)
	require.Len(t, sched.Slots, 4)

	assert.Equal(t, planner.ClassCharge, sched.Slots[0].Classification)
	assert.Equal(t, planner.ClassPVCharge, sched.Slots[1].Classification)
	assert.Equal(t, planner.ClassExport, sched.Slots[2].Classification)
	assert.Equal(t, planner.ClassDischarge, sched.Slots[3].Classification)
	assert.InDelta(t, 50.0, sched.Slots[0].ProjectedSOCPercent, 1e-6)
}

func TestProject_TargetSOCPerBlock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := quarterHorizon(start, 5)
	battery := planner.BatteryState{CapacityKWh: 10, MinSOCPercent: 20, MaxSOCPercent: 90}

	result := planner.SolverResult{
		Status: planner.StatusOptimal,
		Slots: []planner.SlotResult{
			{ChargeKWh: 1, GridImportKWh: 1, SOCEndKWh: 6},
			{ChargeKWh: 1, GridImportKWh: 1, SOCEndKWh: 7},
			{SOCEndKWh: 7},
			{DischargeKWh: 1, SOCEndKWh: 6},
			{DischargeKWh: 1, GridExportKWh: 1, SOCEndKWh: 5},
		},
	}

	sched, err := Project(horizon, battery, result, Opts{InitialSOCKWh: 5})
	require.NoError(t, err)

	// A charge block targets the block's exit SoC on every one of its
	// slots.
	assert.InDelta(t, 70.0, sched.Slots[0].SOCTargetPercent, 1e-6)
	assert.InDelta(t, 70.0, sched.Slots[1].SOCTargetPercent, 1e-6)
	// A hold keeps its entry SoC.
	assert.InDelta(t, 70.0, sched.Slots[2].SOCTargetPercent, 1e-6)
	// A discharge may drain to the configured minimum.
	assert.InDelta(t, 20.0, sched.Slots[3].SOCTargetPercent, 1e-6)
	// An export without a manual target uses the protective floor.
	assert.InDelta(t, 50.0, sched.Slots[4].SOCTargetPercent, 1e-6)
}

func TestProject_ManualExportTargetWins(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := quarterHorizon(start, 1)
	battery := planner.BatteryState{CapacityKWh: 10, MinSOCPercent: 10, MaxSOCPercent: 100}

	result := planner.SolverResult{
		Status: planner.StatusOptimal,
		Slots:  []planner.SlotResult{{DischargeKWh: 2, GridExportKWh: 2, SOCEndKWh: 3}},
	}

	manual := 25.0
	sched, err := Project(horizon, battery, result, Opts{InitialSOCKWh: 5, ManualExportTargetPercent: &manual})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, sched.Slots[0].SOCTargetPercent, 1e-6)
}

func TestProject_WaterOnlyBlockTargets(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := quarterHorizon(start, 2)
	battery := planner.BatteryState{CapacityKWh: 10, MinSOCPercent: 15, MaxSOCPercent: 100}

	// Heater on, battery idle: the block keeps its entry SoC and the
	// heater's draw shows up as a per-slot power.
	result := planner.SolverResult{
		Status: planner.StatusOptimal,
		Slots: []planner.SlotResult{
			{WaterHeatOn: true, GridImportKWh: 0.75, SOCEndKWh: 4},
			{WaterHeatOn: true, GridImportKWh: 0.75, SOCEndKWh: 4},
		},
	}
	sched, err := Project(horizon, battery, result, Opts{InitialSOCKWh: 4, WaterPowerKW: 3})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, sched.Slots[0].WaterHeatingKW, 1e-6)
	assert.InDelta(t, 40.0, sched.Slots[0].SOCTargetPercent, 1e-6)

	// Same block but battery-backed: the target drops to the minimum.
	result.Slots[0].GridImportKWh = 0
	result.Slots[0].DischargeKWh = 0.75
	result.Slots[0].SOCEndKWh = 3.2
	sched, err = Project(horizon, battery, result, Opts{InitialSOCKWh: 4, WaterPowerKW: 3})
	require.NoError(t, err)
	assert.InDelta(t, 15.0, sched.Slots[0].SOCTargetPercent, 1e-6)
	assert.InDelta(t, 15.0, sched.Slots[1].SOCTargetPercent, 1e-6)
}

func TestProject_MismatchedLengthErrors(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := planner.Horizon{{Start: start, End: start.Add(15 * time.Minute)}}
	_, err := Project(horizon, planner.BatteryState{CapacityKWh: 10}, planner.SolverResult{}, Opts{})
	assert.Error(t, err)
}

func TestProject_ScrubsNonFiniteSOC(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon := planner.Horizon{{Start: start, End: start.Add(15 * time.Minute)}}
	result := planner.SolverResult{Slots: []planner.SlotResult{{SOCEndKWh: 1}}}
	sched, err := Project(horizon, planner.BatteryState{CapacityKWh: 0}, result, Opts{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sched.Slots[0].ProjectedSOCPercent)
}
