// Package project turns a raw planner.SolverResult into the per-slot
// kW/percent/classification records an executor can act on: kWh
// decisions become average powers over the slot, the SoC trajectory
// becomes percentages, and each slot gets an action label plus the
// SoC target the executor should steer toward.
package project

import (
	"fmt"
	"math"

	"github.com/cepro-home/energy-planner/planner"
)

// kW threshold below which a battery or grid flow is treated as noise
// when classifying a slot.
const classifyThresholdKW = 0.01

// Opts carries the projection inputs that are not part of the solver
// result itself.
type Opts struct {
	InitialSOCKWh float64
	WaterPowerKW  float64

	// ManualExportTargetPercent, when set, caps charge-block targets and
	// replaces the protective floor on export blocks.
	ManualExportTargetPercent *float64
}

// Project converts result (for horizon, against battery) into a
// complete ActionSchedule. Historical slots are never produced here;
// that merge happens in package schedulestore.
func Project(horizon planner.Horizon, battery planner.BatteryState, result planner.SolverResult, opts Opts) (planner.ActionSchedule, error) {
	if len(result.Slots) != len(horizon) {
		return planner.ActionSchedule{}, fmt.Errorf("solver result has %d slots, horizon has %d", len(result.Slots), len(horizon))
	}

	slots := make([]planner.ActionScheduleSlot, len(horizon))
	for i, slot := range horizon {
		sr := result.Slots[i]
		h := slot.DurationH()
		if h <= 0 {
			return planner.ActionSchedule{}, fmt.Errorf("slot %d has non-positive duration", i)
		}

		var waterKW float64
		if sr.WaterHeatOn {
			waterKW = opts.WaterPowerKW
		}

		out := planner.ActionScheduleSlot{
			SlotNumber:          i,
			Start:               slot.Start,
			End:                 slot.End,
			BatteryChargeKW:     scrub(sr.ChargeKWh / h),
			BatteryDischargeKW:  scrub(sr.DischargeKWh / h),
			GridImportKW:        scrub(sr.GridImportKWh / h),
			GridExportKW:        scrub(sr.GridExportKWh / h),
			WaterHeatingKW:      waterKW,
			ProjectedSOCPercent: clampPercent(scrub(sr.SOCEndKWh / battery.CapacityKWh * 100)),
			ImportPrice:         slot.ImportPrice,
			ExportPrice:         slot.ExportPrice,
			PVForecastKWh:       slot.PVForecastKWh,
			LoadForecastKWh:     slot.LoadForecastKWh,
		}
		out.Classification = classify(out)
		slots[i] = out
	}

	assignTargetSOC(slots, result.Slots, battery, opts)

	return planner.ActionSchedule{Slots: slots}, nil
}

// classify labels a slot from its projected powers: grid-backed
// charging beats PV-surplus charging beats exporting beats plain
// discharging; everything below the noise threshold is a hold.
func classify(s planner.ActionScheduleSlot) planner.Classification {
	switch {
	case s.BatteryChargeKW > classifyThresholdKW && s.GridImportKW > classifyThresholdKW:
		return planner.ClassCharge
	case s.BatteryChargeKW > classifyThresholdKW:
		return planner.ClassPVCharge
	case s.BatteryDischargeKW > classifyThresholdKW && s.GridExportKW > classifyThresholdKW:
		return planner.ClassExport
	case s.BatteryDischargeKW > classifyThresholdKW:
		return planner.ClassDischarge
	default:
		return planner.ClassHold
	}
}

// assignTargetSOC fills in SOCTargetPercent, the signal the executor
// steers the battery toward within each slot:
//
//   - a hold slot keeps its entry SoC;
//   - a discharge slot may drain to the configured minimum;
//   - an export slot drains to the manual export target when one is
//     active, otherwise to a protective floor derived from how far the
//     plan itself drains before the block ends;
//   - a contiguous charge block (grid or PV) targets the block's exit
//     SoC, clamped to the configured band and capped by the manual
//     export target when one is active;
//   - a water-only block targets the minimum when the battery supplies
//     the heater, and its entry SoC when only the grid does.
func assignTargetSOC(slots []planner.ActionScheduleSlot, raw []planner.SlotResult, battery planner.BatteryState, opts Opts) {
	n := len(slots)
	minPct := battery.MinSOCPercent
	maxPct := battery.MaxSOCPercent

	entryPct := func(i int) float64 {
		if i == 0 {
			if battery.CapacityKWh <= 0 {
				return 0
			}
			return clampPercent(scrub(opts.InitialSOCKWh / battery.CapacityKWh * 100))
		}
		return slots[i-1].ProjectedSOCPercent
	}

	i := 0
	for i < n {
		j := i
		kind := blockKind(slots[i], raw[i])
		for j < n && blockKind(slots[j], raw[j]) == kind {
			j++
		}
		exitPct := slots[j-1].ProjectedSOCPercent

		for k := i; k < j; k++ {
			switch kind {
			case blockCharge:
				target := clamp(exitPct, minPct, maxPct)
				if opts.ManualExportTargetPercent != nil && target > *opts.ManualExportTargetPercent {
					target = *opts.ManualExportTargetPercent
				}
				slots[k].SOCTargetPercent = target
			case blockExport:
				if opts.ManualExportTargetPercent != nil {
					slots[k].SOCTargetPercent = *opts.ManualExportTargetPercent
				} else {
					slots[k].SOCTargetPercent = math.Max(minPct, exitPct)
				}
			case blockDischarge:
				slots[k].SOCTargetPercent = minPct
			case blockWaterOnly:
				if blockDischarges(raw[i:j]) {
					slots[k].SOCTargetPercent = minPct
				} else {
					slots[k].SOCTargetPercent = entryPct(i)
				}
			default:
				slots[k].SOCTargetPercent = entryPct(k)
			}
		}
		i = j
	}
}

type kindOfBlock int

const (
	blockHold kindOfBlock = iota
	blockCharge
	blockDischarge
	blockExport
	blockWaterOnly
)

// blockKind groups charge and pv_charge together as one contiguous
// charging block, and distinguishes water-only slots (heater on while
// the battery is otherwise idle or quietly backing the heater) from
// plain holds.
func blockKind(s planner.ActionScheduleSlot, r planner.SlotResult) kindOfBlock {
	switch s.Classification {
	case planner.ClassCharge, planner.ClassPVCharge:
		return blockCharge
	case planner.ClassExport:
		return blockExport
	case planner.ClassDischarge:
		if r.WaterHeatOn {
			return blockWaterOnly
		}
		return blockDischarge
	default:
		if r.WaterHeatOn {
			return blockWaterOnly
		}
		return blockHold
	}
}

func blockDischarges(block []planner.SlotResult) bool {
	for _, r := range block {
		if r.DischargeKWh > planner.EpsilonKWh {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampPercent(p float64) float64 { return clamp(p, 0, 100) }

// scrub replaces NaN/Inf with 0 so no non-finite value ever reaches an
// executor.
func scrub(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
