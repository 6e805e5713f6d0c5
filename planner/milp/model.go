package milp

import (
	"math"

	"github.com/cepro-home/energy-planner/planner"
)

// vars tracks the column index allocated to every decision variable in
// the model, keyed by slot index (or window index for the comfort-gap
// variables), so solve.go can pull values back out of the LP solution
// into a planner.SolverResult.
type vars struct {
	n int // slot count

	charge, discharge   []int
	gridImport          []int
	gridExport          []int
	curtail             []int
	shed                []int
	soc                 []int // length n+1
	socViolation        []int
	rampUp, rampDown    []int
	importBreach        []int // nil if no soft cap configured
	waterOn, waterStart []int // nil if no water heater configured
	spacingViol         []int // nil unless soft-spacing fallback is in effect
	gapViol, gapViol2   []int // one per comfort window

	targetUnder, targetOver int // -1 if no terminal target configured
}

// builder accumulates variables and rows while constructing the model,
// mirroring the incremental append style of a hand-assembled LP.
type builder struct {
	cost  []float64
	upper []float64
	rows  []row
}

func (b *builder) newVar(cost, upper float64) int {
	idx := len(b.cost)
	b.cost = append(b.cost, cost)
	b.upper = append(b.upper, upper)
	return idx
}

func (b *builder) addRow(r row) { b.rows = append(b.rows, r) }

// buildModel translates a planner.SolverInput into the MILP: per-slot
// energy balance, the SoC recursion, power bounds, the soft min-SoC
// floor, terminal valuation and target band, ramping, and (when a water
// heater is configured) its daily budget, comfort-gap and spacing
// constraints.
func buildModel(in planner.SolverInput) (*builder, *vars) {
	n := len(in.Horizon)
	b := &builder{}
	v := &vars{n: n, targetUnder: -1, targetOver: -1}

	v.charge = make([]int, n)
	v.discharge = make([]int, n)
	v.gridImport = make([]int, n)
	v.gridExport = make([]int, n)
	v.curtail = make([]int, n)
	v.shed = make([]int, n)
	v.soc = make([]int, n+1)
	v.socViolation = make([]int, n)
	v.rampUp = make([]int, n)
	v.rampDown = make([]int, n)

	chargeEff := in.Battery.ChargeEff()
	dischargeEff := in.Battery.DischargeEff()
	minSOC := in.Battery.MinSOCKWh()

	// The configured max SoC is a hard upper bound on every soc variable.
	// A live reading above that bound is honored (the battery really does
	// hold that much) but further charging is forbidden until the plan
	// brings the state back under the cap.
	socUpper := in.Battery.MaxSOCKWh()
	forbidCharge := false
	if in.InitialSOCKWh > socUpper+planner.EpsilonKWh {
		socUpper = in.InitialSOCKWh
		forbidCharge = true
	}

	maxExport := math.Inf(1)
	if in.MaxExportKW != nil {
		maxExport = *in.MaxExportKW
	}

	var waterKW float64
	if in.WaterHeater.Enabled() {
		waterKW = in.WaterHeater.PowerKW
		v.waterOn = make([]int, n)
		v.waterStart = make([]int, n)
	}

	for t, slot := range in.Horizon {
		h := slot.DurationH()

		chargeUpper := in.Battery.MaxChargeKW * h
		if forbidCharge {
			chargeUpper = 0
		}
		v.charge[t] = b.newVar(in.Battery.WearCostPerKWh, chargeUpper)
		v.discharge[t] = b.newVar(in.Battery.WearCostPerKWh, in.Battery.MaxDischargeKW*h)
		v.gridImport[t] = b.newVar(slot.ImportPrice, math.Inf(1))
		exportCost := -(slot.ExportPrice - in.ExportThreshold)
		exportUpper := maxExport * h
		if !in.ExportEnabled {
			exportUpper = 0
		}
		v.gridExport[t] = b.newVar(exportCost, exportUpper)
		v.curtail[t] = b.newVar(in.CurtailmentPenalty, slot.PVForecastKWh)
		v.shed[t] = b.newVar(in.LoadSheddingPenalty, slot.LoadForecastKWh)

		v.socViolation[t] = b.newVar(in.MinSOCViolationPenalty, math.Inf(1))

		// Ramp variables are priced per kW of setpoint change; both are
		// pinned to zero for the first slot, where there is no previous
		// setpoint to ramp from.
		rampCost := in.RampingCostPerKW / h
		rampUpper := math.Inf(1)
		if t == 0 {
			rampUpper = 0
		}
		v.rampUp[t] = b.newVar(rampCost, rampUpper)
		v.rampDown[t] = b.newVar(rampCost, rampUpper)

		if in.WaterHeater.Enabled() {
			v.waterOn[t] = b.newVar(0, 1)
			v.waterStart[t] = b.newVar(in.BlockStartPenalty, 1)
		}
	}
	for t := 0; t <= n; t++ {
		// Residual stored energy at horizon end is worth the risk
		// engine's terminal value, so draining the battery right before
		// the priced window closes is not free.
		cost := 0.0
		if t == n {
			cost = -in.Risk.TerminalValuePerKWh
		}
		v.soc[t] = b.newVar(cost, socUpper)
	}

	// Energy balance per slot: pv + discharge + import + shed equals
	// load + water draw + charge + export + curtailment.
	for t, slot := range in.Horizon {
		h := slot.DurationH()
		r := row{coef: map[int]float64{
			v.gridImport[t]: 1,
			v.discharge[t]:  1,
			v.curtail[t]:    -1,
			v.gridExport[t]: -1,
			v.charge[t]:     -1,
			v.shed[t]:       1,
		}, rel: eq, rhs: slot.LoadForecastKWh - slot.PVForecastKWh}
		if in.WaterHeater.Enabled() {
			r.coef[v.waterOn[t]] = -waterKW * h
		}
		b.addRow(r)
	}

	// SoC recursion: soc[t+1] = soc[t] + charge_eff*charge[t] -
	// discharge[t]/discharge_eff, anchored at the live reading.
	b.addRow(row{coef: map[int]float64{v.soc[0]: 1}, rel: eq, rhs: in.InitialSOCKWh})
	for t := 0; t < n; t++ {
		r := row{coef: map[int]float64{
			v.soc[t+1]:  1,
			v.soc[t]:    -1,
			v.charge[t]: -chargeEff,
		}, rel: eq, rhs: 0}
		if dischargeEff > 0 {
			r.coef[v.discharge[t]] = 1 / dischargeEff
		}
		b.addRow(r)
	}

	// Soft min-SoC floor: soc[t] + soc_violation[t] >= minSOC. The max
	// side is already a hard upper bound on each soc variable.
	for t := 1; t <= n; t++ {
		b.addRow(row{coef: map[int]float64{v.soc[t]: 1, v.socViolation[t-1]: 1}, rel: ge, rhs: minSOC})
	}

	// Ramping: the change in net battery energy (charge-discharge)
	// between consecutive slots decomposes into rampUp - rampDown.
	for t := 1; t < n; t++ {
		b.addRow(row{coef: map[int]float64{
			v.charge[t]:      1,
			v.discharge[t]:   -1,
			v.charge[t-1]:    -1,
			v.discharge[t-1]: 1,
			v.rampUp[t]:      -1,
			v.rampDown[t]:    1,
		}, rel: eq, rhs: 0})
	}

	// Terminal target band: soc[T] may land under or over the target,
	// with each side's slack priced at the bidirectional target penalty.
	if in.TargetSOCKWh != nil {
		v.targetUnder = b.newVar(in.Risk.TargetSOCPenalty, math.Inf(1))
		v.targetOver = b.newVar(in.Risk.TargetSOCPenalty, math.Inf(1))
		b.addRow(row{coef: map[int]float64{
			v.soc[n]: 1, v.targetUnder: 1, v.targetOver: -1,
		}, rel: eq, rhs: *in.TargetSOCKWh})
	}

	// Soft grid-import cap: breaches are allowed but heavily penalized.
	if in.GridImportLimitKW != nil {
		v.importBreach = make([]int, n)
		for t, slot := range in.Horizon {
			h := slot.DurationH()
			v.importBreach[t] = b.newVar(in.ImportBreachPenalty, math.Inf(1))
			b.addRow(row{coef: map[int]float64{
				v.gridImport[t]: 1, v.importBreach[t]: -1,
			}, rel: le, rhs: *in.GridImportLimitKW * h})
		}
	}

	if in.WaterHeater.Enabled() {
		buildWaterHeaterConstraints(b, v, in)
	}

	return b, v
}

// buildWaterHeaterConstraints adds the daily-budget, comfort-gap and
// spacing constraints for the deferrable water-heater load, plus the
// block-start linking rows.
func buildWaterHeaterConstraints(b *builder, v *vars, in planner.SolverInput) {
	n := v.n
	wh := in.WaterHeater

	for t := 0; t < n; t++ {
		if wh.ForcedOnSlots[t] {
			b.addRow(row{coef: map[int]float64{v.waterOn[t]: 1}, rel: eq, rhs: 1})
		}
	}

	// Block-start linking: water_start[t] >= water_on[t] - water_on[t-1].
	for t := 0; t < n; t++ {
		r := row{coef: map[int]float64{v.waterStart[t]: 1, v.waterOn[t]: -1}, rel: ge, rhs: 0}
		if t > 0 {
			r.coef[v.waterOn[t-1]] = 1
		}
		b.addRow(r)
	}

	// Daily energy budget per bucket date. Slots whose local hour is
	// before DeferUpToHours count toward the previous day, so a
	// requirement left unmet at midnight can still be satisfied in the
	// early hours. The first bucket's requirement is reduced by the
	// energy already delivered today, and every bucket's requirement is
	// capped at what its slots can physically deliver so a horizon that
	// starts mid-day stays feasible.
	avgH := averageSlotHours(in.Horizon)
	kwhPerSlot := wh.PowerKW * avgH
	for bi, dayIdx := range bucketSlotGroups(in.Horizon, wh.DeferUpToHours) {
		req := wh.MinKWhPerDay
		if bi == 0 {
			req -= wh.HeatedTodayKWh
		}
		if bucketMax := float64(len(dayIdx)) * kwhPerSlot; req > bucketMax {
			req = bucketMax
		}
		if req <= 0 {
			continue
		}
		r := row{coef: map[int]float64{}, rel: ge, rhs: req}
		for _, t := range dayIdx {
			r.coef[v.waterOn[t]] += kwhPerSlot
		}
		b.addRow(r)
	}

	// Comfort-gap windows: every run of ceil(MaxGapHours/avgH)
	// consecutive slots must contain at least one ON slot, with a soft
	// violation variable absorbing the miss; a second, wider window at
	// 1.5x the limit carries a more expensive violation.
	addGapWindows(b, v, in, avgH, wh.MaxGapHours, false)
	addGapWindows(b, v, in, avgH, wh.MaxGapHours*1.5, true)

	spacingSlots := int(math.Round(wh.MinSpacingHours / avgH))
	if spacingSlots > 0 {
		if wh.HardSpacing {
			// A block may only start when no ON slot occurred in the
			// preceding spacing window: sum(on[j]) + M*start[t] <= M.
			bigMSpacing := float64(spacingSlots)
			for t := 1; t < n; t++ {
				lo := t - spacingSlots
				if lo < 0 {
					lo = 0
				}
				r := row{coef: map[int]float64{}, rel: le, rhs: bigMSpacing}
				for j := lo; j < t; j++ {
					r.coef[v.waterOn[j]] += 1
				}
				r.coef[v.waterStart[t]] = bigMSpacing
				b.addRow(r)
			}
		} else {
			// Soft-spacing fallback: spacing_viol[t] >= start[t] + on[j] - 1
			// for each j in the preceding window.
			v.spacingViol = make([]int, n)
			for t := 0; t < n; t++ {
				v.spacingViol[t] = b.newVar(in.SpacingPenalty, math.Inf(1))
				lo := t - spacingSlots
				if lo < 0 {
					lo = 0
				}
				for j := lo; j < t; j++ {
					b.addRow(row{coef: map[int]float64{
						v.spacingViol[t]: 1,
						v.waterStart[t]:  -1,
						v.waterOn[j]:     -1,
					}, rel: ge, rhs: -1})
				}
			}
		}
	}
}

// addGapWindows adds, for every window of ceil(limitHours/avgH)
// consecutive slots, a constraint requiring at least one ON slot unless
// the window's violation variable absorbs the miss.
func addGapWindows(b *builder, v *vars, in planner.SolverInput, avgH, limitHours float64, wide bool) {
	if limitHours <= 0 || avgH <= 0 {
		return
	}
	windowLen := int(math.Ceil(limitHours / avgH))
	if windowLen <= 0 || windowLen >= v.n {
		return
	}
	penalty := in.ComfortPenalty
	if wide {
		penalty *= 3
	}
	for start := 0; start+windowLen <= v.n; start++ {
		vi := b.newVar(penalty, math.Inf(1))
		r := row{coef: map[int]float64{vi: 1}, rel: ge, rhs: 1}
		for j := start; j < start+windowLen; j++ {
			r.coef[v.waterOn[j]] += 1
		}
		b.addRow(r)
		if wide {
			v.gapViol2 = append(v.gapViol2, vi)
		} else {
			v.gapViol = append(v.gapViol, vi)
		}
	}
}

func averageSlotHours(h planner.Horizon) float64 {
	if len(h) == 0 {
		return 0.25
	}
	var sum float64
	for _, s := range h {
		sum += s.DurationH()
	}
	return sum / float64(len(h))
}

// bucketSlotGroups buckets slot indices by bucket date: a slot whose
// local hour is earlier than deferUpToHours belongs to the previous
// calendar day. Groups come back in horizon order.
func bucketSlotGroups(h planner.Horizon, deferUpToHours float64) [][]int {
	groups := map[string][]int{}
	var order []string
	for i, s := range h {
		day := s.Start
		if float64(s.Start.Hour()) < deferUpToHours {
			day = day.AddDate(0, 0, -1)
		}
		key := day.Format("2006-01-02")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}
	out := make([][]int, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}
