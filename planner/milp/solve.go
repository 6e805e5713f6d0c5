// Package milp turns a validated planner.SolverInput into a per-slot
// planner.SolverResult: the scheduling problem is expressed as a linear
// program with binary water-heater decisions and solved with a Big-M
// simplex plus branch-and-bound, entirely in-process.
package milp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cepro-home/energy-planner/planner"
)

const defaultSolveTimeout = 60 * time.Second

// Solve builds and solves the model for in, respecting in.SolveTimeout
// (defaulting to 60s) via ctx. The returned SolverResult's Status is
// one of the four planner.SolverStatus values whenever the model was
// solved. Solve returns a non-nil planner error for a structurally invalid
// input (with an empty result) and for every status other than optimal.
// Zero penalty weights take the defaults documented on SolverInput.
func Solve(ctx context.Context, in planner.SolverInput) (planner.SolverResult, error) {
	if err := in.Validate(); err != nil {
		return planner.SolverResult{}, planner.NewError(planner.KindConfigInvalid, err)
	}

	timeout := in.SolveTimeout
	if timeout <= 0 {
		timeout = defaultSolveTimeout
	}
	solveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if in.CurtailmentPenalty == 0 {
		in.CurtailmentPenalty = 0.1
	}
	if in.LoadSheddingPenalty == 0 {
		in.LoadSheddingPenalty = 10_000
	}
	if in.ImportBreachPenalty == 0 {
		in.ImportBreachPenalty = 5_000
	}
	if in.MinSOCViolationPenalty == 0 {
		in.MinSOCViolationPenalty = 1_000
	}

	started := time.Now()
	b, v := buildModel(in)

	p := &problem{nVars: len(b.cost), cost: b.cost, upper: b.upper, rows: b.rows}

	// Only water_on needs branching: water_start is linked to water_on by
	// the block-start rows and its positive cost pins it to 0 or 1 once
	// every water_on is integral.
	var binaryVars []int
	if in.WaterHeater.Enabled() {
		binaryVars = append(binaryVars, v.waterOn...)
	}

	lp := branchAndBound(solveCtx, p, binaryVars)
	elapsed := time.Since(started)

	result := planner.SolverResult{SolveTimeMS: elapsed.Milliseconds()}

	switch lp.status {
	case solveOptimal:
		result.Status = planner.StatusOptimal
	case solveInfeasible:
		result.Status = planner.StatusInfeasible
		return result, planner.NewError(planner.KindSolverInfeasible, fmt.Errorf("no feasible schedule for the given horizon"))
	case solveTimeout:
		result.Status = planner.StatusTimeout
		return result, planner.NewError(planner.KindSolverTimeout, fmt.Errorf("solve did not converge within %s", timeout))
	default:
		result.Status = planner.StatusError
		return result, planner.NewError(planner.KindSolverError, fmt.Errorf("solver returned no usable solution"))
	}

	slots := make([]planner.SlotResult, v.n)
	var totalCost float64
	for t := 0; t < v.n; t++ {
		sr := planner.SlotResult{
			ChargeKWh:       lp.x[v.charge[t]],
			DischargeKWh:    lp.x[v.discharge[t]],
			GridImportKWh:   lp.x[v.gridImport[t]],
			GridExportKWh:   lp.x[v.gridExport[t]],
			CurtailmentKWh:  lp.x[v.curtail[t]],
			LoadSheddingKWh: lp.x[v.shed[t]],
			SOCEndKWh:       lp.x[v.soc[t+1]],
		}
		if v.waterOn != nil {
			sr.WaterHeatOn = lp.x[v.waterOn[t]] > 0.5
		}
		for _, val := range []float64{sr.ChargeKWh, sr.DischargeKWh, sr.GridImportKWh, sr.GridExportKWh, sr.CurtailmentKWh, sr.LoadSheddingKWh, sr.SOCEndKWh} {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return planner.SolverResult{Status: planner.StatusError}, planner.NewError(planner.KindSolverError, fmt.Errorf("solver produced a non-finite value at slot %d", t))
			}
		}
		slots[t] = sr
	}

	for j, c := range b.cost {
		totalCost += c * lp.x[j]
	}

	result.Slots = slots
	result.TotalCost = totalCost
	return result, nil
}
