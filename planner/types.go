// Package planner holds the data model shared by the input assembler
// (package assemble), the MILP solver (package milp) and the projection
// layer (package project): Slot, Horizon, BatteryState, WaterHeater,
// RiskProfile, SolverInput, SolverResult, ActionSchedule and Observation,
// plus the closed error-kind taxonomy every layer above the store
// boundary returns.
package planner

import (
	"fmt"
	"math"
	"time"
)

// EpsilonKWh is the tolerance used for every slot-level energy comparison
// in the model and in post-solve verification.
const EpsilonKWh = 1e-6

// Slot is an immutable, price-bearing interval of the planning horizon.
type Slot struct {
	Start time.Time
	End   time.Time

	ImportPrice float64 // currency/kWh, may be negative
	ExportPrice float64 // currency/kWh, may be negative

	PVForecastKWh   float64
	LoadForecastKWh float64

	// Percentile forecasts; zero value means "not supplied".
	PVP10   *float64
	PVP90   *float64
	LoadP10 *float64
	LoadP90 *float64
}

// DurationH returns the slot length in hours, the divisor every kWh/kW
// conversion in this module must use instead of an assumed 0.25h.
func (s Slot) DurationH() float64 {
	return s.End.Sub(s.Start).Hours()
}

// Horizon is an ordered, contiguous sequence of Slots.
type Horizon []Slot

// Validate checks the structural invariants required of any Horizon:
// contiguity, positive duration, and non-negative forecasts.
func (h Horizon) Validate() error {
	if len(h) == 0 {
		return fmt.Errorf("horizon has no slots")
	}
	for i, s := range h {
		if !s.End.After(s.Start) {
			return fmt.Errorf("slot %d: end %s not after start %s", i, s.End, s.Start)
		}
		if s.PVForecastKWh < 0 || s.LoadForecastKWh < 0 {
			return fmt.Errorf("slot %d: forecasts must be non-negative", i)
		}
		if i > 0 && !h[i-1].End.Equal(s.Start) {
			return fmt.Errorf("slot %d: not contiguous with previous slot (prev end %s, start %s)", i, h[i-1].End, s.Start)
		}
	}
	return nil
}

// BatteryState describes the site's battery hardware and its live reading.
type BatteryState struct {
	CapacityKWh     float64
	MinSOCPercent   float64
	MaxSOCPercent   float64
	MaxChargeKW     float64
	MaxDischargeKW  float64
	RoundTripEff    float64 // decomposed below into one-way efficiencies
	WearCostPerKWh  float64
	SOCKWh          float64 // live reading, clamped to [0, CapacityKWh] on read
	OverSOCWarned   bool    // set when the live reading exceeded MaxSOCPercent
}

// ChargeEff and DischargeEff are the symmetric one-way efficiencies
// decomposed from the round-trip efficiency: both equal
// sqrt(round_trip_eff).
func (b BatteryState) ChargeEff() float64    { return oneWayEff(b.RoundTripEff) }
func (b BatteryState) DischargeEff() float64 { return oneWayEff(b.RoundTripEff) }

func oneWayEff(roundTrip float64) float64 {
	if roundTrip <= 0 {
		return 0
	}
	return math.Sqrt(roundTrip)
}

// MinSOCKWh and MaxSOCKWh convert the percent bounds to kWh against
// CapacityKWh.
func (b BatteryState) MinSOCKWh() float64 { return b.MinSOCPercent / 100 * b.CapacityKWh }
func (b BatteryState) MaxSOCKWh() float64 { return b.MaxSOCPercent / 100 * b.CapacityKWh }

// ClampSOC clamps a raw reading to [0, CapacityKWh].
func (b BatteryState) ClampSOC(raw float64) float64 {
	if raw < 0 {
		return 0
	}
	if raw > b.CapacityKWh {
		return b.CapacityKWh
	}
	return raw
}

// WaterHeater describes the optional deferrable resistive load.
type WaterHeater struct {
	PowerKW          float64
	MinKWhPerDay     float64
	MaxGapHours      float64
	MinSpacingHours  float64
	DeferUpToHours   float64
	HeatedTodayKWh   float64
	HardSpacing      bool // hard spacing between blocks; soft linearization when false
	ForcedOnSlots    map[int]bool // slot index -> forced ON, from locks/earlier plans
}

// Enabled reports whether a water heater is configured at all.
func (w *WaterHeater) Enabled() bool { return w != nil && w.PowerKW > 0 }

// RiskMode selects the S-index computation strategy.
type RiskMode string

const (
	RiskStatic  RiskMode = "static"
	RiskDynamic RiskMode = "dynamic"
)

// RiskProfile carries the inputs the S-index engine (package risk) needs
// and the scalar outputs (Factor, TerminalValuePerKWh, TargetSOCPenalty)
// it produces, so that SolverInput can embed the profile post-computation.
type RiskProfile struct {
	Mode                RiskMode
	BaseFactor          float64
	MaxFactor           float64
	PVDeficitWeight     float64
	TempWeight          float64
	TempBaselineC       float64
	TempColdC           float64
	DaysAheadForSIndex  []int
	RiskAppetite        int // 1..5

	// Populated by the risk engine.
	Factor              float64
	TerminalValuePerKWh float64
	TargetSOCPenalty    float64
}

// SolverInput is the fully assembled, pre-validated input to the MILP
// solver (C6), produced by package assemble (C4).
type SolverInput struct {
	Horizon         Horizon
	Battery         BatteryState
	WaterHeater     *WaterHeater
	Risk            RiskProfile
	InitialSOCKWh   float64
	TargetSOCKWh    *float64
	GridImportLimitKW *float64 // soft cap
	MaxExportKW       *float64 // hard cap
	ExportEnabled     bool

	RampingCostPerKW        float64
	CurtailmentPenalty      float64 // per kWh, default 0.1
	LoadSheddingPenalty     float64 // per kWh, default 10_000
	ImportBreachPenalty     float64 // per kWh, default 5_000
	MinSOCViolationPenalty  float64 // per kWh, default 1_000
	ComfortPenalty          float64
	SpacingPenalty          float64
	BlockStartPenalty       float64
	ExportThreshold         float64 // currency/kWh subtracted from export price
	ExportBelowTargetAllowed bool   // carried from config; the milp model does not read it

	SolveTimeout time.Duration // default 60s
}

// Validate checks the cross-field invariants SolverInput must satisfy
// before being handed to the solver.
func (in SolverInput) Validate() error {
	if err := in.Horizon.Validate(); err != nil {
		return fmt.Errorf("horizon: %w", err)
	}
	if in.Battery.CapacityKWh < 0 {
		return fmt.Errorf("battery capacity must be non-negative")
	}
	if in.Battery.MinSOCPercent < 0 || in.Battery.MaxSOCPercent > 100 || in.Battery.MinSOCPercent > in.Battery.MaxSOCPercent {
		return fmt.Errorf("battery min/max SoC percent out of range: %v/%v", in.Battery.MinSOCPercent, in.Battery.MaxSOCPercent)
	}
	if in.Battery.RoundTripEff <= 0 || in.Battery.RoundTripEff > 1 {
		return fmt.Errorf("round_trip_eff must be in (0,1], got %v", in.Battery.RoundTripEff)
	}
	if in.InitialSOCKWh < 0 || in.InitialSOCKWh > in.Battery.CapacityKWh+EpsilonKWh {
		return fmt.Errorf("initial SoC %v out of [0,%v]", in.InitialSOCKWh, in.Battery.CapacityKWh)
	}
	return nil
}

// SolverStatus enumerates the outcomes the MILP solver may report.
type SolverStatus string

const (
	StatusOptimal    SolverStatus = "optimal"
	StatusInfeasible SolverStatus = "infeasible"
	StatusTimeout    SolverStatus = "timeout"
	StatusError      SolverStatus = "error"
)

// SlotResult is the per-slot decision produced by the solver.
type SlotResult struct {
	ChargeKWh     float64
	DischargeKWh  float64
	GridImportKWh float64
	GridExportKWh float64
	CurtailmentKWh float64
	LoadSheddingKWh float64
	SOCEndKWh     float64
	WaterHeatOn   bool
}

// SolverResult is the complete output of one MILP solve.
type SolverResult struct {
	Slots       []SlotResult
	TotalCost   float64
	Status      SolverStatus
	SolveTimeMS int64
}

// Classification enumerates the per-slot action labels C7 derives.
type Classification string

const (
	ClassCharge    Classification = "charge"
	ClassDischarge Classification = "discharge"
	ClassExport    Classification = "export"
	ClassHold      Classification = "hold"
	ClassPVCharge  Classification = "pv_charge"
)

// ActionScheduleSlot is the per-slot record consumed by the executor,
// produced by package project (C7) and persisted by package
// schedulestore (C8).
type ActionScheduleSlot struct {
	SlotNumber  int
	Start       time.Time
	End         time.Time

	BatteryChargeKW    float64
	BatteryDischargeKW float64
	GridImportKW       float64
	GridExportKW       float64
	WaterHeatingKW     float64

	ProjectedSOCPercent float64
	SOCTargetPercent    float64
	Classification      Classification

	ImportPrice float64
	ExportPrice float64
	PVForecastKWh   float64
	LoadForecastKWh float64

	IsHistorical bool
}

// ActionSchedule is the full horizon of per-slot records plus metadata.
type ActionSchedule struct {
	Slots          []ActionScheduleSlot
	PlannedAt      time.Time
	PlannerVersion string
	LastError      string
}

// Observation is a realized, per-slot record written by the
// orchestrator (C9) into package obsstore (C3).
type Observation struct {
	SlotStart time.Time
	SlotEnd   time.Time

	PVKWh           float64
	LoadKWh         float64
	ImportKWh       float64
	ExportKWh       float64
	BattChargeKWh   float64
	BattDischargeKWh float64
	WaterKWh        float64

	SOCStartPercent float64
	SOCEndPercent   float64

	ImportPrice float64
	ExportPrice float64

	QualityFlags []string
}

// Kind enumerates the failure classes the planning layers report. It is
// not meant to be compared directly; use IsKind.
type Kind string

const (
	KindConfigInvalid      Kind = "config_invalid"
	KindTariffUnavailable  Kind = "tariff_unavailable"
	KindForecastMissing    Kind = "forecast_missing"
	KindSoCUnavailable     Kind = "soc_unavailable"
	KindSolverInfeasible   Kind = "solver_infeasible"
	KindSolverTimeout      Kind = "solver_timeout"
	KindSolverError        Kind = "solver_error"
	KindStoreTransient     Kind = "store_transient"
	KindObservationGap     Kind = "observation_gap"
)

// PlannerError wraps an underlying error with a Kind so the orchestrator
// can branch on failure class without string matching.
type PlannerError struct {
	Kind Kind
	Err  error
}

func (e *PlannerError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PlannerError) Unwrap() error { return e.Err }

// NewError wraps err with the given Kind.
func NewError(kind Kind, err error) *PlannerError {
	return &PlannerError{Kind: kind, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a PlannerError
// with the given Kind.
func IsKind(err error, kind Kind) bool {
	var pe *PlannerError
	for err != nil {
		if p, ok := err.(*PlannerError); ok {
			pe = p
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return pe != nil && pe.Kind == kind
}
