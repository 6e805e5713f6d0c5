// Package assemble joins the tariff model, forecast store, observation
// store, risk engine and live plant telemetry into one validated
// planner.SolverInput. A missing forecast slot falls back to a trailing
// same-hour average, with PV zeroed while the sun is down; a missing live SoC reading aborts
// the assembly outright, since a defaulted SoC causes phantom charging.
package assemble

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cepro-home/energy-planner/config"
	"github.com/cepro-home/energy-planner/forecaststore"
	"github.com/cepro-home/energy-planner/obsstore"
	"github.com/cepro-home/energy-planner/plant"
	"github.com/cepro-home/energy-planner/planner"
	"github.com/cepro-home/energy-planner/risk"
	"github.com/cepro-home/energy-planner/sun"
	"github.com/cepro-home/energy-planner/tariff"
)

// TrailingAverageDays is the lookback window used for the naive
// forecast fallback.
const TrailingAverageDays = 7

// Assembled is the result of one assembly pass: the validated solver
// input plus any non-fatal quality warnings collected along the way
// (a missing forecast has a defined fallback and is only worth a note).
type Assembled struct {
	Input    planner.SolverInput
	Warnings []string
}

// Deps bundles the already-constructed component clients an assembly
// pass reads from.
type Deps struct {
	Config          *config.Config
	Tariff          *tariff.Model
	Forecasts       *forecaststore.Store
	Observations    *obsstore.Store
	Risk            *risk.Engine
	ForecastVersion string
}

// Assemble builds a SolverInput for the horizon starting at the first
// slot boundary after now, reading live battery state from telemetry.
// telemetry must be a fresh reading; the caller surfaces a
// KindSoCUnavailable error before Assemble is even called when the
// plant poll failed, and telemetryOK guards against a stale struct
// slipping through.
func Assemble(ctx context.Context, d Deps, now time.Time, telemetry plant.SiteTelemetry, telemetryOK bool) (Assembled, error) {
	if !telemetryOK {
		return Assembled{}, planner.NewError(planner.KindSoCUnavailable, fmt.Errorf("no live battery SoC reading available"))
	}

	cfg := d.Config
	resolution := cfg.SlotDuration()
	horizonDur := time.Duration(cfg.HorizonHours) * time.Hour
	start := roundUpToBoundary(now, resolution)

	priceSlots, err := d.Tariff.BuildSlotGrid(start, horizonDur, resolution)
	if err != nil {
		return Assembled{}, err
	}

	var warnings []string
	horizon := make(planner.Horizon, len(priceSlots))
	for i, ps := range priceSlots {
		slot := planner.Slot{
			Start:       ps.Start,
			End:         ps.End,
			ImportPrice: ps.ImportPrice,
			ExportPrice: ps.ExportPrice,
		}

		row, ok, ferr := d.Forecasts.Read(ctx, ps.Start, d.ForecastVersion)
		if ferr != nil {
			return Assembled{}, planner.NewError(planner.KindStoreTransient, ferr)
		}
		if ok {
			slot.PVForecastKWh = row.EffectivePV()
			slot.LoadForecastKWh = row.EffectiveLoad()
			slot.PVP10 = row.PVP10
			slot.PVP90 = row.PVP90
			slot.LoadP10 = row.LoadP10
			slot.LoadP90 = row.LoadP90
		} else {
			pv, load, aerr := d.Observations.TrailingAverageForHour(ctx, ps.Start, TrailingAverageDays)
			if aerr != nil {
				return Assembled{}, planner.NewError(planner.KindStoreTransient, aerr)
			}
			// Zero PV while the sun is down, whatever the averages say:
			// a counter hiccup in the history must not make the solver
			// expect nighttime generation.
			mid := ps.Start.Add(ps.End.Sub(ps.Start) / 2)
			if !sun.Daylight(mid, cfg.Latitude, cfg.Longitude) {
				pv = 0
			}
			slot.PVForecastKWh = pv
			slot.LoadForecastKWh = load
			warnings = append(warnings, fmt.Sprintf("slot %s: forecast missing, used trailing %d-day average", ps.Start, TrailingAverageDays))
		}

		horizon[i] = slot
	}

	battery := planner.BatteryState{
		CapacityKWh:    cfg.Battery.CapacityKWh,
		MinSOCPercent:  cfg.Battery.MinSOCPercent,
		MaxSOCPercent:  cfg.Battery.MaxSOCPercent,
		MaxChargeKW:    cfg.Battery.MaxChargeKW,
		MaxDischargeKW: cfg.Battery.MaxDischargeKW,
		RoundTripEff:   cfg.Battery.RoundTripEfficiency,
		WearCostPerKWh: cfg.Battery.WearCostPerKWh,
	}
	if telemetry.BatteryCapacityKWh > 0 {
		battery.CapacityKWh = telemetry.BatteryCapacityKWh
	}
	initialSOCKWh := battery.ClampSOC(telemetry.BatterySOCPercent / 100 * battery.CapacityKWh)
	battery.SOCKWh = initialSOCKWh
	if initialSOCKWh > battery.MaxSOCKWh()+planner.EpsilonKWh {
		// Honor the live reading but flag it; the solver forbids further
		// charging until the state drops back under the cap.
		battery.OverSOCWarned = true
		warnings = append(warnings, fmt.Sprintf("live SoC %.2f kWh exceeds configured max %.2f kWh, charging disabled", initialSOCKWh, battery.MaxSOCKWh()))
	}

	var wh *planner.WaterHeater
	if cfg.WaterHeating.Enabled {
		heatedToday, herr := heatedTodayKWh(ctx, d.Observations, now)
		if herr != nil {
			return Assembled{}, planner.NewError(planner.KindStoreTransient, herr)
		}
		wh = &planner.WaterHeater{
			PowerKW:         cfg.WaterHeating.PowerKW,
			MinKWhPerDay:    cfg.WaterHeating.MinKWhPerDay,
			MaxGapHours:     cfg.WaterHeating.MaxGapHours,
			MinSpacingHours: cfg.WaterHeating.MinSpacingHours,
			DeferUpToHours:  cfg.WaterHeating.DeferUpToHours,
			HeatedTodayKWh:  heatedToday,
			HardSpacing:     cfg.WaterHeating.HardSpacing,
		}
	}

	profile := planner.RiskProfile{
		Mode:               planner.RiskMode(cfg.SIndex.Mode),
		BaseFactor:         cfg.SIndex.BaseFactor,
		MaxFactor:          cfg.SIndex.MaxFactor,
		PVDeficitWeight:    cfg.SIndex.PVDeficitWeight,
		TempWeight:         cfg.SIndex.TempWeight,
		TempBaselineC:      cfg.SIndex.TempBaselineC,
		TempColdC:          cfg.SIndex.TempColdC,
		DaysAheadForSIndex: cfg.SIndex.DaysAheadForSIndex,
		RiskAppetite:       cfg.SIndex.RiskAppetite,
	}

	avgFuturePrice := futureImportPrice(d.Tariff, now, profile.DaysAheadForSIndex, horizon)
	if d.Risk != nil {
		var dayForecasts []risk.DayForecast
		var meanTemps []float64
		for _, offset := range profile.DaysAheadForSIndex {
			day := now.AddDate(0, 0, offset)
			from, to := dayBounds(day)
			rows, rerr := d.Forecasts.ReadRange(ctx, d.ForecastVersion, from, to)
			if rerr != nil {
				continue
			}
			var pvSum, loadSum float64
			for _, r := range rows {
				pvSum += r.EffectivePV()
				loadSum += r.EffectiveLoad()
			}
			dayForecasts = append(dayForecasts, risk.DayForecast{DailyPVKWh: pvSum, DailyLoadKWh: loadSum})
			if mean, ok := d.Risk.MeanTemperatureForDay(day); ok {
				meanTemps = append(meanTemps, mean)
			} else {
				meanTemps = append(meanTemps, profile.TempBaselineC)
			}
		}
		profile = d.Risk.Compute(profile, dayForecasts, meanTemps, avgFuturePrice)
	}

	// The terminal target scales with the safety factor: a riskier
	// outlook asks for more energy left in the battery at horizon end.
	var targetSOC *float64
	if profile.Factor > 0 && battery.CapacityKWh > 0 {
		t := battery.MinSOCKWh() + profile.Factor*(battery.MaxSOCKWh()-battery.MinSOCKWh())
		targetSOC = &t
	}

	exportThreshold := cfg.Arbitrage.ExportFees / 1000
	if cfg.Arbitrage.ExportPeakOnly {
		// Only slots above the configured export-price percentile should
		// export at a profit; the threshold eats the margin below it.
		if p := exportPricePercentile(horizon, cfg.Arbitrage.ExportPercentileThreshold); p > exportThreshold {
			exportThreshold = p
		}
	}

	var importLimit, maxExport *float64
	if cfg.Grid.ImportLimitKW > 0 {
		importLimit = &cfg.Grid.ImportLimitKW
	}
	if cfg.Grid.MaxExportKW > 0 {
		maxExport = &cfg.Grid.MaxExportKW
	}

	in := planner.SolverInput{
		Horizon:                  horizon,
		Battery:                  battery,
		WaterHeater:              wh,
		Risk:                     profile,
		InitialSOCKWh:            initialSOCKWh,
		TargetSOCKWh:             targetSOC,
		GridImportLimitKW:        importLimit,
		MaxExportKW:              maxExport,
		ExportEnabled:            cfg.Arbitrage.EnableExport,
		ExportBelowTargetAllowed: cfg.Arbitrage.ExportBelowTargetAllowed,
		ExportThreshold:          exportThreshold,
		RampingCostPerKW:         cfg.Planner.RampingCostPerKW,
		CurtailmentPenalty:       0.1,
		LoadSheddingPenalty:      10_000,
		ImportBreachPenalty:      5_000,
		MinSOCViolationPenalty:   1_000,
		ComfortPenalty:           150,
		SpacingPenalty:           150,
		BlockStartPenalty:        5,
		SolveTimeout:             time.Duration(cfg.Planner.SolveTimeoutS) * time.Second,
	}

	if err := in.Validate(); err != nil {
		return Assembled{}, planner.NewError(planner.KindConfigInvalid, err)
	}

	return Assembled{Input: in, Warnings: warnings}, nil
}

// roundUpToBoundary rounds t up to the next multiple of resolution,
// leaving an exact boundary untouched.
func roundUpToBoundary(t time.Time, resolution time.Duration) time.Time {
	truncated := t.Truncate(resolution)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(resolution)
}

// heatedTodayKWh sums the water energy already delivered since local
// midnight, so the first daily budget only asks for the remainder.
func heatedTodayKWh(ctx context.Context, obs *obsstore.Store, now time.Time) (float64, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rows, err := obs.ReadRange(ctx, midnight, now)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, o := range rows {
		sum += o.WaterKWh
	}
	return sum, nil
}

// futureImportPrice averages the import price over the same day-offset
// window the safety factor looks at, beyond the solver's own priced
// horizon. Day-ahead publications rarely reach that far out, so any
// offset day without price data contributes nothing, and when the feed
// has nothing at all in the window the horizon's own average stands in.
func futureImportPrice(tm *tariff.Model, now time.Time, offsets []int, h planner.Horizon) float64 {
	var sum float64
	var n int
	for _, offset := range offsets {
		day := now.AddDate(0, 0, offset)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		for hour := 0; hour < 24; hour++ {
			if spot, ok := tm.LookupSpotPerMWh(dayStart.Add(time.Duration(hour) * time.Hour)); ok {
				sum += tm.ImportPrice(spot)
				n++
			}
		}
	}
	if n == 0 {
		return averageImportPrice(h)
	}
	return sum / float64(n)
}

func averageImportPrice(h planner.Horizon) float64 {
	if len(h) == 0 {
		return 0
	}
	var sum float64
	for _, s := range h {
		sum += s.ImportPrice
	}
	return sum / float64(len(h))
}

// exportPricePercentile returns the pct-th percentile of the horizon's
// export prices.
func exportPricePercentile(h planner.Horizon, pct float64) float64 {
	if len(h) == 0 {
		return 0
	}
	prices := make([]float64, len(h))
	for i, s := range h {
		prices[i] = s.ExportPrice
	}
	sort.Float64s(prices)
	if pct <= 0 {
		return prices[0]
	}
	if pct >= 100 {
		return prices[len(prices)-1]
	}
	idx := int(pct / 100 * float64(len(prices)-1))
	return prices[idx]
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return from, from.AddDate(0, 0, 1)
}
