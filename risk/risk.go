// Package risk derives a per-horizon safety factor and a terminal SoC
// value from weather volatility, temperature and PV deficit: a
// static/dynamic mode switch, deficit averaging over a handful of
// day-offsets, a clamped cold-weather adjustment, and
// terminal_value = factor * avg_future_price. Daily mean temperature
// comes from package meteo, averaged across a day's forecast instants.
package risk

import (
	"time"

	"github.com/cepro-home/energy-planner/meteo"
	"github.com/cepro-home/energy-planner/planner"
)

// DayForecast is one day-offset's worth of effective PV/load forecast
// totals, assembled by the input assembler from the forecast store.
type DayForecast struct {
	DailyLoadKWh float64
	DailyPVKWh   float64
}

// Engine computes the RiskProfile outputs given a profile's static
// configuration, a handful of future-day forecasts, a weather
// forecast, and the average future price over the same window.
type Engine struct {
	Weather *meteo.LocationForecast
}

// clamp restricts x to [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Deficit computes max(0, (daily_load-daily_pv)/daily_load). A zero-load
// day has no deficit by convention.
func Deficit(d DayForecast) float64 {
	if d.DailyLoadKWh <= 0 {
		return 0
	}
	return clampMin0((d.DailyLoadKWh - d.DailyPVKWh) / d.DailyLoadKWh)
}

func clampMin0(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

// MeanTemperatureForDay averages the air-temperature instants in the
// weather forecast for the given date.
func (e *Engine) MeanTemperatureForDay(date time.Time) (float64, bool) {
	if e.Weather == nil {
		return 0, false
	}
	return e.Weather.DailyMeanTemperature(date)
}

// Compute fills in Factor, TerminalValuePerKWh and TargetSOCPenalty on
// the given profile (copied, not mutated in place).
//
// avgFuturePrice is the mean price over the day-N+1..N+M window beyond
// the solver's priced horizon; dayForecasts[i] corresponds to
// profile.DaysAheadForSIndex[i]; meanTemps[i] is the matching daily
// mean temperature (from MeanTemperatureForDay).
func (e *Engine) Compute(profile planner.RiskProfile, dayForecasts []DayForecast, meanTemps []float64, avgFuturePrice float64) planner.RiskProfile {
	out := profile

	switch profile.Mode {
	case planner.RiskStatic, "":
		out.Factor = min64(profile.BaseFactor, profile.MaxFactor)

	case planner.RiskDynamic:
		var deficitSum, tempSum float64
		n := len(dayForecasts)
		if n > len(meanTemps) {
			n = len(meanTemps)
		}
		for i := 0; i < n; i++ {
			deficitSum += Deficit(dayForecasts[i])
			tempSum += meanTemps[i]
		}
		var avgDeficit, tempAdj float64
		if n > 0 {
			avgDeficit = deficitSum / float64(n)
			// One mean temperature over the whole window, then one clamp.
			meanTemp := tempSum / float64(n)
			tempAdj = clamp((profile.TempBaselineC-meanTemp)/(profile.TempBaselineC-profile.TempColdC), 0, 1)
		}
		raw := profile.BaseFactor + profile.PVDeficitWeight*avgDeficit + profile.TempWeight*tempAdj
		out.Factor = clamp(raw, 0, profile.MaxFactor)
	}

	out.TerminalValuePerKWh = out.Factor * avgFuturePrice
	out.TargetSOCPenalty = targetSOCPenaltyFor(profile.RiskAppetite)

	return out
}

// targetSOCPenaltyFor maps risk_appetite (1..5) to a target-SoC miss
// penalty: higher appetite means the planner is more willing to miss
// the terminal target, so the penalty is lower.
func targetSOCPenaltyFor(appetite int) float64 {
	switch {
	case appetite <= 1:
		return 500
	case appetite == 2:
		return 300
	case appetite == 3:
		return 150
	case appetite == 4:
		return 75
	default:
		return 25
	}
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
