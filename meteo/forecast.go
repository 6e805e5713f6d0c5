package meteo

import "time"

// GetDayForecast returns every time step falling on the given calendar
// day, in date's own time zone.
func (f *LocationForecast) GetDayForecast(date time.Time) []ForecastTimeStep {
	if f.Properties == nil {
		return nil
	}
	y, m, d := date.Date()
	var steps []ForecastTimeStep
	for _, ts := range f.Properties.Timeseries {
		ty, tm, td := ts.Time.In(date.Location()).Date()
		if ty == y && tm == m && td == d {
			steps = append(steps, ts)
		}
	}
	return steps
}

// DailyMeanTemperature averages the instant air temperatures across one
// calendar day's steps; ok is false when the day has no temperature
// data at all.
func (f *LocationForecast) DailyMeanTemperature(date time.Time) (mean float64, ok bool) {
	var sum float64
	var n int
	for _, ts := range f.GetDayForecast(date) {
		if t := ts.GetTemperature(); t != nil {
			sum += *t
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// GetTemperature returns the step's instant air temperature, or nil.
func (ts *ForecastTimeStep) GetTemperature() *float64 {
	if ts.Data == nil || ts.Data.Instant == nil || ts.Data.Instant.Details == nil {
		return nil
	}
	return ts.Data.Instant.Details.AirTemperature
}

// GetCloudCoverage returns the step's cloud area fraction (0-100), or
// nil.
func (ts *ForecastTimeStep) GetCloudCoverage() *float64 {
	if ts.Data == nil || ts.Data.Instant == nil || ts.Data.Instant.Details == nil {
		return nil
	}
	return ts.Data.Instant.Details.CloudAreaFraction
}
