package meteo

import "time"

// LocationForecast is the root of a Locationforecast response, trimmed
// to the fields the planner reads.
type LocationForecast struct {
	Type       string         `json:"type"`
	Geometry   *PointGeometry `json:"geometry,omitempty"`
	Properties *Forecast      `json:"properties,omitempty"`
}

// PointGeometry is a GeoJSON point: [longitude, latitude, altitude].
type PointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Forecast carries the forecast time series plus its metadata.
type Forecast struct {
	Meta       ForecastMeta       `json:"meta"`
	Timeseries []ForecastTimeStep `json:"timeseries"`
}

// ForecastMeta records when the model run was published.
type ForecastMeta struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// ForecastTimeStep is the forecast for one instant.
type ForecastTimeStep struct {
	Time time.Time             `json:"time"`
	Data *ForecastTimeStepData `json:"data,omitempty"`
}

// ForecastTimeStepData splits the step into instant values and
// accumulated next-hours periods.
type ForecastTimeStepData struct {
	Instant    *ForecastInstantData `json:"instant,omitempty"`
	Next1Hours *ForecastPeriodData  `json:"next_1_hours,omitempty"`
	Next6Hours *ForecastPeriodData  `json:"next_6_hours,omitempty"`
}

// ForecastInstantData wraps the instant parameter details.
type ForecastInstantData struct {
	Details *ForecastTimeInstant `json:"details,omitempty"`
}

// ForecastTimeInstant holds the instant parameters the planner uses.
type ForecastTimeInstant struct {
	AirTemperature    *float64 `json:"air_temperature,omitempty"`
	CloudAreaFraction *float64 `json:"cloud_area_fraction,omitempty"`
	WindSpeed         *float64 `json:"wind_speed,omitempty"`
}

// ForecastPeriodData holds accumulated values over the coming period.
type ForecastPeriodData struct {
	Details *ForecastTimePeriod `json:"details,omitempty"`
}

// ForecastTimePeriod holds the period parameters the planner uses.
type ForecastTimePeriod struct {
	AirTemperatureMax   *float64 `json:"air_temperature_max,omitempty"`
	AirTemperatureMin   *float64 `json:"air_temperature_min,omitempty"`
	PrecipitationAmount *float64 `json:"precipitation_amount,omitempty"`
}
