// Package config loads and validates the planner's JSON configuration
// bundle: a flat JSON-tagged struct with custom MarshalJSON/UnmarshalJSON
// to carry time.Duration fields as human-readable strings.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config is the full configuration bundle for the planning subsystem.
type Config struct {
	Timezone           string        `json:"timezone"`
	ResolutionMinutes  int           `json:"resolution_minutes"`
	HorizonHours       int           `json:"horizon_hours"`

	Battery      BatteryConfig      `json:"battery"`
	WaterHeating WaterHeatingConfig `json:"water_heating"`
	SIndex       SIndexConfig       `json:"s_index"`
	Arbitrage    ArbitrageConfig    `json:"arbitrage"`
	Planner      PlannerConfig      `json:"planner"`
	Pricing      PricingConfig      `json:"pricing"`
	Grid         GridConfig         `json:"grid"`

	// ENTSO-E day-ahead feed settings.
	SecurityToken string        `json:"security_token"`
	URLFormat     string        `json:"url_format"`
	APITimeout    time.Duration `json:"api_timeout"`

	// Weather feed settings (package meteo).
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	UserAgent string  `json:"user_agent"`

	// Plant Modbus gateway address (format "host:port").
	PlantModbusAddress string `json:"plant_modbus_address"`

	PostgresConnString string `json:"postgres_conn_string"`

	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	HealthCheckPort int    `json:"health_check_port"`
}

// BatteryConfig describes the battery hardware limits.
type BatteryConfig struct {
	CapacityKWh          float64 `json:"capacity_kwh"`
	MinSOCPercent        float64 `json:"min_soc_percent"`
	MaxSOCPercent        float64 `json:"max_soc_percent"`
	MaxChargeKW          float64 `json:"max_charge_kw"`
	MaxDischargeKW       float64 `json:"max_discharge_kw"`
	RoundTripEfficiency  float64 `json:"round_trip_efficiency"`
	WearCostPerKWh       float64 `json:"wear_cost_per_kwh"`
}

// WaterHeatingConfig describes the deferrable water-heater load.
type WaterHeatingConfig struct {
	Enabled          bool    `json:"enabled"`
	PowerKW          float64 `json:"power_kw"`
	MinKWhPerDay     float64 `json:"min_kwh_per_day"`
	MaxGapHours      float64 `json:"max_gap_hours"`
	MinSpacingHours  float64 `json:"min_spacing_hours"`
	DeferUpToHours   float64 `json:"defer_up_to_hours"`
	HardSpacing      bool    `json:"hard_spacing"`
}

// SIndexConfig tunes the safety-factor computation.
type SIndexConfig struct {
	Mode               string  `json:"mode"` // "static" or "dynamic"
	BaseFactor         float64 `json:"base_factor"`
	MaxFactor          float64 `json:"max_factor"`
	PVDeficitWeight    float64 `json:"pv_deficit_weight"`
	TempWeight         float64 `json:"temp_weight"`
	TempBaselineC      float64 `json:"temp_baseline_c"`
	TempColdC          float64 `json:"temp_cold_c"`
	DaysAheadForSIndex []int   `json:"days_ahead_for_sindex"`
	RiskAppetite       int     `json:"risk_appetite"`
}

// ArbitrageConfig controls grid-export behavior.
type ArbitrageConfig struct {
	EnableExport              bool     `json:"enable_export"`
	ExportFees                float64  `json:"export_fees"` // currency/MWh
	ExportPeakOnly            bool     `json:"export_peak_only"`
	ExportPercentileThreshold float64  `json:"export_percentile_threshold"` // 0..100
	ExportBelowTargetAllowed  bool     `json:"export_below_target_allowed"`
	ManualExportTargetPercent *float64 `json:"manual_export_target_percent,omitempty"`
}

// GridConfig carries the connection's power limits; zero means
// unlimited.
type GridConfig struct {
	ImportLimitKW float64 `json:"import_limit_kw"` // soft cap, breaches penalized
	MaxExportKW   float64 `json:"max_export_kw"`   // hard cap
}

// PlannerConfig controls the orchestrator timers and solver knobs.
type PlannerConfig struct {
	IntervalMinutes  int     `json:"interval_minutes"`
	JitterMinutes    int     `json:"jitter_minutes"`
	SolveTimeoutS    int     `json:"solve_timeout_s"`
	RampingCostPerKW float64 `json:"ramping_cost_per_kw"`
}

// PricingConfig controls the import-price fee stack.
type PricingConfig struct {
	VATPercent       float64 `json:"vat_percent"`
	GridTransferFee  float64 `json:"grid_transfer_fee"`
	EnergyTax        float64 `json:"energy_tax"`
}

// MarshalJSON renders APITimeout as a Go duration string ("30s") rather
// than a raw nanosecond count.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	return json.Marshal(&struct {
		APITimeout string `json:"api_timeout"`
		*alias
	}{
		APITimeout: c.APITimeout.String(),
		alias:      (*alias)(c),
	})
}

// UnmarshalJSON accepts APITimeout as either a duration string ("30s")
// or a raw nanosecond count.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := &struct {
		APITimeout json.RawMessage `json:"api_timeout"`
		*alias
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.APITimeout) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(aux.APITimeout, &asString); err == nil {
		if asString == "" {
			return nil
		}
		d, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid api_timeout duration %q: %w", asString, err)
		}
		c.APITimeout = d
		return nil
	}
	var asNanos int64
	if err := json.Unmarshal(aux.APITimeout, &asNanos); err != nil {
		return fmt.Errorf("api_timeout must be a duration string or nanosecond count: %w", err)
	}
	c.APITimeout = time.Duration(asNanos)
	return nil
}

// Default returns a configuration with sane defaults.
func Default() *Config {
	return &Config{
		Timezone:          "UTC",
		ResolutionMinutes: 15,
		HorizonHours:      48,
		Battery: BatteryConfig{
			CapacityKWh:         10,
			MinSOCPercent:       10,
			MaxSOCPercent:       100,
			MaxChargeKW:         5,
			MaxDischargeKW:      5,
			RoundTripEfficiency: 0.92,
			WearCostPerKWh:      0.01,
		},
		WaterHeating: WaterHeatingConfig{
			HardSpacing: true,
		},
		SIndex: SIndexConfig{
			Mode:               "static",
			BaseFactor:         0.2,
			MaxFactor:          1.0,
			DaysAheadForSIndex: []int{2, 3, 4},
			RiskAppetite:       3,
		},
		Arbitrage: ArbitrageConfig{
			EnableExport: true,
		},
		Planner: PlannerConfig{
			IntervalMinutes:  15,
			JitterMinutes:    0,
			SolveTimeoutS:    60,
			RampingCostPerKW: 0.001,
		},
		APITimeout:      30 * time.Second,
		UserAgent:       "energy-planner/1.0",
		LogLevel:        "info",
		LogFormat:       "text",
		HealthCheckPort: 0,
	}
}

// Load reads and validates a configuration file.
func Load(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader reads and validates configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	c := Default()
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(c); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Validate checks every invariant the config must satisfy before the
// orchestrator is allowed to start; a violation is fatal on startup.
func (c *Config) Validate() error {
	if c.ResolutionMinutes != 15 && c.ResolutionMinutes != 30 && c.ResolutionMinutes != 60 {
		return fmt.Errorf("resolution_minutes must be one of 15, 30, 60, got %d", c.ResolutionMinutes)
	}
	if c.Battery.CapacityKWh < 0 {
		return fmt.Errorf("battery.capacity_kwh must be non-negative, got %v", c.Battery.CapacityKWh)
	}
	if c.Battery.MinSOCPercent < 0 || c.Battery.MaxSOCPercent > 100 || c.Battery.MinSOCPercent > c.Battery.MaxSOCPercent {
		return fmt.Errorf("battery soc bounds invalid: min=%v max=%v", c.Battery.MinSOCPercent, c.Battery.MaxSOCPercent)
	}
	if c.Battery.CapacityKWh > 0 {
		if c.Battery.MaxChargeKW <= 0 {
			return fmt.Errorf("battery.max_charge_kw must be positive, got %v", c.Battery.MaxChargeKW)
		}
		if c.Battery.MaxDischargeKW <= 0 {
			return fmt.Errorf("battery.max_discharge_kw must be positive, got %v", c.Battery.MaxDischargeKW)
		}
	}
	if c.Battery.RoundTripEfficiency <= 0 || c.Battery.RoundTripEfficiency > 1 {
		return fmt.Errorf("battery.round_trip_efficiency must be in (0,1], got %v", c.Battery.RoundTripEfficiency)
	}
	if c.WaterHeating.Enabled && c.WaterHeating.PowerKW <= 0 {
		return fmt.Errorf("water_heating.power_kw must be positive when enabled")
	}
	if c.SIndex.Mode != "static" && c.SIndex.Mode != "dynamic" {
		return fmt.Errorf("s_index.mode must be 'static' or 'dynamic', got %q", c.SIndex.Mode)
	}
	if c.SIndex.RiskAppetite < 1 || c.SIndex.RiskAppetite > 5 {
		return fmt.Errorf("s_index.risk_appetite must be in 1..5, got %d", c.SIndex.RiskAppetite)
	}
	if c.Planner.IntervalMinutes <= 0 {
		return fmt.Errorf("planner.interval_minutes must be positive, got %d", c.Planner.IntervalMinutes)
	}
	if c.Planner.SolveTimeoutS <= 0 {
		return fmt.Errorf("planner.solve_timeout_s must be positive, got %d", c.Planner.SolveTimeoutS)
	}
	if c.Timezone == "" {
		return fmt.Errorf("timezone cannot be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlotDuration returns the configured slot length as a time.Duration.
func (c *Config) SlotDuration() time.Duration {
	return time.Duration(c.ResolutionMinutes) * time.Minute
}

// String renders the configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
