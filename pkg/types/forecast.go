package types

import "time"

// ForecastPeriod is one period of expected solar production.
type ForecastPeriod struct {
	TSStart time.Time `json:"tsStart"`
	TSEnd   time.Time `json:"tsEnd"`
	KW      float64   `json:"kw"`
}

// ForecastSummary reduces a production forecast to what planning needs.
// A zero ProductionStart or ProductionEnd means the window is unknown.
type ForecastSummary struct {
	Available bool `json:"available"`

	TotalKWH float64 `json:"totalKWH"`
	// BatteryKWH only counts production above self-consumption.
	BatteryKWH float64 `json:"batteryKWH"`

	ProductionStart time.Time `json:"productionStart"`
	ProductionEnd   time.Time `json:"productionEnd"`
}
