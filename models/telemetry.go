package models

import (
	"time"
)

// Field represents an oil & gas field (lease/concession)
type Field struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Code      string    `json:"code" db:"code"`
	Operator  string    `json:"operator" db:"operator"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Well represents a production well. Identity is immutable once created;
// is_active is toggled by the external registry, never by the pipeline.
type Well struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	APINumber string    `json:"api_number" db:"api_number"`
	FieldID   int       `json:"field_id" db:"field_id"`
	WellType  string    `json:"well_type" db:"well_type"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RawReading is one sample as delivered by a field protocol adapter,
// before validation. Optional sensors are pointers so an absent value is
// distinguishable from zero.
type RawReading struct {
	WellID    int       `json:"well_id" binding:"required"`
	Timestamp time.Time `json:"timestamp" binding:"required"`

	OilRate   *float64 `json:"oil_rate"`   // barrels/day
	GasRate   *float64 `json:"gas_rate"`   // KSCF/day
	WaterRate *float64 `json:"water_rate"` // barrels/day

	WellheadPressure *float64 `json:"wellhead_pressure"` // PSI
	TubingPressure   *float64 `json:"tubing_pressure"`   // PSI
	CasingPressure   *float64 `json:"casing_pressure"`   // PSI

	WellheadTemperature *float64 `json:"wellhead_temperature"` // degF
	FlowlineTemperature *float64 `json:"flowline_temperature"` // degF

	ChokeSize  *float64 `json:"choke_size"` // 64ths of an inch
	PumpStatus *bool    `json:"pump_status"`

	Source string `json:"source"` // OPC-UA, Modbus, MQTT, Manual
}

// TelemetryReading is an accepted sample. Immutable after acceptance except
// for QualityScore and IsAnomaly, which the pipeline sets exactly once.
type TelemetryReading struct {
	ID        int64     `json:"id" db:"id"`
	WellID    int       `json:"well_id" db:"well_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	OilRate   *float64 `json:"oil_rate" db:"oil_rate"`
	GasRate   *float64 `json:"gas_rate" db:"gas_rate"`
	WaterRate *float64 `json:"water_rate" db:"water_rate"`

	WellheadPressure *float64 `json:"wellhead_pressure" db:"wellhead_pressure"`
	TubingPressure   *float64 `json:"tubing_pressure" db:"tubing_pressure"`
	CasingPressure   *float64 `json:"casing_pressure" db:"casing_pressure"`

	WellheadTemperature *float64 `json:"wellhead_temperature" db:"wellhead_temperature"`
	FlowlineTemperature *float64 `json:"flowline_temperature" db:"flowline_temperature"`

	ChokeSize  *float64 `json:"choke_size" db:"choke_size"`
	PumpStatus *bool    `json:"pump_status" db:"pump_status"`

	QualityScore float64 `json:"quality_score" db:"quality_score"`
	IsAnomaly    bool    `json:"is_anomaly" db:"is_anomaly"`

	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DailyAggregate is the per-well, per-calendar-day rollup of accepted
// readings. Derived, never authoritative: it can always be recomputed from
// the readings themselves.
type DailyAggregate struct {
	WellID int    `json:"well_id"`
	Day    string `json:"day"` // YYYY-MM-DD

	ExpectedCount int `json:"expected_count"`
	ActualCount   int `json:"actual_count"`

	OilSum   float64 `json:"oil_sum"`
	GasSum   float64 `json:"gas_sum"`
	WaterSum float64 `json:"water_sum"`

	OilAvg   float64 `json:"oil_avg"`
	GasAvg   float64 `json:"gas_avg"`
	WaterAvg float64 `json:"water_avg"`

	AvgWellheadPressure float64 `json:"avg_wellhead_pressure"`

	QualityScore     float64 `json:"quality_score"` // mean of per-reading scores
	AnomalyCount     int     `json:"anomaly_count"`
	InsufficientData bool    `json:"insufficient_data"`
}

// Completeness is the fraction of expected daily samples actually received.
func (a *DailyAggregate) Completeness() float64 {
	if a.ExpectedCount == 0 {
		return 0
	}
	return float64(a.ActualCount) / float64(a.ExpectedCount)
}

// MissingSamples is expected minus actual, clipped at zero (bursts allowed).
func (a *DailyAggregate) MissingSamples() int {
	missing := a.ExpectedCount - a.ActualCount
	if missing < 0 {
		return 0
	}
	return missing
}

// DayOf formats a timestamp as the calendar day key used throughout the
// pipeline (UTC).
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
