package database

import (
	"context"
	"fmt"
	"time"

	"wellpipe/models"
)

// InsertReading persists an accepted telemetry reading and fills in its id
func (d *Database) InsertReading(ctx context.Context, r *models.TelemetryReading) error {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO telemetry_readings
			(well_id, timestamp, oil_rate, gas_rate, water_rate,
			 wellhead_pressure, tubing_pressure, casing_pressure,
			 wellhead_temperature, flowline_temperature,
			 choke_size, pump_status, quality_score, is_anomaly, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.WellID, r.Timestamp, r.OilRate, r.GasRate, r.WaterRate,
		r.WellheadPressure, r.TubingPressure, r.CasingPressure,
		r.WellheadTemperature, r.FlowlineTemperature,
		r.ChokeSize, r.PumpStatus, r.QualityScore, r.IsAnomaly, r.Source)
	if err != nil {
		return fmt.Errorf("failed to insert reading for well %d: %w", r.WellID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get reading id: %w", err)
	}
	r.ID = id
	return nil
}

// MarkReadingAnomaly flips the is_anomaly flag on a reading. Set exactly
// once during detection, never cleared.
func (d *Database) MarkReadingAnomaly(ctx context.Context, readingID int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE telemetry_readings SET is_anomaly = TRUE WHERE id = ?`, readingID)
	if err != nil {
		return fmt.Errorf("failed to mark reading %d anomalous: %w", readingID, err)
	}
	return nil
}

// GetReadingsForWellDay returns a well's readings for one calendar day in
// timestamp order.
func (d *Database) GetReadingsForWellDay(ctx context.Context, wellID int, day string) ([]models.TelemetryReading, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, well_id, timestamp, oil_rate, gas_rate, water_rate,
		       wellhead_pressure, quality_score, is_anomaly
		FROM telemetry_readings
		WHERE well_id = ? AND DATE(timestamp) = ?
		ORDER BY timestamp`, wellID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for well %d day %s: %w", wellID, day, err)
	}
	defer rows.Close()

	var readings []models.TelemetryReading
	for rows.Next() {
		var r models.TelemetryReading
		if err := rows.Scan(&r.ID, &r.WellID, &r.Timestamp, &r.OilRate, &r.GasRate, &r.WaterRate,
			&r.WellheadPressure, &r.QualityScore, &r.IsAnomaly); err != nil {
			return nil, fmt.Errorf("failed to scan reading row: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// TelemetryStats is the per-well statistical summary over a time range
type TelemetryStats struct {
	WellID        int      `json:"well_id"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	TotalReadings int      `json:"total_readings"`
	AvgOilRate    *float64 `json:"avg_oil_rate"`
	AvgGasRate    *float64 `json:"avg_gas_rate"`
	AvgWaterRate  *float64 `json:"avg_water_rate"`
	TotalOil      *float64 `json:"total_oil"`
	TotalGas      *float64 `json:"total_gas"`
	TotalWater    *float64 `json:"total_water"`
	QualityAvg    float64  `json:"data_quality_avg"`
}

// GetTelemetryStats aggregates a well's readings over [start, end]
func (d *Database) GetTelemetryStats(ctx context.Context, wellID int, start, end time.Time) (*TelemetryStats, error) {
	stats := &TelemetryStats{
		WellID:    wellID,
		StartDate: start.UTC().Format(time.RFC3339),
		EndDate:   end.UTC().Format(time.RFC3339),
	}
	var qualityAvg *float64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(id), AVG(oil_rate), AVG(gas_rate), AVG(water_rate),
		       SUM(oil_rate), SUM(gas_rate), SUM(water_rate), AVG(quality_score)
		FROM telemetry_readings
		WHERE well_id = ? AND timestamp >= ? AND timestamp <= ?`,
		wellID, start, end).Scan(
		&stats.TotalReadings, &stats.AvgOilRate, &stats.AvgGasRate, &stats.AvgWaterRate,
		&stats.TotalOil, &stats.TotalGas, &stats.TotalWater, &qualityAvg)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry stats for well %d: %w", wellID, err)
	}
	if qualityAvg != nil {
		stats.QualityAvg = *qualityAvg
	}
	return stats, nil
}

// ProductionTotals is the fleet-wide production summary over a time range
type ProductionTotals struct {
	OilTotal      float64 `json:"oil_total"`
	GasTotal      float64 `json:"gas_total"`
	WaterTotal    float64 `json:"water_total"`
	QualityAvg    float64 `json:"quality_avg"`
	TotalReadings int     `json:"total_readings"`
}

// GetProductionTotals sums production across all wells over [start, end)
func (d *Database) GetProductionTotals(ctx context.Context, start, end time.Time) (*ProductionTotals, error) {
	totals := &ProductionTotals{}
	var oil, gas, water, quality *float64
	err := d.db.QueryRowContext(ctx, `
		SELECT SUM(oil_rate), SUM(gas_rate), SUM(water_rate), AVG(quality_score), COUNT(id)
		FROM telemetry_readings
		WHERE timestamp >= ? AND timestamp < ?`,
		start, end).Scan(&oil, &gas, &water, &quality, &totals.TotalReadings)
	if err != nil {
		return nil, fmt.Errorf("failed to query production totals: %w", err)
	}
	if oil != nil {
		totals.OilTotal = *oil
	}
	if gas != nil {
		totals.GasTotal = *gas
	}
	if water != nil {
		totals.WaterTotal = *water
	}
	if quality != nil {
		totals.QualityAvg = *quality
	}
	return totals, nil
}

// ProductionDay is one day of fleet-wide production history
type ProductionDay struct {
	Date       string  `json:"date"`
	OilTotal   float64 `json:"oil_total"`
	GasTotal   float64 `json:"gas_total"`
	WaterTotal float64 `json:"water_total"`
	Readings   int     `json:"readings"`
}

// GetProductionHistory returns per-day production sums over [start, end),
// oldest day first. Days with no readings are absent from the series.
func (d *Database) GetProductionHistory(ctx context.Context, start, end time.Time) ([]ProductionDay, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DATE(timestamp),
		       COALESCE(SUM(oil_rate), 0), COALESCE(SUM(gas_rate), 0),
		       COALESCE(SUM(water_rate), 0), COUNT(id)
		FROM telemetry_readings
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY DATE(timestamp)
		ORDER BY DATE(timestamp)`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query production history: %w", err)
	}
	defer rows.Close()

	var series []ProductionDay
	for rows.Next() {
		var day ProductionDay
		if err := rows.Scan(&day.Date, &day.OilTotal, &day.GasTotal, &day.WaterTotal, &day.Readings); err != nil {
			return nil, fmt.Errorf("failed to scan production history row: %w", err)
		}
		series = append(series, day)
	}
	return series, rows.Err()
}

// RealtimeMetrics is a short-window ingestion throughput snapshot
type RealtimeMetrics struct {
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	Readings       int       `json:"readings"`
	ReportingWells int       `json:"reporting_wells"`
}

// GetRealtimeMetrics counts readings and distinct reporting wells over
// [start, end).
func (d *Database) GetRealtimeMetrics(ctx context.Context, start, end time.Time) (*RealtimeMetrics, error) {
	m := &RealtimeMetrics{WindowStart: start.UTC(), WindowEnd: end.UTC()}
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(id), COUNT(DISTINCT well_id)
		FROM telemetry_readings
		WHERE timestamp >= ? AND timestamp < ?`,
		start, end).Scan(&m.Readings, &m.ReportingWells)
	if err != nil {
		return nil, fmt.Errorf("failed to query realtime metrics: %w", err)
	}
	return m, nil
}
