// Package ingest validates and normalizes incoming telemetry samples,
// assigning each accepted reading a quality score. Rejection is terminal
// for a sample; the field adapter that submitted it decides whether to
// resubmit.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wellpipe/config"
	"wellpipe/models"

	"github.com/apex/log"
)

// RejectedKind classifies why a sample was rejected
type RejectedKind string

const (
	RejectedUnknownWell         RejectedKind = "unknown_well"
	RejectedTimestampOutOfRange RejectedKind = "timestamp_out_of_range"
	RejectedInvalidValue        RejectedKind = "invalid_value"
)

// RejectedError is returned when a sample fails validation
type RejectedError struct {
	Kind   RejectedKind
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("reading rejected (%s): %s", e.Kind, e.Reason)
}

// WellRegistry is the external well/field registry boundary
type WellRegistry interface {
	IsWellActive(ctx context.Context, wellID int) (bool, error)
}

// ReadingStore persists accepted readings
type ReadingStore interface {
	InsertReading(ctx context.Context, r *models.TelemetryReading) error
}

// Accumulator receives accepted readings for daily rollup
type Accumulator interface {
	Accumulate(wellID int, day string, r *models.TelemetryReading)
}

// Ingestor validates, scores and persists one sample at a time
type Ingestor struct {
	cfg      *config.Config
	registry WellRegistry
	store    ReadingStore
	agg      Accumulator

	mu       sync.Mutex
	lastSeen map[int]time.Time // per-well previous accepted timestamp
}

// NewIngestor creates a reading ingestor
func NewIngestor(cfg *config.Config, registry WellRegistry, store ReadingStore, agg Accumulator) *Ingestor {
	return &Ingestor{
		cfg:      cfg,
		registry: registry,
		store:    store,
		agg:      agg,
		lastSeen: make(map[int]time.Time),
	}
}

// physical bounds beyond which a present value is implausible but not
// grounds for rejection; it costs quality instead
const (
	maxPlausiblePressurePSI = 15000.0
	minPlausibleTempF       = -60.0
	maxPlausibleTempF       = 450.0
)

// Ingest validates one raw sample. On success the reading is stamped with
// its quality score, persisted, and folded into the daily aggregate. The
// anomaly flag stays false here; detection runs downstream so ingestion
// never blocks on the detector.
func (i *Ingestor) Ingest(ctx context.Context, raw *models.RawReading) (*models.TelemetryReading, error) {
	active, err := i.registry.IsWellActive(ctx, raw.WellID)
	if err == models.ErrNotFound {
		return nil, &RejectedError{Kind: RejectedUnknownWell, Reason: fmt.Sprintf("well %d does not exist", raw.WellID)}
	}
	if err != nil {
		return nil, fmt.Errorf("well registry lookup failed: %w", err)
	}
	if !active {
		return nil, &RejectedError{Kind: RejectedUnknownWell, Reason: fmt.Sprintf("well %d is inactive", raw.WellID)}
	}

	now := time.Now().UTC()
	ts := raw.Timestamp.UTC()
	if ts.Before(now.Add(-i.cfg.MaxPastSkew)) || ts.After(now.Add(i.cfg.MaxFutureSkew)) {
		return nil, &RejectedError{
			Kind:   RejectedTimestampOutOfRange,
			Reason: fmt.Sprintf("timestamp %s outside acceptance window", ts.Format(time.RFC3339)),
		}
	}

	if reason := firstNegative(raw); reason != "" {
		return nil, &RejectedError{Kind: RejectedInvalidValue, Reason: reason}
	}

	reading := &models.TelemetryReading{
		WellID:              raw.WellID,
		Timestamp:           ts,
		OilRate:             raw.OilRate,
		GasRate:             raw.GasRate,
		WaterRate:           raw.WaterRate,
		WellheadPressure:    raw.WellheadPressure,
		TubingPressure:      raw.TubingPressure,
		CasingPressure:      raw.CasingPressure,
		WellheadTemperature: raw.WellheadTemperature,
		FlowlineTemperature: raw.FlowlineTemperature,
		ChokeSize:           raw.ChokeSize,
		PumpStatus:          raw.PumpStatus,
		Source:              raw.Source,
		IsAnomaly:           false,
	}
	reading.QualityScore = i.score(raw, ts)

	if err := i.store.InsertReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to persist reading: %w", err)
	}

	i.agg.Accumulate(reading.WellID, models.DayOf(ts), reading)

	log.Debugf("accepted reading %d for well %d (quality %.1f)", reading.ID, reading.WellID, reading.QualityScore)
	return reading, nil
}

// score starts at 100 and deducts fixed penalties per missing expected
// field, per out-of-plausible-range value, and per timestamp jitter beyond
// the sampling cadence. Clamped to [0, 100].
func (i *Ingestor) score(raw *models.RawReading, ts time.Time) float64 {
	score := 100.0

	for _, missing := range []bool{
		raw.OilRate == nil,
		raw.GasRate == nil,
		raw.WaterRate == nil,
		raw.WellheadPressure == nil,
	} {
		if missing {
			score -= i.cfg.MissingFieldPenalty
		}
	}

	for _, implausible := range []bool{
		raw.WellheadPressure != nil && *raw.WellheadPressure > maxPlausiblePressurePSI,
		raw.TubingPressure != nil && *raw.TubingPressure > maxPlausiblePressurePSI,
		raw.CasingPressure != nil && *raw.CasingPressure > maxPlausiblePressurePSI,
		raw.WellheadTemperature != nil && (*raw.WellheadTemperature < minPlausibleTempF || *raw.WellheadTemperature > maxPlausibleTempF),
		raw.FlowlineTemperature != nil && (*raw.FlowlineTemperature < minPlausibleTempF || *raw.FlowlineTemperature > maxPlausibleTempF),
	} {
		if implausible {
			score -= i.cfg.RangePenalty
		}
	}

	i.mu.Lock()
	prev, seen := i.lastSeen[raw.WellID]
	if !seen || ts.After(prev) {
		i.lastSeen[raw.WellID] = ts
	}
	i.mu.Unlock()

	if seen {
		gap := ts.Sub(prev)
		if gap < 0 {
			gap = -gap
		}
		// jitter: gap drifting past 1.5x the expected cadence
		if gap > i.cfg.SampleInterval+i.cfg.SampleInterval/2 {
			score -= i.cfg.JitterPenalty
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// firstNegative returns a rejection reason for the first physically
// impossible negative value, or "" when all present values are valid.
func firstNegative(raw *models.RawReading) string {
	checks := []struct {
		name  string
		value *float64
	}{
		{"oil_rate", raw.OilRate},
		{"gas_rate", raw.GasRate},
		{"water_rate", raw.WaterRate},
		{"wellhead_pressure", raw.WellheadPressure},
		{"tubing_pressure", raw.TubingPressure},
		{"casing_pressure", raw.CasingPressure},
		{"choke_size", raw.ChokeSize},
	}
	for _, c := range checks {
		if c.value != nil && *c.value < 0 {
			return fmt.Sprintf("%s must be non-negative, got %g", c.name, *c.value)
		}
	}
	return ""
}
