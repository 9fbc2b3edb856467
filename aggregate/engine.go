// Package aggregate maintains per-well, per-day rolling aggregates of
// accepted telemetry readings. Aggregation is purely additive (running sums
// and counts), so incremental accumulation and a single batch pass over the
// same readings produce identical results; means are computed at read time.
package aggregate

import (
	"sync"

	"wellpipe/models"
)

type wellDay struct {
	wellID int
	day    string
}

// meanField tracks a sum and how many readings carried the field, so means
// ignore absent sensors the same way SQL AVG ignores NULLs.
type meanField struct {
	sum float64
	n   int
}

func (f *meanField) add(v *float64) {
	if v == nil {
		return
	}
	f.sum += *v
	f.n++
}

func (f *meanField) mean() float64 {
	if f.n == 0 {
		return 0
	}
	return f.sum / float64(f.n)
}

// accumulator holds the running state for one well/day. Each accumulator
// carries its own lock so concurrent updates to different wells never
// contend, while updates to the same well/day serialize.
type accumulator struct {
	mu sync.Mutex

	count        int
	oil          meanField
	gas          meanField
	water        meanField
	wellheadPres meanField
	qualitySum   float64
	anomalyCount int
}

// Engine is the quality and aggregation engine
type Engine struct {
	expectedPerDay int

	mu   sync.RWMutex
	accs map[wellDay]*accumulator
}

// NewEngine creates an engine expecting the given number of samples per
// well per day (derived from the configured sampling interval).
func NewEngine(expectedPerDay int) *Engine {
	return &Engine{
		expectedPerDay: expectedPerDay,
		accs:           make(map[wellDay]*accumulator),
	}
}

func (e *Engine) acc(wellID int, day string) *accumulator {
	k := wellDay{wellID: wellID, day: day}

	e.mu.RLock()
	a, ok := e.accs[k]
	e.mu.RUnlock()
	if ok {
		return a
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok = e.accs[k]; ok {
		return a
	}
	a = &accumulator{}
	e.accs[k] = a
	return a
}

// Accumulate folds one accepted reading into the in-progress aggregate for
// its well/day.
func (e *Engine) Accumulate(wellID int, day string, r *models.TelemetryReading) {
	a := e.acc(wellID, day)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.oil.add(r.OilRate)
	a.gas.add(r.GasRate)
	a.water.add(r.WaterRate)
	a.wellheadPres.add(r.WellheadPressure)
	a.qualitySum += r.QualityScore
	if r.IsAnomaly {
		a.anomalyCount++
	}
}

// NoteAnomaly records a post-ingestion anomaly flag for a well/day, keeping
// the aggregate's anomaly count in step with the detector.
func (e *Engine) NoteAnomaly(wellID int, day string) {
	a := e.acc(wellID, day)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anomalyCount++
}

// Finalize returns the aggregate for a well/day. Idempotent: calling it
// twice with no new readings in between yields the same result bit for bit.
func (e *Engine) Finalize(wellID int, day string) models.DailyAggregate {
	a := e.acc(wellID, day)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalize(wellID, day, e.expectedPerDay)
}

func (a *accumulator) finalize(wellID int, day string, expected int) models.DailyAggregate {
	agg := models.DailyAggregate{
		WellID:        wellID,
		Day:           day,
		ExpectedCount: expected,
		ActualCount:   a.count,
		OilSum:        a.oil.sum,
		GasSum:        a.gas.sum,
		WaterSum:      a.water.sum,
		AnomalyCount:  a.anomalyCount,
	}
	if a.count == 0 {
		agg.InsufficientData = true
		return agg
	}
	agg.OilAvg = a.oil.mean()
	agg.GasAvg = a.gas.mean()
	agg.WaterAvg = a.water.mean()
	agg.AvgWellheadPressure = a.wellheadPres.mean()
	agg.QualityScore = a.qualitySum / float64(a.count)
	return agg
}

// BatchAggregate computes the aggregate for a well/day in a single pass
// over the given readings. Shares the accumulator code with the
// incremental path, so the two are equal by construction.
func BatchAggregate(wellID int, day string, expectedPerDay int, readings []models.TelemetryReading) models.DailyAggregate {
	a := &accumulator{}
	for i := range readings {
		r := &readings[i]
		a.count++
		a.oil.add(r.OilRate)
		a.gas.add(r.GasRate)
		a.water.add(r.WaterRate)
		a.wellheadPres.add(r.WellheadPressure)
		a.qualitySum += r.QualityScore
		if r.IsAnomaly {
			a.anomalyCount++
		}
	}
	return a.finalize(wellID, day, expectedPerDay)
}

// PurgeDay drops in-memory accumulators for a day once its report has been
// uploaded, bounding memory over long uptimes.
func (e *Engine) PurgeDay(day string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.accs {
		if k.day == day {
			delete(e.accs, k)
		}
	}
}
