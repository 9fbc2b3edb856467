// Package anomaly scores accepted readings against each well's recent
// history and records confirmed deviations. The scoring method is a plug
// point; the detector owns windowing, deduplication and alert banding.
package anomaly

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wellpipe/alerts"
	"wellpipe/config"
	"wellpipe/metrics"
	"wellpipe/models"

	"github.com/apex/log"
)

// monitoredParameters are the reading fields the detector watches
var monitoredParameters = []string{"oil_rate", "gas_rate", "water_rate", "wellhead_pressure"}

// Store is the anomaly persistence boundary
type Store interface {
	InsertAnomalyIfAbsent(ctx context.Context, a *models.Anomaly) (bool, error)
	MarkReadingAnomaly(ctx context.Context, readingID int64) error
}

// AggregateObserver is notified when a reading is flagged so the daily
// rollup stays in step.
type AggregateObserver interface {
	NoteAnomaly(wellID int, day string)
}

// paramKey identifies one well's history window for one parameter
type paramKey struct {
	wellID    int
	parameter string
}

// window is a bounded FIFO of recent values
type window struct {
	values []float64
	size   int
}

func (w *window) push(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[len(w.values)-w.size:]
	}
}

// queueSize bounds each well's scoring backlog; Submit blocks once a well
// falls this far behind.
const queueSize = 256

// processTimeout caps the scoring work for one queued reading.
const processTimeout = 30 * time.Second

// Detector consumes accepted readings and emits anomaly records plus
// severity-banded alerts.
type Detector struct {
	cfg        *config.Config
	scorer     Scorer
	store      Store
	dispatcher *alerts.Dispatcher
	agg        AggregateObserver

	mu        sync.Mutex
	histories map[paramKey]*window
	wellLocks map[int]*sync.Mutex

	queueMu sync.Mutex
	queues  map[int]chan models.TelemetryReading
	closed  bool
	wg      sync.WaitGroup
}

// NewDetector creates a detector around the given scorer
func NewDetector(cfg *config.Config, scorer Scorer, store Store, dispatcher *alerts.Dispatcher, agg AggregateObserver) *Detector {
	return &Detector{
		cfg:        cfg,
		scorer:     scorer,
		store:      store,
		dispatcher: dispatcher,
		agg:        agg,
		histories:  make(map[paramKey]*window),
		wellLocks:  make(map[int]*sync.Mutex),
		queues:     make(map[int]chan models.TelemetryReading),
	}
}

// NewScorer builds the configured scorer implementation
func NewScorer(cfg *config.Config) Scorer {
	switch cfg.AnomalyMethod {
	case "threshold":
		return &ThresholdScorer{Bands: DefaultBands()}
	default:
		return &SPCScorer{SigmaMultiplier: cfg.SPCSigmaMultiplier}
	}
}

// DefaultBands are conservative static acceptance bands for the threshold
// scorer.
func DefaultBands() map[string]Band {
	return map[string]Band{
		"oil_rate":          {Low: 0, High: 10000},
		"gas_rate":          {Low: 0, High: 50000},
		"water_rate":        {Low: 0, High: 20000},
		"wellhead_pressure": {Low: 0, High: 10000},
	}
}

// wellLock returns the mutex serializing detection for one well, so
// concurrent Process calls for the same well never interleave. Ordering
// across calls is the queue's job, see Submit.
func (d *Detector) wellLock(wellID int) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.wellLocks[wellID]
	if !ok {
		l = &sync.Mutex{}
		d.wellLocks[wellID] = l
	}
	return l
}

func (d *Detector) history(wellID int, parameter string) *window {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := paramKey{wellID: wellID, parameter: parameter}
	w, ok := d.histories[k]
	if !ok {
		w = &window{size: d.cfg.AnomalyWindowSize}
		d.histories[k] = w
	}
	return w
}

// Submit hands an accepted reading to its well's scoring worker, blocking
// only when that well's queue is full. Readings for one well are scored
// strictly in submission order because the history window feeds the
// expected-value baseline; different wells drain in parallel. After
// Shutdown, Submit is a no-op.
func (d *Detector) Submit(r *models.TelemetryReading) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if d.closed {
		return
	}
	q, ok := d.queues[r.WellID]
	if !ok {
		q = make(chan models.TelemetryReading, queueSize)
		d.queues[r.WellID] = q
		d.wg.Add(1)
		go d.drain(q)
	}
	q <- *r
}

// drain is the single consumer for one well's queue, so queue order is
// scoring order.
func (d *Detector) drain(q chan models.TelemetryReading) {
	defer d.wg.Done()
	for r := range q {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		if err := d.Process(ctx, &r); err != nil {
			log.Errorf("anomaly detection failed for reading %d: %v", r.ID, err)
		}
		cancel()
	}
}

// Shutdown stops accepting readings and waits until the queued backlog is
// fully scored.
func (d *Detector) Shutdown() {
	d.queueMu.Lock()
	if d.closed {
		d.queueMu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.queueMu.Unlock()
	d.wg.Wait()
}

// Process scores every monitored parameter of one accepted reading.
// Detection keys on (well_id, telemetry_id, parameter), so reprocessing the
// same reading never duplicates anomalies or alerts.
func (d *Detector) Process(ctx context.Context, r *models.TelemetryReading) error {
	lock := d.wellLock(r.WellID)
	lock.Lock()
	defer lock.Unlock()

	flagged := false
	for _, parameter := range monitoredParameters {
		value, ok := parameterValue(r, parameter)
		if !ok {
			continue
		}

		w := d.history(r.WellID, parameter)
		expected, score := d.scorer.Score(r.WellID, parameter, value, w.values)
		w.push(value)

		if score < d.cfg.AnomalyThreshold {
			continue
		}

		created, err := d.record(ctx, r, parameter, value, expected, score)
		if err != nil {
			return err
		}
		if created {
			flagged = true
		}
	}

	if flagged && !r.IsAnomaly {
		if err := d.store.MarkReadingAnomaly(ctx, r.ID); err != nil {
			return err
		}
		r.IsAnomaly = true
		if d.agg != nil {
			d.agg.NoteAnomaly(r.WellID, models.DayOf(r.Timestamp))
		}
	}
	return nil
}

// record persists the anomaly and raises the banded alert. Returns whether
// a new anomaly row was actually created.
func (d *Detector) record(ctx context.Context, r *models.TelemetryReading, parameter string, value, expected, score float64) (bool, error) {
	deviation := 0.0
	if expected != 0 {
		deviation = (value - expected) / expected * 100
	}

	a := &models.Anomaly{
		WellID:          r.WellID,
		TelemetryID:     &r.ID,
		Parameter:       parameter,
		Value:           value,
		ExpectedValue:   expected,
		Deviation:       deviation,
		AnomalyScore:    score,
		DetectionMethod: d.scorer.Method(),
		DetectedAt:      r.Timestamp,
	}

	created, err := d.store.InsertAnomalyIfAbsent(ctx, a)
	if err != nil {
		return false, fmt.Errorf("failed to record anomaly: %w", err)
	}
	if !created {
		log.Debugf("anomaly for well %d reading %d %s already recorded", r.WellID, r.ID, parameter)
		return false, nil
	}

	metrics.AnomaliesDetectedTotal.WithLabelValues(parameter).Inc()
	log.Infof("anomaly on well %d %s: value %.2f expected %.2f (score %.2f)",
		r.WellID, parameter, value, expected, score)

	severity := d.band(score)
	if severity == "" {
		return true, nil
	}

	wellID := r.WellID
	threshold := d.cfg.AnomalyThreshold
	_, err = d.dispatcher.Raise(ctx, alerts.Draft{
		Type:     models.AlertAnomaly,
		Severity: severity,
		Title:    fmt.Sprintf("Anomalous %s on well %d", parameter, r.WellID),
		Description: fmt.Sprintf("%s reading %.2f deviates %.1f%% from expected %.2f (method %s)",
			parameter, value, deviation, expected, d.scorer.Method()),
		WellID:     &wellID,
		Value:      &value,
		Threshold:  &threshold,
		MetricName: parameter,
	})
	if err != nil {
		return true, fmt.Errorf("failed to raise anomaly alert: %w", err)
	}
	return true, nil
}

// band maps an anomaly score to an alert severity. Below the warn
// threshold no alert goes out at all.
func (d *Detector) band(score float64) models.AlertSeverity {
	switch {
	case score >= d.cfg.AnomalyCritThreshold:
		return models.SeverityCritical
	case score >= d.cfg.AnomalyWarnThreshold:
		return models.SeverityWarning
	default:
		return ""
	}
}

func parameterValue(r *models.TelemetryReading, parameter string) (float64, bool) {
	var p *float64
	switch parameter {
	case "oil_rate":
		p = r.OilRate
	case "gas_rate":
		p = r.GasRate
	case "water_rate":
		p = r.WaterRate
	case "wellhead_pressure":
		p = r.WellheadPressure
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}
