// Package report owns the daily compliance report lifecycle: the status
// state machine, aggregate generation, validation gates, and upload with
// bounded retry. At most one report per calendar date ever reaches READY or
// UPLOADED.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"wellpipe/aggregate"
	"wellpipe/alerts"
	"wellpipe/config"
	"wellpipe/delivery"
	"wellpipe/metrics"
	"wellpipe/models"

	"github.com/apex/log"
)

// ErrNotReady is returned when an upload is requested for a report that is
// not in READY (or FAILED, for retry) status.
var ErrNotReady = errors.New("report is not ready for upload")

// Store is the persistence boundary for the lifecycle manager
type Store interface {
	CreateReportPending(ctx context.Context, reportDate, filename, generatedBy string) (*models.Report, bool, error)
	GetReportByDate(ctx context.Context, reportDate string) (*models.Report, error)
	GetReportByID(ctx context.Context, id int) (*models.Report, error)
	TransitionReportStatus(ctx context.Context, id int, from, to models.ReportStatus) (bool, error)
	UpdateGenerationResults(ctx context.Context, r *models.Report) error
	SaveReportArtifact(ctx context.Context, id int, body string) error
	GetReportArtifact(ctx context.Context, id int) (string, error)
	IncrementUploadAttempts(ctx context.Context, id int) error
	RecordUploadSuccess(ctx context.Context, id int, response string) (bool, error)
	RecordUploadFailure(ctx context.Context, id int, lastError string) (bool, error)
	FindStaleUploading(ctx context.Context, cutoff time.Time) ([]models.Report, error)

	ListActiveWellIDs(ctx context.Context) ([]int, error)
	GetReadingsForWellDay(ctx context.Context, wellID int, day string) ([]models.TelemetryReading, error)
}

// DayPurger releases in-memory aggregation state once a day is uploaded
type DayPurger interface {
	PurgeDay(day string)
}

// Manager drives reports through their lifecycle
type Manager struct {
	cfg        *config.Config
	store      Store
	deliverer  delivery.Deliverer
	dispatcher *alerts.Dispatcher
	purger     DayPurger

	mu        sync.Mutex
	dateLocks map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a report lifecycle manager
func NewManager(cfg *config.Config, store Store, deliverer delivery.Deliverer, dispatcher *alerts.Dispatcher, purger DayPurger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		store:      store,
		deliverer:  deliverer,
		dispatcher: dispatcher,
		purger:     purger,
		dateLocks:  make(map[string]*sync.Mutex),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Shutdown cancels in-flight uploads and waits for them to wind down. A
// report interrupted mid-upload stays in UPLOADING and is recovered by the
// stale-upload watchdog on restart.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// dateLock returns the mutex guaranteeing at-most-one in-flight generation
// per report date within this process; the DB compare-and-swap backs it up
// across processes.
func (m *Manager) dateLock(date string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.dateLocks[date]
	if !ok {
		l = &sync.Mutex{}
		m.dateLocks[date] = l
	}
	return l
}

// Filename builds the regulator artifact name for a report date
func Filename(reportDate string) string {
	t, err := time.Parse("2006-01-02", reportDate)
	if err != nil {
		return "ANH_REPORT_" + reportDate + ".json"
	}
	return "ANH_REPORT_" + t.Format("20060102") + ".json"
}

// RequestGeneration ensures a report row exists for the date and returns
// it. Existing reports in READY, UPLOADED or any in-flight status are
// returned unchanged; a FAILED report is reset to PENDING for a fresh
// attempt. A second row for the same date is never created.
func (m *Manager) RequestGeneration(ctx context.Context, reportDate, requestedBy string) (*models.Report, error) {
	lock := m.dateLock(reportDate)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.GetReportByDate(ctx, reportDate)
	if err != nil && err != models.ErrNotFound {
		return nil, err
	}

	if existing == nil {
		created, fresh, err := m.store.CreateReportPending(ctx, reportDate, Filename(reportDate), requestedBy)
		if err != nil {
			return nil, err
		}
		if fresh {
			log.Infof("created report %d for %s", created.ID, reportDate)
			return created, nil
		}
		// Another writer created the row between the lookup and the
		// insert; fall through to the status rules below.
		existing = created
	}

	switch {
	case existing.Status == models.ReportFailed:
		ok, err := m.store.TransitionReportStatus(ctx, existing.ID, models.ReportFailed, models.ReportPending)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Infof("report %d for %s reset from failed to pending", existing.ID, reportDate)
		}
		return m.store.GetReportByID(ctx, existing.ID)
	default:
		// READY, UPLOADED or in-flight: nothing to do, hand back as-is.
		return existing, nil
	}
}

// Generate runs aggregation and validation for a PENDING report. Losing
// the PENDING -> GENERATING compare-and-swap means another worker owns the
// run; the current state is returned without error.
func (m *Manager) Generate(ctx context.Context, reportID int) (*models.Report, error) {
	rep, err := m.store.GetReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.TransitionReportStatus(ctx, rep.ID, models.ReportPending, models.ReportGenerating)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Infof("report %d generation already owned elsewhere (status %s)", rep.ID, rep.Status)
		return m.store.GetReportByID(ctx, rep.ID)
	}

	summary, wellAggs := m.aggregateDay(ctx, rep)

	ok, err = m.store.TransitionReportStatus(ctx, rep.ID, models.ReportGenerating, models.ReportValidating)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("report %d left generating status unexpectedly", rep.ID)
	}

	m.validate(summary)

	artifact, err := buildArtifact(summary, wellAggs)
	if err != nil {
		summary.ValidationErrors = append(summary.ValidationErrors,
			fmt.Sprintf("artifact serialization failed: %v", err))
	} else {
		summary.FileSize = int64(len(artifact))
	}

	if err := m.store.UpdateGenerationResults(ctx, summary); err != nil {
		return nil, err
	}
	if artifact != nil {
		if err := m.store.SaveReportArtifact(ctx, rep.ID, string(artifact)); err != nil {
			return nil, err
		}
	}

	target := models.ReportReady
	if len(summary.ValidationErrors) > 0 {
		target = models.ReportFailed
	}
	if _, err := m.store.TransitionReportStatus(ctx, rep.ID, models.ReportValidating, target); err != nil {
		return nil, err
	}

	if target == models.ReportFailed {
		metrics.ReportGenerationsTotal.WithLabelValues("failed").Inc()
		log.Warnf("report %d for %s failed validation: %v", rep.ID, rep.ReportDate, summary.ValidationErrors)
		m.raiseReportAlert(ctx, summary, models.SeverityWarning,
			fmt.Sprintf("Daily report %s failed validation", rep.ReportDate),
			fmt.Sprintf("validation errors: %v", summary.ValidationErrors))
	} else {
		metrics.ReportGenerationsTotal.WithLabelValues("ready").Inc()
		log.Infof("report %d for %s ready: %d wells, %d readings, quality %.2f, missing %d",
			rep.ID, rep.ReportDate, summary.TotalWells, summary.TotalReadings,
			summary.DataQualityScore, summary.MissingSamples)
	}

	return m.store.GetReportByID(ctx, rep.ID)
}

// aggregateDay folds every active well's day into report-level totals.
// A failing well is recorded as a validation error and skipped; generation
// continues for the remaining wells.
func (m *Manager) aggregateDay(ctx context.Context, rep *models.Report) (*models.Report, []models.DailyAggregate) {
	summary := *rep
	summary.ValidationErrors = nil
	summary.ValidationWarnings = nil
	expected := m.cfg.ExpectedSamplesPerDay()

	wellIDs, err := m.store.ListActiveWellIDs(ctx)
	if err != nil {
		summary.ValidationErrors = append(summary.ValidationErrors,
			fmt.Sprintf("failed to list active wells: %v", err))
		return &summary, nil
	}

	var wellAggs []models.DailyAggregate
	var weightedQuality, weightSum float64
	for _, wellID := range wellIDs {
		readings, err := m.store.GetReadingsForWellDay(ctx, wellID, rep.ReportDate)
		if err != nil {
			summary.ValidationErrors = append(summary.ValidationErrors,
				fmt.Sprintf("well %d: aggregation failed: %v", wellID, err))
			continue
		}

		agg := aggregate.BatchAggregate(wellID, rep.ReportDate, expected, readings)
		if agg.InsufficientData {
			summary.ValidationWarnings = append(summary.ValidationWarnings,
				fmt.Sprintf("well %d: no readings for %s", wellID, rep.ReportDate))
		}

		summary.TotalWells++
		summary.TotalReadings += agg.ActualCount
		summary.OilTotal += agg.OilSum
		summary.GasTotal += agg.GasSum
		summary.WaterTotal += agg.WaterSum
		summary.MissingSamples += agg.MissingSamples()
		weightedQuality += agg.QualityScore * float64(agg.ActualCount)
		weightSum += float64(agg.ActualCount)
		wellAggs = append(wellAggs, agg)
	}

	if weightSum > 0 {
		summary.DataQualityScore = weightedQuality / weightSum
	}
	return &summary, wellAggs
}

// validate applies the two independent report gates: data quality and
// completeness. Either failing appends a validation error.
func (m *Manager) validate(summary *models.Report) {
	if summary.DataQualityScore < m.cfg.MinQualityScore {
		summary.ValidationErrors = append(summary.ValidationErrors,
			fmt.Sprintf("data quality score %.2f below minimum %.2f",
				summary.DataQualityScore, m.cfg.MinQualityScore))
	}
	if summary.MissingSamples > m.cfg.MaxMissingSamples {
		summary.ValidationErrors = append(summary.ValidationErrors,
			fmt.Sprintf("missing samples %d exceeds maximum %d",
				summary.MissingSamples, m.cfg.MaxMissingSamples))
	}
}

// RequestUpload moves a READY report (or a FAILED one, for retry) into
// UPLOADING and starts the delivery in the background. Requests for any
// other status are a contract violation returning ErrNotReady. Losing the
// compare-and-swap means an upload is already running; the report is
// returned unchanged.
func (m *Manager) RequestUpload(ctx context.Context, reportID int) (*models.Report, error) {
	rep, err := m.store.GetReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	var from models.ReportStatus
	switch rep.Status {
	case models.ReportReady:
		from = models.ReportReady
	case models.ReportFailed:
		if rep.UploadAttempts == 0 {
			// Never validated clean; requires regeneration, not upload.
			return nil, fmt.Errorf("report %d is %s: %w", reportID, rep.Status, ErrNotReady)
		}
		from = models.ReportFailed
	default:
		return nil, fmt.Errorf("report %d is %s: %w", reportID, rep.Status, ErrNotReady)
	}

	ok, err := m.store.TransitionReportStatus(ctx, rep.ID, from, models.ReportUploading)
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.store.GetReportByID(ctx, rep.ID)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runUpload(m.ctx, rep.ID)
	}()

	return m.store.GetReportByID(ctx, rep.ID)
}

// runUpload delivers the artifact with exponential backoff up to the
// configured attempt limit. Exhaustion lands in FAILED with the last error
// preserved; cancellation leaves UPLOADING for the watchdog to recover.
func (m *Manager) runUpload(ctx context.Context, reportID int) {
	rep, err := m.store.GetReportByID(ctx, reportID)
	if err != nil {
		log.Errorf("upload: failed to load report %d: %v", reportID, err)
		return
	}
	body, err := m.store.GetReportArtifact(ctx, reportID)
	if err != nil || body == "" {
		m.failUpload(ctx, rep, fmt.Sprintf("artifact unavailable: %v", err))
		return
	}
	artifact := &delivery.Artifact{Filename: rep.Filename, Body: []byte(body)}

	backoff := m.cfg.UploadInitialBackoff
	var lastErr error
	for attempt := 1; attempt <= m.cfg.UploadMaxAttempts; attempt++ {
		if err := m.store.IncrementUploadAttempts(ctx, reportID); err != nil {
			log.Warnf("upload: failed to count attempt for report %d: %v", reportID, err)
		}

		start := time.Now()
		receipt, err := m.deliverer.Deliver(ctx, artifact)
		metrics.UploadDurationSeconds.Observe(time.Since(start).Seconds())

		if err == nil {
			payload := ""
			if receipt != nil {
				payload = receipt.Payload
			}
			ok, err := m.store.RecordUploadSuccess(ctx, reportID, payload)
			if err != nil {
				log.Errorf("upload: failed to record success for report %d: %v", reportID, err)
				return
			}
			if !ok {
				// The watchdog already moved the report out of UPLOADING;
				// the day's aggregates stay in place for the retry.
				log.Warnf("report %d left uploading before success was recorded", reportID)
				return
			}
			metrics.ReportUploadsTotal.WithLabelValues("uploaded").Inc()
			log.Infof("report %d (%s) uploaded after %d attempt(s)", reportID, rep.ReportDate, attempt)
			if m.purger != nil {
				m.purger.PurgeDay(rep.ReportDate)
			}
			return
		}

		lastErr = err
		metrics.ReportUploadsTotal.WithLabelValues("attempt_failed").Inc()
		log.Warnf("report %d upload attempt %d/%d failed: %v",
			reportID, attempt, m.cfg.UploadMaxAttempts, err)

		if attempt == m.cfg.UploadMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			// Shutdown mid-retry: leave UPLOADING, the watchdog recovers it.
			log.Warnf("report %d upload interrupted by shutdown", reportID)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.cfg.UploadMaxBackoff {
			backoff = m.cfg.UploadMaxBackoff
		}
	}

	m.failUpload(ctx, rep, fmt.Sprintf("upload failed after %d attempts: %v", m.cfg.UploadMaxAttempts, lastErr))
}

func (m *Manager) failUpload(ctx context.Context, rep *models.Report, reason string) {
	ok, err := m.store.RecordUploadFailure(ctx, rep.ID, reason)
	if err != nil {
		log.Errorf("upload: failed to record failure for report %d: %v", rep.ID, err)
		return
	}
	if !ok {
		log.Warnf("report %d no longer uploading; failure not recorded", rep.ID)
		return
	}
	metrics.ReportUploadsTotal.WithLabelValues("failed").Inc()
	log.Errorf("report %d (%s): %s", rep.ID, rep.ReportDate, reason)
	m.raiseReportAlert(ctx, rep, models.SeverityCritical,
		fmt.Sprintf("Daily report %s upload failed", rep.ReportDate), reason)
}

// RecoverStaleUploads moves reports stuck in UPLOADING past the stale
// timeout back to FAILED so they can be retried. Run periodically by the
// scheduler and once at startup.
func (m *Manager) RecoverStaleUploads(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.cfg.UploadStaleTimeout)
	stale, err := m.store.FindStaleUploading(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range stale {
		rep := &stale[i]
		ok, err := m.store.RecordUploadFailure(ctx, rep.ID,
			fmt.Sprintf("upload stalled past %v; recovered by watchdog", m.cfg.UploadStaleTimeout))
		if err != nil {
			log.Errorf("watchdog: failed to recover report %d: %v", rep.ID, err)
			continue
		}
		if ok {
			log.Warnf("watchdog: report %d (%s) recovered from stale uploading", rep.ID, rep.ReportDate)
			m.raiseReportAlert(ctx, rep, models.SeverityWarning,
				fmt.Sprintf("Daily report %s upload stalled", rep.ReportDate),
				"upload made no progress and was recovered for retry")
		}
	}
	return nil
}

func (m *Manager) raiseReportAlert(ctx context.Context, rep *models.Report, severity models.AlertSeverity, title, description string) {
	if m.dispatcher == nil {
		return
	}
	quality := rep.DataQualityScore
	if _, err := m.dispatcher.Raise(ctx, alerts.Draft{
		Type:        models.AlertCompliance,
		Severity:    severity,
		Title:       title,
		Description: description,
		Value:       &quality,
		MetricName:  "report_" + rep.ReportDate,
	}); err != nil {
		log.Warnf("failed to raise report alert for %s: %v", rep.ReportDate, err)
	}
}

// reportArtifact is the serialized shape delivered to the regulator. The
// regulator treats it as opaque; the fields mirror the report summary plus
// the per-well rollups.
type reportArtifact struct {
	ReportDate       string                  `json:"report_date"`
	GeneratedAt      time.Time               `json:"generated_at"`
	TotalWells       int                     `json:"total_wells"`
	TotalReadings    int                     `json:"total_readings"`
	OilTotal         float64                 `json:"oil_production_total"`
	GasTotal         float64                 `json:"gas_production_total"`
	WaterTotal       float64                 `json:"water_production_total"`
	DataQualityScore float64                 `json:"data_quality_score"`
	MissingSamples   int                     `json:"missing_samples"`
	Wells            []models.DailyAggregate `json:"wells"`
}

func buildArtifact(summary *models.Report, wellAggs []models.DailyAggregate) ([]byte, error) {
	return json.Marshal(reportArtifact{
		ReportDate:       summary.ReportDate,
		GeneratedAt:      time.Now().UTC(),
		TotalWells:       summary.TotalWells,
		TotalReadings:    summary.TotalReadings,
		OilTotal:         summary.OilTotal,
		GasTotal:         summary.GasTotal,
		WaterTotal:       summary.WaterTotal,
		DataQualityScore: summary.DataQualityScore,
		MissingSamples:   summary.MissingSamples,
		Wells:            wellAggs,
	})
}
