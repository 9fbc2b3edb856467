// Package handlers exposes the HTTP surface: telemetry ingestion, report
// lifecycle commands, and the dashboard/read endpoints.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wellpipe/alerts"
	"wellpipe/anomaly"
	"wellpipe/config"
	"wellpipe/database"
	"wellpipe/ingest"
	"wellpipe/metrics"
	"wellpipe/models"
	"wellpipe/report"
	"wellpipe/version"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// BrokerStatus reports whether the alert event broker connection is alive
type BrokerStatus interface {
	IsConnected() bool
}

// Handlers holds the service collaborators for HTTP endpoints
type Handlers struct {
	cfg        *config.Config
	db         *database.Database
	ingestor   *ingest.Ingestor
	detector   *anomaly.Detector
	dispatcher *alerts.Dispatcher
	manager    *report.Manager
	broker     BrokerStatus
}

// NewHandlers creates the HTTP handler set. broker may be nil when the
// service runs without a message broker.
func NewHandlers(cfg *config.Config, db *database.Database, ingestor *ingest.Ingestor, detector *anomaly.Detector, dispatcher *alerts.Dispatcher, manager *report.Manager, broker BrokerStatus) *Handlers {
	return &Handlers{
		cfg:        cfg,
		db:         db,
		ingestor:   ingestor,
		detector:   detector,
		dispatcher: dispatcher,
		manager:    manager,
		broker:     broker,
	}
}

// HealthCheck handles the health check endpoint
func (h *Handlers) HealthCheck(c *gin.Context) {
	payload := gin.H{
		"status":    "healthy",
		"service":   "wellpipe",
		"timestamp": time.Now().UTC(),
	}
	if h.broker != nil {
		if h.broker.IsConnected() {
			payload["rabbitmq"] = "connected"
		} else {
			payload["rabbitmq"] = "disconnected"
		}
	}
	c.JSON(http.StatusOK, payload)
}

// Version reports build information
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

// IngestTelemetry accepts one raw telemetry sample
func (h *Handlers) IngestTelemetry(c *gin.Context) {
	var raw models.RawReading
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	reading, err := h.ingestOne(c.Request.Context(), &raw)
	if err != nil {
		var rejected *ingest.RejectedError
		if errors.As(err, &rejected) {
			c.JSON(rejectionStatus(rejected.Kind), gin.H{
				"error": rejected.Reason,
				"kind":  string(rejected.Kind),
			})
			return
		}
		log.Errorf("Failed to ingest reading for well %d: %v", raw.WellID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest reading"})
		return
	}

	c.JSON(http.StatusCreated, reading)
}

// batchResult summarizes one batch ingestion request
type batchResult struct {
	Accepted int                `json:"accepted"`
	Rejected int                `json:"rejected"`
	Errors   []batchResultError `json:"errors,omitempty"`
}

type batchResultError struct {
	Index  int    `json:"index"`
	WellID int    `json:"well_id"`
	Kind   string `json:"kind,omitempty"`
	Error  string `json:"error"`
}

// IngestTelemetryBatch accepts a batch of raw samples. Each sample is
// validated independently; one bad sample never sinks the batch.
func (h *Handlers) IngestTelemetryBatch(c *gin.Context) {
	var batch []models.RawReading
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(batch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}

	result := batchResult{}
	for idx := range batch {
		raw := &batch[idx]
		if _, err := h.ingestOne(c.Request.Context(), raw); err != nil {
			result.Rejected++
			e := batchResultError{Index: idx, WellID: raw.WellID, Error: err.Error()}
			var rejected *ingest.RejectedError
			if errors.As(err, &rejected) {
				e.Kind = string(rejected.Kind)
				e.Error = rejected.Reason
			}
			result.Errors = append(result.Errors, e)
			continue
		}
		result.Accepted++
	}

	c.JSON(http.StatusOK, result)
}

// ingestOne runs validation, persistence and downstream anomaly detection
// for a single sample, keeping the ingestion metrics in one place.
func (h *Handlers) ingestOne(ctx context.Context, raw *models.RawReading) (*models.TelemetryReading, error) {
	reading, err := h.ingestor.Ingest(ctx, raw)
	if err != nil {
		var rejected *ingest.RejectedError
		if errors.As(err, &rejected) {
			metrics.ReadingsRejectedTotal.WithLabelValues(string(rejected.Kind)).Inc()
		}
		return nil, err
	}

	source := raw.Source
	if source == "" {
		source = "unknown"
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(source).Inc()

	// Detection runs downstream of the ingestion response so slow scoring
	// never blocks the field adapter. The detector's per-well queues keep
	// same-well readings in submission order.
	if h.detector != nil {
		h.detector.Submit(reading)
	}
	return reading, nil
}

func rejectionStatus(kind ingest.RejectedKind) int {
	if kind == ingest.RejectedUnknownWell {
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

// GetTelemetryStats returns a well's statistical summary over a range.
// Defaults to the trailing 7 days.
func (h *Handlers) GetTelemetryStats(c *gin.Context) {
	wellID, err := strconv.Atoi(c.Param("well_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid well id"})
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -7)
	if s := c.Query("start"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			start = t
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date, expected YYYY-MM-DD"})
			return
		}
	}
	if s := c.Query("end"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			end = t.Add(24*time.Hour - time.Nanosecond)
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date, expected YYYY-MM-DD"})
			return
		}
	}

	stats, err := h.db.GetTelemetryStats(c.Request.Context(), wellID, start, end)
	if err != nil {
		log.Errorf("Failed to get telemetry stats for well %d: %v", wellID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get telemetry stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListWells returns the well registry
func (h *Handlers) ListWells(c *gin.Context) {
	wells, err := h.db.ListWells(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to list wells: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list wells"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wells": wells, "count": len(wells)})
}

type generateReportRequest struct {
	ReportDate string `json:"report_date" binding:"required"`
}

// GenerateReport requests report generation for a date. Generation runs in
// the background; the endpoint returns the report row immediately.
func (h *Handlers) GenerateReport(c *gin.Context) {
	var req generateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if _, err := time.Parse("2006-01-02", req.ReportDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report_date, expected YYYY-MM-DD"})
		return
	}

	rep, err := h.manager.RequestGeneration(c.Request.Context(), req.ReportDate, "api")
	if err != nil {
		log.Errorf("Failed to request generation for %s: %v", req.ReportDate, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request report generation"})
		return
	}

	if rep.Status == models.ReportPending {
		go func(id int) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if _, err := h.manager.Generate(ctx, id); err != nil {
				log.Errorf("background generation for report %d failed: %v", id, err)
			}
		}(rep.ID)
	}

	c.JSON(http.StatusAccepted, rep)
}

// UploadReport submits a READY (or retryable FAILED) report for upload
func (h *Handlers) UploadReport(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}

	rep, err := h.manager.RequestUpload(c.Request.Context(), id)
	if err == models.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if errors.Is(err, report.ErrNotReady) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Errorf("Failed to request upload for report %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request report upload"})
		return
	}
	c.JSON(http.StatusAccepted, rep)
}

// ListReports returns recent reports, optionally filtered by status
func (h *Handlers) ListReports(c *gin.Context) {
	limit := queryInt(c, "limit", 30)
	reports, err := h.db.ListReports(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		log.Errorf("Failed to list reports: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// GetReport returns one report by id
func (h *Handlers) GetReport(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}
	rep, err := h.db.GetReportByID(c.Request.Context(), id)
	if err == models.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		log.Errorf("Failed to get report %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get report"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ListAlerts returns alerts filtered by resolution state and severity
func (h *Handlers) ListAlerts(c *gin.Context) {
	resolved := c.Query("resolved") == "true"
	limit := queryInt(c, "limit", 50)
	list, err := h.db.ListAlerts(c.Request.Context(), resolved, c.Query("severity"), limit)
	if err != nil {
		log.Errorf("Failed to list alerts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

type resolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Notes      string `json:"notes"`
}

// ResolveAlert marks an alert resolved. Resolving twice is a no-op.
func (h *Handlers) ResolveAlert(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	var req resolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	alert, err := h.dispatcher.Resolve(c.Request.Context(), id, req.ResolvedBy, req.Notes)
	if err == models.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		log.Errorf("Failed to resolve alert %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve alert"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

// ListAnomalies returns recent unconfirmed anomalies
func (h *Handlers) ListAnomalies(c *gin.Context) {
	since := time.Now().UTC().AddDate(0, 0, -7)
	if s := c.Query("since"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since date, expected YYYY-MM-DD"})
			return
		}
		since = t
	}
	limit := queryInt(c, "limit", 100)

	list, err := h.db.ListUnconfirmedAnomalies(c.Request.Context(), since, limit)
	if err != nil {
		log.Errorf("Failed to list anomalies: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list anomalies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": list, "count": len(list)})
}

type confirmAnomalyRequest struct {
	FalsePositive bool   `json:"false_positive"`
	ConfirmedBy   string `json:"confirmed_by" binding:"required"`
	Notes         string `json:"notes"`
}

// ConfirmAnomaly records an operator's verdict on an anomaly
func (h *Handlers) ConfirmAnomaly(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anomaly id"})
		return
	}
	var req confirmAnomalyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	a, err := h.db.ConfirmAnomaly(c.Request.Context(), id, req.FalsePositive, req.ConfirmedBy, req.Notes)
	if err == models.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "anomaly not found"})
		return
	}
	if err != nil {
		log.Errorf("Failed to confirm anomaly %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm anomaly"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func queryInt(c *gin.Context, key string, def int) int {
	if s := c.Query(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}
