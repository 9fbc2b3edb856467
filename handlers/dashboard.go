package handlers

import (
	"net/http"
	"time"

	"wellpipe/database"
	"wellpipe/models"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// trend is a today-vs-yesterday percentage change for one production stream
type trend struct {
	Today     float64  `json:"today"`
	Yesterday float64  `json:"yesterday"`
	ChangePct *float64 `json:"change_pct"` // nil when yesterday had no production
}

type dashboardOverview struct {
	Timestamp        time.Time                  `json:"timestamp"`
	ActiveWells      int                        `json:"active_wells"`
	TodayReadings    int                        `json:"today_readings"`
	Oil              trend                      `json:"oil"`
	Gas              trend                      `json:"gas"`
	Water            trend                      `json:"water"`
	QualityAvg       float64                    `json:"data_quality_avg"`
	UnresolvedAlerts int                        `json:"unresolved_alerts"`
	LatestReport     *dashboardReport           `json:"latest_report"`
}

type dashboardReport struct {
	ID         int                 `json:"id"`
	ReportDate string              `json:"report_date"`
	Status     models.ReportStatus `json:"status"`
}

// DashboardOverview returns the operator landing page summary: today's
// production with trends against the prior day, open alert count and the
// latest report status.
func (h *Handlers) DashboardOverview(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()
	todayStart := now.Truncate(24 * time.Hour)
	yesterdayStart := todayStart.AddDate(0, 0, -1)

	today, err := h.db.GetProductionTotals(ctx, todayStart, now)
	if err != nil {
		log.Errorf("Failed to get today's production totals: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build dashboard"})
		return
	}
	yesterday, err := h.db.GetProductionTotals(ctx, yesterdayStart, todayStart)
	if err != nil {
		log.Errorf("Failed to get yesterday's production totals: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build dashboard"})
		return
	}

	wellIDs, err := h.db.ListActiveWellIDs(ctx)
	if err != nil {
		log.Errorf("Failed to list active wells: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build dashboard"})
		return
	}

	unresolved, err := h.db.CountUnresolvedAlerts(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		log.Errorf("Failed to count unresolved alerts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build dashboard"})
		return
	}

	overview := dashboardOverview{
		Timestamp:        now,
		ActiveWells:      len(wellIDs),
		TodayReadings:    today.TotalReadings,
		Oil:              makeTrend(today.OilTotal, yesterday.OilTotal),
		Gas:              makeTrend(today.GasTotal, yesterday.GasTotal),
		Water:            makeTrend(today.WaterTotal, yesterday.WaterTotal),
		QualityAvg:       today.QualityAvg,
		UnresolvedAlerts: unresolved,
	}

	if latest := h.latestReport(c, h.db); latest != nil {
		overview.LatestReport = &dashboardReport{
			ID:         latest.ID,
			ReportDate: latest.ReportDate,
			Status:     latest.Status,
		}
	}

	c.JSON(http.StatusOK, overview)
}

func (h *Handlers) latestReport(c *gin.Context, db *database.Database) *models.Report {
	reports, err := db.ListReports(c.Request.Context(), "", 1)
	if err != nil {
		log.Warnf("Failed to get latest report: %v", err)
		return nil
	}
	if len(reports) == 0 {
		return nil
	}
	return &reports[0]
}

// DashboardHistory returns the per-day production series for the trailing
// N days (default 7, capped at 90), oldest day first.
func (h *Handlers) DashboardHistory(c *gin.Context) {
	days := queryInt(c, "days", 7)
	if days > 90 {
		days = 90
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	series, err := h.db.GetProductionHistory(c.Request.Context(), start, end)
	if err != nil {
		log.Errorf("Failed to get production history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get production history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"start": start,
		"end":   end,
		"days":  days,
		"data":  series,
	})
}

// realtimeWindow is the lookback for the live ingestion snapshot
const realtimeWindow = 5 * time.Minute

// DashboardRealtime reports ingestion throughput over the last few minutes
func (h *Handlers) DashboardRealtime(c *gin.Context) {
	end := time.Now().UTC()
	start := end.Add(-realtimeWindow)

	m, err := h.db.GetRealtimeMetrics(c.Request.Context(), start, end)
	if err != nil {
		log.Errorf("Failed to get realtime metrics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get realtime metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window_start":        m.WindowStart,
		"window_end":          m.WindowEnd,
		"readings":            m.Readings,
		"reporting_wells":     m.ReportingWells,
		"readings_per_minute": float64(m.Readings) / realtimeWindow.Minutes(),
	})
}

func makeTrend(today, yesterday float64) trend {
	t := trend{Today: today, Yesterday: yesterday}
	if yesterday != 0 {
		pct := (today - yesterday) / yesterday * 100
		t.ChangePct = &pct
	}
	return t
}
