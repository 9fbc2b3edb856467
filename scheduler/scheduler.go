// Package scheduler drives the daily report cadence: generation at the
// configured time, automatic upload of READY reports at the upload time,
// and the stale-upload watchdog.
package scheduler

import (
	"context"
	"sync"
	"time"

	"wellpipe/config"
	"wellpipe/models"
	"wellpipe/report"

	"github.com/apex/log"
)

// ReportStore is the read side the scheduler needs to find work
type ReportStore interface {
	GetReportsByStatus(ctx context.Context, status models.ReportStatus) ([]models.Report, error)
}

// Scheduler runs the daily report clock
type Scheduler struct {
	cfg     *config.Config
	manager *report.Manager
	store   ReportStore

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu              sync.Mutex
	lastGeneration  string // report date last generated
	lastAutoUpload  string // report date last auto-uploaded
}

// NewScheduler creates the report scheduler
func NewScheduler(cfg *config.Config, manager *report.Manager, store ReportStore) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		manager:  manager,
		store:    store,
		stopChan: make(chan struct{}),
	}
}

// Start launches the clock and watchdog loops
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.clockLoop()
	go s.watchdogLoop()
	log.Infof("scheduler started: generation at %s, upload at %s, watchdog every %v",
		s.cfg.GenerationTime, s.cfg.UploadTime, s.cfg.WatchdogInterval)
}

// Stop signals the loops and waits for them to exit
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info("scheduler stopped")
}

// clockLoop fires generation and upload once per day at their configured
// times. The per-day markers make the check idempotent against the
// one-minute tick overlapping a window twice.
func (s *Scheduler) clockLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.tick(now.UTC())
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	// Reports cover the previous calendar day.
	reportDate := now.AddDate(0, 0, -1).Format("2006-01-02")
	hhmm := now.Format("15:04")

	if hhmm >= s.cfg.GenerationTime && s.markOnce(&s.lastGeneration, reportDate) {
		s.runGeneration(reportDate)
	}
	if hhmm >= s.cfg.UploadTime && s.markOnce(&s.lastAutoUpload, reportDate) {
		s.runAutoUpload()
	}
}

// markOnce flips the per-day marker; returns false when already done today
func (s *Scheduler) markOnce(marker *string, reportDate string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *marker == reportDate {
		return false
	}
	*marker = reportDate
	return true
}

func (s *Scheduler) runGeneration(reportDate string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	rep, err := s.manager.RequestGeneration(ctx, reportDate, "scheduler")
	if err != nil {
		log.Errorf("scheduled generation for %s failed to start: %v", reportDate, err)
		return
	}
	if rep.Status != models.ReportPending {
		log.Infof("scheduled generation for %s skipped: report %d is %s", reportDate, rep.ID, rep.Status)
		return
	}
	if _, err := s.manager.Generate(ctx, rep.ID); err != nil {
		log.Errorf("scheduled generation for %s failed: %v", reportDate, err)
	}
}

// runAutoUpload submits every READY report for upload, not just today's, so
// a report that became READY late still goes out.
func (s *Scheduler) runAutoUpload() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ready, err := s.store.GetReportsByStatus(ctx, models.ReportReady)
	if err != nil {
		log.Errorf("auto-upload: failed to list ready reports: %v", err)
		return
	}
	for i := range ready {
		rep := &ready[i]
		if _, err := s.manager.RequestUpload(ctx, rep.ID); err != nil {
			log.Errorf("auto-upload: report %d (%s): %v", rep.ID, rep.ReportDate, err)
			continue
		}
		log.Infof("auto-upload: report %d (%s) submitted", rep.ID, rep.ReportDate)
	}
}

func (s *Scheduler) watchdogLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := s.manager.RecoverStaleUploads(ctx); err != nil {
				log.Errorf("watchdog: %v", err)
			}
			cancel()
		}
	}
}
