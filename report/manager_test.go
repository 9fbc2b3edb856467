package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wellpipe/config"
	"wellpipe/delivery"
	"wellpipe/models"
)

func managerConfig() *config.Config {
	return &config.Config{
		SampleInterval:       10 * time.Minute,
		MinQualityScore:      95,
		MaxMissingSamples:    10,
		UploadMaxAttempts:    3,
		UploadInitialBackoff: time.Millisecond,
		UploadMaxBackoff:     4 * time.Millisecond,
		UploadStaleTimeout:   30 * time.Minute,
	}
}

// memReportStore is an in-memory Store with the same compare-and-swap
// semantics as the SQL implementation.
type memReportStore struct {
	mu        sync.Mutex
	nextID    int
	byID      map[int]*models.Report
	byDate    map[string]int
	artifacts map[int]string

	wells    []int
	readings map[int][]models.TelemetryReading
	wellErrs map[int]error
}

func newMemReportStore() *memReportStore {
	return &memReportStore{
		nextID:    1,
		byID:      make(map[int]*models.Report),
		byDate:    make(map[string]int),
		artifacts: make(map[int]string),
		readings:  make(map[int][]models.TelemetryReading),
		wellErrs:  make(map[int]error),
	}
}

func (s *memReportStore) clone(r *models.Report) *models.Report {
	c := *r
	return &c
}

func (s *memReportStore) CreateReportPending(ctx context.Context, reportDate, filename, generatedBy string) (*models.Report, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byDate[reportDate]; ok {
		return s.clone(s.byID[id]), false, nil
	}
	r := &models.Report{
		ID:          s.nextID,
		ReportDate:  reportDate,
		Status:      models.ReportPending,
		Filename:    filename,
		GeneratedBy: generatedBy,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.nextID++
	s.byID[r.ID] = r
	s.byDate[reportDate] = r.ID
	return s.clone(r), true, nil
}

func (s *memReportStore) GetReportByDate(ctx context.Context, reportDate string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDate[reportDate]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.clone(s.byID[id]), nil
}

func (s *memReportStore) GetReportByID(ctx context.Context, id int) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.clone(r), nil
}

func (s *memReportStore) TransitionReportStatus(ctx context.Context, id int, from, to models.ReportStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("report %d: %s -> %s: %w", id, from, to, models.ErrIllegalTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memReportStore) UpdateGenerationResults(ctx context.Context, in *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.byID[in.ID]
	r.TotalWells = in.TotalWells
	r.TotalReadings = in.TotalReadings
	r.OilTotal = in.OilTotal
	r.GasTotal = in.GasTotal
	r.WaterTotal = in.WaterTotal
	r.DataQualityScore = in.DataQualityScore
	r.MissingSamples = in.MissingSamples
	r.ValidationErrors = in.ValidationErrors
	r.ValidationWarnings = in.ValidationWarnings
	r.Filename = in.Filename
	r.FileSize = in.FileSize
	now := time.Now().UTC()
	r.GeneratedAt = &now
	return nil
}

func (s *memReportStore) SaveReportArtifact(ctx context.Context, id int, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[id] = body
	return nil
}

func (s *memReportStore) GetReportArtifact(ctx context.Context, id int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.artifacts[id]
	if !ok {
		return "", models.ErrNotFound
	}
	return body, nil
}

func (s *memReportStore) IncrementUploadAttempts(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id].UploadAttempts++
	return nil
}

func (s *memReportStore) RecordUploadSuccess(ctx context.Context, id int, response string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.byID[id]
	if r.Status != models.ReportUploading {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = models.ReportUploaded
	r.UploadedAt = &now
	r.UploadResponse = response
	r.UpdatedAt = now
	return true, nil
}

func (s *memReportStore) RecordUploadFailure(ctx context.Context, id int, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.byID[id]
	if r.Status != models.ReportUploading {
		return false, nil
	}
	r.Status = models.ReportFailed
	r.UploadResponse = lastError
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memReportStore) FindStaleUploading(ctx context.Context, cutoff time.Time) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []models.Report
	for _, r := range s.byID {
		if r.Status == models.ReportUploading && r.UpdatedAt.Before(cutoff) {
			stale = append(stale, *r)
		}
	}
	return stale, nil
}

func (s *memReportStore) ListActiveWellIDs(ctx context.Context) ([]int, error) {
	return s.wells, nil
}

func (s *memReportStore) GetReadingsForWellDay(ctx context.Context, wellID int, day string) ([]models.TelemetryReading, error) {
	if err := s.wellErrs[wellID]; err != nil {
		return nil, err
	}
	return s.readings[wellID], nil
}

// setStatus force-sets a report status for test setup, bypassing the
// transition table.
func (s *memReportStore) setStatus(id int, status models.ReportStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id].Status = status
	s.byID[id].UpdatedAt = time.Now().UTC()
}

type fakeDeliverer struct {
	mu       sync.Mutex
	calls    int
	failures int // fail this many calls before succeeding
	bodies   [][]byte
}

func (d *fakeDeliverer) Deliver(ctx context.Context, artifact *delivery.Artifact) (*delivery.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.bodies = append(d.bodies, artifact.Body)
	if d.calls <= d.failures {
		return &delivery.Receipt{StatusCode: 503}, errors.New("regulator unavailable")
	}
	return &delivery.Receipt{StatusCode: 200, Payload: `{"ack":"ok"}`}, nil
}

func (d *fakeDeliverer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakePurger struct {
	mu   sync.Mutex
	days []string
}

func (p *fakePurger) PurgeDay(day string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.days = append(p.days, day)
}

func f(v float64) *float64 { return &v }

// goodDay fills a well with a full day of clean samples
func goodDay(store *memReportStore, wellID, count int) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		store.readings[wellID] = append(store.readings[wellID], models.TelemetryReading{
			ID:               int64(i + 1),
			WellID:           wellID,
			Timestamp:        base.Add(time.Duration(i) * 10 * time.Minute),
			OilRate:          f(100),
			GasRate:          f(800),
			WaterRate:        f(25),
			WellheadPressure: f(1500),
			QualityScore:     100,
		})
	}
	store.wells = append(store.wells, wellID)
}

func waitForStatus(t *testing.T, store *memReportStore, id int, want models.ReportStatus) *models.Report {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, err := store.GetReportByID(context.Background(), id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Status == want {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	r, _ := store.GetReportByID(context.Background(), id)
	t.Fatalf("report %d never reached %s (stuck at %s)", id, want, r.Status)
	return nil
}

func TestRequestGenerationCreatesSingleRow(t *testing.T) {
	store := newMemReportStore()
	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	var wg sync.WaitGroup
	ids := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rep, err := m.RequestGeneration(context.Background(), "2026-08-30", "test")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			ids[idx] = rep.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent requests produced different reports: %v", ids)
		}
	}
	if len(store.byID) != 1 {
		t.Errorf("report rows = %d, want 1", len(store.byID))
	}
}

func TestRequestGenerationStatusRules(t *testing.T) {
	testCases := []struct {
		name       string
		status     models.ReportStatus
		wantStatus models.ReportStatus
	}{
		{"ready is returned unchanged", models.ReportReady, models.ReportReady},
		{"uploaded is returned unchanged", models.ReportUploaded, models.ReportUploaded},
		{"generating is returned unchanged", models.ReportGenerating, models.ReportGenerating},
		{"uploading is returned unchanged", models.ReportUploading, models.ReportUploading},
		{"failed resets to pending", models.ReportFailed, models.ReportPending},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemReportStore()
			m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
			defer m.Shutdown()

			seeded, _, err := store.CreateReportPending(context.Background(), "2026-08-30", Filename("2026-08-30"), "test")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			store.setStatus(seeded.ID, tc.status)

			rep, err := m.RequestGeneration(context.Background(), "2026-08-30", "test")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rep.ID != seeded.ID {
				t.Errorf("got report %d, want existing %d", rep.ID, seeded.ID)
			}
			if rep.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s", rep.Status, tc.wantStatus)
			}
		})
	}
}

func TestGenerateProducesReadyReport(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	goodDay(store, 2, 140)

	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, err := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rep, err = m.Generate(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rep.Status != models.ReportReady {
		t.Fatalf("status = %s, want ready (errors: %v)", rep.Status, rep.ValidationErrors)
	}
	if rep.TotalWells != 2 {
		t.Errorf("TotalWells = %d, want 2", rep.TotalWells)
	}
	if rep.TotalReadings != 284 {
		t.Errorf("TotalReadings = %d, want 284", rep.TotalReadings)
	}
	if rep.OilTotal != 28400 {
		t.Errorf("OilTotal = %v, want 28400", rep.OilTotal)
	}
	if rep.MissingSamples != 4 {
		t.Errorf("MissingSamples = %d, want 4", rep.MissingSamples)
	}
	if rep.DataQualityScore != 100 {
		t.Errorf("DataQualityScore = %v, want 100", rep.DataQualityScore)
	}

	body, err := store.GetReportArtifact(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("artifact not saved: %v", err)
	}
	var artifact reportArtifact
	if err := json.Unmarshal([]byte(body), &artifact); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if artifact.ReportDate != "2026-08-30" || len(artifact.Wells) != 2 {
		t.Errorf("artifact = %+v, want 2 wells for 2026-08-30", artifact)
	}
	if rep.FileSize != int64(len(body)) {
		t.Errorf("FileSize = %d, want %d", rep.FileSize, len(body))
	}
}

func TestGenerateFailsQualityGate(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	for i := range store.readings[1] {
		store.readings[1][i].QualityScore = 80
	}

	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, err := m.Generate(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rep.Status != models.ReportFailed {
		t.Fatalf("status = %s, want failed", rep.Status)
	}
	if len(rep.ValidationErrors) != 1 {
		t.Errorf("validation errors = %v, want exactly the quality gate", rep.ValidationErrors)
	}
}

func TestGenerateFailsCompletenessGate(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 120) // 24 missing > max 10

	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, err := m.Generate(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rep.Status != models.ReportFailed {
		t.Fatalf("status = %s, want failed", rep.Status)
	}
}

func TestGenerateToleratesPartialWellFailure(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	store.wells = append(store.wells, 2)
	store.wellErrs[2] = errors.New("query timeout")

	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, err := m.Generate(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("generation must not abort on one well: %v", err)
	}

	// The failing well surfaces as a validation error, so the report fails
	// closed rather than shipping partial data silently.
	if rep.Status != models.ReportFailed {
		t.Fatalf("status = %s, want failed", rep.Status)
	}
	found := false
	for _, e := range rep.ValidationErrors {
		if e == "well 2: aggregation failed: query timeout" {
			found = true
		}
	}
	if !found {
		t.Errorf("validation errors = %v, want the well 2 failure recorded", rep.ValidationErrors)
	}
	// well 1 still contributed
	if rep.TotalReadings != 144 {
		t.Errorf("TotalReadings = %d, want 144 from the healthy well", rep.TotalReadings)
	}
}

func TestGenerateLosingCASReturnsCurrentState(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	store.setStatus(rep.ID, models.ReportGenerating) // another worker owns it

	got, err := m.Generate(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.ReportGenerating {
		t.Errorf("status = %s, want generating untouched", got.Status)
	}
}

func TestRequestUploadRejectsNotReady(t *testing.T) {
	store := newMemReportStore()
	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")

	_, err := m.RequestUpload(context.Background(), rep.ID)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady for a pending report", err)
	}
}

func TestUploadSucceedsAndPurges(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	deliverer := &fakeDeliverer{}
	purger := &fakePurger{}
	m := NewManager(managerConfig(), store, deliverer, nil, purger)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, _ = m.Generate(context.Background(), rep.ID)

	if _, err := m.RequestUpload(context.Background(), rep.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := waitForStatus(t, store, rep.ID, models.ReportUploaded)

	if final.UploadAttempts != 1 {
		t.Errorf("UploadAttempts = %d, want 1", final.UploadAttempts)
	}
	if final.UploadResponse != `{"ack":"ok"}` {
		t.Errorf("UploadResponse = %q, want regulator payload", final.UploadResponse)
	}
	if final.UploadedAt == nil {
		t.Error("UploadedAt not set")
	}

	// Delivered bytes are exactly the validated artifact.
	saved, _ := store.GetReportArtifact(context.Background(), rep.ID)
	if len(deliverer.bodies) == 0 || string(deliverer.bodies[0]) != saved {
		t.Error("uploaded body differs from the stored artifact")
	}

	purger.mu.Lock()
	defer purger.mu.Unlock()
	if len(purger.days) != 1 || purger.days[0] != "2026-08-30" {
		t.Errorf("purged days = %v, want [2026-08-30]", purger.days)
	}
}

// hookDeliverer runs a callback before returning success, to interleave
// state changes with an in-flight delivery.
type hookDeliverer struct {
	before func()
}

func (d *hookDeliverer) Deliver(ctx context.Context, artifact *delivery.Artifact) (*delivery.Receipt, error) {
	if d.before != nil {
		d.before()
	}
	return &delivery.Receipt{StatusCode: 200, Payload: `{"ack":"ok"}`}, nil
}

func TestUploadSuccessAfterWatchdogRecoveryIsDiscarded(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	purger := &fakePurger{}

	// The watchdog flips the report to FAILED while the delivery is still
	// in flight; the late success must lose the compare-and-swap and must
	// not purge the day's aggregates.
	var repID int
	deliverer := &hookDeliverer{}
	m := NewManager(managerConfig(), store, deliverer, nil, purger)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, _ = m.Generate(context.Background(), rep.ID)
	repID = rep.ID
	deliverer.before = func() {
		store.setStatus(repID, models.ReportFailed)
	}

	if _, err := m.RequestUpload(context.Background(), rep.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := waitForStatus(t, store, rep.ID, models.ReportFailed)

	if final.UploadedAt != nil {
		t.Error("UploadedAt set even though the success CAS lost")
	}

	purger.mu.Lock()
	defer purger.mu.Unlock()
	if len(purger.days) != 0 {
		t.Errorf("purged days = %v, want none when success is discarded", purger.days)
	}
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	deliverer := &fakeDeliverer{failures: 2}
	m := NewManager(managerConfig(), store, deliverer, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, _ = m.Generate(context.Background(), rep.ID)
	if _, err := m.RequestUpload(context.Background(), rep.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := waitForStatus(t, store, rep.ID, models.ReportUploaded)
	if final.UploadAttempts != 3 {
		t.Errorf("UploadAttempts = %d, want 3", final.UploadAttempts)
	}
	if deliverer.callCount() != 3 {
		t.Errorf("deliverer called %d times, want 3", deliverer.callCount())
	}
}

func TestUploadExhaustionFailsReport(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	deliverer := &fakeDeliverer{failures: 100}
	m := NewManager(managerConfig(), store, deliverer, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, _ = m.Generate(context.Background(), rep.ID)
	if _, err := m.RequestUpload(context.Background(), rep.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := waitForStatus(t, store, rep.ID, models.ReportFailed)
	if final.UploadAttempts != 3 {
		t.Errorf("UploadAttempts = %d, want max attempts 3", final.UploadAttempts)
	}

	// FAILED after attempted upload is retryable.
	if _, err := m.RequestUpload(context.Background(), final.ID); err != nil {
		t.Errorf("retry of failed upload rejected: %v", err)
	}
}

func TestRequestUploadWhileUploadingIsRejected(t *testing.T) {
	store := newMemReportStore()
	goodDay(store, 1, 144)
	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, _ := m.RequestGeneration(context.Background(), "2026-08-30", "test")
	rep, _ = m.Generate(context.Background(), rep.ID)
	store.setStatus(rep.ID, models.ReportUploading)

	got, err := m.RequestUpload(context.Background(), rep.ID)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady while another upload runs", err)
	}
	_ = got
}

func TestRecoverStaleUploads(t *testing.T) {
	store := newMemReportStore()
	m := NewManager(managerConfig(), store, &fakeDeliverer{}, nil, nil)
	defer m.Shutdown()

	rep, _, _ := store.CreateReportPending(context.Background(), "2026-08-30", Filename("2026-08-30"), "test")
	store.setStatus(rep.ID, models.ReportUploading)
	store.mu.Lock()
	store.byID[rep.ID].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	store.mu.Unlock()

	fresh, _, _ := store.CreateReportPending(context.Background(), "2026-08-31", Filename("2026-08-31"), "test")
	store.setStatus(fresh.ID, models.ReportUploading)

	if err := m.RecoverStaleUploads(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale, _ := store.GetReportByID(context.Background(), rep.ID)
	if stale.Status != models.ReportFailed {
		t.Errorf("stale report status = %s, want failed", stale.Status)
	}
	recent, _ := store.GetReportByID(context.Background(), fresh.ID)
	if recent.Status != models.ReportUploading {
		t.Errorf("recent report status = %s, must be untouched", recent.Status)
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("2026-08-30"); got != "ANH_REPORT_20260830.json" {
		t.Errorf("Filename = %s, want ANH_REPORT_20260830.json", got)
	}
}
