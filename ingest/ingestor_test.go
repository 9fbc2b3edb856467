package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"wellpipe/config"
	"wellpipe/models"
)

func testConfig() *config.Config {
	return &config.Config{
		SampleInterval:      10 * time.Minute,
		MaxPastSkew:         24 * time.Hour,
		MaxFutureSkew:       5 * time.Minute,
		MissingFieldPenalty: 5,
		RangePenalty:        10,
		JitterPenalty:       5,
	}
}

type fakeRegistry struct {
	active map[int]bool
}

func (r *fakeRegistry) IsWellActive(ctx context.Context, wellID int) (bool, error) {
	active, ok := r.active[wellID]
	if !ok {
		return false, models.ErrNotFound
	}
	return active, nil
}

type fakeStore struct {
	inserted []*models.TelemetryReading
	err      error
}

func (s *fakeStore) InsertReading(ctx context.Context, r *models.TelemetryReading) error {
	if s.err != nil {
		return s.err
	}
	r.ID = int64(len(s.inserted) + 1)
	s.inserted = append(s.inserted, r)
	return nil
}

type fakeAccumulator struct {
	calls int
}

func (a *fakeAccumulator) Accumulate(wellID int, day string, r *models.TelemetryReading) {
	a.calls++
}

func f(v float64) *float64 { return &v }

func fullReading(wellID int, ts time.Time) *models.RawReading {
	return &models.RawReading{
		WellID:           wellID,
		Timestamp:        ts,
		OilRate:          f(120),
		GasRate:          f(900),
		WaterRate:        f(30),
		WellheadPressure: f(1600),
		Source:           "OPC-UA",
	}
}

func newTestIngestor(active map[int]bool) (*Ingestor, *fakeStore, *fakeAccumulator) {
	store := &fakeStore{}
	agg := &fakeAccumulator{}
	ing := NewIngestor(testConfig(), &fakeRegistry{active: active}, store, agg)
	return ing, store, agg
}

func TestIngestRejections(t *testing.T) {
	now := time.Now().UTC()

	testCases := []struct {
		name string
		raw  *models.RawReading
		kind RejectedKind
	}{
		{
			name: "unknown well",
			raw:  fullReading(99, now),
			kind: RejectedUnknownWell,
		},
		{
			name: "inactive well",
			raw:  fullReading(2, now),
			kind: RejectedUnknownWell,
		},
		{
			name: "timestamp too old",
			raw:  fullReading(1, now.Add(-25*time.Hour)),
			kind: RejectedTimestampOutOfRange,
		},
		{
			name: "timestamp too far in the future",
			raw:  fullReading(1, now.Add(time.Hour)),
			kind: RejectedTimestampOutOfRange,
		},
		{
			name: "negative oil rate",
			raw: func() *models.RawReading {
				r := fullReading(1, now)
				r.OilRate = f(-10)
				return r
			}(),
			kind: RejectedInvalidValue,
		},
		{
			name: "negative choke size",
			raw: func() *models.RawReading {
				r := fullReading(1, now)
				r.ChokeSize = f(-1)
				return r
			}(),
			kind: RejectedInvalidValue,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ing, store, agg := newTestIngestor(map[int]bool{1: true, 2: false})

			_, err := ing.Ingest(context.Background(), tc.raw)
			var rejected *RejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("expected RejectedError, got %v", err)
			}
			if rejected.Kind != tc.kind {
				t.Errorf("kind = %s, want %s", rejected.Kind, tc.kind)
			}
			if len(store.inserted) != 0 {
				t.Error("rejected reading must not be persisted")
			}
			if agg.calls != 0 {
				t.Error("rejected reading must not be accumulated")
			}
		})
	}
}

func TestIngestAcceptsAndScoresFullReading(t *testing.T) {
	ing, store, agg := newTestIngestor(map[int]bool{1: true})

	reading, err := ing.Ingest(context.Background(), fullReading(1, time.Now().UTC()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reading.QualityScore != 100 {
		t.Errorf("QualityScore = %v, want 100 for a complete in-range reading", reading.QualityScore)
	}
	if reading.IsAnomaly {
		t.Error("ingestion must never set the anomaly flag")
	}
	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d readings, want 1", len(store.inserted))
	}
	if agg.calls != 1 {
		t.Errorf("accumulator called %d times, want 1", agg.calls)
	}
}

func TestIngestQualityPenalties(t *testing.T) {
	now := time.Now().UTC()

	testCases := []struct {
		name    string
		mutate  func(r *models.RawReading)
		quality float64
	}{
		{
			name:    "one missing expected field",
			mutate:  func(r *models.RawReading) { r.GasRate = nil },
			quality: 95,
		},
		{
			name: "all expected fields missing",
			mutate: func(r *models.RawReading) {
				r.OilRate, r.GasRate, r.WaterRate, r.WellheadPressure = nil, nil, nil, nil
			},
			quality: 80,
		},
		{
			name:    "implausible pressure",
			mutate:  func(r *models.RawReading) { r.WellheadPressure = f(20000) },
			quality: 90,
		},
		{
			name:    "implausible temperature",
			mutate:  func(r *models.RawReading) { r.WellheadTemperature = f(600) },
			quality: 90,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ing, _, _ := newTestIngestor(map[int]bool{1: true})

			raw := fullReading(1, now)
			tc.mutate(raw)
			reading, err := ing.Ingest(context.Background(), raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reading.QualityScore != tc.quality {
				t.Errorf("QualityScore = %v, want %v", reading.QualityScore, tc.quality)
			}
		})
	}
}

func TestIngestJitterPenalty(t *testing.T) {
	ing, _, _ := newTestIngestor(map[int]bool{1: true})
	base := time.Now().UTC().Add(-2 * time.Hour)

	first, err := ing.Ingest(context.Background(), fullReading(1, base))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.QualityScore != 100 {
		t.Fatalf("first reading QualityScore = %v, want 100", first.QualityScore)
	}

	// On cadence: 10 minutes later, no penalty.
	second, err := ing.Ingest(context.Background(), fullReading(1, base.Add(10*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.QualityScore != 100 {
		t.Errorf("on-cadence reading QualityScore = %v, want 100", second.QualityScore)
	}

	// Gap beyond 1.5x cadence costs the jitter penalty.
	third, err := ing.Ingest(context.Background(), fullReading(1, base.Add(40*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.QualityScore != 95 {
		t.Errorf("late reading QualityScore = %v, want 95", third.QualityScore)
	}
}

func TestIngestStoreFailureIsNotARejection(t *testing.T) {
	store := &fakeStore{err: errors.New("connection lost")}
	ing := NewIngestor(testConfig(), &fakeRegistry{active: map[int]bool{1: true}}, store, &fakeAccumulator{})

	_, err := ing.Ingest(context.Background(), fullReading(1, time.Now().UTC()))
	if err == nil {
		t.Fatal("expected error")
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		t.Error("infrastructure failure must not be classified as a rejection")
	}
}
