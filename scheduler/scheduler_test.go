package scheduler

import (
	"testing"
	"time"

	"wellpipe/config"
)

func TestMarkOnceFiresOncePerDay(t *testing.T) {
	s := NewScheduler(&config.Config{}, nil, nil)

	if !s.markOnce(&s.lastGeneration, "2026-08-30") {
		t.Error("first mark of the day should fire")
	}
	if s.markOnce(&s.lastGeneration, "2026-08-30") {
		t.Error("second mark of the same day must not fire")
	}
	if !s.markOnce(&s.lastGeneration, "2026-08-31") {
		t.Error("next day should fire again")
	}

	// markers are independent per task
	if !s.markOnce(&s.lastAutoUpload, "2026-08-31") {
		t.Error("upload marker must not be affected by the generation marker")
	}
}

func TestTickBeforeWindowsDoesNothing(t *testing.T) {
	cfg := &config.Config{GenerationTime: "06:00", UploadTime: "06:50"}
	// nil manager: any scheduled work would panic, so a clean run proves
	// nothing fired before the configured times
	s := NewScheduler(cfg, nil, nil)

	s.tick(time.Date(2026, 8, 31, 5, 59, 0, 0, time.UTC))

	if s.lastGeneration != "" || s.lastAutoUpload != "" {
		t.Errorf("markers set before windows: gen=%q upload=%q", s.lastGeneration, s.lastAutoUpload)
	}
}
