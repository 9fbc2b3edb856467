package models

import (
	"errors"
	"time"
)

// ReportStatus is the lifecycle state of a daily compliance report
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportGenerating ReportStatus = "generating"
	ReportValidating ReportStatus = "validating"
	ReportReady      ReportStatus = "ready"
	ReportUploading  ReportStatus = "uploading"
	ReportUploaded   ReportStatus = "uploaded"
	ReportFailed     ReportStatus = "failed"
)

// ErrIllegalTransition is returned when a report status move is not in the
// transition table.
var ErrIllegalTransition = errors.New("illegal report status transition")

// reportTransitions is the full set of legal status moves. UPLOADED is
// terminal; FAILED can be retried back to PENDING (regeneration) or
// UPLOADING (upload retry).
var reportTransitions = map[ReportStatus][]ReportStatus{
	ReportPending:    {ReportGenerating},
	ReportGenerating: {ReportValidating, ReportFailed},
	ReportValidating: {ReportReady, ReportFailed},
	ReportReady:      {ReportUploading},
	ReportUploading:  {ReportUploaded, ReportFailed},
	ReportFailed:     {ReportPending, ReportUploading},
	ReportUploaded:   {},
}

// CanTransition reports whether moving a report from one status to another
// is legal.
func CanTransition(from, to ReportStatus) bool {
	for _, next := range reportTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the target status, or ErrIllegalTransition.
func Transition(from, to ReportStatus) (ReportStatus, error) {
	if !CanTransition(from, to) {
		return from, ErrIllegalTransition
	}
	return to, nil
}

// IsTerminal reports whether no transition can ever leave the status.
func (s ReportStatus) IsTerminal() bool {
	return len(reportTransitions[s]) == 0
}

// InFlight reports whether generation or upload work is pending or running
// for a report in this status.
func (s ReportStatus) InFlight() bool {
	switch s {
	case ReportPending, ReportGenerating, ReportValidating, ReportUploading:
		return true
	}
	return false
}

// Report is the daily regulatory artifact. At most one row per report_date
// may ever reach READY or UPLOADED.
type Report struct {
	ID         int          `json:"id" db:"id"`
	ReportDate string       `json:"report_date" db:"report_date"` // YYYY-MM-DD
	Status     ReportStatus `json:"status" db:"status"`

	Filename string `json:"filename" db:"filename"`
	FileSize int64  `json:"file_size" db:"file_size"`

	TotalWells    int     `json:"total_wells" db:"total_wells"`
	TotalReadings int     `json:"total_readings" db:"total_readings"`
	OilTotal      float64 `json:"oil_production_total" db:"oil_production_total"`
	GasTotal      float64 `json:"gas_production_total" db:"gas_production_total"`
	WaterTotal    float64 `json:"water_production_total" db:"water_production_total"`

	DataQualityScore float64 `json:"data_quality_score" db:"data_quality_score"`
	MissingSamples   int     `json:"missing_samples" db:"missing_samples"`

	ValidationErrors   []string `json:"validation_errors"`
	ValidationWarnings []string `json:"validation_warnings"`

	UploadAttempts int        `json:"upload_attempts" db:"upload_attempts"`
	UploadedAt     *time.Time `json:"uploaded_at" db:"uploaded_at"`
	UploadResponse string     `json:"upload_response" db:"upload_response"`

	GeneratedAt *time.Time `json:"generated_at" db:"generated_at"`
	GeneratedBy string     `json:"generated_by" db:"generated_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
