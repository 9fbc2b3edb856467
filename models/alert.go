package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a well, report, alert or anomaly does not exist
var ErrNotFound = errors.New("not found")

// AlertSeverity levels
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType enumeration
type AlertType string

const (
	AlertAnomaly     AlertType = "anomaly"
	AlertDataQuality AlertType = "data_quality"
	AlertSystem      AlertType = "system"
	AlertCompliance  AlertType = "compliance"
	AlertEquipment   AlertType = "equipment"
)

// Alert is a notification-worthy event. Created unresolved, resolved
// exactly once; resolution fields are immutable thereafter.
type Alert struct {
	ID          int           `json:"id" db:"id"`
	Type        AlertType     `json:"type" db:"type"`
	Severity    AlertSeverity `json:"severity" db:"severity"`
	Title       string        `json:"title" db:"title"`
	Description string        `json:"description" db:"description"`

	WellID  *int `json:"well_id" db:"well_id"`
	FieldID *int `json:"field_id" db:"field_id"`

	Value      *float64 `json:"value" db:"value"`
	Threshold  *float64 `json:"threshold" db:"threshold"`
	MetricName string   `json:"metric_name" db:"metric_name"`

	IsResolved      bool       `json:"is_resolved" db:"is_resolved"`
	ResolvedAt      *time.Time `json:"resolved_at" db:"resolved_at"`
	ResolvedBy      string     `json:"resolved_by" db:"resolved_by"`
	ResolutionNotes string     `json:"resolution_notes" db:"resolution_notes"`

	NotificationSent   bool       `json:"notification_sent" db:"notification_sent"`
	NotificationSentAt *time.Time `json:"notification_sent_at" db:"notification_sent_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Anomaly is a flagged deviation on one reading parameter. Append-only
// except for the confirmation fields, which only a human reviewer mutates.
type Anomaly struct {
	ID          int    `json:"id" db:"id"`
	WellID      int    `json:"well_id" db:"well_id"`
	TelemetryID *int64 `json:"telemetry_id" db:"telemetry_id"`

	Parameter     string  `json:"parameter" db:"parameter"`
	Value         float64 `json:"value" db:"value"`
	ExpectedValue float64 `json:"expected_value" db:"expected_value"`
	Deviation     float64 `json:"deviation" db:"deviation"` // percent
	AnomalyScore  float64 `json:"anomaly_score" db:"anomaly_score"`

	DetectionMethod string `json:"detection_method" db:"detection_method"`

	IsConfirmed     bool       `json:"is_confirmed" db:"is_confirmed"`
	IsFalsePositive bool       `json:"is_false_positive" db:"is_false_positive"`
	ConfirmedBy     string     `json:"confirmed_by" db:"confirmed_by"`
	ConfirmedAt     *time.Time `json:"confirmed_at" db:"confirmed_at"`
	Notes           string     `json:"notes" db:"notes"`

	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
