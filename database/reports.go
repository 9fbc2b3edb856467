package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wellpipe/models"

	"github.com/go-sql-driver/mysql"
)

const mysqlErrDuplicateEntry = 1062

// CreateReportPending inserts a new PENDING report row for a date. If a row
// for that date already exists (unique report_date), the existing report is
// returned with created=false and no second row is ever written.
func (d *Database) CreateReportPending(ctx context.Context, reportDate, filename, generatedBy string) (*models.Report, bool, error) {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO reports (report_date, status, filename, generated_by)
		VALUES (?, 'pending', ?, ?)`,
		reportDate, filename, generatedBy)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			existing, getErr := d.GetReportByDate(ctx, reportDate)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create report for %s: %w", reportDate, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get report id: %w", err)
	}
	report, err := d.GetReportByID(ctx, int(id))
	if err != nil {
		return nil, false, err
	}
	return report, true, nil
}

// TransitionReportStatus performs a compare-and-swap status move. It first
// checks the transition table, then updates only when the row still holds
// the expected current status. Returns false when another writer won.
func (d *Database) TransitionReportStatus(ctx context.Context, id int, from, to models.ReportStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("report %d: %s -> %s: %w", id, from, to, models.ErrIllegalTransition)
	}

	result, err := d.db.ExecContext(ctx, `
		UPDATE reports SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition report %d to %s: %w", id, to, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get transition status: %w", err)
	}
	return rows == 1, nil
}

// UpdateGenerationResults writes the aggregate totals and validation
// outcome computed during generation.
func (d *Database) UpdateGenerationResults(ctx context.Context, r *models.Report) error {
	errorsJSON, err := json.Marshal(r.ValidationErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal validation errors: %w", err)
	}
	warningsJSON, err := json.Marshal(r.ValidationWarnings)
	if err != nil {
		return fmt.Errorf("failed to marshal validation warnings: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		UPDATE reports
		SET total_wells = ?, total_readings = ?,
		    oil_production_total = ?, gas_production_total = ?, water_production_total = ?,
		    data_quality_score = ?, missing_samples = ?,
		    validation_errors = ?, validation_warnings = ?,
		    filename = ?, file_size = ?, generated_at = ?
		WHERE id = ?`,
		r.TotalWells, r.TotalReadings,
		r.OilTotal, r.GasTotal, r.WaterTotal,
		r.DataQualityScore, r.MissingSamples,
		string(errorsJSON), string(warningsJSON),
		r.Filename, r.FileSize, time.Now().UTC(), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update generation results for report %d: %w", r.ID, err)
	}
	return nil
}

// SaveReportArtifact stores the serialized artifact validated during
// generation so upload delivers exactly those bytes.
func (d *Database) SaveReportArtifact(ctx context.Context, id int, body string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE reports SET artifact = ? WHERE id = ?`, body, id)
	if err != nil {
		return fmt.Errorf("failed to save artifact for report %d: %w", id, err)
	}
	return nil
}

// GetReportArtifact loads the stored artifact body for a report
func (d *Database) GetReportArtifact(ctx context.Context, id int) (string, error) {
	var body sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT artifact FROM reports WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load artifact for report %d: %w", id, err)
	}
	return body.String, nil
}

// IncrementUploadAttempts bumps the attempt counter before an upload try
func (d *Database) IncrementUploadAttempts(ctx context.Context, id int) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE reports SET upload_attempts = upload_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment upload attempts for report %d: %w", id, err)
	}
	return nil
}

// RecordUploadSuccess moves UPLOADING -> UPLOADED and persists the delivery
// response payload.
func (d *Database) RecordUploadSuccess(ctx context.Context, id int, response string) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE reports SET status = 'uploaded', uploaded_at = ?, upload_response = ?
		WHERE id = ? AND status = 'uploading'`,
		time.Now().UTC(), response, id)
	if err != nil {
		return false, fmt.Errorf("failed to record upload success for report %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get upload success status: %w", err)
	}
	return rows == 1, nil
}

// RecordUploadFailure moves UPLOADING -> FAILED preserving the last error
// for operator inspection.
func (d *Database) RecordUploadFailure(ctx context.Context, id int, lastError string) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE reports SET status = 'failed', upload_response = ?
		WHERE id = ? AND status = 'uploading'`,
		lastError, id)
	if err != nil {
		return false, fmt.Errorf("failed to record upload failure for report %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get upload failure status: %w", err)
	}
	return rows == 1, nil
}

// FindStaleUploading returns reports stuck in UPLOADING with no progress
// since the cutoff; the watchdog recovers these to FAILED.
func (d *Database) FindStaleUploading(ctx context.Context, cutoff time.Time) ([]models.Report, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE status = 'uploading' AND updated_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale uploading reports: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

// GetReportByDate fetches the report for one calendar day
func (d *Database) GetReportByDate(ctx context.Context, reportDate string) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE report_date = ?`, reportDate)
	return scanReport(row)
}

// GetReportByID fetches one report by id
func (d *Database) GetReportByID(ctx context.Context, id int) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	return scanReport(row)
}

// GetReportsByStatus returns all reports currently in the given status
func (d *Database) GetReportsByStatus(ctx context.Context, status models.ReportStatus) ([]models.Report, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE status = ? ORDER BY report_date`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports by status: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

// ListReports returns recent reports, newest date first
func (d *Database) ListReports(ctx context.Context, status string, limit int) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY report_date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

const reportColumns = `id, report_date, status, filename, file_size,
	total_wells, total_readings,
	oil_production_total, gas_production_total, water_production_total,
	data_quality_score, missing_samples,
	validation_errors, validation_warnings,
	upload_attempts, uploaded_at, upload_response,
	generated_at, generated_by, created_at, updated_at`

func collectReports(rows *sql.Rows) ([]models.Report, error) {
	var reports []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	var reportDate time.Time
	var errorsJSON, warningsJSON, uploadResponse, generatedBy sql.NullString
	var uploadedAt, generatedAt sql.NullTime
	err := row.Scan(&r.ID, &reportDate, &r.Status, &r.Filename, &r.FileSize,
		&r.TotalWells, &r.TotalReadings,
		&r.OilTotal, &r.GasTotal, &r.WaterTotal,
		&r.DataQualityScore, &r.MissingSamples,
		&errorsJSON, &warningsJSON,
		&r.UploadAttempts, &uploadedAt, &uploadResponse,
		&generatedAt, &generatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report row: %w", err)
	}
	r.ReportDate = reportDate.Format("2006-01-02")
	r.UploadResponse = uploadResponse.String
	r.GeneratedBy = generatedBy.String
	if uploadedAt.Valid {
		r.UploadedAt = &uploadedAt.Time
	}
	if generatedAt.Valid {
		r.GeneratedAt = &generatedAt.Time
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &r.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation errors: %w", err)
		}
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &r.ValidationWarnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation warnings: %w", err)
		}
	}
	return &r, nil
}
