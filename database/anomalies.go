package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wellpipe/models"
)

// InsertAnomalyIfAbsent persists an anomaly keyed on
// (well_id, telemetry_id, parameter). Returns false without error when a
// row for that key already exists, so reprocessing a reading never
// duplicates detections.
func (d *Database) InsertAnomalyIfAbsent(ctx context.Context, a *models.Anomaly) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		INSERT IGNORE INTO anomalies
			(well_id, telemetry_id, parameter, value, expected_value,
			 deviation, anomaly_score, detection_method, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.WellID, a.TelemetryID, a.Parameter, a.Value, a.ExpectedValue,
		a.Deviation, a.AnomalyScore, a.DetectionMethod, a.DetectedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert anomaly for well %d: %w", a.WellID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get anomaly insert status: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get anomaly id: %w", err)
	}
	a.ID = int(id)
	return true, nil
}

// ConfirmAnomaly records a human reviewer's verdict on an anomaly. The
// confirmation fields are only ever written here.
func (d *Database) ConfirmAnomaly(ctx context.Context, id int, falsePositive bool, confirmedBy, notes string) (*models.Anomaly, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE anomalies
		SET is_confirmed = TRUE, is_false_positive = ?, confirmed_by = ?, confirmed_at = ?, notes = ?
		WHERE id = ? AND is_confirmed = FALSE`,
		falsePositive, confirmedBy, time.Now().UTC(), notes, id)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm anomaly %d: %w", id, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		// Already confirmed or absent; return current state either way.
	}
	return d.GetAnomaly(ctx, id)
}

// GetAnomaly fetches one anomaly by id
func (d *Database) GetAnomaly(ctx context.Context, id int) (*models.Anomaly, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, well_id, telemetry_id, parameter, value, expected_value,
		       deviation, anomaly_score, detection_method,
		       is_confirmed, is_false_positive, confirmed_by, confirmed_at, notes,
		       detected_at, created_at
		FROM anomalies WHERE id = ?`, id)
	return scanAnomaly(row)
}

// ListUnconfirmedAnomalies returns anomalies awaiting review within the
// lookback window.
func (d *Database) ListUnconfirmedAnomalies(ctx context.Context, since time.Time, limit int) ([]models.Anomaly, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, well_id, telemetry_id, parameter, value, expected_value,
		       deviation, anomaly_score, detection_method,
		       is_confirmed, is_false_positive, confirmed_by, confirmed_at, notes,
		       detected_at, created_at
		FROM anomalies
		WHERE is_confirmed = FALSE AND detected_at >= ?
		ORDER BY detected_at DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unconfirmed anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []models.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, *a)
	}
	return anomalies, rows.Err()
}

// CountAnomaliesForWellDay counts flagged readings for a well/day
func (d *Database) CountAnomaliesForWellDay(ctx context.Context, wellID int, day string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(id) FROM anomalies
		WHERE well_id = ? AND DATE(detected_at) = ?`, wellID, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count anomalies for well %d: %w", wellID, err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnomaly(row rowScanner) (*models.Anomaly, error) {
	var a models.Anomaly
	var telemetryID sql.NullInt64
	var method, confirmedBy, notes sql.NullString
	var confirmedAt sql.NullTime
	err := row.Scan(&a.ID, &a.WellID, &telemetryID, &a.Parameter, &a.Value, &a.ExpectedValue,
		&a.Deviation, &a.AnomalyScore, &method,
		&a.IsConfirmed, &a.IsFalsePositive, &confirmedBy, &confirmedAt, &notes,
		&a.DetectedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
	}
	if telemetryID.Valid {
		a.TelemetryID = &telemetryID.Int64
	}
	a.DetectionMethod = method.String
	a.ConfirmedBy = confirmedBy.String
	a.Notes = notes.String
	if confirmedAt.Valid {
		a.ConfirmedAt = &confirmedAt.Time
	}
	return &a, nil
}
