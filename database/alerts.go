package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wellpipe/models"
)

// InsertAlert persists a new unresolved alert and fills in its id
func (d *Database) InsertAlert(ctx context.Context, a *models.Alert) error {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO alerts
			(type, severity, title, description, well_id, field_id,
			 value, threshold, metric_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Type, a.Severity, a.Title, a.Description, a.WellID, a.FieldID,
		a.Value, a.Threshold, a.MetricName)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get alert id: %w", err)
	}
	a.ID = int(id)
	return nil
}

// GetUnresolvedAlertByKey finds an open alert with the dedup key
// (type, well_id, metric_name). Returns nil when there is none.
func (d *Database) GetUnresolvedAlertByKey(ctx context.Context, alertType models.AlertType, wellID *int, metricName string) (*models.Alert, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE type = ? AND is_resolved = FALSE AND metric_name = ?
		  AND ((well_id IS NULL AND ? IS NULL) OR well_id = ?)
		ORDER BY created_at DESC
		LIMIT 1`, alertType, metricName, wellID, wellID)

	a, err := scanAlert(row)
	if err == models.ErrNotFound {
		return nil, nil
	}
	return a, err
}

// TouchAlert refreshes the observed value and severity of an existing open
// alert instead of creating a duplicate.
func (d *Database) TouchAlert(ctx context.Context, id int, value *float64, severity models.AlertSeverity) (*models.Alert, error) {
	_, err := d.db.ExecContext(ctx, `
		UPDATE alerts SET value = ?, severity = ?, updated_at = ?
		WHERE id = ? AND is_resolved = FALSE`,
		value, severity, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to touch alert %d: %w", id, err)
	}
	return d.GetAlert(ctx, id)
}

// ResolveAlert marks an alert resolved. One-way: an already-resolved alert
// is left untouched and returned as-is.
func (d *Database) ResolveAlert(ctx context.Context, id int, resolvedBy, notes string) (*models.Alert, error) {
	_, err := d.db.ExecContext(ctx, `
		UPDATE alerts
		SET is_resolved = TRUE, resolved_at = ?, resolved_by = ?, resolution_notes = ?
		WHERE id = ? AND is_resolved = FALSE`,
		time.Now().UTC(), resolvedBy, notes, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert %d: %w", id, err)
	}
	return d.GetAlert(ctx, id)
}

// MarkNotificationSent records that a notification went out for an alert
func (d *Database) MarkNotificationSent(ctx context.Context, id int) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE alerts SET notification_sent = TRUE, notification_sent_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent for alert %d: %w", id, err)
	}
	return nil
}

// GetAlert fetches one alert by id
func (d *Database) GetAlert(ctx context.Context, id int) (*models.Alert, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// ListAlerts returns alerts filtered by resolution state and optional severity
func (d *Database) ListAlerts(ctx context.Context, resolved bool, severity string, limit int) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE is_resolved = ?`
	args := []interface{}{resolved}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// CountUnresolvedAlerts counts open alerts created since the given time
func (d *Database) CountUnresolvedAlerts(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(id) FROM alerts
		WHERE is_resolved = FALSE AND created_at >= ?`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved alerts: %w", err)
	}
	return count, nil
}

const alertColumns = `id, type, severity, title, description, well_id, field_id,
	value, threshold, metric_name,
	is_resolved, resolved_at, resolved_by, resolution_notes,
	notification_sent, notification_sent_at, created_at, updated_at`

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var wellID, fieldID sql.NullInt64
	var value, threshold sql.NullFloat64
	var description, metricName, resolvedBy, notes sql.NullString
	var resolvedAt, notifiedAt sql.NullTime
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Title, &description, &wellID, &fieldID,
		&value, &threshold, &metricName,
		&a.IsResolved, &resolvedAt, &resolvedBy, &notes,
		&a.NotificationSent, &notifiedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert row: %w", err)
	}
	a.Description = description.String
	a.MetricName = metricName.String
	a.ResolvedBy = resolvedBy.String
	a.ResolutionNotes = notes.String
	if wellID.Valid {
		v := int(wellID.Int64)
		a.WellID = &v
	}
	if fieldID.Valid {
		v := int(fieldID.Int64)
		a.FieldID = &v
	}
	if value.Valid {
		a.Value = &value.Float64
	}
	if threshold.Valid {
		a.Threshold = &threshold.Float64
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if notifiedAt.Valid {
		a.NotificationSentAt = &notifiedAt.Time
	}
	return &a, nil
}
