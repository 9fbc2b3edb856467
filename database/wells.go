package database

import (
	"context"
	"database/sql"
	"fmt"

	"wellpipe/models"
)

// GetWell looks up one well by id
func (d *Database) GetWell(ctx context.Context, id int) (*models.Well, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, api_number, field_id, well_type, is_active, created_at
		FROM wells WHERE id = ?`, id)

	var w models.Well
	var wellType sql.NullString
	err := row.Scan(&w.ID, &w.Name, &w.APINumber, &w.FieldID, &wellType, &w.IsActive, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get well %d: %w", id, err)
	}
	w.WellType = wellType.String
	return &w, nil
}

// IsWellActive reports whether a well exists and is active
func (d *Database) IsWellActive(ctx context.Context, id int) (bool, error) {
	var active bool
	err := d.db.QueryRowContext(ctx, `SELECT is_active FROM wells WHERE id = ?`, id).Scan(&active)
	if err == sql.ErrNoRows {
		return false, models.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check well %d: %w", id, err)
	}
	return active, nil
}

// ListWells returns all wells, active first
func (d *Database) ListWells(ctx context.Context) ([]models.Well, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, api_number, field_id, well_type, is_active, created_at
		FROM wells ORDER BY is_active DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wells: %w", err)
	}
	defer rows.Close()

	var wells []models.Well
	for rows.Next() {
		var w models.Well
		var wellType sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &w.APINumber, &w.FieldID, &wellType, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan well row: %w", err)
		}
		w.WellType = wellType.String
		wells = append(wells, w)
	}
	return wells, rows.Err()
}

// ListActiveWellIDs returns the ids of all active wells
func (d *Database) ListActiveWellIDs(ctx context.Context) ([]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM wells WHERE is_active = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active wells: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan well id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
