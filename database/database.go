package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wellpipe/config"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

// Database handles all database operations
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &Database{db: db}, nil
}

// NewDatabaseFromConn wraps an existing connection; used by tests.
func NewDatabaseFromConn(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// GetDB returns the underlying sql.DB
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// EnsureTables creates all wellpipe tables if they don't exist
func (d *Database) EnsureTables(ctx context.Context) error {
	for name, ddl := range tableDDL {
		if _, err := d.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", name, err)
		}
		log.Infof("%s table ensured", name)
	}
	return nil
}

var tableDDL = map[string]string{
	"fields": `
		CREATE TABLE IF NOT EXISTS fields (
			id INT NOT NULL AUTO_INCREMENT,
			name VARCHAR(255) NOT NULL,
			code VARCHAR(64) NOT NULL,
			operator VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE INDEX field_name_unique (name),
			UNIQUE INDEX field_code_unique (code)
		)
	`,
	"wells": `
		CREATE TABLE IF NOT EXISTS wells (
			id INT NOT NULL AUTO_INCREMENT,
			name VARCHAR(255) NOT NULL,
			api_number VARCHAR(64) NOT NULL,
			field_id INT NOT NULL,
			well_type VARCHAR(32),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE INDEX api_number_unique (api_number),
			INDEX well_field_index (field_id),
			FOREIGN KEY (field_id) REFERENCES fields(id)
		)
	`,
	"telemetry_readings": `
		CREATE TABLE IF NOT EXISTS telemetry_readings (
			id BIGINT NOT NULL AUTO_INCREMENT,
			well_id INT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			oil_rate DOUBLE,
			gas_rate DOUBLE,
			water_rate DOUBLE,
			wellhead_pressure DOUBLE,
			tubing_pressure DOUBLE,
			casing_pressure DOUBLE,
			wellhead_temperature DOUBLE,
			flowline_temperature DOUBLE,
			choke_size DOUBLE,
			pump_status BOOLEAN,
			quality_score DOUBLE NOT NULL DEFAULT 100,
			is_anomaly BOOLEAN NOT NULL DEFAULT FALSE,
			source VARCHAR(32),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			INDEX telemetry_well_timestamp_index (well_id, timestamp),
			INDEX telemetry_timestamp_index (timestamp),
			FOREIGN KEY (well_id) REFERENCES wells(id)
		)
	`,
	"anomalies": `
		CREATE TABLE IF NOT EXISTS anomalies (
			id INT NOT NULL AUTO_INCREMENT,
			well_id INT NOT NULL,
			telemetry_id BIGINT,
			parameter VARCHAR(64) NOT NULL,
			value DOUBLE NOT NULL,
			expected_value DOUBLE,
			deviation DOUBLE,
			anomaly_score DOUBLE NOT NULL,
			detection_method VARCHAR(64),
			is_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			is_false_positive BOOLEAN NOT NULL DEFAULT FALSE,
			confirmed_by VARCHAR(255),
			confirmed_at TIMESTAMP NULL,
			notes TEXT,
			detected_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE INDEX anomaly_detection_key (well_id, telemetry_id, parameter),
			INDEX anomaly_detected_index (detected_at),
			FOREIGN KEY (well_id) REFERENCES wells(id)
		)
	`,
	"alerts": `
		CREATE TABLE IF NOT EXISTS alerts (
			id INT NOT NULL AUTO_INCREMENT,
			type ENUM('anomaly', 'data_quality', 'system', 'compliance', 'equipment') NOT NULL,
			severity ENUM('info', 'warning', 'critical') NOT NULL,
			title VARCHAR(255) NOT NULL,
			description TEXT,
			well_id INT,
			field_id INT,
			value DOUBLE,
			threshold DOUBLE,
			metric_name VARCHAR(64),
			is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_at TIMESTAMP NULL,
			resolved_by VARCHAR(255),
			resolution_notes TEXT,
			notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
			notification_sent_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			INDEX alert_type_index (type),
			INDEX alert_severity_index (severity),
			INDEX alert_resolved_index (is_resolved),
			INDEX alert_created_index (created_at)
		)
	`,
	"reports": `
		CREATE TABLE IF NOT EXISTS reports (
			id INT NOT NULL AUTO_INCREMENT,
			report_date DATE NOT NULL,
			status ENUM('pending', 'generating', 'validating', 'ready', 'uploading', 'uploaded', 'failed') NOT NULL DEFAULT 'pending',
			filename VARCHAR(255) NOT NULL,
			file_size BIGINT NOT NULL DEFAULT 0,
			total_wells INT NOT NULL DEFAULT 0,
			total_readings INT NOT NULL DEFAULT 0,
			oil_production_total DOUBLE NOT NULL DEFAULT 0,
			gas_production_total DOUBLE NOT NULL DEFAULT 0,
			water_production_total DOUBLE NOT NULL DEFAULT 0,
			data_quality_score DOUBLE NOT NULL DEFAULT 0,
			missing_samples INT NOT NULL DEFAULT 0,
			validation_errors JSON,
			validation_warnings JSON,
			artifact MEDIUMTEXT,
			upload_attempts INT NOT NULL DEFAULT 0,
			uploaded_at TIMESTAMP NULL,
			upload_response TEXT,
			generated_at TIMESTAMP NULL,
			generated_by VARCHAR(255),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE INDEX report_date_unique (report_date),
			INDEX report_status_index (status)
		)
	`,
}
