package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	SSLMode         string
	Charset         string
	ConnectTimeout  time.Duration
}

// MySQLDatabase owns the shared connection pool behind the MySQL-backed
// stores.
type MySQLDatabase struct {
	db     *sql.DB
	config MySQLConfig
	logger *logrus.Logger
}

// NewMySQLDatabase opens and verifies a MySQL connection. The initial ping
// retries briefly so the daemon survives a database that is still coming up.
func NewMySQLDatabase(config MySQLConfig, logger *logrus.Logger) (*MySQLDatabase, error) {
	if config.Charset == "" {
		config.Charset = "utf8mb4"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=UTC",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.Charset,
	)

	if config.SSLMode != "" {
		dsn += "&tls=" + config.SSLMode
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = config.ConnectTimeout
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}

	if err := backoff.Retry(db.Ping, bo); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := &MySQLDatabase{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Connected to MySQL database")

	return m, nil
}

// Close closes the database connection
func (m *MySQLDatabase) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Health checks database health
func (m *MySQLDatabase) Health() error {
	if err := m.db.Ping(); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Migrate runs database migrations
func (m *MySQLDatabase) Migrate() error {
	migrations := []string{
		createCallsTable,
		createAlertsTable,
		createAlertCallsTable,
		createInsightsTable,
	}

	for i, migration := range migrations {
		m.logger.WithField("migration", i+1).Debug("Running migration")

		if _, err := m.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	m.logger.Info("Database migrations completed successfully")
	return nil
}

// Database schema definitions
const createCallsTable = `
CREATE TABLE IF NOT EXISTS calls (
    call_id VARCHAR(64) PRIMARY KEY,
    status ENUM('pending', 'uploading', 'transcribing', 'analyzing', 'analyzed', 'failed') NOT NULL DEFAULT 'pending',
    audio_ref VARCHAR(512) NOT NULL,
    transcript JSON NULL,
    analysis JSON NULL,
    quality JSON NULL,
    error JSON NULL,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP(6) NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL,
    INDEX idx_status (status),
    INDEX idx_status_updated (status, updated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createAlertsTable = `
CREATE TABLE IF NOT EXISTS alerts (
    alert_id VARCHAR(64) PRIMARY KEY,
    type ENUM('quality', 'metric') NOT NULL,
    severity ENUM('critical', 'high', 'medium', 'low', 'info') NOT NULL,
    status ENUM('open', 'acknowledged', 'resolved', 'ignored') NOT NULL DEFAULT 'open',
    title VARCHAR(255) NOT NULL,
    description TEXT NULL,
    metric_name VARCHAR(128) NULL,
    metric_value DOUBLE NULL,
    threshold_value DOUBLE NULL,
    period VARCHAR(32) NULL,
    triggered_at TIMESTAMP(6) NOT NULL,
    acknowledged_at TIMESTAMP(6) NULL,
    acknowledged_by VARCHAR(128) NULL,
    resolved_at TIMESTAMP(6) NULL,
    resolution_notes TEXT NULL,
    updated_at TIMESTAMP(6) NOT NULL,
    UNIQUE KEY uq_metric_period (metric_name, period),
    INDEX idx_status (status),
    INDEX idx_type (type),
    INDEX idx_triggered_at (triggered_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createAlertCallsTable = `
CREATE TABLE IF NOT EXISTS alert_calls (
    alert_id VARCHAR(64) NOT NULL,
    call_id VARCHAR(64) NOT NULL,
    PRIMARY KEY (alert_id, call_id),
    FOREIGN KEY (alert_id) REFERENCES alerts(alert_id) ON DELETE CASCADE,
    INDEX idx_call_id (call_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createInsightsTable = `
CREATE TABLE IF NOT EXISTS insights (
    period_start DATE NOT NULL,
    period_type VARCHAR(16) NOT NULL,
    aggregate JSON NOT NULL,
    computed_at TIMESTAMP(6) NOT NULL,
    PRIMARY KEY (period_start, period_type)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`
