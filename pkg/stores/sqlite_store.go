package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the Store implementation backing deployment history.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration. Zero pool values take the
// defaults applied by NewSQLiteStore.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a store for the given database file. Call Init
// before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database in WAL mode with foreign keys on and the
// configured pool limits.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// The DSN flag covers pooled connections; this covers the one the
	// ping just opened.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a serializable transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits tx.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls tx back.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// whereClause joins conditions into a WHERE clause, or returns "" when
// there are none.
func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// SaveDeployment writes a deployment and its attempts in one transaction.
// Saving the same deployment id twice is an error: outcomes are terminal
// and never rewritten.
func (s *SQLiteStore) SaveDeployment(ctx context.Context, d *Deployment, attempts []Attempt) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO deployments (
			id, kind, name, mode, instance, status, strategy_used,
			canonical_id, package_id, verification_rounds, completeness_score,
			failure_reason, started_at, completed_at, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		d.ID,
		d.Kind,
		d.Name,
		d.Mode,
		d.Instance,
		d.Status,
		d.StrategyUsed,
		d.CanonicalID,
		d.PackageID,
		d.VerificationRounds,
		d.CompletenessScore,
		d.FailureReason,
		d.StartedAt,
		d.CompletedAt,
		d.DurationMS,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}

	attemptQuery := `
		INSERT INTO attempts (
			deployment_id, position, strategy, status, status_code,
			error_class, error_code, error_message,
			started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, a := range attempts {
		_, err = tx.ExecContext(ctx, attemptQuery,
			d.ID,
			a.Position,
			a.Strategy,
			a.Status,
			a.StatusCode,
			a.ErrorClass,
			a.ErrorCode,
			a.ErrorMessage,
			a.StartedAt,
			a.CompletedAt,
			a.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt %d: %w", a.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deployment: %w", err)
	}

	return nil
}

const deploymentColumns = `
	id, kind, name, mode, instance, status, strategy_used,
	canonical_id, package_id, verification_rounds, completeness_score,
	failure_reason, started_at, completed_at, duration_ms, created_at
`

func scanDeployment(row interface{ Scan(dest ...interface{}) error }) (*Deployment, error) {
	d := &Deployment{}
	err := row.Scan(
		&d.ID,
		&d.Kind,
		&d.Name,
		&d.Mode,
		&d.Instance,
		&d.Status,
		&d.StrategyUsed,
		&d.CanonicalID,
		&d.PackageID,
		&d.VerificationRounds,
		&d.CompletenessScore,
		&d.FailureReason,
		&d.StartedAt,
		&d.CompletedAt,
		&d.DurationMS,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`

	d, err := scanDeployment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return d, nil
}

// ListDeployments lists deployments matching the filter, most recent
// first.
func (s *SQLiteStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*Deployment, error) {
	conditions := []string{}
	args := []interface{}{}

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := `SELECT ` + deploymentColumns + ` FROM deployments` +
		whereClause(conditions) +
		" ORDER BY started_at DESC LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}

// LastDeployment returns the most recent deployment of the named
// artifact, or nil when none is recorded.
func (s *SQLiteStore) LastDeployment(ctx context.Context, kind, name string) (*Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE kind = ? AND name = ?
		ORDER BY started_at DESC
		LIMIT 1
	`

	d, err := scanDeployment(s.db.QueryRowContext(ctx, query, kind, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last deployment: %w", err)
	}

	return d, nil
}

// ListAttempts lists the attempts of a deployment in chain order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, deploymentID string) ([]*Attempt, error) {
	query := `
		SELECT id, deployment_id, position, strategy, status, status_code,
		       error_class, error_code, error_message,
		       started_at, completed_at, duration_ms
		FROM attempts
		WHERE deployment_id = ?
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*Attempt{}
	for rows.Next() {
		a := &Attempt{}
		err := rows.Scan(
			&a.ID,
			&a.DeploymentID,
			&a.Position,
			&a.Strategy,
			&a.Status,
			&a.StatusCode,
			&a.ErrorClass,
			&a.ErrorCode,
			&a.ErrorMessage,
			&a.StartedAt,
			&a.CompletedAt,
			&a.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// DeleteDeployment deletes a deployment and, through cascade, its
// attempts and events.
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", id)
	}

	return nil
}

// PruneBefore deletes deployments that started before the cutoff and
// returns the number removed.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune deployments: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendEvent appends one log line to a deployment's event trail and
// fills in the assigned id.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (deployment_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.DeploymentID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id

	return nil
}

// GetEvents retrieves events, newest first, filtered by deployment and
// level when the pointers are non-nil.
func (s *SQLiteStore) GetEvents(ctx context.Context, deploymentID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	conditions := []string{}
	args := []interface{}{}

	if deploymentID != nil {
		conditions = append(conditions, "deployment_id = ?")
		args = append(args, *deploymentID)
	}
	if level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, *level)
	}
	args = append(args, limit, offset)

	query := `SELECT id, deployment_id, level, message, details, timestamp FROM events` +
		whereClause(conditions) +
		" ORDER BY timestamp DESC LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.DeploymentID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CreateAuditEntry records who did what to which deployment.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit_entries (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}
	entry.ID = id

	return nil
}

// ListAuditEntries lists audit entries, newest first, filtered by action
// and actor when the pointers are non-nil.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	conditions := []string{}
	args := []interface{}{}

	if action != nil {
		conditions = append(conditions, "action = ?")
		args = append(args, *action)
	}
	if actor != nil {
		conditions = append(conditions, "actor = ?")
		args = append(args, *actor)
	}
	args = append(args, limit, offset)

	query := `SELECT id, action, actor, target_id, details, timestamp FROM audit_entries` +
		whereClause(conditions) +
		" ORDER BY timestamp DESC LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database answers queries.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("health check returned unexpected result: %d", one)
	}

	return nil
}
