package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/mock"
	"github.com/funnyzak/mocktap/pkg/request"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	sqliteDriverName = "sqlite"
	schemaVersion    = 1
)

const endpointColumns = "id, path, method, status_code, response_headers, response_body, delay, content_type, created_at, updated_at"

const accessLogColumns = "id, endpoint_id, path, method, timestamp, ip_address, user_agent, query_params, request_body"

type sqliteStore struct {
	db  *sql.DB
	cfg *config.StorageConfig
	log logger.Logger
	now func() time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func newSQLiteStore(cfg *config.StorageConfig, log logger.Logger) (*sqliteStore, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	// Pragmas go through the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_txlock=immediate",
		filepath.ToSlash(absPath),
	)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(0)

	store := &sqliteStore{db: db, cfg: cfg, log: log, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS mock_endpoints (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    method TEXT NOT NULL,
    status_code INTEGER NOT NULL DEFAULT 200,
    response_headers TEXT NOT NULL DEFAULT '{}',
    response_body TEXT NOT NULL DEFAULT '{}',
    delay INTEGER NOT NULL DEFAULT 0,
    content_type TEXT NOT NULL DEFAULT 'application/json',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(path, method)
);

CREATE TABLE IF NOT EXISTS access_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    endpoint_id TEXT NOT NULL,
    path TEXT NOT NULL,
    method TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    query_params TEXT,
    request_body TEXT
);
CREATE INDEX IF NOT EXISTS idx_access_logs_endpoint ON access_logs(endpoint_id);
CREATE INDEX IF NOT EXISTS idx_access_logs_timestamp ON access_logs(timestamp);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}
	switch {
	case version > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	case version < schemaVersion:
		if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		s.log.Info("Storage schema initialized", "version", schemaVersion, "path", s.cfg.Path)
	}
	return nil
}

func (s *sqliteStore) Endpoints() EndpointStore { return &sqliteEndpoints{s} }

func (s *sqliteStore) AccessLogs() AccessLogStore { return &sqliteAccessLogs{s} }

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn in a transaction and rolls back when it fails.
func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteEndpoints struct {
	*sqliteStore
}

func (s *sqliteEndpoints) Create(ctx context.Context, def mock.Definition) (*mock.Endpoint, error) {
	def.ID = ""
	endpoint, err := mock.NewEndpoint(def, s.now())
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureRouteAvailable(ctx, tx, endpoint.Path, endpoint.Method, ""); err != nil {
			return err
		}
		return insertEndpoint(ctx, tx, endpoint)
	})
	if err != nil {
		return nil, err
	}
	return endpoint, nil
}

func (s *sqliteEndpoints) Update(ctx context.Context, id string, def mock.Definition) (*mock.Endpoint, error) {
	var updated *mock.Endpoint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := findEndpoint(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		next, err := current.Merge(def, s.now())
		if err != nil {
			return err
		}
		if err := ensureRouteAvailable(ctx, tx, next.Path, next.Method, id); err != nil {
			return err
		}
		headers, err := mock.EncodeHeaders(next.Headers)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE mock_endpoints SET
        path = ?, method = ?, status_code = ?, response_headers = ?,
        response_body = ?, delay = ?, content_type = ?, updated_at = ?
    WHERE id = ?`,
			next.Path,
			next.Method,
			next.StatusCode,
			headers,
			next.Body,
			next.Delay,
			next.ContentType,
			next.UpdatedAt,
			id,
		)
		if err != nil {
			return translateError(err, "update endpoint")
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *sqliteEndpoints) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM mock_endpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mock.ErrEndpointNotFound
	}
	return nil
}

func (s *sqliteEndpoints) FindByID(ctx context.Context, id string) (*mock.Endpoint, error) {
	return findEndpoint(ctx, s.db, "id = ?", id)
}

func (s *sqliteEndpoints) FindByPathAndMethod(ctx context.Context, path, method string) (*mock.Endpoint, error) {
	return findEndpoint(ctx, s.db, "path = ? AND method = ?", path, mock.NormalizeMethod(method))
}

func (s *sqliteEndpoints) FindAll(ctx context.Context) ([]*mock.Endpoint, error) {
	return listEndpoints(ctx, s.db, "ORDER BY created_at DESC, rowid DESC")
}

func (s *sqliteEndpoints) ExportAll(ctx context.Context) ([]*mock.Endpoint, error) {
	return listEndpoints(ctx, s.db, "ORDER BY created_at ASC, rowid ASC")
}

func (s *sqliteEndpoints) ImportEndpoints(ctx context.Context, defs []mock.Definition) (int, error) {
	now := s.now()
	endpoints := make([]*mock.Endpoint, 0, len(defs))
	for i, def := range defs {
		endpoint, err := mock.NewEndpoint(def, now)
		if err != nil {
			return 0, fmt.Errorf("endpoint %d: %w", i+1, err)
		}
		endpoints = append(endpoints, endpoint)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM mock_endpoints"); err != nil {
			return fmt.Errorf("clear endpoints: %w", err)
		}
		for _, endpoint := range endpoints {
			if err := insertEndpoint(ctx, tx, endpoint); err != nil {
				if errors.Is(err, mock.ErrConflict) {
					return mock.Conflictf("Duplicate endpoint in import: %s %s", endpoint.Method, endpoint.Path)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(endpoints), nil
}

func ensureRouteAvailable(ctx context.Context, q queryer, path, method, exceptID string) error {
	var owner string
	err := q.QueryRowContext(ctx,
		"SELECT id FROM mock_endpoints WHERE path = ? AND method = ? AND id <> ?",
		path, method, exceptID,
	).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check route: %w", err)
	default:
		return mock.ErrEndpointExists
	}
}

func insertEndpoint(ctx context.Context, q queryer, e *mock.Endpoint) error {
	headers, err := mock.EncodeHeaders(e.Headers)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO mock_endpoints (`+endpointColumns+`)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Path,
		e.Method,
		e.StatusCode,
		headers,
		e.Body,
		e.Delay,
		e.ContentType,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return translateError(err, "insert endpoint")
	}
	return nil
}

func findEndpoint(ctx context.Context, q queryer, where string, args ...interface{}) (*mock.Endpoint, error) {
	row := q.QueryRowContext(ctx, "SELECT "+endpointColumns+" FROM mock_endpoints WHERE "+where, args...)
	endpoint, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mock.ErrEndpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return endpoint, nil
}

func listEndpoints(ctx context.Context, q queryer, order string) ([]*mock.Endpoint, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+endpointColumns+" FROM mock_endpoints "+order)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*mock.Endpoint, 0)
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEndpoint(scanner interface {
	Scan(dest ...interface{}) error
}) (*mock.Endpoint, error) {
	var (
		endpoint    mock.Endpoint
		headersJSON string
	)
	if err := scanner.Scan(
		&endpoint.ID,
		&endpoint.Path,
		&endpoint.Method,
		&endpoint.StatusCode,
		&headersJSON,
		&endpoint.Body,
		&endpoint.Delay,
		&endpoint.ContentType,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	); err != nil {
		return nil, err
	}

	headers, err := mock.DecodeHeaders(headersJSON)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s has malformed headers: %w", endpoint.ID, err)
	}
	endpoint.Headers = headers
	return &endpoint, nil
}

// translateError maps uniqueness violations onto ErrConflict.
func translateError(err error, op string) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return mock.ErrEndpointExists
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type sqliteAccessLogs struct {
	*sqliteStore
}

func (s *sqliteAccessLogs) Create(ctx context.Context, entry *request.AccessLog) (*request.AccessLog, error) {
	if entry == nil {
		return nil, fmt.Errorf("access log entry is nil")
	}
	record := *entry
	record.Timestamp = s.now().Unix()

	var body sql.NullString
	if record.RequestBody != nil {
		body = sql.NullString{String: *record.RequestBody, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO access_logs (
        endpoint_id, path, method, timestamp, ip_address, user_agent, query_params, request_body
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.EndpointID,
		record.Path,
		record.Method,
		record.Timestamp,
		record.IPAddress,
		record.UserAgent,
		record.QueryParams,
		body,
	)
	if err != nil {
		return nil, fmt.Errorf("insert access log: %w", err)
	}
	if record.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *sqliteAccessLogs) FindByEndpoint(ctx context.Context, endpointID string, limit int) ([]*request.AccessLog, error) {
	return s.query(ctx, "WHERE endpoint_id = ?", []interface{}{endpointID}, limit)
}

func (s *sqliteAccessLogs) FindRecent(ctx context.Context, limit int) ([]*request.AccessLog, error) {
	return s.query(ctx, "", nil, limit)
}

func (s *sqliteAccessLogs) DeleteOld(ctx context.Context, days int) (int64, error) {
	cutoff, err := retentionCutoff(s.now(), days)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM access_logs WHERE timestamp <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old access logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteAccessLogs) query(ctx context.Context, where string, args []interface{}, limit int) ([]*request.AccessLog, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT " + accessLogColumns + " FROM access_logs ")
	queryBuilder.WriteString(where)
	queryBuilder.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ?")
	args = append(args, normalizeLimit(limit))

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*request.AccessLog, 0)
	for rows.Next() {
		entry, err := scanAccessLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanAccessLog(scanner interface {
	Scan(dest ...interface{}) error
}) (*request.AccessLog, error) {
	var (
		entry     request.AccessLog
		ip        sql.NullString
		userAgent sql.NullString
		query     sql.NullString
		body      sql.NullString
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.EndpointID,
		&entry.Path,
		&entry.Method,
		&entry.Timestamp,
		&ip,
		&userAgent,
		&query,
		&body,
	); err != nil {
		return nil, err
	}

	entry.IPAddress = ip.String
	entry.UserAgent = userAgent.String
	entry.QueryParams = query.String
	if body.Valid {
		text := body.String
		entry.RequestBody = &text
	}
	return &entry, nil
}
