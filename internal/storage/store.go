package storage

import (
	"context"
	"errors"
	"time"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/mock"
	"github.com/funnyzak/mocktap/pkg/request"
)

// ErrUnsupportedDriver indicates the configured driver is not available.
var ErrUnsupportedDriver = errors.New("unsupported storage driver")

const (
	// DefaultLogLimit is used when a log query passes a non-positive limit.
	DefaultLogLimit = 100
	// DefaultRetentionDays is the retention used by the sweep when none is configured.
	DefaultRetentionDays = 30
)

const secondsPerDay = 86400

// EndpointStore persists mock endpoint definitions. At most one endpoint
// exists per (path, method) pair.
type EndpointStore interface {
	Create(ctx context.Context, def mock.Definition) (*mock.Endpoint, error)
	// Update merges def over the stored endpoint. Moving it onto a
	// (path, method) pair owned by another endpoint fails with ErrConflict.
	Update(ctx context.Context, id string, def mock.Definition) (*mock.Endpoint, error)
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*mock.Endpoint, error)
	FindByPathAndMethod(ctx context.Context, path, method string) (*mock.Endpoint, error)
	// FindAll returns every endpoint, most recently created first.
	FindAll(ctx context.Context) ([]*mock.Endpoint, error)
	// ExportAll returns every endpoint in creation order so that importing
	// the result recreates the same listing.
	ExportAll(ctx context.Context) ([]*mock.Endpoint, error)
	// ImportEndpoints replaces the whole set atomically and returns the
	// number of endpoints inserted.
	ImportEndpoints(ctx context.Context, defs []mock.Definition) (int, error)
}

// AccessLogStore is the append-only record of mock hits.
type AccessLogStore interface {
	// Create assigns the id and timestamp and appends the entry.
	Create(ctx context.Context, entry *request.AccessLog) (*request.AccessLog, error)
	FindByEndpoint(ctx context.Context, endpointID string, limit int) ([]*request.AccessLog, error)
	FindRecent(ctx context.Context, limit int) ([]*request.AccessLog, error)
	// DeleteOld removes entries at or before now - days*86400 and returns
	// how many were removed.
	DeleteOld(ctx context.Context, days int) (int64, error)
}

// Store bundles both stores behind one lifecycle.
type Store interface {
	Endpoints() EndpointStore
	AccessLogs() AccessLogStore
	Close() error
}

// New instantiates a Store based on configuration.
func New(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("storage config is nil")
	}
	switch driver := cfg.Driver; driver {
	case "", "sqlite", "sqlite3":
		store, err := newSQLiteStore(cfg, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return newMemoryStore(log), nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLogLimit
	}
	return limit
}

func retentionCutoff(now time.Time, days int) (int64, error) {
	if days < 0 {
		return 0, mock.Validationf("Days to keep cannot be negative")
	}
	return now.Unix() - int64(days)*secondsPerDay, nil
}
