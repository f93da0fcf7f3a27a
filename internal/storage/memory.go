package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/mock"
	"github.com/funnyzak/mocktap/pkg/request"
)

type routeKey struct {
	path   string
	method string
}

// memoryStore keeps endpoints and access logs in process memory.
type memoryStore struct {
	mu  sync.RWMutex
	log logger.Logger
	now func() time.Time

	order  []string // endpoint ids in insertion order
	byID   map[string]*mock.Endpoint
	byPair map[routeKey]string

	logs      []*request.AccessLog
	nextLogID int64
}

func newMemoryStore(log logger.Logger) *memoryStore {
	return &memoryStore{
		log:    log,
		now:    time.Now,
		byID:   make(map[string]*mock.Endpoint),
		byPair: make(map[routeKey]string),
	}
}

func (s *memoryStore) Endpoints() EndpointStore { return &memoryEndpoints{s} }

func (s *memoryStore) AccessLogs() AccessLogStore { return &memoryAccessLogs{s} }

func (s *memoryStore) Close() error { return nil }

func keyOf(e *mock.Endpoint) routeKey {
	return routeKey{path: e.Path, method: e.Method}
}

type memoryEndpoints struct {
	*memoryStore
}

func (s *memoryEndpoints) Create(_ context.Context, def mock.Definition) (*mock.Endpoint, error) {
	def.ID = ""
	endpoint, err := mock.NewEndpoint(def, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPair[keyOf(endpoint)]; exists {
		return nil, mock.ErrEndpointExists
	}
	s.insertLocked(endpoint)
	return endpoint.Clone(), nil
}

func (s *memoryEndpoints) Update(_ context.Context, id string, def mock.Definition) (*mock.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, mock.ErrEndpointNotFound
	}
	next, err := current.Merge(def, s.now())
	if err != nil {
		return nil, err
	}
	if owner, exists := s.byPair[keyOf(next)]; exists && owner != id {
		return nil, mock.ErrEndpointExists
	}

	delete(s.byPair, keyOf(current))
	s.byPair[keyOf(next)] = id
	s.byID[id] = next
	return next.Clone(), nil
}

func (s *memoryEndpoints) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return mock.ErrEndpointNotFound
	}
	delete(s.byID, id)
	delete(s.byPair, keyOf(current))
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memoryEndpoints) FindByID(_ context.Context, id string) (*mock.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	endpoint, ok := s.byID[id]
	if !ok {
		return nil, mock.ErrEndpointNotFound
	}
	return endpoint.Clone(), nil
}

func (s *memoryEndpoints) FindByPathAndMethod(_ context.Context, path, method string) (*mock.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[routeKey{path: path, method: mock.NormalizeMethod(method)}]
	if !ok {
		return nil, mock.ErrEndpointNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *memoryEndpoints) FindAll(_ context.Context) ([]*mock.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*mock.Endpoint, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		result = append(result, s.byID[s.order[i]].Clone())
	}
	// Newest first; insertion order breaks ties.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})
	return result, nil
}

func (s *memoryEndpoints) ExportAll(_ context.Context) ([]*mock.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*mock.Endpoint, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.byID[id].Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result, nil
}

func (s *memoryEndpoints) ImportEndpoints(_ context.Context, defs []mock.Definition) (int, error) {
	now := s.now()
	endpoints := make([]*mock.Endpoint, 0, len(defs))
	ids := make(map[string]struct{}, len(defs))
	pairs := make(map[routeKey]struct{}, len(defs))
	for i, def := range defs {
		endpoint, err := mock.NewEndpoint(def, now)
		if err != nil {
			return 0, fmt.Errorf("endpoint %d: %w", i+1, err)
		}
		if _, dup := pairs[keyOf(endpoint)]; dup {
			return 0, mock.Conflictf("Duplicate endpoint in import: %s %s", endpoint.Method, endpoint.Path)
		}
		if _, dup := ids[endpoint.ID]; dup {
			return 0, mock.Conflictf("Duplicate endpoint in import: %s %s", endpoint.Method, endpoint.Path)
		}
		pairs[keyOf(endpoint)] = struct{}{}
		ids[endpoint.ID] = struct{}{}
		endpoints = append(endpoints, endpoint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.byID = make(map[string]*mock.Endpoint, len(endpoints))
	s.byPair = make(map[routeKey]string, len(endpoints))
	for _, endpoint := range endpoints {
		s.insertLocked(endpoint)
	}
	return len(endpoints), nil
}

func (s *memoryEndpoints) insertLocked(e *mock.Endpoint) {
	s.order = append(s.order, e.ID)
	s.byID[e.ID] = e
	s.byPair[keyOf(e)] = e.ID
}

type memoryAccessLogs struct {
	*memoryStore
}

func (s *memoryAccessLogs) Create(_ context.Context, entry *request.AccessLog) (*request.AccessLog, error) {
	if entry == nil {
		return nil, fmt.Errorf("access log entry is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	record := *entry
	record.ID = s.nextLogID
	record.Timestamp = s.now().Unix()
	s.logs = append(s.logs, &record)

	out := record
	return &out, nil
}

func (s *memoryAccessLogs) FindByEndpoint(_ context.Context, endpointID string, limit int) ([]*request.AccessLog, error) {
	return s.recent(limit, func(entry *request.AccessLog) bool {
		return entry.EndpointID == endpointID
	}), nil
}

func (s *memoryAccessLogs) FindRecent(_ context.Context, limit int) ([]*request.AccessLog, error) {
	return s.recent(limit, nil), nil
}

func (s *memoryAccessLogs) DeleteOld(_ context.Context, days int) (int64, error) {
	cutoff, err := retentionCutoff(s.now(), days)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	var removed int64
	for _, entry := range s.logs {
		if entry.Timestamp <= cutoff {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	for i := len(kept); i < len(s.logs); i++ {
		s.logs[i] = nil
	}
	s.logs = kept
	return removed, nil
}

func (s *memoryAccessLogs) recent(limit int, match func(*request.AccessLog) bool) []*request.AccessLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]*request.AccessLog, 0)
	for _, entry := range s.logs {
		if match != nil && !match(entry) {
			continue
		}
		out := *entry
		filtered = append(filtered, &out)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Timestamp != filtered[j].Timestamp {
			return filtered[i].Timestamp > filtered[j].Timestamp
		}
		return filtered[i].ID > filtered[j].ID
	})

	if limit = normalizeLimit(limit); len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}
