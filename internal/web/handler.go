package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/pkg/mock"
	"github.com/funnyzak/mocktap/pkg/request"
)

const (
	contentTypeJSON = "application/json"
	contentTypeYAML = "application/x-yaml"
)

// envelope is the admin API response shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Service serves the admin API and the live hit stream.
type Service struct {
	cfg       *config.Config
	logger    logger.Logger
	endpoints storage.EndpointStore
	logs      storage.AccessLogStore
	hub       *WebsocketHub
}

// NewService builds a Service on top of the given stores.
func NewService(cfg *config.Config, store storage.Store, log logger.Logger) *Service {
	svc := &Service{
		cfg:       cfg,
		logger:    log,
		endpoints: store.Endpoints(),
		logs:      store.AccessLogs(),
	}
	if cfg.Web.LiveEnable {
		svc.hub = NewWebsocketHub(log)
	}
	return svc
}

// RegisterRoutes wires the admin API under the configured admin path.
func (s *Service) RegisterRoutes(router *mux.Router) {
	if s == nil {
		return
	}

	api := router.PathPrefix(normalizePath(s.cfg.Server.AdminPath)).Subrouter()
	api.Use(s.recoverMiddleware)
	api.HandleFunc("/endpoints", s.handleListEndpoints).Methods(http.MethodGet)
	api.HandleFunc("/endpoints", s.handleCreateEndpoint).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}", s.handleGetEndpoint).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{id}", s.handleUpdateEndpoint).Methods(http.MethodPut)
	api.HandleFunc("/endpoints/{id}", s.handleDeleteEndpoint).Methods(http.MethodDelete)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	if s.hub != nil {
		api.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
	}
}

// RecordHit pushes a matched request to websocket clients.
func (s *Service) RecordHit(hit *request.Hit) {
	if s == nil || s.hub == nil || hit == nil {
		return
	}
	s.hub.Broadcast(hitEvent{
		Type:       "hit",
		Data:       hit.Entry,
		StatusCode: hit.StatusCode,
		DelayMs:    hit.DelayMs,
	})
}

// Close releases resources.
func (s *Service) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.Close()
}

type hitEvent struct {
	Type       string             `json:"type"`
	Data       *request.AccessLog `json:"data"`
	StatusCode int                `json:"status_code"`
	DelayMs    int                `json:"delay_ms"`
}

func (s *Service) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.endpoints.FindAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, envelope{Success: true, Data: endpoints})
}

func (s *Service) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.endpoints.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, envelope{Success: true, Data: endpoint})
}

func (s *Service) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var def mock.Definition
	if err := s.decodeJSON(w, r, &def); err != nil {
		s.respondError(w, err)
		return
	}

	endpoint, err := s.endpoints.Create(r.Context(), def)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("Mock endpoint created", "id", endpoint.ID, "method", endpoint.Method, "path", endpoint.Path)
	s.respondJSON(w, http.StatusOK, envelope{Success: true, Data: endpoint})
}

func (s *Service) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	var def mock.Definition
	if err := s.decodeJSON(w, r, &def); err != nil {
		s.respondError(w, err)
		return
	}

	endpoint, err := s.endpoints.Update(r.Context(), mux.Vars(r)["id"], def)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("Mock endpoint updated", "id", endpoint.ID, "method", endpoint.Method, "path", endpoint.Path)
	s.respondJSON(w, http.StatusOK, envelope{Success: true, Data: endpoint})
}

func (s *Service) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.endpoints.Delete(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("Mock endpoint deleted", "id", id)
	s.respondJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseIntDefault(query.Get("limit"), storage.DefaultLogLimit)

	var (
		entries []*request.AccessLog
		err     error
	)
	if endpointID := query.Get("endpoint_id"); endpointID != "" {
		entries, err = s.logs.FindByEndpoint(r.Context(), endpointID, limit)
	} else {
		entries, err = s.logs.FindRecent(r.Context(), limit)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, envelope{Success: true, Data: entries})
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.hub.Upgrade(w, r); err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}
}

// readBody reads the request body within the configured size limit.
func (s *Service) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if limit := s.cfg.Server.MaxBodyBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, mock.Validationf("Request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

func (s *Service) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	data, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		var merr *mock.Error
		if errors.As(err, &merr) {
			return merr
		}
		return mock.Validationf("Invalid JSON body: %v", err)
	}
	return nil
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Service) respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Admin request failed", "error", err)
	}
	s.respondJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func (s *Service) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic in admin handler",
					"panic", fmt.Sprint(rec),
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				s.respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusForError maps error kinds onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, mock.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, mock.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mock.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}

	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return def
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
