package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/printer"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/pkg/mock"
	"github.com/funnyzak/mocktap/pkg/request"
)

// HitRecorder receives every served hit, e.g. the live websocket stream.
type HitRecorder interface {
	RecordHit(*request.Hit)
}

// HandlerConfig holds the dispatcher settings.
type HandlerConfig struct {
	MockPrefix   string
	MaxBodyBytes int64
}

// Handler dispatches requests under the mock prefix to stored endpoints.
type Handler struct {
	endpoints storage.EndpointStore
	logs      storage.AccessLogStore
	printer   printer.Printer
	live      HitRecorder
	logger    logger.Logger
	config    *HandlerConfig
	baseCtx   context.Context
	procWG    *sync.WaitGroup
}

var errRequestBodyTooLarge = errors.New("request body exceeds configured limit")

// errorPayload is the mock surface error shape.
type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHandler creates a new mock dispatcher
func NewHandler(
	store storage.Store,
	printer printer.Printer,
	live HitRecorder,
	logger logger.Logger,
	config *HandlerConfig,
	baseCtx context.Context,
	procWG *sync.WaitGroup,
) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if procWG == nil {
		procWG = &sync.WaitGroup{}
	}
	return &Handler{
		endpoints: store.Endpoints(),
		logs:      store.AccessLogs(),
		printer:   printer,
		live:      live,
		logger:    logger,
		config:    config,
		baseCtx:   baseCtx,
		procWG:    procWG,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := h.mockPath(r.URL.Path)
	method := mock.NormalizeMethod(r.Method)

	// MATCH
	endpoint, err := h.endpoints.FindByPathAndMethod(r.Context(), path, method)
	if err != nil {
		if errors.Is(err, mock.ErrNotFound) {
			h.logger.Debug("No mock configured", "method", method, "path", path)
			writeJSON(w, http.StatusNotFound, errorPayload{
				Error:   "Mock endpoint not found",
				Message: fmt.Sprintf("No mock configured for %s %s", method, path),
			})
			return
		}
		h.logger.Error("Failed to look up mock endpoint", "error", err, "method", method, "path", path)
		writeInternalError(w, err)
		return
	}

	bodyBytes, err := h.readRequestBody(r)
	if err != nil {
		h.handleBodyReadError(w, err)
		return
	}

	// LOG
	data := request.NewRequestData(r, path, bodyBytes)
	data.Method = method
	entry := h.recordAccess(r.Context(), data.AccessLog(endpoint.ID))

	// DELAY
	if endpoint.Delay > 0 {
		timer := time.NewTimer(time.Duration(endpoint.Delay) * time.Millisecond)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			h.logger.Debug("Client went away during mock delay",
				"endpoint_id", endpoint.ID,
				"delay_ms", endpoint.Delay,
			)
			return
		}
	}

	// RESPOND
	body, err := endpoint.RenderBody()
	if err != nil {
		h.logger.Error("Stored mock body is invalid", "error", err, "endpoint_id", endpoint.ID)
		writeInternalError(w, err)
		return
	}
	for _, header := range endpoint.Headers {
		if header.Name == "" {
			continue
		}
		w.Header().Set(header.Name, header.Value)
	}
	w.Header().Set("Content-Type", endpoint.ContentType)
	w.WriteHeader(endpoint.StatusCode)
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			h.logger.Debug("Failed to write mock response", "error", err, "endpoint_id", endpoint.ID)
		}
	}

	h.publish(&request.Hit{
		Request:    data,
		Entry:      entry,
		StatusCode: endpoint.StatusCode,
		DelayMs:    endpoint.Delay,
	})
}

// mockPath strips the mock prefix, keeping the leading slash.
func (h *Handler) mockPath(urlPath string) string {
	path := strings.TrimPrefix(urlPath, h.config.MockPrefix)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// recordAccess persists the entry. The write outlives a disconnecting
// client and its failures never reach the response.
func (h *Handler) recordAccess(ctx context.Context, entry *request.AccessLog) (stored *request.AccessLog) {
	stored = entry
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Panic while recording access log", "panic", fmt.Sprint(rec), "endpoint_id", entry.EndpointID)
			stored = entry
		}
	}()

	saved, err := h.logs.Create(context.WithoutCancel(ctx), entry)
	if err != nil {
		h.logger.Error("Failed to record access log",
			"error", err,
			"endpoint_id", entry.EndpointID,
			"method", entry.Method,
			"path", entry.Path,
		)
		return entry
	}
	return saved
}

// publish hands the hit to the printer and the live stream off the
// request goroutine.
func (h *Handler) publish(hit *request.Hit) {
	if h.printer == nil && h.live == nil {
		return
	}
	h.procWG.Add(1)
	go func() {
		defer h.procWG.Done()
		ctx, cancel := context.WithCancel(h.baseCtx)
		defer cancel()
		h.processHit(ctx, hit)
	}()
}

func (h *Handler) processHit(ctx context.Context, hit *request.Hit) {
	h.logger.Info("Mock hit",
		"endpoint_id", hit.Entry.EndpointID,
		"method", hit.Entry.Method,
		"path", hit.Entry.Path,
		"status", hit.StatusCode,
		"delay_ms", hit.DelayMs,
		"remote_addr", hit.Entry.IPAddress,
	)

	group, _ := errgroup.WithContext(ctx)

	if h.printer != nil {
		group.Go(func() error {
			if err := h.printer.PrintHit(hit); err != nil {
				h.logger.Error("Failed to print hit", "error", err, "endpoint_id", hit.Entry.EndpointID)
			}
			return nil
		})
	}

	if h.live != nil {
		group.Go(func() error {
			h.live.RecordHit(hit)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		h.logger.Warn("Hit processing finished with errors", "error", err)
	}
}

func (h *Handler) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	if h.config.MaxBodyBytes <= 0 {
		return io.ReadAll(r.Body)
	}

	limited := io.LimitReader(r.Body, h.config.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > h.config.MaxBodyBytes {
		return nil, errRequestBodyTooLarge
	}
	return body, nil
}

func (h *Handler) handleBodyReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errRequestBodyTooLarge):
		h.logger.Warn("Request body exceeds configured limit",
			"limit_bytes", h.config.MaxBodyBytes,
		)
		writeJSON(w, http.StatusRequestEntityTooLarge, errorPayload{
			Error:   "Payload too large",
			Message: fmt.Sprintf("Request body exceeds %d bytes", h.config.MaxBodyBytes),
		})
	default:
		h.logger.Error("Failed to read request body", "error", err)
		writeInternalError(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, errorPayload{
		Error:   "Internal server error",
		Message: err.Error(),
	})
}

// recoverMiddleware turns a panic in the mock surface into a 500.
func recoverMiddleware(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Panic in mock handler",
					"panic", fmt.Sprint(rec),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeInternalError(w, fmt.Errorf("%v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
