package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/funnyzak/mocktap/pkg/mock"
)

// ExportEndpoints serializes endpoints into the desired document format and
// returns the payload with its content type and file extension.
func ExportEndpoints(endpoints []*mock.Endpoint, format string) ([]byte, string, string, error) {
	format = mock.NormalizeFormat(format)
	data, err := mock.EncodeDocument(endpoints, format)
	if err != nil {
		return nil, "", "", err
	}
	switch format {
	case mock.FormatYAML:
		return data, contentTypeYAML, "yaml", nil
	default:
		return data, contentTypeJSON, "json", nil
	}
}

// handleExport returns {success, data} by default. Any explicit format
// produces a downloadable document instead.
func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.endpoints.ExportAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		s.respondJSON(w, http.StatusOK, envelope{Success: true, Data: endpoints})
		return
	}

	data, contentType, ext, err := ExportEndpoints(endpoints, format)
	if err != nil {
		s.respondError(w, err)
		return
	}

	filename := fmt.Sprintf("mocktap_endpoints_%d.%s", time.Now().Unix(), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImport replaces every endpoint with the posted document. YAML is
// accepted when the content type or ?format says so.
func (s *Service) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := s.readBody(w, r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = mock.FormatFromContentType(r.Header.Get("Content-Type"))
	}
	defs, err := mock.ParseDefinitions(data, format)
	if err != nil {
		s.respondError(w, err)
		return
	}

	count, err := s.endpoints.ImportEndpoints(r.Context(), defs)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.logger.Info("Mock endpoints imported", "count", count, "format", mock.NormalizeFormat(format))
	s.respondJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf("Imported %d endpoints", count),
		Data:    map[string]int{"imported": count},
	})
}
