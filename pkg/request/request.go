package request

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxLoggedBodyChars caps the serialized request body kept in the access log.
const MaxLoggedBodyChars = 1000

// RequestData represents a received mock request
type RequestData struct {
	Timestamp     time.Time   `json:"timestamp"`
	Method        string      `json:"method"`
	Proto         string      `json:"proto"`
	Path          string      `json:"path"`
	Query         string      `json:"query"`
	RemoteAddr    string      `json:"remote_addr"`
	UserAgent     string      `json:"user_agent"`
	Headers       http.Header `json:"headers"`
	Body          []byte      `json:"body"`
	ContentType   string      `json:"content_type"`
	ContentLength int64       `json:"content_length"`
	IsBinary      bool        `json:"is_binary"`
}

// AccessLog is one persisted mock hit.
type AccessLog struct {
	ID          int64   `json:"id"`
	EndpointID  string  `json:"endpoint_id"`
	Path        string  `json:"path"`
	Method      string  `json:"method"`
	Timestamp   int64   `json:"timestamp"`
	IPAddress   string  `json:"ip_address"`
	UserAgent   string  `json:"user_agent"`
	QueryParams string  `json:"query_params"`
	RequestBody *string `json:"request_body"`
}

// Hit bundles a matched request with what was recorded and replayed for it.
type Hit struct {
	Request    *RequestData `json:"request"`
	Entry      *AccessLog   `json:"entry"`
	StatusCode int          `json:"status_code"`
	DelayMs    int          `json:"delay_ms"`
}

// NewRequestData creates a request record. path is the request path with
// the mock prefix already removed.
func NewRequestData(r *http.Request, path string, body []byte) *RequestData {
	contentType := r.Header.Get("Content-Type")

	return &RequestData{
		Timestamp:     time.Now(),
		Method:        r.Method,
		Proto:         r.Proto,
		Path:          path,
		Query:         r.URL.RawQuery,
		RemoteAddr:    getClientIP(r),
		UserAgent:     r.UserAgent(),
		Headers:       r.Header.Clone(),
		Body:          body,
		ContentType:   contentType,
		ContentLength: r.ContentLength,
		IsBinary:      isBinaryContent(contentType, body),
	}
}

// AccessLog derives the access-log row for a hit on endpointID.
func (d *RequestData) AccessLog(endpointID string) *AccessLog {
	return &AccessLog{
		EndpointID:  endpointID,
		Path:        d.Path,
		Method:      d.Method,
		IPAddress:   d.RemoteAddr,
		UserAgent:   d.UserAgent,
		QueryParams: serializeQuery(d.Query),
		RequestBody: serializeBody(d.ContentType, d.Body),
	}
}

// serializeQuery renders the query string as a JSON object. Repeated keys
// become arrays.
func serializeQuery(rawQuery string) string {
	values, _ := url.ParseQuery(rawQuery)
	return valuesJSON(values)
}

func valuesJSON(values url.Values) string {
	out := make(map[string]interface{}, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			out[key] = vals[0]
			continue
		}
		out[key] = vals
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// serializeBody renders the body as JSON text: JSON bodies are compacted,
// form bodies become objects and anything else a JSON string.
func serializeBody(contentType string, body []byte) *string {
	if len(body) == 0 {
		return nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	var text string
	switch {
	case strings.HasSuffix(mediaType, "json") && json.Valid(body):
		var buf bytes.Buffer
		if err := json.Compact(&buf, body); err == nil {
			text = buf.String()
		}
	case mediaType == "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(body)); err == nil {
			text = valuesJSON(form)
		}
	}
	if text == "" {
		data, _ := json.Marshal(string(body))
		text = string(data)
	}

	text = truncateChars(text, MaxLoggedBodyChars)
	return &text
}

func truncateChars(s string, max int) string {
	count := 0
	for idx := range s {
		if count == max {
			return s[:idx]
		}
		count++
	}
	return s
}

// getClientIP gets client real IP address
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client IP)
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Use RemoteAddr
	if idx := len(r.RemoteAddr) - 1; idx >= 0 && r.RemoteAddr[idx] >= '0' && r.RemoteAddr[idx] <= '9' {
		// Find colon from back to front
		for i := idx; i >= 0; i-- {
			if r.RemoteAddr[i] == ':' {
				return r.RemoteAddr[:i]
			}
		}
	}

	return r.RemoteAddr
}

// isBinaryContent detects if it's binary content
func isBinaryContent(contentType string, body []byte) bool {
	// Check Content-Type
	binaryTypes := []string{
		"image/", "video/", "audio/",
		"application/octet-stream",
		"application/zip", "application/gzip",
		"application/pdf", "application/msword",
		"application/vnd.ms-", "application/vnd.openxmlformats-",
	}

	for _, binaryType := range binaryTypes {
		if strings.HasPrefix(contentType, binaryType) {
			return true
		}
	}

	// Check null byte ratio
	nullCount := 0
	for _, b := range body {
		if b == 0 {
			nullCount++
		}
	}
	if len(body) > 0 && nullCount > len(body)/10 { // More than 10% are null bytes
		return true
	}

	return false
}
