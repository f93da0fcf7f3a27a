// Package mock holds the mock endpoint model and its text encodings.
package mock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ContentTypeJSON is the content type whose bodies are treated as JSON.
	ContentTypeJSON = "application/json"

	DefaultStatusCode  = http.StatusOK
	DefaultContentType = ContentTypeJSON
	DefaultBody        = "{}"
)

// Endpoint is a stored mock definition.
type Endpoint struct {
	ID          string
	Path        string
	Method      string
	StatusCode  int
	Headers     Headers
	Body        string
	Delay       int
	ContentType string
	CreatedAt   int64
	UpdatedAt   int64
}

// Definition is the user-supplied shape of an endpoint for create, update
// and import. Absent fields are distinguishable from explicit zero values.
type Definition struct {
	ID          string            `json:"id" yaml:"id"`
	Path        Optional[string]  `json:"path" yaml:"path"`
	Method      Optional[string]  `json:"method" yaml:"method"`
	StatusCode  Optional[int]     `json:"status_code" yaml:"status_code"`
	Headers     Optional[Headers] `json:"response_headers" yaml:"response_headers"`
	Body        Optional[Body]    `json:"response_body" yaml:"response_body"`
	Delay       Optional[int]     `json:"delay" yaml:"delay"`
	ContentType Optional[string]  `json:"content_type" yaml:"content_type"`
}

// NewEndpoint builds a new endpoint from def, applying defaults for every
// absent field. A fresh id is generated unless def carries one.
func NewEndpoint(def Definition, now time.Time) (*Endpoint, error) {
	if strings.TrimSpace(def.Path.Value) == "" || strings.TrimSpace(def.Method.Value) == "" {
		return nil, Validationf("Path and method are required")
	}

	e := &Endpoint{
		ID:          strings.TrimSpace(def.ID),
		Path:        def.Path.Value,
		Method:      NormalizeMethod(def.Method.Value),
		StatusCode:  def.StatusCode.Or(DefaultStatusCode),
		Headers:     def.Headers.Or(Headers{}).Clone(),
		Body:        string(def.Body.Or(DefaultBody)),
		Delay:       def.Delay.Or(0),
		ContentType: def.ContentType.Or(DefaultContentType),
		CreatedAt:   now.Unix(),
		UpdatedAt:   now.Unix(),
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Merge returns a copy of e with every field set in def applied on top.
// The id and created_at never change.
func (e *Endpoint) Merge(def Definition, now time.Time) (*Endpoint, error) {
	out := e.Clone()
	if def.Path.Set {
		out.Path = def.Path.Value
	}
	if def.Method.Set {
		out.Method = NormalizeMethod(def.Method.Value)
	}
	if def.StatusCode.Set {
		out.StatusCode = def.StatusCode.Value
	}
	if def.Headers.Set {
		out.Headers = def.Headers.Value.Clone()
	}
	if def.Body.Set {
		out.Body = string(def.Body.Value)
	}
	if def.Delay.Set {
		out.Delay = def.Delay.Value
	}
	if def.ContentType.Set {
		out.ContentType = def.ContentType.Value
	}
	out.UpdatedAt = now.Unix()
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks per-field rules.
func (e *Endpoint) Validate() error {
	if !strings.HasPrefix(e.Path, "/") {
		return Validationf("Path must start with '/'")
	}
	if e.Method == "" || strings.ContainsAny(e.Method, " \t\r\n") {
		return Validationf("Method must be a single HTTP verb")
	}
	if e.StatusCode < 100 || e.StatusCode > 599 {
		return Validationf("Status code must be between 100 and 599")
	}
	if e.Delay < 0 {
		return Validationf("Delay cannot be negative")
	}
	if strings.TrimSpace(e.ContentType) == "" {
		return Validationf("Content type cannot be empty")
	}
	return nil
}

// Clone returns a deep copy.
func (e *Endpoint) Clone() *Endpoint {
	out := *e
	out.Headers = e.Headers.Clone()
	return &out
}

// IsJSON reports whether the body is served as JSON.
func (e *Endpoint) IsJSON() bool {
	return e.ContentType == ContentTypeJSON
}

// RenderBody returns the bytes to write for this endpoint. JSON bodies are
// validated and compacted; invalid stored JSON is an error.
func (e *Endpoint) RenderBody() ([]byte, error) {
	if !e.IsJSON() {
		return []byte(e.Body), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(e.Body)); err != nil {
		return nil, fmt.Errorf("stored response body is not valid JSON: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizeMethod upper-cases an HTTP verb.
func NormalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}

type endpointView struct {
	ID          string      `json:"id" yaml:"id"`
	Path        string      `json:"path" yaml:"path"`
	Method      string      `json:"method" yaml:"method"`
	StatusCode  int         `json:"status_code" yaml:"status_code"`
	Headers     Headers     `json:"response_headers" yaml:"response_headers"`
	Body        interface{} `json:"response_body" yaml:"response_body"`
	Delay       int         `json:"delay" yaml:"delay"`
	ContentType string      `json:"content_type" yaml:"content_type"`
	CreatedAt   int64       `json:"created_at" yaml:"created_at"`
	UpdatedAt   int64       `json:"updated_at" yaml:"updated_at"`
}

func (e *Endpoint) view() endpointView {
	headers := e.Headers
	if headers == nil {
		headers = Headers{}
	}
	return endpointView{
		ID:          e.ID,
		Path:        e.Path,
		Method:      e.Method,
		StatusCode:  e.StatusCode,
		Headers:     headers,
		Body:        e.Body,
		Delay:       e.Delay,
		ContentType: e.ContentType,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// MarshalJSON renders the body as structured JSON when the endpoint is
// JSON-typed and its body parses to anything but a bare string; otherwise
// the stored text is written as a string.
func (e *Endpoint) MarshalJSON() ([]byte, error) {
	v := e.view()
	if e.structuredBody() {
		v.Body = json.RawMessage(e.Body)
	}
	return json.Marshal(v)
}

// MarshalYAML mirrors MarshalJSON for YAML exports. Key order and number
// literals of a structured body are preserved.
func (e *Endpoint) MarshalYAML() (interface{}, error) {
	v := e.view()
	if e.structuredBody() {
		node, err := jsonToYAMLNode([]byte(e.Body))
		if err != nil {
			return nil, err
		}
		v.Body = node
	}
	return v, nil
}

// structuredBody reports whether the body is exported as a JSON value
// rather than as text. A body holding a JSON string literal stays text so
// that importing it yields the same stored bytes.
func (e *Endpoint) structuredBody() bool {
	if !e.IsJSON() {
		return false
	}
	trimmed := bytes.TrimSpace([]byte(e.Body))
	return len(trimmed) > 0 && trimmed[0] != '"' && json.Valid(trimmed)
}
