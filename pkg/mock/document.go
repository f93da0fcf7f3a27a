package mock

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported document formats for import and export.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is the import/export envelope: {"endpoints": [...]}.
type Document struct {
	Endpoints []*Endpoint `json:"endpoints" yaml:"endpoints"`
}

// EncodeDocument serializes endpoints in the requested format.
func EncodeDocument(endpoints []*Endpoint, format string) ([]byte, error) {
	if endpoints == nil {
		endpoints = []*Endpoint{}
	}
	doc := Document{Endpoints: endpoints}
	switch NormalizeFormat(format) {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, Validationf("Unsupported format: %s", format)
	}
}

// ParseDefinitions reads an import document. The endpoints key must hold
// an array; anything else is a validation error.
func ParseDefinitions(data []byte, format string) ([]Definition, error) {
	switch NormalizeFormat(format) {
	case FormatYAML:
		return parseYAMLDefinitions(data)
	case FormatJSON:
		return parseJSONDefinitions(data)
	default:
		return nil, Validationf("Unsupported format: %s", format)
	}
}

func parseJSONDefinitions(data []byte) ([]Definition, error) {
	var doc struct {
		Endpoints json.RawMessage `json:"endpoints"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, Validationf("Invalid JSON document: %v", err)
	}
	raw := bytes.TrimSpace(doc.Endpoints)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, Validationf("Endpoints must be an array")
	}
	var defs []Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, asValidation(err)
	}
	return defs, nil
}

func parseYAMLDefinitions(data []byte) ([]Definition, error) {
	var doc struct {
		Endpoints yaml.Node `yaml:"endpoints"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, Validationf("Invalid YAML document: %v", err)
	}
	if doc.Endpoints.Kind != yaml.SequenceNode {
		return nil, Validationf("Endpoints must be an array")
	}
	var defs []Definition
	if err := doc.Endpoints.Decode(&defs); err != nil {
		return nil, asValidation(err)
	}
	return defs, nil
}

func asValidation(err error) error {
	var merr *Error
	if errors.As(err, &merr) {
		return merr
	}
	return Validationf("Invalid endpoint definition: %v", err)
}

// NormalizeFormat maps aliases such as "yml" onto the canonical names.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	default:
		return strings.ToLower(strings.TrimSpace(format))
	}
}

// FormatFromContentType picks a document format for an HTTP body.
func FormatFromContentType(contentType string) string {
	if strings.Contains(strings.ToLower(contentType), "yaml") {
		return FormatYAML
	}
	return FormatJSON
}

// FormatFromPath picks a document format from a file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
