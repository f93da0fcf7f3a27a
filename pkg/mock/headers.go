package mock

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Header is a single response header as declared by the user.
type Header struct {
	Name  string
	Value string
}

// Headers keeps response headers in declaration order. When the same name
// appears twice the later entry wins once applied to a response.
type Headers []Header

// Clone returns a copy that shares no backing array with h.
func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// MarshalJSON writes headers as a JSON object preserving order.
func (h Headers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, hdr := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(hdr.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(hdr.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts either a JSON object or a string holding a JSON
// object, the latter being how headers travel in older exports.
func (h *Headers) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		parsed, err := DecodeHeaders(text)
		if err != nil {
			return err
		}
		*h = parsed
		return nil
	}
	parsed, err := decodeHeaderObject(data)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalYAML renders headers as an ordered mapping.
func (h Headers) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, hdr := range h {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: hdr.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: hdr.Value},
		)
	}
	return node, nil
}

// UnmarshalYAML accepts a mapping or a string holding a JSON object.
func (h *Headers) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := DecodeHeaders(node.Value)
		if err != nil {
			return err
		}
		*h = parsed
		return nil
	case yaml.MappingNode:
		out := make(Headers, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return Validationf("response header %q must be a scalar value", key.Value)
			}
			if value.ShortTag() == "!!null" {
				continue
			}
			out = append(out, Header{Name: key.Value, Value: value.Value})
		}
		*h = out
		return nil
	default:
		return Validationf("response_headers must be an object")
	}
}

// EncodeHeaders serializes headers into the text form kept in storage.
func EncodeHeaders(h Headers) (string, error) {
	data, err := h.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeHeaders parses the stored text form back into ordered headers.
func DecodeHeaders(text string) (Headers, error) {
	if strings.TrimSpace(text) == "" {
		return Headers{}, nil
	}
	return decodeHeaderObject([]byte(text))
}

func decodeHeaderObject(data []byte) (Headers, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, Validationf("response_headers must be a JSON object: %v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, Validationf("response_headers must be a JSON object")
	}

	out := Headers{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, Validationf("invalid response_headers: %v", err)
		}
		name, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, Validationf("invalid response_headers: %v", err)
		}
		value, skip, err := headerValue(name, raw)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		out = append(out, Header{Name: name, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, Validationf("invalid response_headers: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, Validationf("invalid response_headers: trailing data")
	}
	return out, nil
}

func headerValue(name string, raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", true, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, Validationf("invalid value for response header %q", name)
		}
		return s, false, nil
	case '{', '[':
		return "", false, Validationf("response header %q must be a scalar value", name)
	case 'n':
		return "", true, nil
	default:
		// numbers and booleans keep their literal spelling
		return string(raw), false, nil
	}
}
