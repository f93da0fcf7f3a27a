package mock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxBodyDepth bounds nesting when converting YAML bodies, which may hold
// self-referencing aliases.
const maxBodyDepth = 512

// Body is response body text. A JSON string is kept verbatim; any other
// JSON value is kept as its compact serialization.
type Body string

// UnmarshalJSON implements json.Unmarshaler.
func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Body(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*b = Body(buf.String())
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Structured values become
// compact JSON with mapping order and number literals kept as written.
func (b *Body) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!str" {
		*b = Body(node.Value)
		return nil
	}
	var buf bytes.Buffer
	if err := writeYAMLAsJSON(&buf, node, 0); err != nil {
		return err
	}
	*b = Body(buf.String())
	return nil
}

func writeYAMLAsJSON(buf *bytes.Buffer, node *yaml.Node, depth int) error {
	if depth > maxBodyDepth {
		return Validationf("response_body is nested too deeply")
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeYAMLAsJSON(buf, node.Content[0], depth+1)
	case yaml.AliasNode:
		return writeYAMLAsJSON(buf, node.Alias, depth+1)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode {
				return Validationf("response_body keys must be scalars")
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(key.Value)
			if err != nil {
				return err
			}
			buf.Write(name)
			buf.WriteByte(':')
			if err := writeYAMLAsJSON(buf, node.Content[i+1], depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLAsJSON(buf, item, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		return writeYAMLScalar(buf, node)
	default:
		return Validationf("response_body cannot be represented as JSON")
	}
}

func writeYAMLScalar(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.ShortTag() {
	case "!!null":
		buf.WriteString("null")
	case "!!bool":
		var v bool
		if err := node.Decode(&v); err != nil {
			return Validationf("invalid boolean %q in response_body", node.Value)
		}
		buf.WriteString(strconv.FormatBool(v))
	case "!!int":
		if isJSONNumber(node.Value) {
			buf.WriteString(node.Value)
			return nil
		}
		var n int64
		if err := node.Decode(&n); err == nil {
			buf.WriteString(strconv.FormatInt(n, 10))
			return nil
		}
		var u uint64
		if err := node.Decode(&u); err == nil {
			buf.WriteString(strconv.FormatUint(u, 10))
			return nil
		}
		return Validationf("number %q in response_body cannot be represented as JSON", node.Value)
	case "!!float":
		if isJSONNumber(node.Value) {
			buf.WriteString(node.Value)
			return nil
		}
		var f float64
		if err := node.Decode(&f); err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return Validationf("number %q in response_body cannot be represented as JSON", node.Value)
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	default:
		// timestamps, binary and custom tags travel as their source text
		text, err := json.Marshal(node.Value)
		if err != nil {
			return err
		}
		buf.Write(text)
	}
	return nil
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

// jsonToYAMLNode converts a JSON document into a YAML node tree, keeping
// object key order and the literal text of every number.
func jsonToYAMLNode(data []byte) (*yaml.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := readYAMLValue(dec)
	if err != nil {
		return nil, fmt.Errorf("convert response body to YAML: %w", err)
	}
	return node, nil
}

func readYAMLValue(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		var node *yaml.Node
		switch v {
		case '{':
			node = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				value, err := readYAMLValue(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, scalarNode("!!str", key), value)
			}
		case '[':
			node = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				item, err := readYAMLValue(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, item)
			}
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", rune(v))
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return node, nil
	case string:
		return scalarNode("!!str", v), nil
	case json.Number:
		if strings.ContainsAny(v.String(), ".eE") {
			return scalarNode("!!float", v.String()), nil
		}
		return scalarNode("!!int", v.String()), nil
	case bool:
		return scalarNode("!!bool", strconv.FormatBool(v)), nil
	case nil:
		return scalarNode("!!null", "null"), nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}
