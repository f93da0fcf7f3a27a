package mock

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Optional records whether a field was present in a decoded document.
// A JSON null counts as absent; any other value, including "" and 0, is set.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Or returns the held value, or def when the field was absent.
func (o Optional[T]) Or(def T) T {
	if o.Set {
		return o.Value
	}
	return def
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Set = true
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *Optional[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.ShortTag() == "!!null" {
		return nil
	}
	if err := node.Decode(&o.Value); err != nil {
		return err
	}
	o.Set = true
	return nil
}
