package document

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// ParseDocument decodes a JSON object into a Document. Numbers are kept as
// json.Number so integers survive without float rounding.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return Document(doc), nil
}

// MarshalJSON encodes the document with map keys in sorted order.
func (d Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(d))
}

// UnmarshalJSON decodes an operation, treating an explicit "value": null as present.
func (o *Operation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	var op Operation
	if v, ok := raw["kind"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return newError(CodeInvalidOperation, "", "kind must be a string")
		}
		op.Kind = Kind(s)
	}
	if v, ok := raw["path"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return newError(CodeInvalidOperation, "", "path must be a string")
		}
		op.Path = s
	}
	op.Value, op.HasValue = raw["value"]
	*o = op
	return nil
}
