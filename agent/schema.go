package agent

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// SchemaFor derives the JSON Schema for a tool's argument struct. Stage
// result types declare their shape once in Go and get the wire schema for
// free.
func SchemaFor[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(&zero)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	return out
}

// DecodeArguments unmarshals tool-call arguments into a typed struct.
// WeaklyTypedInput absorbs the usual model sloppiness (numbers as strings,
// single values where arrays are expected).
func DecodeArguments(raw []byte, out any) error {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	return DecodeMap(m, out)
}

// DecodeMap decodes a generic key-value document into a typed struct.
func DecodeMap(m map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(m)
}

// ToMap converts a typed stage output into the generic form used at the
// persistence boundary.
func ToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
