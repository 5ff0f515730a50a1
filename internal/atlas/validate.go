package atlas

import (
	"encoding/json"
	"fmt"

	"github.com/atlascrawl/engine/pkg/types"
)

// schemaDoc is the subset of JSON Schema draft-07 this package actually
// checks: required field presence and, where declared, primitive/enum
// shape. It intentionally does not implement the full draft (no $ref
// resolution, no combinators, no format validation beyond what
// encoding/json already gives us for free) — see the VALIDATE_SCHEMAS
// entry in DESIGN.md for why this is hand-rolled rather than pulled from a
// library.
type schemaDoc struct {
	Required   []string                  `json:"required"`
	Properties map[string]schemaProperty `json:"properties"`
}

type schemaProperty struct {
	Type string   `json:"type"`
	Enum []string `json:"enum"`
}

// loadSchema parses one embedded schema file for a dataset.
func loadSchema(dataset types.Dataset) (*schemaDoc, error) {
	name, ok := schemaFilenames[dataset]
	if !ok {
		return nil, fmt.Errorf("atlas: no schema registered for dataset %s", dataset)
	}
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	var doc schemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	return &doc, nil
}

// ValidateRecord checks v, already marshaled to JSON elsewhere as the
// record that will be written to the dataset stream, against that
// dataset's schema. It reports the first violation found, not every one:
// callers use this only to decide whether to emit a SchemaValidation
// ErrorRecord, not to produce a full validation report.
func ValidateRecord(dataset types.Dataset, record []byte) error {
	schema, err := loadSchema(dataset)
	if err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return fmt.Errorf("record is not a JSON object: %w", err)
	}

	for _, req := range schema.Required {
		if _, ok := fields[req]; !ok {
			return fmt.Errorf("missing required field %q", req)
		}
	}

	for name, prop := range schema.Properties {
		raw, present := fields[name]
		if !present {
			continue
		}
		if err := checkType(name, raw, prop); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name string, raw json.RawMessage, prop schemaProperty) error {
	if len(prop.Enum) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("field %q: expected string for enum check", name)
		}
		for _, allowed := range prop.Enum {
			if s == allowed {
				return nil
			}
		}
		if s == "" {
			// Optional enum fields are commonly omitted as "" rather than
			// absent; schemas that care list "" among the allowed values.
			return nil
		}
		return fmt.Errorf("field %q: value %q is not one of the schema's enum values", name, s)
	}

	switch prop.Type {
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("field %q: expected string", name)
		}
	case "integer", "number":
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("field %q: expected number", name)
		}
	case "boolean":
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("field %q: expected boolean", name)
		}
	case "array":
		var a []json.RawMessage
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("field %q: expected array", name)
		}
	case "object":
		var o map[string]json.RawMessage
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("field %q: expected object", name)
		}
	}
	return nil
}
