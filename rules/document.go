package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// ruleDocumentSchema is the structural contract for stored rule documents,
// checked before any condition parsing so malformed documents fail with a
// message naming the offending field rather than a parse error deep in the
// expression compiler.
const ruleDocumentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "name", "type"],
	"properties": {
		"id":   {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"type": {"type": "string", "enum": ["json", "code"]},
		"severity": {"type": "integer", "minimum": 0},
		"weight":   {"type": "number", "minimum": 0},
		"enabled":  {"type": "boolean"},
		"whenExpression": {"type": "string"},
		"ifExpression":   {"type": "string"},
		"errorCode":      {"type": "string"}
	},
	"allOf": [
		{
			"if":   {"properties": {"type": {"const": "json"}}},
			"then": {"required": ["ifExpression"]}
		},
		{
			"if":   {"properties": {"type": {"const": "code"}}},
			"then": {"required": ["errorCode"]}
		}
	]
}`

var ruleSchemaLoader = gojsonschema.NewStringLoader(ruleDocumentSchema)

// ValidateDocument checks a raw rule document against the structural schema.
// The returned error lists every violation.
func ValidateDocument(doc []byte) error {
	result, err := gojsonschema.Validate(ruleSchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "rules", "ValidateDocument", "document parsing")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrMissingConditionFields, strings.Join(msgs, "; ")),
		"rules", "ValidateDocument", "structural validation")
}

// ValidateRule re-encodes a decoded rule and validates its structure.
func ValidateRule(rule types.ValidationRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return errors.WrapInvalid(err, "rules", "ValidateRule", "rule encoding")
	}
	return ValidateDocument(data)
}
