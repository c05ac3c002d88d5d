// Package validator implements the RecordValidator (spec §4.3, C4). Grounded
// on JsonValidator.java: since the upstream parser silently nullifies both
// missing fields and fields whose types don't match, equality on normalised
// payloads (after re-encoding and after a source filter) is the only
// reliable oracle for whether a row actually conforms to its schema.
package validator

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/arkilian/cdcflow/internal/model"
)

// Result is the two-column annotation (valid, error) JsonValidator.validate
// returns, attached to the original row.
type Result struct {
	Valid bool
	Error string
}

// SourceFilter normalises known idiosyncrasies of the upstream replicator
// before comparison — e.g. a zero-time ISO-8601 timestamp collapsed to a
// date. Grounded on NomisDataFilter.apply. The zero value is a no-op filter.
type SourceFilter func(raw map[string]interface{}) map[string]interface{}

// IdentityFilter applies no normalisation.
func IdentityFilter(raw map[string]interface{}) map[string]interface{} {
	return raw
}

// Validator parses and validates one row against a schema.
type Validator struct {
	filter SourceFilter
}

// New creates a Validator using filter to normalise raw payloads before
// comparison. Pass IdentityFilter if the source needs no normalisation.
func New(filter SourceFilter) *Validator {
	if filter == nil {
		filter = IdentityFilter
	}
	return &Validator{filter: filter}
}

// Validate implements spec §4.3's three-step oracle:
//  1. parse data as a keyed structure;
//  2. re-encode and compare, key-set-wise, to the filtered raw payload;
//  3. confirm every non-nullable schema column has a non-null value.
//
// Step 2 simulates the upstream replicator's behavior of silently nulling
// out any field whose JSON type doesn't match the declared schema type
// (the same silent-nullification JsonValidator's doc comment calls out for
// Spark's from_json) by coercing the parsed copy against ref.Schema before
// comparing it to the filtered raw copy.
func (v *Validator) Validate(data string, ref model.SourceReference) Result {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return Result{Valid: false, Error: fmt.Sprintf("parse failure: %v", err)}
	}

	parsed := coerceToSchema(raw, ref)

	filteredRaw := removeNulls(v.filter(raw))
	parsedNoNulls := removeNulls(parsed)

	if !reflect.DeepEqual(filteredRaw, parsedNoNulls) {
		diff := diffKeys(filteredRaw, parsedNoNulls)
		return Result{Valid: false, Error: fmt.Sprintf("json validation failed, differences: %v", diff)}
	}

	for _, name := range ref.NonNullableColumns() {
		val, present := raw[name]
		if !present || val == nil {
			return Result{Valid: false, Error: fmt.Sprintf("non-null field %s is null", name)}
		}
	}

	return Result{Valid: true}
}

// coerceToSchema returns a copy of raw where any field whose JSON-decoded
// Go type is incompatible with its declared logical type is nulled out,
// mirroring the silent type-coercion-to-null behavior of the upstream
// replicator's parse step.
func coerceToSchema(raw map[string]interface{}, ref model.SourceReference) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	byName := make(map[string]model.Column, len(ref.Schema))
	for _, c := range ref.Schema {
		byName[c.Name] = c
	}
	for k, v := range raw {
		col, known := byName[k]
		if !known || v == nil || typeMatches(v, col.LogicalType) {
			out[k] = v
			continue
		}
		out[k] = nil
	}
	return out
}

// typeMatches reports whether the Go value decoded from JSON is compatible
// with logicalType. Unknown logical types are treated as always compatible.
func typeMatches(v interface{}, logicalType string) bool {
	switch logicalType {
	case "long", "integer", "short", "byte", "double", "float":
		_, ok := v.(float64)
		return ok
	case "string", "date", "timestamp":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// removeNulls drops keys whose value is nil, matching
// JsonValidator.removeNullValues — we treat null fields the same as
// missing fields.
func removeNulls(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// diffKeys reports, for debugging, which keys differ between a and b.
func diffKeys(a, b map[string]interface{}) map[string][2]interface{} {
	diff := make(map[string][2]interface{})
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			diff[k] = [2]interface{}{av, bv}
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			diff[k] = [2]interface{}{nil, bv}
		}
	}
	return diff
}
