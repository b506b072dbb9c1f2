// Package fieldfilter redacts response payloads down to the fields a grant
// exposes.
package fieldfilter

import (
	"encoding/json"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
)

// EnvelopeKey is the payload key of the standard response wrapper.
const EnvelopeKey = "data"

// envelopeKeys are the only keys a response wrapper may carry. A top-level
// map with any other key is a row, even if it has a data field.
var envelopeKeys = map[string]bool{EnvelopeKey: true, "pagination": true}

// Filter returns a copy of payload keeping only the fields allowed by
// fields. Collections are filtered element-wise, and envelopes are
// filtered inside their data key with the pagination sibling kept. A
// top-level datastore.Record is always a row. The input is
// never modified and the result shares no maps or slices with it.
func Filter(fields authz.FieldSet, payload any) any {
	if fields.All() || payload == nil {
		return payload
	}
	return filterValue(fields, normalize(payload), true)
}

func filterValue(fields authz.FieldSet, v any, top bool) any {
	switch t := v.(type) {
	case datastore.Record:
		return datastore.Record(filterObject(fields, t, false))
	case map[string]any:
		return filterObject(fields, t, top)
	case []datastore.Record:
		out := make([]datastore.Record, len(t))
		for i, item := range t {
			out[i] = datastore.Record(filterObject(fields, item, false))
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = filterObject(fields, item, false)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = filterValue(fields, item, false)
		}
		return out
	}
	return v
}

func filterObject(fields authz.FieldSet, obj map[string]any, top bool) map[string]any {
	if top && isEnvelope(obj) {
		if data, ok := obj[EnvelopeKey]; ok {
			out := make(map[string]any, len(obj))
			for k, v := range obj {
				if k == EnvelopeKey {
					continue
				}
				out[k] = datastore.CloneValue(v)
			}
			out[EnvelopeKey] = filterValue(fields, data, false)
			return out
		}
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if fields.Allows(k) {
			out[k] = datastore.CloneValue(v)
		}
	}
	return out
}

func isEnvelope(obj map[string]any) bool {
	if _, ok := obj[EnvelopeKey]; !ok {
		return false
	}
	for k := range obj {
		if !envelopeKeys[k] {
			return false
		}
	}
	return true
}

// normalize converts payloads that are not already JSON-like maps and
// slices (structs, typed slices) into their JSON object form.
func normalize(payload any) any {
	switch payload.(type) {
	case map[string]any, datastore.Record, []any, []map[string]any, []datastore.Record:
		return payload
	case string, bool, float64, int, int64, json.Number:
		return payload
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
