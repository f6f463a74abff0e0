package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"txguard/internal/normalize"
)

// ParseJSONBatch accepts an array of row objects or a single object.
// Numbers are kept as their literal text so amounts are not rounded.
func ParseJSONBatch(data []byte) ([]normalize.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &FormatError{Format: "json", Err: err}
	}
	var objs []map[string]any
	switch v := raw.(type) {
	case []any:
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &FormatError{Format: "json", Err: fmt.Errorf("element %d is not an object", i)}
			}
			objs = append(objs, obj)
		}
	case map[string]any:
		objs = append(objs, v)
	default:
		return nil, &FormatError{Format: "json", Err: fmt.Errorf("expected array of objects")}
	}
	if len(objs) == 0 {
		return nil, ErrEmptyBatch
	}
	records := make([]normalize.Record, 0, len(objs))
	for i, obj := range objs {
		records = append(records, ParseJSONMap(obj, i+1))
	}
	return records, nil
}

func ParseJSONMap(obj map[string]any, row int) normalize.Record {
	rec := normalize.Record{Row: row}
	for key, val := range obj {
		if val == nil {
			continue
		}
		assignField(&rec, canonicalField(key), fmt.Sprint(val))
	}
	return rec
}
