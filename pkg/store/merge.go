package store

import (
	"encoding/json"
	"fmt"
)

// isAbsent reports whether a stored value stands for "no value".
func isAbsent(value json.RawMessage) bool {
	return len(value) == 0 || string(value) == "null"
}

// mergeFields applies a shallow merge of fields onto the object in current.
// A field set to JSON null is deleted, matching realtime database updates.
func mergeFields(current json.RawMessage, fields map[string]json.RawMessage) (json.RawMessage, error) {
	object := map[string]json.RawMessage{}
	if !isAbsent(current) {
		if err := json.Unmarshal(current, &object); err != nil {
			return nil, fmt.Errorf("cannot merge into non-object value: %w", err)
		}
	}
	for k, v := range fields {
		if isAbsent(v) {
			delete(object, k)
			continue
		}
		object[k] = v
	}
	if len(object) == 0 {
		return nil, nil
	}
	merged, err := json.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged value: %w", err)
	}
	return merged, nil
}

// validJSON rejects values that are not JSON documents.
func validJSON(value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("value is not valid JSON")
	}
	return nil
}
