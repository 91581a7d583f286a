package utils

import (
	"encoding/json"
	"log"
)

// DecodeObjectOrEmpty decodes a JSON object, degrading a malformed payload to
// an empty map instead of failing the caller. A bad checklist payload must
// not take down a whole sync cycle.
func DecodeObjectOrEmpty(data []byte, context string) map[string]interface{} {
	if len(data) == 0 {
		return map[string]interface{}{}
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("⚠️ Malformed JSON payload (%s), degrading to empty object: %v", context, err)
		return map[string]interface{}{}
	}
	return result
}

// DecodeListOrEmpty decodes a JSON array into out, degrading a malformed
// payload to an empty slice.
func DecodeListOrEmpty[T any](data []byte, context string) []T {
	if len(data) == 0 {
		return nil
	}
	var result []T
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("⚠️ Malformed JSON list (%s), degrading to empty: %v", context, err)
		return nil
	}
	return result
}
