package postgres

import "encoding/json"

// MetadataToJSON converts metadata map to a jsonb literal. nil becomes "{}".
func MetadataToJSON(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
