package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// ParamDecoder turns a job's encrypted parameter blob into a parameter map.
type ParamDecoder interface {
	Decode(ctx context.Context, encrypted string) (map[string]any, error)
}

// JSONDecoder treats the blob as a plain JSON object. It is the default when
// no decryption collaborator is configured.
type JSONDecoder struct{}

func (JSONDecoder) Decode(_ context.Context, encrypted string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(encrypted), &out); err != nil {
		return nil, fmt.Errorf("parameters are not a JSON object: %w", err)
	}
	return out, nil
}
