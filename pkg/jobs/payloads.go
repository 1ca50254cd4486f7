// Package jobs defines the background job kinds, their payloads, and the
// handlers and queue machinery that run them.
package jobs

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a background job type
type Kind string

const (
	KindImport   Kind = "import"
	KindResolve  Kind = "resolve"
	KindActivity Kind = "activity"
	KindRefresh  Kind = "refresh"
)

// StreamFor returns the Redis stream name backing a job kind
func StreamFor(kind Kind) string {
	return "reading:jobs:" + string(kind)
}

// GroupFor returns the consumer group name for a job kind
func GroupFor(kind Kind) string {
	return "reading-workers-" + string(kind)
}

// ImportPayload kicks off fetching a user's social graph
type ImportPayload struct {
	ImportID string `json:"import_id"`
}

// ResolvePayload resolves one connection against the reading platform
type ResolvePayload struct {
	ImportID     string `json:"import_id"`
	ConnectionID string `json:"connection_id"`
}

// ActivityPayload syncs reading activity for one matched connection
type ActivityPayload struct {
	ConnectionID string `json:"connection_id"`
}

// RefreshPayload re-runs a completed import to pick up graph changes
type RefreshPayload struct {
	ImportID string `json:"import_id"`
}

// EncodePayload converts a typed payload into the generic job payload map
func EncodePayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to convert payload: %w", err)
	}
	return out, nil
}

// DecodePayload converts a generic job payload map into a typed payload
func DecodePayload(payload map[string]any, dest any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return nil
}
