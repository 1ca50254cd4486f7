package models

import "time"

// ResolutionMethod identifies which matcher produced a connection's match
type ResolutionMethod string

const (
	MethodLinkedURL ResolutionMethod = "linked_url"
	MethodEmail     ResolutionMethod = "email"
	MethodFuzzyName ResolutionMethod = "fuzzy_name"
	MethodUsername  ResolutionMethod = "username"
	MethodManual    ResolutionMethod = "manual"
)

// Connection links one followed social account to its (possibly absent)
// reading-platform match. Created unresolved at Import time; match fields are
// set by Resolve jobs or manual links. VerifiedByUser is only ever set by an
// explicit user action, never by automated matching.
// Field order matches schema: id, import_id, user_id, source_platform, ...
type Connection struct {
	ID                string            `json:"id" db:"id"`
	ImportID          string            `json:"import_id" db:"import_id"`
	UserID            string            `json:"user_id" db:"user_id"`
	SourcePlatform    SourcePlatform    `json:"source_platform" db:"source_platform"`
	SourceUserID      string            `json:"source_user_id" db:"source_user_id"`
	SourceHandle      string            `json:"source_handle" db:"source_handle"`
	SourceDisplayName string            `json:"source_display_name" db:"source_display_name"`
	SourceBio         string            `json:"source_bio" db:"source_bio"`
	SourceProfileURL  string            `json:"source_profile_url" db:"source_profile_url"`
	GoodreadsUserID   *string           `json:"goodreads_user_id,omitempty" db:"goodreads_user_id"`
	MatchConfidence   float64           `json:"match_confidence" db:"match_confidence"`
	MatchMethod       *ResolutionMethod `json:"match_method,omitempty" db:"match_method"`
	VerifiedByUser    bool              `json:"verified_by_user" db:"verified_by_user"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// IsMatched reports whether the connection has a resolution
func (c *Connection) IsMatched() bool {
	return c.GoodreadsUserID != nil && *c.GoodreadsUserID != ""
}

// ConnectionAction is a user review action on a connection
type ConnectionAction string

const (
	ActionConfirm    ConnectionAction = "confirm"
	ActionReject     ConnectionAction = "reject"
	ActionManualLink ConnectionAction = "manual_link"
)

// UpdateConnectionRequest is the request for reviewing a connection
type UpdateConnectionRequest struct {
	Action          string `json:"action" validate:"required,oneof=confirm reject manual_link"`
	GoodreadsUserID string `json:"goodreads_user_id" validate:"omitempty,numeric"`
}

// ConnectionListResponse is the response for listing connections
type ConnectionListResponse struct {
	Items      []Connection `json:"items"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}
