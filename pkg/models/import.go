package models

import "time"

// ImportStatus tracks an import through its lifecycle
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusComplete   ImportStatus = "complete"
	ImportStatusFailed     ImportStatus = "failed"
)

// SourcePlatform identifies where a social account lives
type SourcePlatform string

const (
	PlatformTwitter   SourcePlatform = "twitter"
	PlatformGoodreads SourcePlatform = "goodreads"
)

// Import represents one scan of a source account's following list. Connections
// are created while the import is processing; resolution continues
// asynchronously after the import itself reaches complete.
// Field order matches schema: id, user_id, source_platform, source_account_id, ...
type Import struct {
	ID               string         `json:"id" db:"id"`
	UserID           string         `json:"user_id" db:"user_id"`
	SourcePlatform   SourcePlatform `json:"source_platform" db:"source_platform"`
	SourceAccountID  string         `json:"source_account_id" db:"source_account_id"`
	SourceHandle     string         `json:"source_handle" db:"source_handle"`
	Status           ImportStatus   `json:"status" db:"status"`
	TotalAccounts    int            `json:"total_accounts" db:"total_accounts"`
	ResolvedAccounts int            `json:"resolved_accounts" db:"resolved_accounts"`
	MatchedAccounts  int            `json:"matched_accounts" db:"matched_accounts"`
	Error            *string        `json:"error,omitempty" db:"error"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
	LastRefreshedAt  *time.Time     `json:"last_refreshed_at,omitempty" db:"last_refreshed_at"`
}

// IsTerminal reports whether the import has finished, successfully or not
func (i *Import) IsTerminal() bool {
	return i.Status == ImportStatusComplete || i.Status == ImportStatusFailed
}

// CreateImportRequest is the request for starting a new import
type CreateImportRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	SourcePlatform string `json:"source_platform" validate:"required,oneof=twitter"`
	SourceHandle   string `json:"source_handle" validate:"required,min=1,max=64"`
}

// ImportProgressResponse is returned from the import status endpoint
type ImportProgressResponse struct {
	Import      Import  `json:"import"`
	PercentDone float64 `json:"percent_done"`
}
