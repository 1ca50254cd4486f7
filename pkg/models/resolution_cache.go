package models

import "time"

// ResolutionCacheEntry records a prior successful resolution of a source
// account, unique on (source_platform, source_user_id). Entries are global,
// shared across users and imports. Misses are never cached; entries older
// than the validity window are treated as misses and re-resolved.
type ResolutionCacheEntry struct {
	ID              string           `json:"id" db:"id"`
	SourcePlatform  SourcePlatform   `json:"source_platform" db:"source_platform"`
	SourceUserID    string           `json:"source_user_id" db:"source_user_id"`
	GoodreadsUserID string           `json:"goodreads_user_id" db:"goodreads_user_id"`
	Confidence      float64          `json:"confidence" db:"confidence"`
	Method          ResolutionMethod `json:"method" db:"method"`
	LastVerifiedAt  time.Time        `json:"last_verified_at" db:"last_verified_at"`
}

// IsValid reports whether the entry is still within the validity window
func (e *ResolutionCacheEntry) IsValid(validity time.Duration, now time.Time) bool {
	return now.Sub(e.LastVerifiedAt) < validity
}
