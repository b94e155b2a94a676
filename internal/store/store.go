// Package store implements the four durable relations named in §6.2:
// submissions, enrichment_sessions, stage_cache, user_field_edits. The
// teacher never persists anything beyond a Redis ping, so there is no
// direct file to generalize from; the pgx-as-plain-driver style (no
// ORM, hand-written SQL, explicit Scan calls) is grounded on how the
// rest of the pack uses jackc/pgx/v5.
package store

import (
	"context"
	"time"
)

// ProcessingState is the system-owned lifecycle column on Submission.
type ProcessingState string

const (
	ProcessingQueued       ProcessingState = "queued"
	ProcessingGathering    ProcessingState = "data_gathering"
	ProcessingAnalyzing    ProcessingState = "ai_analyzing"
	ProcessingFinalizing   ProcessingState = "finalizing"
	ProcessingCompleted    ProcessingState = "completed"
	ProcessingFailed       ProcessingState = "failed"
)

// UserStatus is the human-owned lifecycle column on Submission.
type UserStatus string

const (
	UserStatusSubmitted   UserStatus = "submitted"
	UserStatusAnalyzing   UserStatus = "analyzing"
	UserStatusReady       UserStatus = "ready"
	UserStatusReviewed    UserStatus = "reviewed"
	UserStatusSentToClient UserStatus = "sent_to_client"
	UserStatusArchived    UserStatus = "archived"
)

// Submission is the durable row backing a lead intake.
type Submission struct {
	ID                 int64
	Name               string
	Email              string
	Company            string
	Website            string
	Industry           string
	Challenge          string
	ProcessingState    ProcessingState
	UserStatus         UserStatus
	ErrorMessage       string
	ReportJSON         map[string]any
	EnrichmentSessionID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EnrichmentSessionRow is the persisted form of internal/enrichment.Session.
type EnrichmentSessionRow struct {
	SessionID     string
	CacheKey      string
	WebsiteURL    string
	UserEmail     string
	SessionData   map[string]any
	Status        string
	TotalCostUSD  float64
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// StageCacheRow is the persisted form of a stage cache entry, kept
// alongside the Redis-backed internal/cache.StageCache as the relation
// §6.2 requires; hit_count lets operators see reuse without scraping
// Redis.
type StageCacheRow struct {
	StageName    string
	CacheKey     string
	Result       map[string]any
	CostSavedUSD float64
	HitCount     int64
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// UserFieldEdit is one entry in the edit ledger (§4.10).
type UserFieldEdit struct {
	SessionID   string
	FieldName   string
	SourceValue any
	UserValue   any
	CreatedAt   time.Time
}

// SubmissionStore persists Submission rows.
type SubmissionStore interface {
	Create(ctx context.Context, s *Submission) (int64, error)
	Get(ctx context.Context, id int64) (*Submission, error)
	UpdateProcessingState(ctx context.Context, id int64, state ProcessingState, errMsg string) error
	UpdateReport(ctx context.Context, id int64, report map[string]any) error
	UpdateUserStatus(ctx context.Context, id int64, status UserStatus) error
	ListRecent(ctx context.Context, limit int) ([]*Submission, error)
}

// EnrichmentSessionStore persists EnrichmentSessionRow rows, mirroring
// internal/cache.EnrichmentCache's key derivation.
type EnrichmentSessionStore interface {
	Upsert(ctx context.Context, row *EnrichmentSessionRow) error
	GetByCacheKey(ctx context.Context, cacheKey string) (*EnrichmentSessionRow, error)
	GetByID(ctx context.Context, sessionID string) (*EnrichmentSessionRow, error)
}

// StageCacheStore persists StageCacheRow rows and tracks hit counts for
// operator visibility; the hot path for stage caching itself stays in
// internal/cache.StageCache (Redis), not here.
type StageCacheStore interface {
	UpsertStageCache(ctx context.Context, row *StageCacheRow) error
	RecordHit(ctx context.Context, stageName, cacheKey string, costSavedUSD float64) error
}

// EditLedgerStore persists the user-edit ledger and answers the edit
// count internal/enrichment.EditLedger needs for confidence scoring.
type EditLedgerStore interface {
	Append(ctx context.Context, edit *UserFieldEdit) error
	CountEdits(ctx context.Context, sessionID, field string) (int, error)
	// CountEditsForDomain aggregates edit history across every session
	// ever recorded for a website, since the live orchestrator only
	// knows the domain it is enriching, not a specific past session id.
	CountEditsForDomain(ctx context.Context, domain, field string) (int, error)
}
