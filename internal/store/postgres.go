package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/apperr"
)

// Postgres is the pgx-backed implementation of every store interface
// in this package. One pool is shared across all four relations, the
// same way the teacher shares one redisclient.Client across its
// caching and metering subsystems.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres opens a connection pool against dsn and verifies it with
// a ping, failing fast per §6.3's startup validation.
func NewPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "postgres_pool_init_failed", "failed to create postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.New(apperr.KindInternal, "postgres_ping_failed", "failed to reach postgres", err)
	}
	return &Postgres{pool: pool, logger: logger.With().Str("component", "postgres_store").Logger()}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// ApplySchema runs the DDL in Schema, creating every relation and index
// it declares if they don't already exist. Safe to call on every
// startup.
func (p *Postgres) ApplySchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return apperr.New(apperr.KindInternal, "schema_apply_failed", "failed to apply database schema", err)
	}
	return nil
}

// Schema is the §6.2 DDL, applied once at startup by the caller (no
// migration framework is wired — the teacher's own database footprint
// never grows past a Redis Ping, so there is no teacher migration
// runner to generalize from; this mirrors what the spec actually
// demands: four relations with named indexes, nothing more).
const Schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id                    BIGSERIAL PRIMARY KEY,
	name                  TEXT NOT NULL,
	email                 TEXT NOT NULL,
	company               TEXT NOT NULL,
	website               TEXT NOT NULL,
	industry              TEXT NOT NULL,
	challenge             TEXT NOT NULL,
	processing_state      TEXT NOT NULL CHECK (processing_state IN ('queued','data_gathering','ai_analyzing','finalizing','completed','failed')),
	user_status           TEXT NOT NULL CHECK (user_status IN ('submitted','analyzing','ready','reviewed','sent_to_client','archived')),
	error_message         TEXT NOT NULL DEFAULT '',
	report_json           JSONB,
	enrichment_session_id TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (processing_state <> 'failed' OR error_message <> ''),
	CHECK (processing_state <> 'completed' OR report_json IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS submissions_created_at_idx ON submissions (created_at DESC);

CREATE TABLE IF NOT EXISTS enrichment_sessions (
	session_id     TEXT PRIMARY KEY,
	cache_key      TEXT NOT NULL,
	website_url    TEXT NOT NULL,
	user_email     TEXT NOT NULL,
	session_data   JSONB NOT NULL,
	status         TEXT NOT NULL,
	total_cost_usd NUMERIC(12,6) NOT NULL DEFAULT 0,
	expires_at     TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS enrichment_sessions_cache_key_idx ON enrichment_sessions (cache_key);

CREATE TABLE IF NOT EXISTS stage_cache (
	stage_name     TEXT NOT NULL,
	cache_key      TEXT NOT NULL,
	result         JSONB NOT NULL,
	cost_saved_usd NUMERIC(12,6) NOT NULL DEFAULT 0,
	hit_count      BIGINT NOT NULL DEFAULT 0,
	expires_at     TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (stage_name, cache_key)
);
CREATE INDEX IF NOT EXISTS stage_cache_lookup_idx ON stage_cache (stage_name, cache_key);

CREATE TABLE IF NOT EXISTS user_field_edits (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT NOT NULL,
	field_name   TEXT NOT NULL,
	source_value JSONB,
	user_value   JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS user_field_edits_session_idx ON user_field_edits (session_id, field_name);
`

// --- SubmissionStore -------------------------------------------------

func (p *Postgres) Create(ctx context.Context, s *Submission) (int64, error) {
	reportJSON, err := marshalNullable(s.ReportJSON)
	if err != nil {
		return 0, apperr.New(apperr.KindInternal, "submission_marshal_failed", "failed to marshal report json", err)
	}
	var id int64
	err = p.pool.QueryRow(ctx, `
		INSERT INTO submissions (name, email, company, website, industry, challenge, processing_state, user_status, error_message, report_json, enrichment_session_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`,
		s.Name, s.Email, s.Company, s.Website, s.Industry, s.Challenge,
		s.ProcessingState, s.UserStatus, s.ErrorMessage, reportJSON, s.EnrichmentSessionID,
	).Scan(&id)
	if err != nil {
		return 0, apperr.New(apperr.KindInternal, "submission_insert_failed", "failed to insert submission", err)
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, id int64) (*Submission, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, email, company, website, industry, challenge, processing_state, user_status,
		       error_message, report_json, enrichment_session_id, created_at, updated_at
		FROM submissions WHERE id = $1`, id)

	var s Submission
	var reportJSON []byte
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Company, &s.Website, &s.Industry, &s.Challenge,
		&s.ProcessingState, &s.UserStatus, &s.ErrorMessage, &reportJSON, &s.EnrichmentSessionID,
		&s.CreatedAt, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "submission_not_found", fmt.Sprintf("no submission with id %d", id), nil)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "submission_query_failed", "failed to query submission", err)
	}
	if len(reportJSON) > 0 {
		if err := json.Unmarshal(reportJSON, &s.ReportJSON); err != nil {
			return nil, apperr.New(apperr.KindInternal, "submission_report_unmarshal_failed", "failed to unmarshal report json", err)
		}
	}
	return &s, nil
}

func (p *Postgres) UpdateProcessingState(ctx context.Context, id int64, state ProcessingState, errMsg string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE submissions SET processing_state = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		state, errMsg, id)
	if err != nil {
		return apperr.New(apperr.KindInternal, "submission_state_update_failed", "failed to update processing state", err)
	}
	return nil
}

func (p *Postgres) UpdateReport(ctx context.Context, id int64, report map[string]any) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return apperr.New(apperr.KindInternal, "submission_report_marshal_failed", "failed to marshal report", err)
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE submissions SET report_json = $1, processing_state = 'completed', updated_at = now() WHERE id = $2`,
		raw, id)
	if err != nil {
		return apperr.New(apperr.KindInternal, "submission_report_update_failed", "failed to update report", err)
	}
	return nil
}

func (p *Postgres) UpdateUserStatus(ctx context.Context, id int64, status UserStatus) error {
	_, err := p.pool.Exec(ctx, `UPDATE submissions SET user_status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return apperr.New(apperr.KindInternal, "submission_user_status_update_failed", "failed to update user status", err)
	}
	return nil
}

func (p *Postgres) ListRecent(ctx context.Context, limit int) ([]*Submission, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, email, company, website, industry, challenge, processing_state, user_status,
		       error_message, report_json, enrichment_session_id, created_at, updated_at
		FROM submissions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "submission_list_failed", "failed to list submissions", err)
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		var s Submission
		var reportJSON []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Company, &s.Website, &s.Industry, &s.Challenge,
			&s.ProcessingState, &s.UserStatus, &s.ErrorMessage, &reportJSON, &s.EnrichmentSessionID,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.New(apperr.KindInternal, "submission_scan_failed", "failed to scan submission row", err)
		}
		if len(reportJSON) > 0 {
			_ = json.Unmarshal(reportJSON, &s.ReportJSON)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// --- EnrichmentSessionStore -------------------------------------------

func (p *Postgres) Upsert(ctx context.Context, row *EnrichmentSessionRow) error {
	data, err := json.Marshal(row.SessionData)
	if err != nil {
		return apperr.New(apperr.KindInternal, "session_marshal_failed", "failed to marshal session data", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO enrichment_sessions (session_id, cache_key, website_url, user_email, session_data, status, total_cost_usd, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (session_id) DO UPDATE SET
			session_data = EXCLUDED.session_data,
			status = EXCLUDED.status,
			total_cost_usd = EXCLUDED.total_cost_usd,
			expires_at = EXCLUDED.expires_at`,
		row.SessionID, row.CacheKey, row.WebsiteURL, row.UserEmail, data, row.Status, row.TotalCostUSD, row.ExpiresAt)
	if err != nil {
		return apperr.New(apperr.KindInternal, "session_upsert_failed", "failed to upsert enrichment session", err)
	}
	return nil
}

func (p *Postgres) GetByCacheKey(ctx context.Context, cacheKey string) (*EnrichmentSessionRow, error) {
	return p.scanSessionRow(ctx, `
		SELECT session_id, cache_key, website_url, user_email, session_data, status, total_cost_usd, expires_at, created_at
		FROM enrichment_sessions WHERE cache_key = $1 ORDER BY created_at DESC LIMIT 1`, cacheKey)
}

func (p *Postgres) GetByID(ctx context.Context, sessionID string) (*EnrichmentSessionRow, error) {
	return p.scanSessionRow(ctx, `
		SELECT session_id, cache_key, website_url, user_email, session_data, status, total_cost_usd, expires_at, created_at
		FROM enrichment_sessions WHERE session_id = $1`, sessionID)
}

func (p *Postgres) scanSessionRow(ctx context.Context, query string, arg any) (*EnrichmentSessionRow, error) {
	row := p.pool.QueryRow(ctx, query, arg)
	var r EnrichmentSessionRow
	var data []byte
	err := row.Scan(&r.SessionID, &r.CacheKey, &r.WebsiteURL, &r.UserEmail, &data, &r.Status, &r.TotalCostUSD, &r.ExpiresAt, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "enrichment_session_not_found", "no enrichment session row", nil)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "enrichment_session_query_failed", "failed to query enrichment session", err)
	}
	if err := json.Unmarshal(data, &r.SessionData); err != nil {
		return nil, apperr.New(apperr.KindInternal, "enrichment_session_unmarshal_failed", "failed to unmarshal session data", err)
	}
	return &r, nil
}

// --- StageCacheStore ----------------------------------------------------

func (p *Postgres) UpsertStageCache(ctx context.Context, row *StageCacheRow) error {
	result, err := json.Marshal(row.Result)
	if err != nil {
		return apperr.New(apperr.KindInternal, "stage_cache_marshal_failed", "failed to marshal stage cache result", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO stage_cache (stage_name, cache_key, result, cost_saved_usd, hit_count, expires_at)
		VALUES ($1,$2,$3,$4,0,$5)
		ON CONFLICT (stage_name, cache_key) DO UPDATE SET
			result = EXCLUDED.result,
			expires_at = EXCLUDED.expires_at`,
		row.StageName, row.CacheKey, result, row.CostSavedUSD, row.ExpiresAt)
	if err != nil {
		return apperr.New(apperr.KindInternal, "stage_cache_upsert_failed", "failed to upsert stage cache row", err)
	}
	return nil
}

func (p *Postgres) RecordHit(ctx context.Context, stageName, cacheKey string, costSavedUSD float64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE stage_cache SET hit_count = hit_count + 1, cost_saved_usd = cost_saved_usd + $1
		WHERE stage_name = $2 AND cache_key = $3`,
		costSavedUSD, stageName, cacheKey)
	if err != nil {
		return apperr.New(apperr.KindInternal, "stage_cache_hit_record_failed", "failed to record stage cache hit", err)
	}
	return nil
}

// --- EditLedgerStore -----------------------------------------------------

func (p *Postgres) Append(ctx context.Context, edit *UserFieldEdit) error {
	sourceValue, err := json.Marshal(edit.SourceValue)
	if err != nil {
		return apperr.New(apperr.KindInternal, "edit_source_marshal_failed", "failed to marshal source value", err)
	}
	userValue, err := json.Marshal(edit.UserValue)
	if err != nil {
		return apperr.New(apperr.KindInternal, "edit_user_marshal_failed", "failed to marshal user value", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO user_field_edits (session_id, field_name, source_value, user_value, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		edit.SessionID, edit.FieldName, sourceValue, userValue, edit.CreatedAt)
	if err != nil {
		return apperr.New(apperr.KindInternal, "edit_append_failed", "failed to append edit ledger row", err)
	}
	return nil
}

func (p *Postgres) CountEdits(ctx context.Context, sessionID, field string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM user_field_edits WHERE session_id = $1 AND field_name = $2`,
		sessionID, field).Scan(&count)
	if err != nil {
		return 0, apperr.New(apperr.KindInternal, "edit_count_failed", "failed to count edits", err)
	}
	return count, nil
}

func (p *Postgres) CountEditsForDomain(ctx context.Context, domain, field string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM user_field_edits e
		JOIN enrichment_sessions s ON s.session_id = e.session_id
		WHERE s.website_url = $1 AND e.field_name = $2`,
		domain, field).Scan(&count)
	if err != nil {
		return 0, apperr.New(apperr.KindInternal, "edit_count_by_domain_failed", "failed to count edits for domain", err)
	}
	return count, nil
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
