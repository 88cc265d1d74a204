package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return wrap("ping", r.pool.Ping(ctx))
}

func (r *Repository) InsertRiskEvent(ctx context.Context, event contracts.RiskEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	_, err := r.pool.Exec(ctx, `
        INSERT INTO risk_events
            (id, event_type, geo_location, severity, confidence, description, source, route, event_time)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO NOTHING
    `, event.ID, string(event.EventType), event.GeoLocation, event.Severity, event.Confidence,
		event.Description, event.Source, event.Route, event.EventTime)
	return wrap("insert risk event", err)
}

// ListRouteEvents returns the route's events with event_time in [since, until], oldest first.
func (r *Repository) ListRouteEvents(ctx context.Context, route string, since, until time.Time) ([]contracts.RiskEvent, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id::text, event_type, geo_location, severity, confidence, description, source, route, event_time, created_at
        FROM risk_events
        WHERE route = $1
          AND event_time >= $2
          AND event_time <= $3
        ORDER BY event_time ASC, id ASC
    `, route, since, until)
	if err != nil {
		return nil, wrap("query route events", err)
	}
	return scanEvents(rows)
}

func (r *Repository) ListRiskEvents(ctx context.Context, route string, limit int) ([]contracts.RiskEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
        SELECT id::text, event_type, geo_location, severity, confidence, description, source, route, event_time, created_at
        FROM risk_events
        WHERE ($1 = '' OR route = $1)
        ORDER BY event_time DESC
        LIMIT $2
    `, route, limit)
	if err != nil {
		return nil, wrap("query risk events", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]contracts.RiskEvent, error) {
	defer rows.Close()

	events := make([]contracts.RiskEvent, 0, 32)
	for rows.Next() {
		var event contracts.RiskEvent
		var eventType string
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.GeoLocation,
			&event.Severity,
			&event.Confidence,
			&event.Description,
			&event.Source,
			&event.Route,
			&event.EventTime,
			&event.CreatedAt,
		); err != nil {
			return nil, wrap("scan risk event", err)
		}
		event.EventType = contracts.EventType(eventType)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate risk events", err)
	}
	return events, nil
}

// LookupReasoning returns the live entry for key. Rows past expires_at are misses.
func (r *Repository) LookupReasoning(ctx context.Context, key string, now time.Time) (contracts.ReasoningResult, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
        SELECT response_json
        FROM reasoning_cache
        WHERE cache_key = $1
          AND expires_at > $2
    `, key, now).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.ReasoningResult{}, false, nil
	}
	if err != nil {
		return contracts.ReasoningResult{}, false, wrap("lookup reasoning", err)
	}

	var result contracts.ReasoningResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return contracts.ReasoningResult{}, false, wrap("decode cached reasoning", err)
	}
	return result, true, nil
}

// StoreReasoning inserts the entry or replaces an expired one in a single
// statement. When a live entry already exists it wins and is returned.
func (r *Repository) StoreReasoning(ctx context.Context, entry contracts.ReasoningCacheEntry) (contracts.ReasoningResult, error) {
	body, err := json.Marshal(entry.Response)
	if err != nil {
		return contracts.ReasoningResult{}, fmt.Errorf("marshal reasoning: %w", err)
	}

	var stored []byte
	err = r.pool.QueryRow(ctx, `
        INSERT INTO reasoning_cache (cache_key, response_json, created_at, expires_at)
        VALUES ($1, $2::jsonb, $3, $4)
        ON CONFLICT (cache_key) DO UPDATE
        SET response_json = EXCLUDED.response_json,
            created_at = EXCLUDED.created_at,
            expires_at = EXCLUDED.expires_at
        WHERE reasoning_cache.expires_at <= EXCLUDED.created_at
        RETURNING response_json
    `, entry.CacheKey, string(body), entry.CreatedAt, entry.ExpiresAt).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, ok, lookupErr := r.LookupReasoning(ctx, entry.CacheKey, entry.CreatedAt)
		if lookupErr != nil {
			return contracts.ReasoningResult{}, lookupErr
		}
		if !ok {
			return entry.Response, nil
		}
		return existing, nil
	}
	if err != nil {
		return contracts.ReasoningResult{}, wrap("store reasoning", err)
	}

	var result contracts.ReasoningResult
	if err := json.Unmarshal(stored, &result); err != nil {
		return contracts.ReasoningResult{}, wrap("decode stored reasoning", err)
	}
	return result, nil
}

// PurgeExpiredReasoning deletes cache rows that expired before cutoff.
func (r *Repository) PurgeExpiredReasoning(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM reasoning_cache WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, wrap("purge reasoning cache", err)
	}
	return tag.RowsAffected(), nil
}

const dispatchColumns = `id, alert_key, route, risk_bucket, recipient, status, decision_payload, attempt_number,
            provider_message_id, error_message, retry_lease_until, created_at, updated_at`

func scanDispatch(row pgx.Row) (contracts.DispatchRecord, error) {
	var rec contracts.DispatchRecord
	var bucket, status string
	var payload []byte
	err := row.Scan(
		&rec.ID,
		&rec.AlertKey,
		&rec.Route,
		&bucket,
		&rec.Recipient,
		&status,
		&payload,
		&rec.AttemptNumber,
		&rec.ProviderMessageID,
		&rec.ErrorMessage,
		&rec.RetryLeaseUntil,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	rec.RiskBucket = contracts.RiskBucket(bucket)
	rec.Status = contracts.DispatchStatus(status)
	rec.DecisionPayload = json.RawMessage(payload)
	return rec, err
}

// liveDispatchPredicate matches the partial unique index on alert_key.
const liveDispatchPredicate = `status IN ('pending', 'sent')`

// leasedFailurePredicate matches a failed row whose final retry is still in
// flight; it stays blocking until CompleteDispatch clears the lease.
const leasedFailurePredicate = `(status = 'failed' AND retry_lease_until > NOW())`

// claimDispatchSQL inserts a pending row unless a pending, sent, retryable or
// leased failed row already holds the key. Settled exhausted failures do not
// block. Two concurrent claims that both pass NOT EXISTS collide on the
// partial index.
const claimDispatchSQL = `
        INSERT INTO alert_dispatch_log
            (alert_key, route, risk_bucket, recipient, status, decision_payload, attempt_number)
        SELECT $1, $2, $3, $4, 'pending', $5::jsonb, 1
        WHERE NOT EXISTS (
            SELECT 1 FROM alert_dispatch_log
            WHERE alert_key = $1
              AND (` + liveDispatchPredicate + ` OR (status = 'failed' AND attempt_number < $6) OR ` + leasedFailurePredicate + `)
        )
        ON CONFLICT (alert_key) WHERE ` + liveDispatchPredicate + ` DO NOTHING
        RETURNING ` + dispatchColumns

const blockingDispatchSQL = `
        SELECT ` + dispatchColumns + `
        FROM alert_dispatch_log
        WHERE alert_key = $1
          AND (` + liveDispatchPredicate + ` OR (status = 'failed' AND attempt_number < $2) OR ` + leasedFailurePredicate + `)
        ORDER BY created_at DESC, id DESC
        LIMIT 1`

// ClaimDispatch inserts a pending record for rec.AlertKey unless a blocking
// one exists. When the claim loses, the blocking record is returned with false
// so the caller can tell a delivered alert from one awaiting retry.
func (r *Repository) ClaimDispatch(ctx context.Context, rec contracts.DispatchRecord, maxAttempts int) (contracts.DispatchRecord, bool, error) {
	claimed, err := scanDispatch(r.pool.QueryRow(ctx, claimDispatchSQL,
		rec.AlertKey, rec.Route, string(rec.RiskBucket), rec.Recipient, string(rec.DecisionPayload), maxAttempts))
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return contracts.DispatchRecord{}, false, wrap("claim dispatch", err)
	}

	blocking, _, err := r.BlockingDispatch(ctx, rec.AlertKey, maxAttempts)
	if err != nil {
		return contracts.DispatchRecord{}, false, err
	}
	return blocking, false, nil
}

// BlockingDispatch returns the newest record that would make a claim for
// alertKey lose, if any.
func (r *Repository) BlockingDispatch(ctx context.Context, alertKey string, maxAttempts int) (contracts.DispatchRecord, bool, error) {
	rec, err := scanDispatch(r.pool.QueryRow(ctx, blockingDispatchSQL, alertKey, maxAttempts))
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.DispatchRecord{}, false, nil
	}
	if err != nil {
		return contracts.DispatchRecord{}, false, wrap("check dispatch", err)
	}
	return rec, true, nil
}

// CompleteDispatch records the outcome of attempt on the log row and appends
// an audit row, in one transaction. A sent record is never overwritten.
func (r *Repository) CompleteDispatch(ctx context.Context, id int64, attempt int, status contracts.DispatchStatus, messageID, errMsg *string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrap("begin complete dispatch", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE alert_dispatch_log
        SET status = $2,
            provider_message_id = COALESCE($4, provider_message_id),
            error_message = $5,
            retry_lease_until = NULL,
            updated_at = NOW()
        WHERE id = $1
          AND attempt_number = $3
          AND status <> 'sent'
    `, id, string(status), attempt, messageID, errMsg)
	if err != nil {
		return wrap("complete dispatch", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("complete dispatch", fmt.Errorf("dispatch %d attempt %d: %w", id, attempt, pgx.ErrNoRows))
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO alert_dispatch_attempts (dispatch_id, attempt_number, status, provider_message_id, error_message)
        VALUES ($1, $2, $3, $4, $5)
    `, id, attempt, string(status), messageID, errMsg); err != nil {
		return wrap("record dispatch attempt", err)
	}

	return wrap("commit complete dispatch", tx.Commit(ctx))
}

// RetryCandidates selects failed records created since the cutoff that still
// have budget and are not leased by another sweep at now, oldest first.
func (r *Repository) RetryCandidates(ctx context.Context, since, now time.Time, maxAttempts, limit int) ([]contracts.DispatchRecord, error) {
	rows, err := r.pool.Query(ctx, retryCandidatesSQL, since, maxAttempts, limit, now)
	if err != nil {
		return nil, wrap("query retry candidates", err)
	}
	return scanDispatches(rows)
}

const retryCandidatesSQL = `
        SELECT ` + dispatchColumns + `
        FROM alert_dispatch_log
        WHERE status = 'failed'
          AND created_at >= $1
          AND attempt_number < $2
          AND (retry_lease_until IS NULL OR retry_lease_until <= $4)
        ORDER BY created_at ASC, id ASC
        LIMIT $3`

// claimRetrySQL bumps the attempt and leases the row until $5. The status
// stays failed until CompleteDispatch writes the outcome and clears the lease.
const claimRetrySQL = `
        UPDATE alert_dispatch_log
        SET attempt_number = attempt_number + 1,
            retry_lease_until = $5,
            updated_at = NOW()
        WHERE id = $1
          AND status = 'failed'
          AND attempt_number = $2
          AND attempt_number < $3
          AND (retry_lease_until IS NULL OR retry_lease_until <= $4)`

// ClaimRetry leases a failed record at expectedAttempt for one more attempt.
// False means another sweep, possibly in another process, holds it or the
// budget is spent. An expired lease can be taken over.
func (r *Repository) ClaimRetry(ctx context.Context, id int64, expectedAttempt, maxAttempts int, now, leaseUntil time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, claimRetrySQL, id, expectedAttempt, maxAttempts, now, leaseUntil)
	if err != nil {
		return false, wrap("claim retry", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListDispatches(ctx context.Context, status, route string, limit int) ([]contracts.DispatchRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
        SELECT `+dispatchColumns+`
        FROM alert_dispatch_log
        WHERE ($1 = '' OR status = $1)
          AND ($2 = '' OR route = $2)
        ORDER BY created_at DESC
        LIMIT $3
    `, status, route, limit)
	if err != nil {
		return nil, wrap("query dispatches", err)
	}
	return scanDispatches(rows)
}

func scanDispatches(rows pgx.Rows) ([]contracts.DispatchRecord, error) {
	defer rows.Close()

	records := make([]contracts.DispatchRecord, 0, 16)
	for rows.Next() {
		rec, err := scanDispatch(rows)
		if err != nil {
			return nil, wrap("scan dispatch", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate dispatches", err)
	}
	return records, nil
}

type DispatchAttempt struct {
	AttemptNumber     int       `json:"attempt_number"`
	Status            string    `json:"status"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	AttemptedAt       time.Time `json:"attempted_at"`
}

func (r *Repository) ListDispatchAttempts(ctx context.Context, dispatchID int64) ([]DispatchAttempt, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT attempt_number, status, provider_message_id, error_message, attempted_at
        FROM alert_dispatch_attempts
        WHERE dispatch_id = $1
        ORDER BY attempt_number ASC, id ASC
    `, dispatchID)
	if err != nil {
		return nil, wrap("query dispatch attempts", err)
	}
	defer rows.Close()

	attempts := make([]DispatchAttempt, 0, 4)
	for rows.Next() {
		var a DispatchAttempt
		if err := rows.Scan(&a.AttemptNumber, &a.Status, &a.ProviderMessageID, &a.ErrorMessage, &a.AttemptedAt); err != nil {
			return nil, wrap("scan dispatch attempt", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate dispatch attempts", err)
	}
	return attempts, nil
}

type DispatchSummary struct {
	Sent24h    int `json:"sent_last_24h"`
	Failed24h  int `json:"failed_last_24h"`
	Pending    int `json:"pending"`
	Exhausted  int `json:"exhausted"`
	Retryable  int `json:"retryable"`
	Events24h  int `json:"events_last_24h"`
	CachedLive int `json:"reasoning_cache_live"`
}

func (r *Repository) DispatchSummary(ctx context.Context, maxAttempts int) (DispatchSummary, error) {
	var s DispatchSummary
	err := r.pool.QueryRow(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE status = 'sent' AND updated_at >= NOW() - INTERVAL '24 hours'),
            COUNT(*) FILTER (WHERE status = 'failed' AND updated_at >= NOW() - INTERVAL '24 hours'),
            COUNT(*) FILTER (WHERE status = 'pending'),
            COUNT(*) FILTER (WHERE status = 'failed' AND attempt_number >= $1),
            COUNT(*) FILTER (WHERE status = 'failed' AND attempt_number < $1),
            COALESCE((SELECT COUNT(*) FROM risk_events WHERE event_time >= NOW() - INTERVAL '24 hours'), 0),
            COALESCE((SELECT COUNT(*) FROM reasoning_cache WHERE expires_at > NOW()), 0)
        FROM alert_dispatch_log
    `, maxAttempts).Scan(&s.Sent24h, &s.Failed24h, &s.Pending, &s.Exhausted, &s.Retryable, &s.Events24h, &s.CachedLive)
	if err != nil {
		return DispatchSummary{}, wrap("dispatch summary", err)
	}
	return s, nil
}
