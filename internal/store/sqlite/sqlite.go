package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/strata-ai/model-registry/internal/store"
	"github.com/strata-ai/model-registry/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	// Create a repository instance that uses the transaction
	txRepo := &SqliteRepository{
		db:       r.db, // Keep the original DB handle
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Models() store.ModelRepository {
	return &modelRepo{db: r.executor}
}

func (r *SqliteRepository) Buckets() store.BucketRepository {
	return &bucketRepo{db: r.executor}
}

func (r *SqliteRepository) Overrides() store.OverrideRepository {
	return &overrideRepo{db: r.executor}
}

func (r *SqliteRepository) Experiments() store.ExperimentRepository {
	return &experimentRepo{db: r.executor}
}

func (r *SqliteRepository) ReconciliationLogs() store.ReconciliationLogRepository {
	return &reconciliationLogRepo{db: r.executor}
}

type modelRepo struct {
	db DB
}

func (r *modelRepo) Get(ctx context.Context, id string) (*model.ModelRecord, error) {
	var rec model.ModelRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM models WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *modelRepo) List(ctx context.Context) ([]model.ModelRecord, error) {
	var recs []model.ModelRecord
	err := r.db.SelectContext(ctx, &recs, `SELECT * FROM models ORDER BY category, id`)
	return recs, err
}

func (r *modelRepo) ListByCategory(ctx context.Context, category string) ([]model.ModelRecord, error) {
	var recs []model.ModelRecord
	err := r.db.SelectContext(ctx, &recs, `SELECT * FROM models WHERE category = ? ORDER BY id`, category)
	return recs, err
}

func (r *modelRepo) Insert(ctx context.Context, rec *model.ModelRecord) error {
	query := `
	INSERT INTO models (
		id, category, display_name,
		is_current, is_working, is_deprecated, deprecated_at,
		input_price_per_mtok, output_price_per_mtok,
		total_calls, total_input_tokens, total_output_tokens, total_cost,
		consecutive_errors, last_error, last_error_at,
		first_seen_at, last_used_at, last_verified_at
	) VALUES (
		:id, :category, :display_name,
		:is_current, :is_working, :is_deprecated, :deprecated_at,
		:input_price_per_mtok, :output_price_per_mtok,
		:total_calls, :total_input_tokens, :total_output_tokens, :total_cost,
		:consecutive_errors, :last_error, :last_error_at,
		:first_seen_at, :last_used_at, :last_verified_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, rec)
	return err
}

func (r *modelRepo) Deprecate(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE models SET is_deprecated = 1, deprecated_at = ?, is_current = 0 WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return err
}

func (r *modelRepo) Reactivate(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE models SET is_deprecated = 0, deprecated_at = NULL, last_verified_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return err
}

func (r *modelRepo) ClearCurrent(ctx context.Context, category string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE models SET is_current = 0 WHERE category = ?`, category)
	return err
}

func (r *modelRepo) SetCurrent(ctx context.Context, id string, verifiedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE models SET is_current = 1, last_verified_at = ? WHERE id = ?`, verifiedAt, id)
	return err
}

func (r *modelRepo) Current(ctx context.Context, category string) (*model.ModelRecord, error) {
	var rec model.ModelRecord
	query := `SELECT * FROM models WHERE category = ? AND is_current = 1 AND is_deprecated = 0 LIMIT 1`
	err := r.db.GetContext(ctx, &rec, query, category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *modelRepo) Fallback(ctx context.Context, category string) (*model.ModelRecord, error) {
	var rec model.ModelRecord
	query := `
	SELECT * FROM models
	WHERE category = ? AND is_working = 1 AND is_deprecated = 0
	ORDER BY last_verified_at DESC
	LIMIT 1`
	err := r.db.GetContext(ctx, &rec, query, category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *modelRepo) RecordSuccess(ctx context.Context, id string, inputTokens, outputTokens int64, cost float64, at time.Time) (bool, error) {
	// Single statement so concurrent events cannot interleave between the
	// counter bump and the streak reset.
	query := `
	UPDATE models SET
		total_calls = total_calls + 1,
		total_input_tokens = total_input_tokens + ?,
		total_output_tokens = total_output_tokens + ?,
		total_cost = total_cost + ?,
		last_used_at = ?,
		consecutive_errors = 0,
		is_working = 1
	WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, inputTokens, outputTokens, cost, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *modelRepo) RecordFailure(ctx context.Context, id, errText string, at time.Time, threshold int) (bool, error) {
	query := `
	UPDATE models SET
		consecutive_errors = consecutive_errors + 1,
		is_working = CASE WHEN consecutive_errors + 1 > ? THEN 0 ELSE is_working END,
		last_error = ?,
		last_error_at = ?,
		last_used_at = ?
	WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, threshold, errText, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type bucketRepo struct {
	db DB
}

func (r *bucketRepo) Accumulate(ctx context.Context, d store.BucketDelta) error {
	var (
		avg       float64
		samples   int64
		minMS     sql.NullInt64
		maxMS     sql.NullInt64
		errCount  int64
		lastError sql.NullString
	)
	if d.ResponseMS != nil {
		avg = float64(*d.ResponseMS)
		samples = 1
		minMS = sql.NullInt64{Int64: *d.ResponseMS, Valid: true}
		maxMS = minMS
	}
	if !d.Success {
		errCount = 1
	}
	if d.ErrorText != "" {
		lastError = sql.NullString{String: d.ErrorText, Valid: true}
	}

	// One upsert per event; the accumulate arithmetic runs inside the
	// statement so there is no read-modify-write window.
	query := `
	INSERT INTO usage_buckets (
		project, model_id, bucket_hour,
		call_count, input_tokens, output_tokens, cost,
		avg_response_ms, min_response_ms, max_response_ms, response_samples,
		error_count, last_error, created_at, updated_at
	) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(project, model_id, bucket_hour) DO UPDATE SET
		call_count = call_count + 1,
		input_tokens = input_tokens + excluded.input_tokens,
		output_tokens = output_tokens + excluded.output_tokens,
		cost = cost + excluded.cost,
		avg_response_ms = CASE WHEN excluded.response_samples = 0 THEN avg_response_ms
			ELSE (avg_response_ms * response_samples + excluded.avg_response_ms) / (response_samples + 1) END,
		min_response_ms = CASE WHEN excluded.min_response_ms IS NULL THEN min_response_ms
			WHEN min_response_ms IS NULL THEN excluded.min_response_ms
			ELSE MIN(min_response_ms, excluded.min_response_ms) END,
		max_response_ms = CASE WHEN excluded.max_response_ms IS NULL THEN max_response_ms
			WHEN max_response_ms IS NULL THEN excluded.max_response_ms
			ELSE MAX(max_response_ms, excluded.max_response_ms) END,
		response_samples = response_samples + excluded.response_samples,
		error_count = error_count + excluded.error_count,
		last_error = COALESCE(excluded.last_error, last_error),
		updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		d.Project, d.ModelID, d.BucketHour,
		d.InputTokens, d.OutputTokens, d.Cost,
		avg, minMS, maxMS, samples,
		errCount, lastError, d.At, d.At,
	)
	return err
}

func (r *bucketRepo) Get(ctx context.Context, project, modelID string, hour time.Time) (*model.UsageBucket, error) {
	var b model.UsageBucket
	query := `SELECT * FROM usage_buckets WHERE project = ? AND model_id = ? AND bucket_hour = ?`
	err := r.db.GetContext(ctx, &b, query, project, modelID, hour)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bucketRepo) ListRange(ctx context.Context, project string, from, to time.Time) ([]model.UsageBucket, error) {
	var buckets []model.UsageBucket
	query := `
	SELECT * FROM usage_buckets
	WHERE project = ? AND bucket_hour >= ? AND bucket_hour <= ?
	ORDER BY bucket_hour`
	err := r.db.SelectContext(ctx, &buckets, query, project, from, to)
	return buckets, err
}

type overrideRepo struct {
	db DB
}

func (r *overrideRepo) Create(ctx context.Context, o *model.Override) error {
	query := `
	INSERT INTO overrides (id, category, project, model_id, reason, expires_at, created_by, created_at)
	VALUES (:id, :category, :project, :model_id, :reason, :expires_at, :created_by, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, o)
	return err
}

func (r *overrideRepo) ActiveForCategory(ctx context.Context, category string, now time.Time) ([]model.Override, error) {
	var overrides []model.Override
	query := `
	SELECT * FROM overrides
	WHERE category = ? AND (expires_at IS NULL OR expires_at > ?)
	ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &overrides, query, category, now)
	return overrides, err
}

type experimentRepo struct {
	db DB
}

func (r *experimentRepo) Create(ctx context.Context, e *model.Experiment) error {
	query := `
	INSERT INTO experiments (
		id, name, category, model_a, model_b, split_percent, projects, roles, status,
		a_calls, a_cost, a_avg_response_ms, a_response_samples, a_errors,
		b_calls, b_cost, b_avg_response_ms, b_response_samples, b_errors,
		winner, winner_reason, created_at, updated_at
	) VALUES (
		:id, :name, :category, :model_a, :model_b, :split_percent, :projects, :roles, :status,
		:a_calls, :a_cost, :a_avg_response_ms, :a_response_samples, :a_errors,
		:b_calls, :b_cost, :b_avg_response_ms, :b_response_samples, :b_errors,
		:winner, :winner_reason, :created_at, :updated_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, e)
	return err
}

func (r *experimentRepo) Get(ctx context.Context, id string) (*model.Experiment, error) {
	var e model.Experiment
	err := r.db.GetContext(ctx, &e, `SELECT * FROM experiments WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *experimentRepo) Running(ctx context.Context, category string) ([]model.Experiment, error) {
	var experiments []model.Experiment
	query := `
	SELECT * FROM experiments
	WHERE category = ? AND status = ?
	ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &experiments, query, category, model.ExperimentRunning)
	return experiments, err
}

func (r *experimentRepo) RecordVariant(ctx context.Context, id, variant string, cost float64, responseMS *int64, success bool, at time.Time) (bool, error) {
	var col string
	switch variant {
	case model.VariantA:
		col = "a"
	case model.VariantB:
		col = "b"
	default:
		return false, fmt.Errorf("unknown experiment variant %q", variant)
	}

	var (
		sample  float64
		samples int64
		errInc  int64
	)
	if responseMS != nil {
		sample = float64(*responseMS)
		samples = 1
	}
	if !success {
		errInc = 1
	}

	// col is constrained to "a"/"b" above; never caller-controlled.
	query := fmt.Sprintf(`
	UPDATE experiments SET
		%[1]s_calls = %[1]s_calls + 1,
		%[1]s_cost = %[1]s_cost + ?,
		%[1]s_avg_response_ms = CASE WHEN ? = 0 THEN %[1]s_avg_response_ms
			ELSE (%[1]s_avg_response_ms * %[1]s_response_samples + ?) / (%[1]s_response_samples + 1) END,
		%[1]s_response_samples = %[1]s_response_samples + ?,
		%[1]s_errors = %[1]s_errors + ?,
		updated_at = ?
	WHERE id = ?`, col)
	res, err := r.db.ExecContext(ctx, query, cost, samples, sample, samples, errInc, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type reconciliationLogRepo struct {
	db DB
}

func (r *reconciliationLogRepo) Append(ctx context.Context, l *model.ReconciliationLog) error {
	query := `
	INSERT INTO reconciliation_logs (
		id, triggered_by, success, error,
		models_found, models_added, models_updated, models_deprecated,
		changes, duration_ms, created_at
	) VALUES (
		:id, :triggered_by, :success, :error,
		:models_found, :models_added, :models_updated, :models_deprecated,
		:changes, :duration_ms, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, l)
	return err
}

func (r *reconciliationLogRepo) Recent(ctx context.Context, limit int) ([]model.ReconciliationLog, error) {
	var logs []model.ReconciliationLog
	query := `SELECT * FROM reconciliation_logs ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &logs, query, limit)
	return logs, err
}
