// Package repositories provides the PostgreSQL-backed audit store for
// research runs and their attempt trails.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	appErrors "github.com/turtacn/RxMarket-Intelligence/pkg/errors"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// RunRecord is one persisted research run. The document, assessment, and
// validated deals are stored as JSONB and rehydrated into domain types on
// read.
type RunRecord struct {
	ID              common.ID
	CorrelationID   string
	Fingerprint     string
	Target          string
	Indication      string
	TherapeuticArea string
	Region          string
	Phase           string
	FullDepth       bool
	Outcome         string
	OverallScore    float64
	RetryCount      int
	SourceCount     int
	BelowThreshold  bool
	Elapsed         time.Duration
	Document        domainResearch.Candidate
	Assessment      domainResearch.QualityAssessment
	Deals           []domainResearch.DealResearchResult
	Attempts        []domainResearch.AttemptReview
	CreatedAt       time.Time
}

// RunSearchCriteria carries the dynamic filter parameters for ListRuns.
type RunSearchCriteria struct {
	Target     string
	Indication string
	Outcome    string
	FullDepth  *bool
	Since      *time.Time
	Until      *time.Time
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// ─────────────────────────────────────────────────────────────────────────────
// RunRepository
// ─────────────────────────────────────────────────────────────────────────────

// RunRepository persists terminal research runs. It implements the
// application layer's AuditStore port; the list and count operations back
// the CLI and the ops surface. Every query is parameterised.
type RunRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewRunRepository constructs a ready-to-use RunRepository.
func NewRunRepository(pool *pgxpool.Pool, logger logging.Logger) *RunRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RunRepository{pool: pool, logger: logger.Named("run_repo")}
}

// ─────────────────────────────────────────────────────────────────────────────
// SaveRun
// ─────────────────────────────────────────────────────────────────────────────

// SaveRun persists a terminal run and its attempt trail inside a single
// transaction. Saves are idempotent on correlation ID so a replayed
// delivery never duplicates the audit row.
func (r *RunRepository) SaveRun(ctx context.Context, rc domainResearch.ResearchContext, res *domainResearch.EngineResult) error {
	if res == nil {
		return appErrors.New(appErrors.ErrCodeValidation, "engine result is nil")
	}
	r.logger.Debug("saving research run",
		logging.String("correlation_id", string(res.CorrelationID)),
		logging.String("outcome", string(res.Outcome)),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("save run: begin tx", logging.Err(err))
		return appErrors.Wrap(err, appErrors.CodeDBConnectionError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	docJSON, _ := json.Marshal(res.Document)
	assessJSON, _ := json.Marshal(res.Assessment)
	dealsJSON, _ := json.Marshal(res.Deals)

	id := common.NewID()
	tag, err := tx.Exec(ctx, `
		INSERT INTO research_runs (
			id, correlation_id, fingerprint, target, indication,
			therapeutic_area, region, phase, full_depth, outcome,
			overall_score, retry_count, source_count, below_threshold,
			elapsed_ms, document, assessment, deals, created_at
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,$10,
			$11,$12,$13,$14,
			$15,$16,$17,$18,$19
		)
		ON CONFLICT (correlation_id) DO NOTHING`,
		id, string(res.CorrelationID), rc.Fingerprint(), rc.Target, rc.Indication,
		rc.TherapeuticArea.Name, rc.Geography.Region, string(rc.Phase), rc.FullDepth, string(res.Outcome),
		res.OverallScore, res.RetryCount, res.SourceCount, res.BelowThreshold,
		res.Elapsed.Milliseconds(), docJSON, assessJSON, dealsJSON, time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("save run: insert", logging.Err(err))
		return appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to insert research run")
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("research run already persisted",
			logging.String("correlation_id", string(res.CorrelationID)))
		return nil
	}

	if err := r.insertAttempts(ctx, tx, id, res.Attempts); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("save run: commit", logging.Err(err))
		return appErrors.Wrap(err, appErrors.CodeDBConnectionError, "failed to commit transaction")
	}
	return nil
}

func (r *RunRepository) insertAttempts(ctx context.Context, tx pgx.Tx, runID common.ID, attempts []domainResearch.AttemptReview) error {
	for _, a := range attempts {
		_, err := tx.Exec(ctx, `
			INSERT INTO research_attempts (
				run_id, attempt, overall_score, confidence,
				critical_issues, accepted, retry_reasons, duration_ms
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			runID, a.Attempt, a.OverallScore, a.Confidence,
			a.CriticalIssues, a.Accepted, a.RetryReasons, a.Duration.Milliseconds(),
		)
		if err != nil {
			r.logger.Error("save run: insert attempt",
				logging.Int("attempt", a.Attempt), logging.Err(err))
			return appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to insert attempt")
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// FindByCorrelationID
// ─────────────────────────────────────────────────────────────────────────────

// FindByCorrelationID loads a complete run record, attempt trail included.
func (r *RunRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*RunRecord, error) {
	r.logger.Debug("loading research run", logging.String("correlation_id", correlationID))

	rec, err := r.scanRun(r.pool.QueryRow(ctx, `
		SELECT id, correlation_id, fingerprint, target, indication,
		       therapeutic_area, region, phase, full_depth, outcome,
		       overall_score, retry_count, source_count, below_threshold,
		       elapsed_ms, document, assessment, deals, created_at
		FROM research_runs WHERE correlation_id = $1`, correlationID))
	if err != nil {
		return nil, err
	}

	attempts, err := r.findAttemptsByRunID(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Attempts = attempts
	return rec, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ListRuns — dynamic faceted query
// ─────────────────────────────────────────────────────────────────────────────

// ListRuns builds a dynamic query from the supplied criteria. Returned rows
// omit the attempt trail; FindByCorrelationID loads the full record.
func (r *RunRepository) ListRuns(ctx context.Context, criteria RunSearchCriteria) ([]*RunRecord, int64, error) {
	var (
		conditions []string
		args       []interface{}
		argIdx     int
	)

	nextArg := func(v interface{}) string {
		argIdx++
		args = append(args, v)
		return fmt.Sprintf("$%d", argIdx)
	}

	if criteria.Target != "" {
		ph := nextArg(criteria.Target)
		conditions = append(conditions, fmt.Sprintf("target = %s", ph))
	}
	if criteria.Indication != "" {
		ph := nextArg(criteria.Indication)
		conditions = append(conditions, fmt.Sprintf("indication = %s", ph))
	}
	if criteria.Outcome != "" {
		ph := nextArg(criteria.Outcome)
		conditions = append(conditions, fmt.Sprintf("outcome = %s", ph))
	}
	if criteria.FullDepth != nil {
		ph := nextArg(*criteria.FullDepth)
		conditions = append(conditions, fmt.Sprintf("full_depth = %s", ph))
	}
	if criteria.Since != nil {
		ph := nextArg(*criteria.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= %s", ph))
	}
	if criteria.Until != nil {
		ph := nextArg(*criteria.Until)
		conditions = append(conditions, fmt.Sprintf("created_at <= %s", ph))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM research_runs %s", whereClause)
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		r.logger.Error("list runs: count", logging.Err(err))
		return nil, 0, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to count runs")
	}

	sortCol := sanitiseSortColumn(criteria.SortBy)
	sortDir := "DESC"
	if strings.EqualFold(criteria.SortOrder, "asc") {
		sortDir = "ASC"
	}

	pageSize := criteria.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := criteria.Page
	if page < 1 {
		page = 1
	}
	phLimit := nextArg(pageSize)
	phOffset := nextArg((page - 1) * pageSize)

	dataSQL := fmt.Sprintf(`
		SELECT id, correlation_id, fingerprint, target, indication,
		       therapeutic_area, region, phase, full_depth, outcome,
		       overall_score, retry_count, source_count, below_threshold,
		       elapsed_ms, document, assessment, deals, created_at
		FROM research_runs %s
		ORDER BY %s %s
		LIMIT %s OFFSET %s`,
		whereClause, sortCol, sortDir, phLimit, phOffset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		r.logger.Error("list runs: query", logging.Err(err))
		return nil, 0, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to list runs")
	}
	defer rows.Close()

	records, err := r.scanRuns(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// sanitiseSortColumn maps user-supplied sort fields to safe column names.
func sanitiseSortColumn(col string) string {
	allowed := map[string]string{
		"created_at":    "created_at",
		"overall_score": "overall_score",
		"retry_count":   "retry_count",
		"elapsed_ms":    "elapsed_ms",
		"target":        "target",
	}
	if safe, ok := allowed[col]; ok {
		return safe
	}
	return "created_at"
}

// ─────────────────────────────────────────────────────────────────────────────
// CountByOutcome
// ─────────────────────────────────────────────────────────────────────────────

// CountByOutcome returns outcome -> count across all persisted runs.
func (r *RunRepository) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT outcome, COUNT(*) FROM research_runs GROUP BY outcome`)
	if err != nil {
		r.logger.Error("count by outcome", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to count runs by outcome")
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			r.logger.Error("count by outcome: scan", logging.Err(err))
			return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to scan outcome count")
		}
		result[outcome] = count
	}
	return result, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// PurgeOlderThan
// ─────────────────────────────────────────────────────────────────────────────

// PurgeOlderThan deletes runs created before the cutoff and returns the
// number removed. Attempt rows follow via the FK cascade.
func (r *RunRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM research_runs WHERE created_at < $1`, cutoff)
	if err != nil {
		r.logger.Error("purge runs", logging.Err(err))
		return 0, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to purge runs")
	}
	purged := tag.RowsAffected()
	if purged > 0 {
		r.logger.Info("purged research runs",
			logging.Int64("purged", purged),
			logging.Time("cutoff", cutoff),
		)
	}
	return purged, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row scanners
// ─────────────────────────────────────────────────────────────────────────────

func (r *RunRepository) findAttemptsByRunID(ctx context.Context, runID common.ID) ([]domainResearch.AttemptReview, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT attempt, overall_score, confidence, critical_issues,
		       accepted, retry_reasons, duration_ms
		FROM research_attempts
		WHERE run_id = $1
		ORDER BY attempt ASC`, runID)
	if err != nil {
		r.logger.Error("load attempts", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to query attempts")
	}
	defer rows.Close()

	var attempts []domainResearch.AttemptReview
	for rows.Next() {
		var a domainResearch.AttemptReview
		var durationMs int64
		if err := rows.Scan(&a.Attempt, &a.OverallScore, &a.Confidence,
			&a.CriticalIssues, &a.Accepted, &a.RetryReasons, &durationMs); err != nil {
			r.logger.Error("load attempts: scan", logging.Err(err))
			return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to scan attempt")
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *RunRepository) scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		rec        RunRecord
		elapsedMs  int64
		docJSON    []byte
		assessJSON []byte
		dealsJSON  []byte
	)

	err := row.Scan(
		&rec.ID, &rec.CorrelationID, &rec.Fingerprint, &rec.Target, &rec.Indication,
		&rec.TherapeuticArea, &rec.Region, &rec.Phase, &rec.FullDepth, &rec.Outcome,
		&rec.OverallScore, &rec.RetryCount, &rec.SourceCount, &rec.BelowThreshold,
		&elapsedMs, &docJSON, &assessJSON, &dealsJSON, &rec.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, appErrors.New(appErrors.ErrCodeResearchRunNotFound, "research run not found")
		}
		r.logger.Error("scan run", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to scan run row")
	}

	rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	if len(docJSON) > 0 {
		_ = json.Unmarshal(docJSON, &rec.Document)
	}
	if len(assessJSON) > 0 {
		_ = json.Unmarshal(assessJSON, &rec.Assessment)
	}
	if len(dealsJSON) > 0 {
		_ = json.Unmarshal(dealsJSON, &rec.Deals)
	}
	return &rec, nil
}

func (r *RunRepository) scanRuns(rows pgx.Rows) ([]*RunRecord, error) {
	var records []*RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			elapsedMs  int64
			docJSON    []byte
			assessJSON []byte
			dealsJSON  []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.CorrelationID, &rec.Fingerprint, &rec.Target, &rec.Indication,
			&rec.TherapeuticArea, &rec.Region, &rec.Phase, &rec.FullDepth, &rec.Outcome,
			&rec.OverallScore, &rec.RetryCount, &rec.SourceCount, &rec.BelowThreshold,
			&elapsedMs, &docJSON, &assessJSON, &dealsJSON, &rec.CreatedAt,
		); err != nil {
			r.logger.Error("scan runs", logging.Err(err))
			return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to scan run row")
		}
		rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		if len(docJSON) > 0 {
			_ = json.Unmarshal(docJSON, &rec.Document)
		}
		if len(assessJSON) > 0 {
			_ = json.Unmarshal(assessJSON, &rec.Assessment)
		}
		if len(dealsJSON) > 0 {
			_ = json.Unmarshal(dealsJSON, &rec.Deals)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
