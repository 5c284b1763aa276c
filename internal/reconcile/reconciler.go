package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/audit"
	"github.com/mhendzel2/ELNOTE-sub001/internal/objectstore"
)

// Reconciler scans attachments and their backing objects for drift. It
// never mutates attachments rows — findings are reported for an operator
// (or a follow-up admin action) to resolve.
type Reconciler struct {
	db         *sql.DB
	inspector  objectstore.Inspector
	bucket     string
	staleAfter time.Duration
	scanLimit  int
}

func NewReconciler(db *sql.DB, inspector objectstore.Inspector, bucket string, staleAfter time.Duration, scanLimit int) *Reconciler {
	return &Reconciler{db: db, inspector: inspector, bucket: bucket, staleAfter: staleAfter, scanLimit: scanLimit}
}

type candidateFinding struct {
	findingType  FindingType
	attachmentID string
	details      map[string]any
}

// Run performs one full scan: stale-initiated sweep, completed-attachment
// object verification, and an orphan-object sweep, recording everything
// found under a new attachment_reconcile_runs row.
func (r *Reconciler) Run(ctx context.Context, actorUserID string) (*Run, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile run: %w", err)
	}
	defer tx.Rollback()

	run := &Run{ActorUserID: actorUserID, StaleAfterSeconds: int(r.staleAfter.Seconds()), ScanLimit: r.scanLimit}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO attachment_reconcile_runs (actor_user_id, stale_after_seconds, scan_limit)
		VALUES ($1, $2, $3)
		RETURNING id, started_at
	`, actorUserID, run.StaleAfterSeconds, run.ScanLimit).Scan(&run.ID, &run.StartedAt); err != nil {
		return nil, fmt.Errorf("insert reconcile run: %w", err)
	}

	var findings []candidateFinding
	knownKeys := make(map[string]struct{})

	staleFindings, err := r.scanInitiatedStale(ctx, tx, knownKeys)
	if err != nil {
		return nil, err
	}
	findings = append(findings, staleFindings...)

	completedFindings, err := r.scanCompleted(ctx, tx, knownKeys)
	if err != nil {
		return nil, err
	}
	findings = append(findings, completedFindings...)

	orphanFindings := r.scanOrphans(ctx, knownKeys)
	findings = append(findings, orphanFindings...)

	counters := map[string]int{}
	for _, f := range findings {
		counters[string(f.findingType)]++
	}
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return nil, fmt.Errorf("marshal counters: %w", err)
	}

	for _, f := range findings {
		details, err := json.Marshal(f.details)
		if err != nil {
			return nil, fmt.Errorf("marshal finding details: %w", err)
		}
		var attachmentID any
		if f.attachmentID != "" {
			attachmentID = f.attachmentID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachment_reconcile_findings (run_id, finding_type, attachment_id, details)
			VALUES ($1, $2, $3, $4::jsonb)
		`, run.ID, string(f.findingType), attachmentID, string(details)); err != nil {
			return nil, fmt.Errorf("insert finding: %w", err)
		}
	}

	finishedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE attachment_reconcile_runs SET finished_at = $1, counters = $2::jsonb WHERE id = $3
	`, finishedAt, string(countersJSON), run.ID); err != nil {
		return nil, fmt.Errorf("finish reconcile run: %w", err)
	}
	run.FinishedAt = &finishedAt
	run.Counters = countersJSON

	if err := audit.Append(ctx, tx, actorUserID, "reconcile.run", "attachment_reconcile_run", run.ID, map[string]any{
		"counters": counters,
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile run: %w", err)
	}

	return run, nil
}

func (r *Reconciler) scanInitiatedStale(ctx context.Context, tx *sql.Tx, knownKeys map[string]struct{}) ([]candidateFinding, error) {
	cutoff := time.Now().UTC().Add(-r.staleAfter)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, object_key, created_at FROM attachments
		WHERE status = 'initiated' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, r.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("query stale initiated attachments: %w", err)
	}
	defer rows.Close()

	var findings []candidateFinding
	for rows.Next() {
		var id, objectKey string
		var createdAt time.Time
		if err := rows.Scan(&id, &objectKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan stale attachment: %w", err)
		}
		knownKeys[objectKey] = struct{}{}
		findings = append(findings, candidateFinding{
			findingType:  FindingInitiatedStale,
			attachmentID: id,
			details:      map[string]any{"objectKey": objectKey, "initiatedAt": createdAt},
		})
	}
	return findings, rows.Err()
}

func (r *Reconciler) scanCompleted(ctx context.Context, tx *sql.Tx, knownKeys map[string]struct{}) ([]candidateFinding, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, object_key, size_bytes, COALESCE(checksum, '')
		FROM attachments
		WHERE status = 'completed'
		ORDER BY completed_at DESC
		LIMIT $1
	`, r.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("query completed attachments: %w", err)
	}
	defer rows.Close()

	type row struct {
		id, objectKey, checksum string
		sizeBytes               int64
	}
	var pending []row
	for rows.Next() {
		var rr row
		if err := rows.Scan(&rr.id, &rr.objectKey, &rr.sizeBytes, &rr.checksum); err != nil {
			return nil, fmt.Errorf("scan completed attachment: %w", err)
		}
		pending = append(pending, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var findings []candidateFinding
	for _, rr := range pending {
		knownKeys[rr.objectKey] = struct{}{}
		if rr.checksum == "" {
			findings = append(findings, candidateFinding{
				findingType:  FindingCompletedMissingChecksum,
				attachmentID: rr.id,
				details:      map[string]any{"objectKey": rr.objectKey},
			})
			continue
		}

		info, err := r.inspector.Head(ctx, r.bucket, rr.objectKey)
		if err != nil {
			findings = append(findings, candidateFinding{
				findingType:  FindingObjectProbeFailed,
				attachmentID: rr.id,
				details:      map[string]any{"objectKey": rr.objectKey, "error": err.Error()},
			})
			continue
		}
		if !info.Exists {
			findings = append(findings, candidateFinding{
				findingType:  FindingCompletedMissingObject,
				attachmentID: rr.id,
				details:      map[string]any{"objectKey": rr.objectKey},
			})
			continue
		}
		sizeMismatch := info.SizeBytes != rr.sizeBytes
		checksumMismatch := info.Checksum != "" && !strings.EqualFold(info.Checksum, rr.checksum)
		if sizeMismatch || checksumMismatch {
			details := map[string]any{"objectKey": rr.objectKey}
			if sizeMismatch {
				details["expectedSize"] = rr.sizeBytes
				details["actualSize"] = info.SizeBytes
			}
			if checksumMismatch {
				details["expectedChecksum"] = rr.checksum
				details["actualChecksum"] = info.Checksum
			}
			findings = append(findings, candidateFinding{
				findingType:  FindingObjectIntegrityMismatch,
				attachmentID: rr.id,
				details:      details,
			})
		}
	}
	return findings, nil
}

func (r *Reconciler) scanOrphans(ctx context.Context, knownKeys map[string]struct{}) []candidateFinding {
	keys, err := r.inspector.ListKeys(ctx, r.bucket, "experiments/")
	if err != nil {
		return []candidateFinding{{
			findingType: FindingObjectListingFailed,
			details:     map[string]any{"bucket": r.bucket, "error": err.Error()},
		}}
	}

	var findings []candidateFinding
	for _, key := range keys {
		if _, ok := knownKeys[key]; ok {
			continue
		}
		findings = append(findings, candidateFinding{
			findingType: FindingOrphanObject,
			details:     map[string]any{"objectKey": key, "bucket": r.bucket},
		})
	}
	return findings
}

// ResolveFinding marks a finding as resolved once an operator has dealt
// with it out of band (re-uploaded the object, deleted the orphan, etc.).
// Resolution is frozen once set: resolving an already-resolved finding is a
// no-op that returns the existing record rather than an error.
func (r *Reconciler) ResolveFinding(ctx context.Context, findingID string) (*Finding, error) {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE attachment_reconcile_findings SET resolved_at = now()
		WHERE id = $1 AND resolved_at IS NULL
	`, findingID); err != nil {
		return nil, fmt.Errorf("resolve finding: %w", err)
	}

	var f Finding
	var resolvedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, finding_type, COALESCE(attachment_id::text, ''), details, created_at, resolved_at
		FROM attachment_reconcile_findings WHERE id = $1
	`, findingID).Scan(&f.ID, &f.RunID, &f.FindingType, &f.AttachmentID, &f.Details, &f.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("finding %s not found", findingID)
	}
	if err != nil {
		return nil, fmt.Errorf("load resolved finding: %w", err)
	}
	if resolvedAt.Valid {
		f.ResolvedAt = &resolvedAt.Time
	}
	return &f, nil
}

// ListRuns returns the most recent reconcile runs, newest first.
func (r *Reconciler) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor_user_id, started_at, finished_at, stale_after_seconds, scan_limit, counters
		FROM attachment_reconcile_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reconcile runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var run Run
		var finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.ActorUserID, &run.StartedAt, &finishedAt, &run.StaleAfterSeconds, &run.ScanLimit, &run.Counters); err != nil {
			return nil, fmt.Errorf("scan reconcile run: %w", err)
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListFindings returns every finding for runID, resolved or not, newest first.
func (r *Reconciler) ListFindings(ctx context.Context, runID string) ([]Finding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, finding_type, COALESCE(attachment_id::text, ''), details, created_at, resolved_at
		FROM attachment_reconcile_findings WHERE run_id = $1 ORDER BY created_at DESC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	out := []Finding{}
	for rows.Next() {
		var f Finding
		var resolvedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.RunID, &f.FindingType, &f.AttachmentID, &f.Details, &f.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		if resolvedAt.Valid {
			f.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
