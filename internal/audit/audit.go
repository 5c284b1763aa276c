// Package audit appends to and verifies the hash-chained audit log.
//
// Grounded directly on the recovered original ELNOTE fragment
// (server/internal/db/audit.go): a Postgres advisory lock serializes tail
// reads within a transaction, the payload is canonicalized before hashing,
// and the hash covers a pipe-joined string of the event's fields plus the
// hex-encoded previous hash.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mhendzel2/ELNOTE-sub001/internal/canonical"
)

// Execer is the minimal database/sql surface Append needs; satisfied by
// both *sql.DB and *sql.Tx so a caller can append audit rows inside its own
// transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// advisoryLockKey serializes tail-hash reads so two concurrent writers in
// the same process/cluster cannot both read the same prev_hash and race to
// insert siblings. It is a fixed, arbitrary 63-bit constant.
const advisoryLockKey int64 = 8_204_202_601

// Entry mirrors one audit_log row.
type Entry struct {
	ID         int64
	ActorID    string
	EventType  string
	EntityType string
	EntityID   string
	Payload    []byte
	CreatedAt  time.Time
	PrevHash   []byte
	EventHash  []byte
}

// Append canonicalizes payload, links it to the current tail hash, and
// inserts a new audit_log row. It participates in the caller's transaction:
// pass a *sql.Tx to keep the audit row in the same commit as the domain
// mutation it documents.
func Append(ctx context.Context, exec Execer, actorUserID, eventType, entityType, entityID string, payload any) error {
	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire audit chain lock: %w", err)
	}

	canon, err := canonical.Marshal(payload)
	if err != nil {
		return fmt.Errorf("canonicalize audit payload: %w", err)
	}

	var prevHash []byte
	err = exec.QueryRowContext(ctx, `SELECT event_hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load previous audit hash: %w", err)
	}

	// Postgres timestamptz columns are microsecond precision; truncate
	// before hashing so the stored and recomputed serializations agree.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	eventHash := computeHash(createdAt, actorUserID, eventType, entityType, entityID, canon, prevHash)

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_log (
			actor_user_id, event_type, entity_type, entity_id,
			payload, created_at, prev_hash, event_hash
		) VALUES (
			NULLIF($1, '')::uuid, $2, $3, NULLIF($4, '')::uuid,
			$5::jsonb, $6, $7, $8
		)
	`, actorUserID, eventType, entityType, entityID, string(canon), createdAt, prevHash, eventHash[:])
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func computeHash(createdAt time.Time, actorID, eventType, entityType, entityID string, canonPayload, prevHash []byte) [32]byte {
	serialized := fmt.Sprintf(
		"%s|%s|%s|%s|%s|%s|%s",
		createdAt.Format(time.RFC3339Nano),
		actorID,
		eventType,
		entityType,
		entityID,
		string(canonPayload),
		hex.EncodeToString(prevHash),
	)
	return sha256.Sum256([]byte(serialized))
}

// ChainVerification is the result of VerifyChain.
type ChainVerification struct {
	Valid         bool
	CheckedEvents int64
	FirstBadID    int64
	Message       string
}

// VerifyChain walks audit_log in id order and recomputes each row's hash,
// confirming both that event_hash matches its own fields and that prev_hash
// matches the previous row's event_hash.
func VerifyChain(ctx context.Context, db *sql.DB) (*ChainVerification, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, COALESCE(actor_user_id::text, ''), event_type,
		       entity_type, COALESCE(entity_id::text, ''), payload, prev_hash, event_hash
		FROM audit_log
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	result := &ChainVerification{Valid: true, Message: "audit hash chain is valid"}
	var prevEventHash []byte
	for rows.Next() {
		var (
			id                                            int64
			createdAt                                     time.Time
			actorID, eventType, entityType, entityID      string
			payload, prevHash, eventHash                  []byte
		)
		if err := rows.Scan(&id, &createdAt, &actorID, &eventType, &entityType, &entityID, &payload, &prevHash, &eventHash); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		result.CheckedEvents++

		if !bytesEqual(prevHash, prevEventHash) {
			result.Valid = false
			result.FirstBadID = id
			result.Message = "audit prev_hash does not match previous event hash"
			return result, nil
		}

		// Postgres re-serializes jsonb on read (whitespace, key order by
		// length-then-bytes) so the bytes Append hashed must be rebuilt
		// here rather than hashed as read back from the column.
		canon, err := canonical.MarshalFromJSON(payload)
		if err != nil {
			return nil, fmt.Errorf("canonicalize stored audit payload: %w", err)
		}

		computed := computeHash(createdAt.UTC(), actorID, eventType, entityType, entityID, canon, prevHash)
		if !bytesEqual(eventHash, computed[:]) {
			result.Valid = false
			result.FirstBadID = id
			result.Message = "audit event_hash checksum mismatch"
			return result, nil
		}
		prevEventHash = eventHash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return result, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
