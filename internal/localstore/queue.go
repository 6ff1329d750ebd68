package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dukkanpos/internal/domain"
)

// enqueueTx appends an outbound queue row inside the caller's transaction.
// It must only ever be called from within the transaction that performs the
// domain write the entry describes.
func enqueueTx(tx *sql.Tx, entityType, entityID, operation string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", entityType, err)
	}

	_, err = tx.Exec(`
		INSERT INTO sync_queue (id, entity_type, entity_id, operation, data, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, uuid.NewString(), entityType, entityID, operation, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", entityType, operation, err)
	}
	return nil
}

// PendingOperations returns every unacknowledged queue entry in insertion
// order (rowid is monotonic per device, so this is creation order). The
// result is restartable: calling it again after a crash yields the same
// outstanding set.
func (s *Store) PendingOperations(ctx context.Context) ([]domain.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, operation, data, created_at
		FROM sync_queue
		WHERE acknowledged = 0
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]domain.PendingOperation, 0, 32)
	for rows.Next() {
		var op domain.PendingOperation
		var data string
		if err := rows.Scan(&op.ID, &op.EntityType, &op.EntityID, &op.Operation, &data, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Payload = json.RawMessage(data)
		op.CreatedAt = op.CreatedAt.UTC()
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// PendingCount reports how many queue entries still await acknowledgment.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE acknowledged = 0`).Scan(&count)
	return count, err
}

// MarkAcknowledged flags the given queue entries as acknowledged by the
// center. Re-marking an already acknowledged or unknown id is a no-op,
// never an error.
func (s *Store) MarkAcknowledged(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET acknowledged = 1 WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// PurgeAcknowledged deletes acknowledged queue rows. Safe to run at any
// point after a push; pending rows are untouched.
func (s *Store) PurgeAcknowledged(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE acknowledged = 1`)
	return err
}
