package continuum

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// InsertIntention records a new resumable work item.
func (s *Store) InsertIntention(ctx context.Context, it Intention) (int64, error) {
	meta, err := json.Marshal(it.Metadata)
	if err != nil {
		return 0, newError(KindValidation, "Store.InsertIntention", err)
	}
	if it.Priority == 0 {
		it.Priority = 5
	}
	if it.Status == "" {
		it.Status = IntentionPending
	}
	var id int64
	err = s.withWriteRetry("Store.InsertIntention", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO intentions (intention, context, priority, status, session_id, metadata, tenant_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, it.Intention, it.Context, it.Priority, string(it.Status), it.SessionID, string(meta), it.TenantID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ListIntentions returns a tenant's intentions, optionally filtered by
// status, ordered highest-priority-first then newest-first.
func (s *Store) ListIntentions(ctx context.Context, tenantID string, status IntentionStatus) ([]Intention, error) {
	query := `
		SELECT id, intention, context, priority, status, created_at, completed_at, session_id, metadata, tenant_id
		FROM intentions WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY priority DESC, created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newError(KindStorage, "Store.ListIntentions", err)
	}
	defer rows.Close()

	var out []Intention
	for rows.Next() {
		it, err := scanIntention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntention(row rowScanner) (Intention, error) {
	var it Intention
	var createdAt, metaJSON, status string
	var completedAt sql.NullString
	if err := row.Scan(&it.ID, &it.Intention, &it.Context, &it.Priority, &status,
		&createdAt, &completedAt, &it.SessionID, &metaJSON, &it.TenantID); err != nil {
		return Intention{}, newError(KindStorage, "Store.scanIntention", err)
	}
	it.Status = IntentionStatus(status)
	it.CreatedAt = parseDBTime(createdAt)
	if completedAt.Valid {
		t := parseDBTime(completedAt.String)
		it.CompletedAt = &t
	}
	_ = json.Unmarshal([]byte(metaJSON), &it.Metadata)
	return it, nil
}

// UpdateIntentionStatus transitions an intention to completed or abandoned.
func (s *Store) UpdateIntentionStatus(ctx context.Context, tenantID string, id int64, status IntentionStatus) error {
	return s.withWriteRetry("Store.UpdateIntentionStatus", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE intentions SET status = ?, completed_at = ?
			WHERE id = ? AND tenant_id = ?
		`, string(status), formatDBTime(time.Now()), id, tenantID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("intention not found")
		}
		return nil
	})
}

// InsertEvolutionEvent appends to a concept's evolution log.
func (s *Store) InsertEvolutionEvent(ctx context.Context, ev ConceptEvolutionEvent) (int64, error) {
	var id int64
	err := s.withWriteRetry("Store.InsertEvolutionEvent", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO concept_evolution (concept_name, event_type, old_value, new_value, context, tenant_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ev.ConceptName, string(ev.EventType), ev.OldValue, ev.NewValue, ev.Context, ev.TenantID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// EvolutionForConcept returns a concept's history oldest-first, answering
// HowDidIThinkAbout.
func (s *Store) EvolutionForConcept(ctx context.Context, tenantID, concept string) ([]ConceptEvolutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concept_name, event_type, old_value, new_value, context, timestamp, tenant_id
		FROM concept_evolution
		WHERE tenant_id = ? AND concept_name = ? COLLATE NOCASE
		ORDER BY timestamp ASC
	`, tenantID, concept)
	if err != nil {
		return nil, newError(KindStorage, "Store.EvolutionForConcept", err)
	}
	defer rows.Close()

	var out []ConceptEvolutionEvent
	for rows.Next() {
		var ev ConceptEvolutionEvent
		var eventType, ts string
		if err := rows.Scan(&ev.ID, &ev.ConceptName, &eventType, &ev.OldValue, &ev.NewValue, &ev.Context, &ts, &ev.TenantID); err != nil {
			return nil, newError(KindStorage, "Store.EvolutionForConcept", err)
		}
		ev.EventType = EvolutionEventType(eventType)
		ev.Timestamp = parseDBTime(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InsertSnapshot records a point-in-time metrics snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap ThinkingSnapshot) (int64, error) {
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return 0, newError(KindValidation, "Store.InsertSnapshot", err)
	}
	var id int64
	err = s.withWriteRetry("Store.InsertSnapshot", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO thinking_snapshots (snapshot_type, content, metrics, tenant_id)
			VALUES (?, ?, ?, ?)
		`, snap.SnapshotType, snap.Content, string(metrics), snap.TenantID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetSnapshot fetches a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, tenantID string, id int64) (ThinkingSnapshot, error) {
	var snap ThinkingSnapshot
	var ts, metrics string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, snapshot_type, content, metrics, timestamp, tenant_id
		FROM thinking_snapshots WHERE id = ? AND tenant_id = ?
	`, id, tenantID).Scan(&snap.ID, &snap.SnapshotType, &snap.Content, &metrics, &ts, &snap.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return ThinkingSnapshot{}, newError(KindNotFound, "Store.GetSnapshot", err)
	}
	if err != nil {
		return ThinkingSnapshot{}, newError(KindStorage, "Store.GetSnapshot", err)
	}
	snap.Timestamp = parseDBTime(ts)
	_ = json.Unmarshal([]byte(metrics), &snap.Metrics)
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot of a given type.
func (s *Store) LatestSnapshot(ctx context.Context, tenantID, snapshotType string) (ThinkingSnapshot, bool, error) {
	var snap ThinkingSnapshot
	var ts, metrics string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, snapshot_type, content, metrics, timestamp, tenant_id
		FROM thinking_snapshots WHERE tenant_id = ? AND snapshot_type = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1
	`, tenantID, snapshotType).Scan(&snap.ID, &snap.SnapshotType, &snap.Content, &metrics, &ts, &snap.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return ThinkingSnapshot{}, false, nil
	}
	if err != nil {
		return ThinkingSnapshot{}, false, newError(KindStorage, "Store.LatestSnapshot", err)
	}
	snap.Timestamp = parseDBTime(ts)
	_ = json.Unmarshal([]byte(metrics), &snap.Metrics)
	return snap, true, nil
}
