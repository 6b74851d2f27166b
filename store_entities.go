package continuum

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// UpsertEntity inserts name under tenantID, or returns the existing row if
// one already matches case-insensitively. The first write's casing and
// description win; later calls are no-ops on conflict.
func (s *Store) UpsertEntity(ctx context.Context, tenantID string, e Entity) (Entity, error) {
	e.TenantID = tenantID
	var id int64
	err := s.withWriteRetry("Store.UpsertEntity", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO entities (name, entity_type, description, tenant_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant_id, name COLLATE NOCASE) DO NOTHING
		`, e.Name, string(e.EntityType), e.Description, tenantID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			id, err = res.LastInsertId()
			return err
		}
		return s.db.QueryRowContext(ctx, `
			SELECT id FROM entities WHERE tenant_id = ? AND name = ? COLLATE NOCASE
		`, tenantID, e.Name).Scan(&id)
	})
	if err != nil {
		return Entity{}, err
	}
	return s.GetEntity(ctx, tenantID, id)
}

// GetEntity fetches a single entity scoped to tenantID.
func (s *Store) GetEntity(ctx context.Context, tenantID string, id int64) (Entity, error) {
	var e Entity
	var createdAt string
	var entityType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type, description, created_at, tenant_id
		FROM entities WHERE id = ? AND tenant_id = ?
	`, id, tenantID).Scan(&e.ID, &e.Name, &entityType, &e.Description, &createdAt, &e.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, newError(KindNotFound, "Store.GetEntity", err)
	}
	if err != nil {
		return Entity{}, newError(KindStorage, "Store.GetEntity", err)
	}
	e.EntityType = EntityType(entityType)
	e.CreatedAt = parseDBTime(createdAt)
	return e, nil
}

// MatchRank describes how strongly a found entity matched a query term,
// used to order FindEntities results: exact > prefix > substring.
type MatchRank int

const (
	RankExact MatchRank = iota
	RankPrefix
	RankSubstring
)

// EntityMatch pairs an Entity with the rank its name matched at.
type EntityMatch struct {
	Entity Entity
	Rank   MatchRank
}

// FindEntities looks up entities within tenantID whose name matches term by
// exact, prefix, or substring comparison (case-insensitive), returning at
// most limit rows ordered exact-first.
func (s *Store) FindEntities(ctx context.Context, tenantID, term string, limit int) ([]EntityMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, entity_type, description, created_at, tenant_id,
			CASE
				WHEN name = ? COLLATE NOCASE THEN 0
				WHEN name LIKE ? ESCAPE '\' COLLATE NOCASE THEN 1
				ELSE 2
			END AS rank
		FROM entities
		WHERE tenant_id = ? AND (
			name = ? COLLATE NOCASE
			OR name LIKE ? ESCAPE '\' COLLATE NOCASE
			OR name LIKE ? ESCAPE '\' COLLATE NOCASE
		)
		ORDER BY rank ASC, length(name) ASC
		LIMIT ?
	`, term, likePrefix(term), tenantID, term, likePrefix(term), likeContains(term), limit)
	if err != nil {
		return nil, newError(KindStorage, "Store.FindEntities", err)
	}
	defer rows.Close()

	var out []EntityMatch
	for rows.Next() {
		var m EntityMatch
		var createdAt, entityType string
		var rank int
		if err := rows.Scan(&m.Entity.ID, &m.Entity.Name, &entityType, &m.Entity.Description,
			&createdAt, &m.Entity.TenantID, &rank); err != nil {
			return nil, newError(KindStorage, "Store.FindEntities", err)
		}
		m.Entity.EntityType = EntityType(entityType)
		m.Entity.CreatedAt = parseDBTime(createdAt)
		m.Rank = MatchRank(rank)
		out = append(out, m)
	}
	return out, rows.Err()
}

func likePrefix(s string) string   { return escapeLike(s) + "%" }
func likeContains(s string) string { return "%" + escapeLike(s) + "%" }

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// InsertMessage records a verbatim exchange.
func (s *Store) InsertMessage(ctx context.Context, m Message) (int64, error) {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return 0, newError(KindValidation, "Store.InsertMessage", err)
	}
	var id int64
	err = s.withWriteRetry("Store.InsertMessage", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (user_message, ai_response, session_id, tenant_id, metadata, thinking)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.UserMessage, m.AIResponse, m.SessionID, m.TenantID, string(meta), m.Thinking)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// InsertAutoMessage appends a per-role log entry, assigning the next
// monotonic message_number for instanceID.
func (s *Store) InsertAutoMessage(ctx context.Context, am AutoMessage) (int64, error) {
	meta, err := json.Marshal(am.Metadata)
	if err != nil {
		return 0, newError(KindValidation, "Store.InsertAutoMessage", err)
	}
	var id int64
	err = s.withWriteRetry("Store.InsertAutoMessage", func() error {
		var next int64
		row := s.db.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(message_number), 0) + 1 FROM auto_messages
			WHERE tenant_id = ? AND instance_id = ?
		`, am.TenantID, am.InstanceID)
		if err := row.Scan(&next); err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO auto_messages (instance_id, timestamp, message_number, role, content, metadata, tenant_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, am.InstanceID, formatDBTime(time.Now()), next, am.Role, am.Content, string(meta), am.TenantID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// InsertDecision records an extracted decision.
func (s *Store) InsertDecision(ctx context.Context, d Decision) (int64, error) {
	var id int64
	err := s.withWriteRetry("Store.InsertDecision", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO decisions (instance_id, timestamp, decision_text, context, extracted_from, tenant_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, d.InstanceID, formatDBTime(time.Now()), d.DecisionText, d.Context, d.ExtractedFrom, d.TenantID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// SearchMessages finds recent verbatim messages within tenantID whose user
// or assistant text contains term, newest first. Used both as its own
// operation and as the optional verbatim addendum to Recall's context
// string.
func (s *Store) SearchMessages(ctx context.Context, tenantID, term string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := likeContains(term)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_message, ai_response, session_id, created_at, tenant_id
		FROM messages
		WHERE tenant_id = ? AND (user_message LIKE ? ESCAPE '\' COLLATE NOCASE OR ai_response LIKE ? ESCAPE '\' COLLATE NOCASE)
		ORDER BY created_at DESC
		LIMIT ?
	`, tenantID, pattern, pattern, limit)
	if err != nil {
		return nil, newError(KindStorage, "Store.SearchMessages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserMessage, &m.AIResponse, &m.SessionID, &createdAt, &m.TenantID); err != nil {
			return nil, newError(KindStorage, "Store.SearchMessages", err)
		}
		m.CreatedAt = parseDBTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// EntityStats summarizes a tenant's entity graph for get_stats.
type EntityStats struct {
	TotalEntities   int
	TotalLinks      int
	TotalMessages   int
	TotalDecisions  int
	TotalCompounds  int
	TotalIntentions int
}

// GetEntityStats gathers row counts scoped to tenantID.
func (s *Store) GetEntityStats(ctx context.Context, tenantID string) (EntityStats, error) {
	var st EntityStats
	queries := []struct {
		table string
		dst   *int
	}{
		{"entities", &st.TotalEntities},
		{"attention_links", &st.TotalLinks},
		{"messages", &st.TotalMessages},
		{"decisions", &st.TotalDecisions},
		{"compound_concepts", &st.TotalCompounds},
		{"intentions", &st.TotalIntentions},
	}
	for _, q := range queries {
		row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table+" WHERE tenant_id = ?", tenantID)
		if err := row.Scan(q.dst); err != nil {
			return EntityStats{}, newError(KindStorage, "Store.GetEntityStats", err)
		}
	}
	return st, nil
}
