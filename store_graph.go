package continuum

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// canonicalPair returns (a, b) reordered so the unordered edge {a, b} always
// hashes to the same row regardless of which concept the caller mentions
// first.
func canonicalPair(a, b string) (string, string) {
	if strings.ToLower(a) <= strings.ToLower(b) {
		return a, b
	}
	return b, a
}

// GetLink fetches the attention link between two concepts, if any.
func (s *Store) GetLink(ctx context.Context, tenantID, conceptA, conceptB string) (AttentionLink, bool, error) {
	a, b := canonicalPair(conceptA, conceptB)
	var link AttentionLink
	var linkType, createdAt, lastAccessed string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, concept_a, concept_b, link_type, strength, created_at, last_accessed, tenant_id
		FROM attention_links
		WHERE tenant_id = ? AND concept_a = ? COLLATE NOCASE AND concept_b = ? COLLATE NOCASE
	`, tenantID, a, b).Scan(&link.ID, &link.ConceptA, &link.ConceptB, &linkType,
		&link.Strength, &createdAt, &lastAccessed, &link.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return AttentionLink{}, false, nil
	}
	if err != nil {
		return AttentionLink{}, false, newError(KindStorage, "Store.GetLink", err)
	}
	link.LinkType = LinkType(linkType)
	link.CreatedAt = parseDBTime(createdAt)
	link.LastAccessed = parseDBTime(lastAccessed)
	return link, true, nil
}

// UpsertLinkStrength writes a link's strength and last_accessed timestamp,
// creating the row if absent. Callers (graph.go's Touch) are responsible
// for computing the decayed-then-reinforced value beforehand; this method
// is a pure write.
func (s *Store) UpsertLinkStrength(ctx context.Context, tenantID, conceptA, conceptB string, linkType LinkType, strength float64, accessedAt time.Time) error {
	a, b := canonicalPair(conceptA, conceptB)
	return s.withWriteRetry("Store.UpsertLinkStrength", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attention_links (concept_a, concept_b, link_type, strength, tenant_id, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, concept_a COLLATE NOCASE, concept_b COLLATE NOCASE)
			DO UPDATE SET strength = excluded.strength, last_accessed = excluded.last_accessed, link_type = excluded.link_type
		`, a, b, string(linkType), strength, tenantID, formatDBTime(accessedAt))
		return err
	})
}

// LinksForConcept returns every link touching concept within tenantID, used
// by the one-hop expansion step of Recall.
func (s *Store) LinksForConcept(ctx context.Context, tenantID, concept string) ([]AttentionLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concept_a, concept_b, link_type, strength, created_at, last_accessed, tenant_id
		FROM attention_links
		WHERE tenant_id = ? AND (concept_a = ? COLLATE NOCASE OR concept_b = ? COLLATE NOCASE)
	`, tenantID, concept, concept)
	if err != nil {
		return nil, newError(KindStorage, "Store.LinksForConcept", err)
	}
	defer rows.Close()

	var out []AttentionLink
	for rows.Next() {
		var link AttentionLink
		var linkType, createdAt, lastAccessed string
		if err := rows.Scan(&link.ID, &link.ConceptA, &link.ConceptB, &linkType,
			&link.Strength, &createdAt, &lastAccessed, &link.TenantID); err != nil {
			return nil, newError(KindStorage, "Store.LinksForConcept", err)
		}
		link.LinkType = LinkType(linkType)
		link.CreatedAt = parseDBTime(createdAt)
		link.LastAccessed = parseDBTime(lastAccessed)
		out = append(out, link)
	}
	return out, rows.Err()
}

// AllLinks returns every link for a tenant, used by PruneWeakLinks.
func (s *Store) AllLinks(ctx context.Context, tenantID string) ([]AttentionLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concept_a, concept_b, link_type, strength, created_at, last_accessed, tenant_id
		FROM attention_links WHERE tenant_id = ?
	`, tenantID)
	if err != nil {
		return nil, newError(KindStorage, "Store.AllLinks", err)
	}
	defer rows.Close()

	var out []AttentionLink
	for rows.Next() {
		var link AttentionLink
		var linkType, createdAt, lastAccessed string
		if err := rows.Scan(&link.ID, &link.ConceptA, &link.ConceptB, &linkType,
			&link.Strength, &createdAt, &lastAccessed, &link.TenantID); err != nil {
			return nil, newError(KindStorage, "Store.AllLinks", err)
		}
		link.LinkType = LinkType(linkType)
		link.CreatedAt = parseDBTime(createdAt)
		link.LastAccessed = parseDBTime(lastAccessed)
		out = append(out, link)
	}
	return out, rows.Err()
}

// DeleteLink removes a link by id, used by PruneWeakLinks.
func (s *Store) DeleteLink(ctx context.Context, tenantID string, id int64) error {
	return s.withWriteRetry("Store.DeleteLink", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM attention_links WHERE id = ? AND tenant_id = ?`, id, tenantID)
		return err
	})
}

// UpsertCompound records or bumps a compound concept's co-occurrence count.
func (s *Store) UpsertCompound(ctx context.Context, tenantID, compoundName string, components []string) error {
	componentsJoined := strings.Join(components, "\x1f")
	return s.withWriteRetry("Store.UpsertCompound", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO compound_concepts (compound_name, component_concepts, co_occurrence_count, last_seen, tenant_id)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(tenant_id, compound_name COLLATE NOCASE)
			DO UPDATE SET co_occurrence_count = co_occurrence_count + 1, last_seen = excluded.last_seen
		`, compoundName, componentsJoined, formatDBTime(time.Now()), tenantID)
		return err
	})
}

// TopCompounds returns a tenant's compound concepts ordered by recency.
func (s *Store) TopCompounds(ctx context.Context, tenantID string, limit int) ([]CompoundConcept, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, compound_name, component_concepts, co_occurrence_count, last_seen, tenant_id
		FROM compound_concepts WHERE tenant_id = ?
		ORDER BY last_seen DESC LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, newError(KindStorage, "Store.TopCompounds", err)
	}
	defer rows.Close()

	var out []CompoundConcept
	for rows.Next() {
		var cc CompoundConcept
		var components, lastSeen string
		if err := rows.Scan(&cc.ID, &cc.CompoundName, &components, &cc.CoOccurrenceCount, &lastSeen, &cc.TenantID); err != nil {
			return nil, newError(KindStorage, "Store.TopCompounds", err)
		}
		cc.ComponentConcepts = strings.Split(components, "\x1f")
		cc.LastSeen = parseDBTime(lastSeen)
		out = append(out, cc)
	}
	return out, rows.Err()
}
