package continuum

import (
	"context"
	"fmt"
)

// Engine is the top-level façade over storage, the attention graph, and
// the cache — the single blocking entry point for learning and recall.
// AsyncEngine (async.go) wraps it for concurrent callers; Engine itself
// makes no concurrency promises beyond "safe to call from multiple
// goroutines".
type Engine struct {
	store *Store
	graph *AttentionGraph
	cache Cache
	cfg   Config

	recall     recallEngine
	instanceID string
}

// NewEngine wires a Store, AttentionGraph, and Cache from cfg (applying
// defaults first) and returns a ready-to-use Engine.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.ApplyDefaults()

	store, err := NewStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	graph, err := NewAttentionGraph(store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	var cache Cache
	if cfg.CacheEnabled {
		cache = NewInProcessCache(cfg.InProcessCacheCap)
	}

	e := &Engine{
		store:      store,
		graph:      graph,
		cache:      cache,
		cfg:        cfg,
		instanceID: newInstanceID(cfg.DefaultTenantID),
	}
	e.recall = recallEngine{store: store, graph: graph, cache: cache, embedder: cfg.EmbeddingProvider, cfg: cfg, metrics: cfg.Metrics, decayFactor: cfg.DecayFactor}
	return e, nil
}

// Close releases the engine's storage and background resources.
func (e *Engine) Close() error {
	e.graph.Close()
	return e.store.Close()
}

// IsHealthy reports whether the storage backend is reachable.
func (e *Engine) IsHealthy() bool { return e.store.IsHealthy() }

// Stats returns row-count diagnostics for tenantID, consulting
// the stats cache first when one is configured.
func (e *Engine) Stats(ctx context.Context, tenantID string) (EntityStats, error) {
	if e.cache != nil {
		if cached, ok := e.cache.GetStatsCache(ctx, tenantID); ok {
			return cached, nil
		}
	}
	stats, err := e.store.GetEntityStats(ctx, tenantID)
	if err != nil {
		return EntityStats{}, err
	}
	if e.cache != nil {
		e.cache.SetStatsCache(ctx, tenantID, stats, e.cfg.StatsCacheTTL)
	}
	return stats, nil
}

// Learn ingests one user/AI turn: extracts concepts and
// decisions, upserts entities, touches every co-occurring pair, detects
// compound concepts, writes the verbatim record and per-role auto-message
// log, then invalidates the tenant's caches so the next Recall sees the
// update. Every step after extraction runs inside one tenant — no
// cross-tenant writes can occur even if the caller passes identical
// concept names for two tenants, since every store call is tenant-scoped.
func (e *Engine) Learn(ctx context.Context, in LearnInput) (LearnResult, error) {
	if err := validateStruct("Engine.Learn", in); err != nil {
		return LearnResult{}, err
	}
	if in.SessionID == "" {
		in.SessionID = newSessionID()
	}

	typedConcepts := ExtractTypedConcepts(in.UserMessage + "\n" + in.AIResponse)
	concepts := make([]string, len(typedConcepts))
	decisions := ExtractDecisions(in.AIResponse)

	for i, tc := range typedConcepts {
		concepts[i] = tc.Name
		if _, err := e.store.UpsertEntity(ctx, in.TenantID, Entity{Name: tc.Name, EntityType: tc.Type}); err != nil {
			return LearnResult{}, err
		}
	}

	linksCreated, err := e.graph.TouchAll(ctx, in.TenantID, concepts)
	if err != nil {
		return LearnResult{}, err
	}

	compoundsFound := 0
	if name, components := ExtractCompound(concepts); name != "" {
		if err := e.store.UpsertCompound(ctx, in.TenantID, name, components); err != nil {
			return LearnResult{}, err
		}
		compoundsFound = 1
	}

	for _, d := range decisions {
		if _, err := e.store.InsertDecision(ctx, Decision{
			InstanceID:    e.instanceID,
			DecisionText:  d,
			ExtractedFrom: in.SessionID,
			TenantID:      in.TenantID,
		}); err != nil {
			return LearnResult{}, err
		}
	}

	if _, err := e.store.InsertMessage(ctx, Message{
		UserMessage: in.UserMessage,
		AIResponse:  in.AIResponse,
		SessionID:   in.SessionID,
		TenantID:    in.TenantID,
		Metadata:    in.Metadata,
		Thinking:    in.Thinking,
	}); err != nil {
		return LearnResult{}, err
	}

	if _, err := e.store.InsertAutoMessage(ctx, AutoMessage{
		InstanceID: e.instanceID,
		Role:       "user",
		Content:    in.UserMessage,
		TenantID:   in.TenantID,
	}); err != nil {
		return LearnResult{}, err
	}
	if _, err := e.store.InsertAutoMessage(ctx, AutoMessage{
		InstanceID: e.instanceID,
		Role:       "assistant",
		Content:    in.AIResponse,
		TenantID:   in.TenantID,
	}); err != nil {
		return LearnResult{}, err
	}

	if e.cache != nil {
		e.cache.InvalidateSearch(ctx, in.TenantID)
		e.cache.InvalidateStats(ctx, in.TenantID)
		e.cache.InvalidateGraph(ctx, in.TenantID)
	}

	return LearnResult{
		ConceptsExtracted: len(concepts),
		DecisionsDetected: len(decisions),
		LinksCreated:      linksCreated,
		CompoundsFound:    compoundsFound,
		TenantID:          in.TenantID,
	}, nil
}

// Recall runs the fusion search pipeline and returns a
// ready-to-splice context string.
func (e *Engine) Recall(ctx context.Context, in RecallInput) (RecallResult, error) {
	return e.recall.recall(ctx, in)
}

// SearchMessages finds recent verbatim messages matching term, independent
// of the entity-graph recall pipeline. Recall's RecallInput.IncludeVerbatim
// folds the same search into the context string as an addendum; this
// method exists for callers that want the raw rows instead.
func (e *Engine) SearchMessages(ctx context.Context, tenantID, term string, limit int) ([]Message, error) {
	return e.store.SearchMessages(ctx, tenantID, term, limit)
}

// ProcessTurn is the common single-call convenience wrapping Recall
// (against the incoming user message) followed by Learn (once the caller
// has a response to record). It exists because most callers want
// "recall, then learn" as one round trip rather than threading tenant IDs
// through two calls by hand.
func (e *Engine) ProcessTurn(ctx context.Context, tenantID, userMessage, aiResponse, sessionID string, metadata map[string]string) (TurnResult, error) {
	recall, err := e.Recall(ctx, RecallInput{TenantID: tenantID, Message: userMessage})
	if err != nil {
		return TurnResult{}, err
	}
	learn, err := e.Learn(ctx, LearnInput{
		TenantID:    tenantID,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		SessionID:   sessionID,
		Metadata:    metadata,
	})
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Recall: recall, Learn: learn}, nil
}

// PruneWeakLinks runs a maintenance sweep over tenantID's attention graph
// and invalidates the graph-dependent caches afterward.
func (e *Engine) PruneWeakLinks(ctx context.Context, tenantID string) (PruneReport, error) {
	report, err := e.graph.PruneWeakLinks(ctx, tenantID)
	if err != nil {
		return PruneReport{}, err
	}
	if e.cache != nil {
		e.cache.InvalidateGraph(ctx, tenantID)
	}
	return report, nil
}

// RecordEvolution appends a concept-understanding change to the evolution
// log.
func (e *Engine) RecordEvolution(ctx context.Context, tenantID, concept string, eventType EvolutionEventType, oldValue, newValue, evolutionContext string) error {
	_, err := e.store.InsertEvolutionEvent(ctx, ConceptEvolutionEvent{
		ConceptName: concept,
		EventType:   eventType,
		OldValue:    oldValue,
		NewValue:    newValue,
		Context:     evolutionContext,
		TenantID:    tenantID,
	})
	return err
}

// HowDidIThinkAbout returns concept's full evolution history, oldest first.
func (e *Engine) HowDidIThinkAbout(ctx context.Context, tenantID, concept string) ([]ConceptEvolutionEvent, error) {
	return e.store.EvolutionForConcept(ctx, tenantID, concept)
}

// TakeSnapshot captures the tenant's current stats as a named, timestamped
// snapshot for later comparison.
func (e *Engine) TakeSnapshot(ctx context.Context, tenantID, snapshotType, content string) (ThinkingSnapshot, error) {
	stats, err := e.store.GetEntityStats(ctx, tenantID)
	if err != nil {
		return ThinkingSnapshot{}, err
	}
	metrics := map[string]float64{
		"total_entities":   float64(stats.TotalEntities),
		"total_links":      float64(stats.TotalLinks),
		"total_messages":   float64(stats.TotalMessages),
		"total_decisions":  float64(stats.TotalDecisions),
		"total_compounds":  float64(stats.TotalCompounds),
		"total_intentions": float64(stats.TotalIntentions),
	}
	id, err := e.store.InsertSnapshot(ctx, ThinkingSnapshot{
		SnapshotType: snapshotType,
		Content:      content,
		Metrics:      metrics,
		TenantID:     tenantID,
	})
	if err != nil {
		return ThinkingSnapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tenantID, id)
}

// SnapshotDiff is the metric-by-metric delta returned by CompareSnapshots.
type SnapshotDiff struct {
	Metric string
	Before float64
	After  float64
	Delta  float64
}

// CompareSnapshots diffs two previously taken snapshots metric by metric.
func (e *Engine) CompareSnapshots(ctx context.Context, tenantID string, beforeID, afterID int64) ([]SnapshotDiff, error) {
	before, err := e.store.GetSnapshot(ctx, tenantID, beforeID)
	if err != nil {
		return nil, err
	}
	after, err := e.store.GetSnapshot(ctx, tenantID, afterID)
	if err != nil {
		return nil, err
	}
	diffs := make([]SnapshotDiff, 0, len(after.Metrics))
	for metric, afterVal := range after.Metrics {
		beforeVal := before.Metrics[metric]
		diffs = append(diffs, SnapshotDiff{
			Metric: metric,
			Before: beforeVal,
			After:  afterVal,
			Delta:  afterVal - beforeVal,
		})
	}
	return diffs, nil
}

// --- Intentions (resumable work items) ---

// SetIntention records a new resumable work item for tenantID.
func (e *Engine) SetIntention(ctx context.Context, tenantID, intention, intentionContext, sessionID string, priority int) (Intention, error) {
	id, err := e.store.InsertIntention(ctx, Intention{
		Intention: intention,
		Context:   intentionContext,
		Priority:  priority,
		SessionID: sessionID,
		TenantID:  tenantID,
	})
	if err != nil {
		return Intention{}, err
	}
	list, err := e.store.ListIntentions(ctx, tenantID, "")
	if err != nil {
		return Intention{}, err
	}
	for _, it := range list {
		if it.ID == id {
			return it, nil
		}
	}
	return Intention{}, newError(KindNotFound, "Engine.SetIntention", fmt.Errorf("intention %d vanished after insert", id))
}

// GetIntentions lists a tenant's intentions, optionally filtered by status.
func (e *Engine) GetIntentions(ctx context.Context, tenantID string, status IntentionStatus) ([]Intention, error) {
	return e.store.ListIntentions(ctx, tenantID, status)
}

// CompleteIntention marks an intention completed.
func (e *Engine) CompleteIntention(ctx context.Context, tenantID string, id int64) error {
	return e.store.UpdateIntentionStatus(ctx, tenantID, id, IntentionCompleted)
}

// AbandonIntention marks an intention abandoned.
func (e *Engine) AbandonIntention(ctx context.Context, tenantID string, id int64) error {
	return e.store.UpdateIntentionStatus(ctx, tenantID, id, IntentionAbandoned)
}

// ResumeBucket groups pending intentions by priority for ResumeCheck.
type ResumeBucket struct {
	Label      string
	Intentions []Intention
}

// ResumeCheck buckets a tenant's pending intentions into high (8-10),
// medium (4-7), and low (1-3) priority groups, for a caller to surface
// "here's what you were in the middle of" at session start.
func (e *Engine) ResumeCheck(ctx context.Context, tenantID string) ([]ResumeBucket, error) {
	pending, err := e.store.ListIntentions(ctx, tenantID, IntentionPending)
	if err != nil {
		return nil, err
	}
	buckets := []ResumeBucket{
		{Label: "high"}, {Label: "medium"}, {Label: "low"},
	}
	for _, it := range pending {
		switch {
		case it.Priority >= 8:
			buckets[0].Intentions = append(buckets[0].Intentions, it)
		case it.Priority >= 4:
			buckets[1].Intentions = append(buckets[1].Intentions, it)
		default:
			buckets[2].Intentions = append(buckets[2].Intentions, it)
		}
	}
	return buckets, nil
}

// Dream runs a weighted random walk over tenantID's attention graph,
// starting from start, for diagnostic/offline exploration.
func (e *Engine) Dream(ctx context.Context, tenantID, start string, maxSteps int) (DreamReport, error) {
	return e.graph.Dream(ctx, tenantID, start, maxSteps)
}
