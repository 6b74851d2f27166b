package continuum

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubEmbedder returns a fixed vector per text so rerank order is
// deterministic and testable without a real embedding model.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s stubEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s stubEmbedder) Dimension() int { return 3 }

func seedRecallEngine(t *testing.T, cfg Config) (*recallEngine, *Store) {
	t.Helper()
	s := testStore(t)
	cfg.ApplyDefaults()
	graph, err := NewAttentionGraph(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { graph.Close() })
	re := &recallEngine{store: s, graph: graph, cache: NewInProcessCache(100), embedder: cfg.EmbeddingProvider, cfg: cfg, decayFactor: cfg.DecayFactor}
	return re, s
}

func TestRecallFindsDirectSeedMatch(t *testing.T) {
	re, s := seedRecallEngine(t, Config{})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	result, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsFound != 1 {
		t.Errorf("expected exactly one direct seed match, got %+v", result)
	}
}

func TestRecallExpandsOneHopNeighbors(t *testing.T) {
	re, s := seedRecallEngine(t, Config{MinExpansionStrength: 0.1, ExpansionFactor: 5})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertLinkStrength(ctx, "t1", "Graph", "Cache", LinkHebbian, 0.5, time.Now()); err != nil {
		t.Fatal(err)
	}
	result, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsFound != 2 {
		t.Errorf("expected the seed plus its one-hop neighbor, got %+v", result)
	}
	if result.RelationshipsFound != 1 {
		t.Errorf("expected one relationship attributed to expansion, got %+v", result)
	}
}

func TestRecallExpansionRespectsMinStrength(t *testing.T) {
	re, s := seedRecallEngine(t, Config{MinExpansionStrength: 0.9, ExpansionFactor: 5})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertLinkStrength(ctx, "t1", "Graph", "Cache", LinkHebbian, 0.3, time.Now()); err != nil {
		t.Fatal(err)
	}
	result, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsFound != 1 {
		t.Errorf("expected the weak neighbor excluded by the strength floor, got %+v", result)
	}
}

func TestRecallCacheHitSkipsSecondLookup(t *testing.T) {
	re, s := seedRecallEngine(t, Config{})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	first, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit {
		t.Error("expected the first call to miss the cache")
	}

	// The second identical recall shares the first one's fingerprint, so it
	// is served from the cache.
	second, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit {
		t.Error("expected the second identical recall to hit the cache")
	}
}

func TestRecallRerankByEmbeddingReordersResults(t *testing.T) {
	embedder := stubEmbedder{vectors: map[string][]float32{
		"find Graph":  {1, 0, 0},
		"Cache":       {0, 1, 0},
		"Graph":       {1, 0, 0},
	}}
	re, s := seedRecallEngine(t, Config{MinExpansionStrength: 0.1, ExpansionFactor: 5, EmbeddingProvider: embedder})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Cache", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertLinkStrength(ctx, "t1", "Graph", "Cache", LinkHebbian, 0.5, time.Now()); err != nil {
		t.Fatal(err)
	}
	result, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "find Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsFound != 2 {
		t.Fatalf("expected the seed match plus its linked neighbor, got %+v", result)
	}
	if !strings.HasPrefix(result.ContextString, "Relevant context:\n- Graph\n") {
		t.Errorf("expected Graph (closest to the query vector) ranked first, got %q", result.ContextString)
	}
}

func TestRecallEmbeddingFailureDegradesToLexicalOrder(t *testing.T) {
	embedder := stubEmbedder{err: errors.New("embedding service down")}
	re, s := seedRecallEngine(t, Config{EmbeddingProvider: embedder})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graphite", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	result, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsFound != 2 {
		t.Errorf("expected a provider failure to still return the lexical match set, got %+v", result)
	}
}

func TestAssembleContextStringFormatsRelationships(t *testing.T) {
	results := []*scoredConcept{
		{name: "Graph"},
		{name: "Cache", fromSeed: "Graph"},
	}
	got := assembleContextString(results, nil)
	want := "Relevant context:\n- Graph\n- Cache (related to Graph)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAssembleContextStringEmpty(t *testing.T) {
	if got := assembleContextString(nil, nil); got != "" {
		t.Errorf("expected empty string for no results, got %q", got)
	}
}

func TestAssembleContextStringAppendsVerbatimAddendum(t *testing.T) {
	results := []*scoredConcept{{name: "Graph"}}
	verbatim := []Message{{UserMessage: "what about Graph", AIResponse: "it decays over time"}}
	got := assembleContextString(results, verbatim)
	want := "Relevant context:\n- Graph\nRecent related exchanges:\n- \"what about Graph\" -> \"it decays over time\""
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecallIncludeVerbatimAppendsMatchingMessages(t *testing.T) {
	re, s := seedRecallEngine(t, Config{})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertMessage(ctx, Message{UserMessage: "tell me about Graph decay", AIResponse: "it halves over time", TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}
	result, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph", IncludeVerbatim: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.ContextString, "Recent related exchanges:") {
		t.Errorf("expected the verbatim addendum in the context string, got %q", result.ContextString)
	}
}

func TestRecallWithoutIncludeVerbatimOmitsAddendum(t *testing.T) {
	re, s := seedRecallEngine(t, Config{})
	ctx := context.Background()
	if _, err := s.UpsertEntity(ctx, "t1", Entity{Name: "Graph", EntityType: EntityConcept}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertMessage(ctx, Message{UserMessage: "tell me about Graph decay", AIResponse: "it halves over time", TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}
	result, err := re.recall(ctx, RecallInput{TenantID: "t1", Message: "Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(result.ContextString, "Recent related exchanges:") {
		t.Errorf("expected no verbatim addendum by default, got %q", result.ContextString)
	}
}
