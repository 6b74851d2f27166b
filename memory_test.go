package continuum

import (
	"context"
	"path/filepath"
	"testing"
)

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.DBPath = filepath.Join(t.TempDir(), "engine.db")
	cfg.CacheEnabled = true
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineLearnExtractsConceptsAndLinks(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	result, err := e.Learn(ctx, LearnInput{
		TenantID:    "t1",
		UserMessage: "Let's talk about the Attention Graph and SQLite.",
		AIResponse:  "I decided to use the Attention Graph together with SQLite for persistence.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsExtracted == 0 {
		t.Error("expected concepts to be extracted")
	}
	if result.LinksCreated == 0 {
		t.Error("expected at least one pairwise link created")
	}
	if result.DecisionsDetected == 0 {
		t.Error("expected the decision sentence to be detected")
	}

	stats, err := e.Stats(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntities == 0 || stats.TotalMessages != 1 || stats.TotalDecisions == 0 {
		t.Errorf("unexpected stats after Learn: %+v", stats)
	}
}

func TestEngineLearnRejectsMissingFields(t *testing.T) {
	e := testEngine(t, Config{})
	_, err := e.Learn(context.Background(), LearnInput{TenantID: "t1"})
	if !IsKind(err, KindValidation) {
		t.Errorf("expected KindValidation for a missing required field, got %v", err)
	}
}

func TestEngineLearnIsIdempotent(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	in := LearnInput{
		TenantID:    "t1",
		UserMessage: "Let's talk about the Attention Graph and SQLite.",
		AIResponse:  "I decided to use the Attention Graph together with SQLite for persistence.",
	}
	first, err := e.Learn(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.LinksCreated == 0 {
		t.Fatal("expected the first identical Learn call to create links")
	}
	second, err := e.Learn(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if second.LinksCreated != 0 {
		t.Errorf("expected a repeated identical Learn call to create no new links, got %d", second.LinksCreated)
	}
}

func TestEngineLearnDetectsCompoundConcept(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	result, err := e.Learn(ctx, LearnInput{
		TenantID:    "t1",
		UserMessage: `We use "Graph Store" and "Cache Layer" together with "Query Engine" constantly.`,
		AIResponse:  "Noted.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.CompoundsFound != 1 {
		t.Errorf("expected exactly one compound detected for 3+ co-occurring concepts, got %d", result.CompoundsFound)
	}
}

func TestEngineLearnInvalidatesCache(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()

	if _, err := e.Stats(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Learn(ctx, LearnInput{TenantID: "t1", UserMessage: "Graph topic", AIResponse: "ack"}); err != nil {
		t.Fatal(err)
	}
	stats, err := e.Stats(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalMessages != 1 {
		t.Errorf("expected Learn's write to be visible immediately after cache invalidation, got %+v", stats)
	}
}

func TestEngineRecallFindsLearnedConcept(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	if _, err := e.Learn(ctx, LearnInput{
		TenantID:    "t1",
		UserMessage: "The Attention Graph needs a decay sweep.",
		AIResponse:  "Agreed, scheduling it.",
	}); err != nil {
		t.Fatal(err)
	}
	result, err := e.Recall(ctx, RecallInput{TenantID: "t1", Message: "Attention Graph"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsFound == 0 {
		t.Errorf("expected Recall to find the previously learned concept, got %+v", result)
	}
}

func TestEngineRecallTenantIsolated(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	if _, err := e.Learn(ctx, LearnInput{
		TenantID:    "tenant-a",
		UserMessage: "Graphite pipeline notes.",
		AIResponse:  "ack",
	}); err != nil {
		t.Fatal(err)
	}
	result, err := e.Recall(ctx, RecallInput{TenantID: "tenant-b", Message: "Graphite"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConceptsFound != 0 {
		t.Errorf("expected tenant-b to find nothing learned by tenant-a, got %+v", result)
	}
}

func TestEngineProcessTurnRunsRecallThenLearn(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	turn, err := e.ProcessTurn(ctx, "t1", "What about Graph caching?", "Graph caching uses an LRU eviction policy.", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Learn.ConceptsExtracted == 0 {
		t.Error("expected the learn half of ProcessTurn to extract concepts")
	}
}

func TestEngineRecordEvolutionAndHowDidIThinkAbout(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	if err := e.RecordEvolution(ctx, "t1", "Graph", EventCreated, "", "first understanding", "initial"); err != nil {
		t.Fatal(err)
	}
	if err := e.RecordEvolution(ctx, "t1", "Graph", EventRefined, "first understanding", "refined understanding", "later"); err != nil {
		t.Fatal(err)
	}
	history, err := e.HowDidIThinkAbout(ctx, "t1", "graph")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[1].NewValue != "refined understanding" {
		t.Errorf("expected two ordered evolution events, got %+v", history)
	}
}

func TestEngineTakeSnapshotAndCompare(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()

	before, err := e.TakeSnapshot(ctx, "t1", "daily", "before learning")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Learn(ctx, LearnInput{TenantID: "t1", UserMessage: "Graph notes", AIResponse: "ack"}); err != nil {
		t.Fatal(err)
	}
	after, err := e.TakeSnapshot(ctx, "t1", "daily", "after learning")
	if err != nil {
		t.Fatal(err)
	}

	diffs, err := e.CompareSnapshots(ctx, "t1", before.ID, after.ID)
	if err != nil {
		t.Fatal(err)
	}
	var sawEntityIncrease bool
	for _, d := range diffs {
		if d.Metric == "total_entities" && d.Delta > 0 {
			sawEntityIncrease = true
		}
	}
	if !sawEntityIncrease {
		t.Errorf("expected total_entities to have increased between snapshots, got %+v", diffs)
	}
}

func TestEngineIntentionLifecycle(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()

	it, err := e.SetIntention(ctx, "t1", "finish the recall pipeline", "because the deadline is near", "", 9)
	if err != nil {
		t.Fatal(err)
	}
	if it.Priority != 9 {
		t.Errorf("expected priority 9 to be preserved, got %d", it.Priority)
	}

	list, err := e.GetIntentions(ctx, "t1", IntentionPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one pending intention, got %d", len(list))
	}

	if err := e.CompleteIntention(ctx, "t1", it.ID); err != nil {
		t.Fatal(err)
	}
	list, err = e.GetIntentions(ctx, "t1", IntentionPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected no pending intentions after completion, got %d", len(list))
	}
}

func TestEngineResumeCheckBuckets(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	for _, p := range []int{9, 5, 2} {
		if _, err := e.SetIntention(ctx, "t1", "item", "", "", p); err != nil {
			t.Fatal(err)
		}
	}
	buckets, err := e.ResumeCheck(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	if len(buckets[0].Intentions) != 1 || buckets[0].Label != "high" {
		t.Errorf("expected exactly one high-priority intention, got %+v", buckets[0])
	}
	if len(buckets[1].Intentions) != 1 || buckets[1].Label != "medium" {
		t.Errorf("expected exactly one medium-priority intention, got %+v", buckets[1])
	}
	if len(buckets[2].Intentions) != 1 || buckets[2].Label != "low" {
		t.Errorf("expected exactly one low-priority intention, got %+v", buckets[2])
	}
}

func TestEngineSearchMessagesFindsMatchingVerbatim(t *testing.T) {
	e := testEngine(t, Config{})
	ctx := context.Background()
	if _, err := e.Learn(ctx, LearnInput{TenantID: "t1", UserMessage: "tell me about the Graph", AIResponse: "the Graph decays over time"}); err != nil {
		t.Fatal(err)
	}
	matches, err := e.SearchMessages(ctx, "t1", "Graph", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("expected one matching message, got %d", len(matches))
	}
}

func TestEngineDreamPassthrough(t *testing.T) {
	e := testEngine(t, Config{MinLinkStrength: 0.9})
	ctx := context.Background()
	if _, err := e.Learn(ctx, LearnInput{TenantID: "t1", UserMessage: "Start and Next", AIResponse: "ack"}); err != nil {
		t.Fatal(err)
	}
	report, err := e.Dream(ctx, "t1", "Start", 3)
	if err != nil {
		t.Fatal(err)
	}
	_ = report // a walk exists or dead-ends immediately; both are valid outcomes here
}
