package continuum

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testGraph(t *testing.T, cfg Config) (*AttentionGraph, *Store) {
	t.Helper()
	s := testStore(t)
	cfg.ApplyDefaults()
	g, err := NewAttentionGraph(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	return g, s
}

func TestDecayZeroElapsedIsNoOp(t *testing.T) {
	got := decay(0.8, 0.995, 0)
	if got != 0.8 {
		t.Errorf("expected no decay at zero elapsed days, got %f", got)
	}
}

func TestDecayMonotonicWithElapsedDays(t *testing.T) {
	one := decay(0.8, 0.995, 1)
	ten := decay(0.8, 0.995, 10)
	if !(ten < one && one < 0.8) {
		t.Errorf("expected strict decrease as days increase: 0.8=%f one=%f ten=%f", 0.8, one, ten)
	}
}

func TestReinforceClampsToOne(t *testing.T) {
	got := reinforce(0.95, 0.5)
	if got != 1.0 {
		t.Errorf("expected reinforce to clamp at 1.0, got %f", got)
	}
}

func TestReinforceAdditive(t *testing.T) {
	got := reinforce(0.3, 0.1)
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("expected 0.3 + 0.1 = 0.4, got %f", got)
	}
}

func TestTouchCreatesEdgeAtMinStrength(t *testing.T) {
	g, _ := testGraph(t, Config{MinLinkStrength: 0.3})
	ctx := context.Background()
	link, isNew, err := g.Touch(ctx, "tenant1", "Graph", "Cache")
	if err != nil {
		t.Fatal(err)
	}
	if link.Strength != 0.3 {
		t.Errorf("expected new edge strength 0.3, got %f", link.Strength)
	}
	if link.LinkType != LinkHebbian {
		t.Errorf("expected LinkHebbian on a fresh edge, got %s", link.LinkType)
	}
	if !isNew {
		t.Error("expected the first touch of a pair to report isNew=true")
	}
}

func TestTouchReinforcesExistingEdge(t *testing.T) {
	g, _ := testGraph(t, Config{MinLinkStrength: 0.3, HebbianRate: 0.1, DecayFactor: 1.0})
	ctx := context.Background()
	if _, _, err := g.Touch(ctx, "tenant1", "Graph", "Cache"); err != nil {
		t.Fatal(err)
	}
	link, isNew, err := g.Touch(ctx, "tenant1", "Graph", "Cache")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(link.Strength-0.4) > 1e-9 {
		t.Errorf("expected second touch to reinforce to 0.4, got %f", link.Strength)
	}
	if isNew {
		t.Error("expected the second touch of the same pair to report isNew=false")
	}
}

func TestTouchCanonicalOrderingIdempotent(t *testing.T) {
	g, store := testGraph(t, Config{MinLinkStrength: 0.3})
	ctx := context.Background()
	if _, _, err := g.Touch(ctx, "tenant1", "Zebra", "Apple"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Touch(ctx, "tenant1", "Apple", "Zebra"); err != nil {
		t.Fatal(err)
	}
	links, err := store.AllLinks(ctx, "tenant1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("expected touching the same unordered pair in either order to hit one row, got %d", len(links))
	}
}

func TestTouchRejectsSelfLink(t *testing.T) {
	g, _ := testGraph(t, Config{})
	_, _, err := g.Touch(context.Background(), "tenant1", "Graph", "graph")
	if !IsKind(err, KindValidation) {
		t.Errorf("expected KindValidation for a self link, got %v", err)
	}
}

type stubPredictor struct {
	strength float64
	err      error
}

func (p stubPredictor) PredictStrength(_ context.Context, _, _ string, _, _ float64) (float64, error) {
	return p.strength, p.err
}

func TestTouchUsesNeuralPredictorWhenEnabled(t *testing.T) {
	g, _ := testGraph(t, Config{
		MinLinkStrength:        0.3,
		NeuralAttentionEnabled: true,
		NeuralPredictor:        stubPredictor{strength: 0.77},
	})
	ctx := context.Background()
	if _, _, err := g.Touch(ctx, "tenant1", "Graph", "Cache"); err != nil {
		t.Fatal(err)
	}
	link, _, err := g.Touch(ctx, "tenant1", "Graph", "Cache")
	if err != nil {
		t.Fatal(err)
	}
	if link.Strength != 0.77 || link.LinkType != LinkNeural {
		t.Errorf("expected neural predictor's strength to win, got %f %s", link.Strength, link.LinkType)
	}
}

func TestTouchFallsBackToHebbianOnPredictorError(t *testing.T) {
	g, _ := testGraph(t, Config{
		MinLinkStrength:        0.3,
		HebbianRate:            0.1,
		DecayFactor:            1.0,
		NeuralAttentionEnabled: true,
		NeuralPredictor:        stubPredictor{err: errors.New("model unavailable")},
	})
	ctx := context.Background()
	if _, _, err := g.Touch(ctx, "tenant1", "Graph", "Cache"); err != nil {
		t.Fatal(err)
	}
	link, _, err := g.Touch(ctx, "tenant1", "Graph", "Cache")
	if err != nil {
		t.Fatal(err)
	}
	if link.LinkType != LinkHebbian {
		t.Errorf("expected a predictor failure to fall back to LinkHebbian, got %s", link.LinkType)
	}
	if math.Abs(link.Strength-0.4) > 1e-9 {
		t.Errorf("expected hebbian fallback value 0.4, got %f", link.Strength)
	}
}

func TestTouchAllPairwiseReinforcesEveryPair(t *testing.T) {
	g, store := testGraph(t, Config{MinLinkStrength: 0.3})
	ctx := context.Background()
	n, err := g.TouchAll(ctx, "tenant1", []string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 pairwise touches for 3 concepts, got %d", n)
	}
	links, err := store.AllLinks(ctx, "tenant1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 3 {
		t.Errorf("expected 3 persisted links, got %d", len(links))
	}
}

func TestPruneWeakLinksRemovesBelowThreshold(t *testing.T) {
	g, store := testGraph(t, Config{MinLinkStrength: 0.04, PruneThreshold: 0.05, DecayFactor: 1.0})
	ctx := context.Background()
	if _, _, err := g.Touch(ctx, "tenant1", "Weak", "Link"); err != nil {
		t.Fatal(err)
	}
	report, err := g.PruneWeakLinks(ctx, "tenant1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Pruned != 1 {
		t.Errorf("expected the sub-threshold link pruned, got report %+v", report)
	}
	links, err := store.AllLinks(ctx, "tenant1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Errorf("expected no links to survive, got %d", len(links))
	}
}

func TestPruneWeakLinksKeepsStrongLinks(t *testing.T) {
	g, store := testGraph(t, Config{MinLinkStrength: 0.8, PruneThreshold: 0.05, DecayFactor: 1.0})
	ctx := context.Background()
	if _, _, err := g.Touch(ctx, "tenant1", "Strong", "Link"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.PruneWeakLinks(ctx, "tenant1"); err != nil {
		t.Fatal(err)
	}
	links, err := store.AllLinks(ctx, "tenant1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Errorf("expected the strong link to survive, got %d", len(links))
	}
}

func TestDreamWalksToDeadEndWhenNoOutgoingLinks(t *testing.T) {
	g, _ := testGraph(t, Config{MinLinkStrength: 0.3})
	ctx := context.Background()
	report, err := g.Dream(ctx, "tenant1", "Isolated", 5)
	if err != nil {
		t.Fatal(err)
	}
	if report.DeadEnds != 1 || len(report.Path) != 0 {
		t.Errorf("expected an immediate dead end for a concept with no links, got %+v", report)
	}
}

func TestDreamWalksAlongStrongestNeighbor(t *testing.T) {
	g, _ := testGraph(t, Config{MinLinkStrength: 0.9})
	ctx := context.Background()
	if _, _, err := g.Touch(ctx, "tenant1", "Start", "Next"); err != nil {
		t.Fatal(err)
	}
	report, err := g.Dream(ctx, "tenant1", "Start", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Path) != 1 || report.Path[0].To != "Next" {
		t.Errorf("expected a single hop to Next, got %+v", report)
	}
}
