package continuum

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// NeuralPredictor optionally supplies a model-predicted strength for an
// edge touch instead of the pure Hebbian update. When NeuralAttentionEnabled
// is set and a predictor is configured, AttentionGraph.Touch asks it first
// and falls back to the Hebbian formula on any error.
type NeuralPredictor interface {
	PredictStrength(ctx context.Context, conceptA, conceptB string, priorStrength float64, daysSinceAccess float64) (float64, error)
}

// AttentionGraph owns the Hebbian-with-decay update rule and link
// maintenance. It wraps a *Store rather than embedding query logic into
// it, so Recall's expansion step and the decay sweep share one code path
// for touching an edge.
type AttentionGraph struct {
	store *Store

	decayFactor float64
	hebbianRate float64
	minStrength float64
	pruneThresh float64

	mu        sync.RWMutex
	predictor NeuralPredictor
	neuralOn  bool

	logger  *zap.SugaredLogger
	watcher *fsnotify.Watcher
}

// NewAttentionGraph constructs a graph bound to store, configured from cfg.
// If cfg.NeuralModelPath is set, a fsnotify watcher is started that logs
// writes to that file. The predictor is not reloaded automatically; a new
// one takes effect only when a caller passes it to SetPredictor.
func NewAttentionGraph(store *Store, cfg Config) (*AttentionGraph, error) {
	g := &AttentionGraph{
		store:       store,
		decayFactor: cfg.DecayFactor,
		hebbianRate: cfg.HebbianRate,
		minStrength: cfg.MinLinkStrength,
		pruneThresh: cfg.PruneThreshold,
		predictor:   cfg.NeuralPredictor,
		neuralOn:    cfg.NeuralAttentionEnabled,
		logger:      cfg.Logger,
	}

	if cfg.NeuralModelPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, newError(KindInvariant, "NewAttentionGraph", err)
		}
		if err := w.Add(cfg.NeuralModelPath); err != nil {
			w.Close()
			return nil, newError(KindInvariant, "NewAttentionGraph", err)
		}
		g.watcher = w
		go g.watchModelReload(cfg.NeuralModelPath)
	}
	return g, nil
}

func (g *AttentionGraph) watchModelReload(path string) {
	for {
		select {
		case ev, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				g.logger.Infow("neural model file changed, predictor swap expected from caller", "path", path)
			}
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warnw("model watcher error", "err", err)
		}
	}
}

// SetPredictor hot-swaps the neural predictor under a write lock, the
// counterpart a caller invokes after observing a watchModelReload log line.
func (g *AttentionGraph) SetPredictor(p NeuralPredictor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.predictor = p
}

// Close releases the fsnotify watcher, if any.
func (g *AttentionGraph) Close() error {
	if g.watcher != nil {
		return g.watcher.Close()
	}
	return nil
}

// decay applies exponential temporal decay: s' = s * decay_factor ^ days_elapsed.
func decay(strength, decayFactor, daysElapsed float64) float64 {
	if daysElapsed <= 0 {
		return strength
	}
	return strength * math.Pow(decayFactor, daysElapsed)
}

// reinforce applies the Hebbian strengthening bump, clamped to 1.0.
func reinforce(strength, hebbianRate float64) float64 {
	return math.Min(1.0, strength+hebbianRate)
}

// Touch records a co-occurrence between two concepts within tenantID,
// creating the edge at minStrength if absent, or decaying-then-reinforcing
// an existing edge. Edge identity is canonicalized internally, so callers
// never need to know which argument order is "native". The returned bool
// is true only when this call created a new edge, so TouchAll can count
// links_created correctly rather than counting every touch.
func (g *AttentionGraph) Touch(ctx context.Context, tenantID, conceptA, conceptB string) (AttentionLink, bool, error) {
	if conceptA == "" || conceptB == "" || strings.EqualFold(conceptA, conceptB) {
		return AttentionLink{}, false, newError(KindValidation, "AttentionGraph.Touch", errSelfLink)
	}

	existing, found, err := g.store.GetLink(ctx, tenantID, conceptA, conceptB)
	if err != nil {
		return AttentionLink{}, false, err
	}

	now := time.Now().UTC()
	linkType := LinkHebbian
	var newStrength float64

	if !found {
		newStrength = g.minStrength
	} else {
		daysElapsed := now.Sub(existing.LastAccessed).Hours() / 24
		decayed := decay(existing.Strength, g.decayFactor, daysElapsed)

		newStrength = reinforce(decayed, g.hebbianRate)

		g.mu.RLock()
		predictor, neuralOn := g.predictor, g.neuralOn
		g.mu.RUnlock()

		if neuralOn && predictor != nil {
			predicted, perr := predictor.PredictStrength(ctx, conceptA, conceptB, decayed, daysElapsed)
			if perr == nil {
				newStrength = math.Min(1.0, predicted)
				linkType = LinkNeural
			} else if g.logger != nil {
				g.logger.Warnw("neural predictor failed, falling back to hebbian", "err", perr)
			}
		} else {
			linkType = existing.LinkType
			if linkType == "" {
				linkType = LinkCoOccurrence
			}
		}
	}

	if err := g.store.UpsertLinkStrength(ctx, tenantID, conceptA, conceptB, linkType, newStrength, now); err != nil {
		return AttentionLink{}, false, err
	}
	link, _, err := g.store.GetLink(ctx, tenantID, conceptA, conceptB)
	return link, !found, err
}

var errSelfLink = newPlainError("cannot link a concept to itself")

// dreamWeakLinkThreshold is the fixed strength below which Dream counts a
// traversed edge as "weak" in its report. Independent of the configurable
// pruneThresh, which governs deletion, not this diagnostic.
const dreamWeakLinkThreshold = 0.3

// TouchAll pairwise-touches every concept in concepts, used by Learn to
// reinforce all co-occurring pairs from a single turn. The returned count
// is the number of edges that did not already exist — a repeat Learn call
// over the same concepts reinforces existing edges but creates none.
func (g *AttentionGraph) TouchAll(ctx context.Context, tenantID string, concepts []string) (int, error) {
	created := 0
	for i := 0; i < len(concepts); i++ {
		for j := i + 1; j < len(concepts); j++ {
			_, isNew, err := g.Touch(ctx, tenantID, concepts[i], concepts[j])
			if err != nil {
				return created, err
			}
			if isNew {
				created++
			}
		}
	}
	return created, nil
}

// PruneReport summarizes a PruneWeakLinks pass.
type PruneReport struct {
	Examined          int
	Pruned            int
	AvgStrengthBefore float64
	AvgStrengthAfter  float64
	Threshold         float64
	DecayApplied      bool
}

// PruneWeakLinks decays every link to the current moment, deletes any edge
// that falls below pruneThresh, and reports before/after averages.
func (g *AttentionGraph) PruneWeakLinks(ctx context.Context, tenantID string) (PruneReport, error) {
	links, err := g.store.AllLinks(ctx, tenantID)
	if err != nil {
		return PruneReport{}, err
	}
	report := PruneReport{Examined: len(links), Threshold: g.pruneThresh, DecayApplied: true}
	if len(links) == 0 {
		return report, nil
	}

	now := time.Now().UTC()
	var beforeSum, afterSum float64
	var survivors int

	for _, link := range links {
		days := now.Sub(link.LastAccessed).Hours() / 24
		decayed := decay(link.Strength, g.decayFactor, days)
		beforeSum += link.Strength

		if decayed < g.pruneThresh {
			if err := g.store.DeleteLink(ctx, tenantID, link.ID); err != nil {
				return report, err
			}
			report.Pruned++
			continue
		}
		if err := g.store.UpsertLinkStrength(ctx, tenantID, link.ConceptA, link.ConceptB, link.LinkType, decayed, now); err != nil {
			return report, err
		}
		afterSum += decayed
		survivors++
	}

	report.AvgStrengthBefore = beforeSum / float64(len(links))
	if survivors > 0 {
		report.AvgStrengthAfter = afterSum / float64(survivors)
	}
	return report, nil
}

// DreamStep is one hop of a Dream walk.
type DreamStep struct {
	From     string
	To       string
	Strength float64
}

// DreamReport is the result of a weighted random walk over the attention
// graph, used for offline exploration/diagnostics ("dream mode").
type DreamReport struct {
	Path      []DreamStep
	WeakLinks int
	Cycles    int
	DeadEnds  int
}

// Dream performs a weighted random walk starting at start for up to
// maxSteps hops, preferring stronger edges, and reports structural
// observations about the walk.
func (g *AttentionGraph) Dream(ctx context.Context, tenantID, start string, maxSteps int) (DreamReport, error) {
	var report DreamReport
	visited := map[string]bool{strings.ToLower(start): true}
	current := start

	for i := 0; i < maxSteps; i++ {
		links, err := g.store.LinksForConcept(ctx, tenantID, current)
		if err != nil {
			return report, err
		}
		if len(links) == 0 {
			report.DeadEnds++
			break
		}

		total := 0.0
		for _, l := range links {
			total += l.Strength
		}
		pick := rand.Float64() * total
		var next AttentionLink
		for _, l := range links {
			pick -= l.Strength
			if pick <= 0 {
				next = l
				break
			}
		}
		if next.ID == 0 {
			next = links[len(links)-1]
		}
		if next.Strength < dreamWeakLinkThreshold {
			report.WeakLinks++
		}

		target := next.ConceptA
		if strings.EqualFold(target, current) {
			target = next.ConceptB
		}

		report.Path = append(report.Path, DreamStep{From: current, To: target, Strength: next.Strength})
		if visited[strings.ToLower(target)] {
			report.Cycles++
			break
		}
		visited[strings.ToLower(target)] = true
		current = target
	}
	return report, nil
}

// rankedLink pairs a link with the concept it leads to, for expansion
// sorting in query.go.
type rankedLink struct {
	concept  string
	strength float64
}

// topLinks filters links to those whose decay-adjusted strength (as of
// now) meets minStrength, then ranks survivors by that effective strength.
// Using the raw stored strength here would let a link touched long ago
// keep passing the threshold until the next PruneWeakLinks sweep.
func topLinks(links []AttentionLink, from string, minStrength, decayFactor float64, now time.Time) []rankedLink {
	out := make([]rankedLink, 0, len(links))
	for _, l := range links {
		days := now.Sub(l.LastAccessed).Hours() / 24
		effective := decay(l.Strength, decayFactor, days)
		if effective < minStrength {
			continue
		}
		target := l.ConceptA
		if strings.EqualFold(target, from) {
			target = l.ConceptB
		}
		out = append(out, rankedLink{concept: target, strength: effective})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].strength > out[j].strength })
	return out
}
