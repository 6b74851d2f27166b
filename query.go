package continuum

import (
	"context"
	"sort"
	"strings"
	"time"
)

// recallEngine implements the Recall side of the façade.
// It is held by Engine as an unexported field rather than exported on its own, since every
// method needs the same store/graph/cache/provider set Engine already
// holds.
type recallEngine struct {
	store       *Store
	graph       *AttentionGraph
	cache       Cache
	embedder    EmbeddingProvider
	cfg         Config
	metrics     *Metrics
	decayFactor float64
}

// scoredConcept tracks a concept found during recall alongside the
// expansion strength that brought it in (1.0 for a directly matched seed).
type scoredConcept struct {
	name     string
	rank     MatchRank
	strength float64
	fromSeed string // "" if this concept was itself a seed match
}

func (re *recallEngine) recall(ctx context.Context, in RecallInput) (RecallResult, error) {
	if err := validateStruct("Engine.Recall", in); err != nil {
		return RecallResult{}, err
	}
	start := time.Now()

	maxConcepts := in.MaxConcepts
	if maxConcepts <= 0 {
		maxConcepts = 5
	}

	fingerprint := Fingerprint(in.TenantID, in.Message, maxConcepts, in.IncludeVerbatim, providerID(re.embedder), re.cfg.SchemaVersion)
	if re.cache != nil {
		if cached, ok := re.cache.GetSearch(ctx, in.TenantID, fingerprint); ok {
			cached.QueryTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
			re.metrics.RecordQuery(ctx, in.TenantID, cached.QueryTimeMS, true)
			return cached, nil
		}
	}

	seeds := ExtractConcepts(in.Message)
	if len(seeds) > maxConcepts {
		seeds = seeds[:maxConcepts]
	}

	found := make(map[string]*scoredConcept)
	order := make([]string, 0, maxConcepts*re.expansionFactor())

	for _, seed := range seeds {
		matches, err := re.store.FindEntities(ctx, in.TenantID, seed, 3)
		if err != nil {
			return RecallResult{}, err
		}
		for _, m := range matches {
			key := strings.ToLower(m.Entity.Name)
			if _, ok := found[key]; ok {
				continue
			}
			found[key] = &scoredConcept{name: m.Entity.Name, rank: m.Rank, strength: 1.0}
			order = append(order, key)
		}
	}

	expansionCap := maxConcepts * re.expansionFactor()
	for _, key := range append([]string(nil), order...) {
		if len(order) >= expansionCap {
			break
		}
		seedConcept := found[key]
		links, err := re.store.LinksForConcept(ctx, in.TenantID, seedConcept.name)
		if err != nil {
			return RecallResult{}, err
		}
		for _, rl := range topLinks(links, seedConcept.name, re.cfg.MinExpansionStrength, re.decayFactor, time.Now()) {
			if len(order) >= expansionCap {
				break
			}
			rkey := strings.ToLower(rl.concept)
			if _, ok := found[rkey]; ok {
				continue
			}
			found[rkey] = &scoredConcept{
				name:     rl.concept,
				rank:     RankSubstring,
				strength: rl.strength,
				fromSeed: seedConcept.name,
			}
			order = append(order, rkey)
		}
	}

	results := make([]*scoredConcept, 0, len(order))
	for _, key := range order {
		results = append(results, found[key])
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].rank != results[j].rank {
			return results[i].rank < results[j].rank
		}
		return results[i].strength > results[j].strength
	})
	if re.embedder != nil && len(results) > 1 {
		results = re.rerankByEmbedding(ctx, in.Message, results)
	}

	var verbatim []Message
	if in.IncludeVerbatim {
		v, err := re.store.SearchMessages(ctx, in.TenantID, in.Message, 3)
		if err != nil {
			return RecallResult{}, err
		}
		verbatim = v
	}

	contextString := assembleContextString(results, verbatim)
	relationships := 0
	for _, r := range results {
		if r.fromSeed != "" {
			relationships++
		}
	}

	result := RecallResult{
		ContextString:      contextString,
		ConceptsFound:      len(results),
		RelationshipsFound: relationships,
		TenantID:           in.TenantID,
		CacheHit:           false,
	}
	result.QueryTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	re.metrics.RecordQuery(ctx, in.TenantID, result.QueryTimeMS, false)

	if re.cache != nil {
		re.cache.SetSearch(ctx, in.TenantID, fingerprint, result, re.cfg.SearchCacheTTL)
	}
	return result, nil
}

func (re *recallEngine) expansionFactor() int {
	if re.cfg.ExpansionFactor <= 0 {
		return 3
	}
	return re.cfg.ExpansionFactor
}

// rerankByEmbedding reorders results by cosine similarity to the query
// embedding when an EmbeddingProvider is configured. A provider failure
// degrades to the lexical/graph ordering already computed.
func (re *recallEngine) rerankByEmbedding(ctx context.Context, message string, results []*scoredConcept) []*scoredConcept {
	queryVec, err := re.embedder.Embed(ctx, message, "retrieval_query")
	if err != nil {
		return results
	}

	type scored struct {
		c   *scoredConcept
		sim float64
	}
	withSim := make([]scored, 0, len(results))
	for _, r := range results {
		vec, err := re.embedder.Embed(ctx, r.name, "retrieval_document")
		if err != nil {
			withSim = append(withSim, scored{c: r, sim: -1})
			continue
		}
		withSim = append(withSim, scored{c: r, sim: cosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(withSim, func(i, j int) bool { return withSim[i].sim > withSim[j].sim })

	out := make([]*scoredConcept, len(withSim))
	for i, s := range withSim {
		out[i] = s.c
	}
	return out
}

// assembleContextString renders matched concepts, and optionally recent
// matching verbatim messages, into a stable, readable block for the caller
// to splice into an LLM prompt. Ordering is stable for identical inputs:
// concepts first, then the verbatim addendum, both in the order their
// sources already produced them.
func assembleContextString(results []*scoredConcept, verbatim []Message) string {
	if len(results) == 0 && len(verbatim) == 0 {
		return ""
	}
	var b strings.Builder
	if len(results) > 0 {
		b.WriteString("Relevant context:\n")
		for _, r := range results {
			b.WriteString("- ")
			b.WriteString(r.name)
			if r.fromSeed != "" {
				b.WriteString(" (related to ")
				b.WriteString(r.fromSeed)
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	}
	if len(verbatim) > 0 {
		b.WriteString("Recent related exchanges:\n")
		for _, m := range verbatim {
			b.WriteString("- \"")
			b.WriteString(m.UserMessage)
			b.WriteString("\" -> \"")
			b.WriteString(m.AIResponse)
			b.WriteString("\"\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
