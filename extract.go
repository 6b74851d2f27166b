package continuum

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// ExtractConcepts pulls candidate concept names out of free text:
// capitalized phrases, quoted terms, and CamelCase/snake_case technical
// terms, filtered through a stopword list and a minimum length,
// deduplicated case-insensitively while keeping the first-seen casing.
func ExtractConcepts(text string) []string {
	typed := ExtractTypedConcepts(text)
	out := make([]string, len(typed))
	for i, t := range typed {
		out[i] = t.Name
	}
	return out
}

// TypedConcept is a concept name paired with the EntityType inferred from
// which extraction pattern surfaced it.
type TypedConcept struct {
	Name string
	Type EntityType
}

// ExtractTypedConcepts runs the same three extraction patterns as
// ExtractConcepts but keeps each match's provenance, inferring an
// EntityType from the shape of the match: a quoted term reads as a topic
// someone named explicitly, a capitalized phrase as the default concept
// mention, and a CamelCase/snake_case identifier as a named tool rather
// than a general concept. A candidate matched by more than one pattern
// keeps the type of whichever pattern matched it first.
func ExtractTypedConcepts(text string) []TypedConcept {
	seen := make(map[string]string) // lower -> first-seen casing
	kind := make(map[string]EntityType)
	order := make([]string, 0, 8)

	add := func(raw string, t EntityType) {
		candidate := strings.TrimSpace(raw)
		if len(candidate) <= 2 {
			return
		}
		lower := strings.ToLower(candidate)
		allStopwords := true
		for _, w := range strings.Fields(lower) {
			if !stopwords[w] {
				allStopwords = false
				break
			}
		}
		if allStopwords {
			return
		}
		if _, ok := seen[lower]; ok {
			return
		}
		seen[lower] = candidate
		kind[lower] = t
		order = append(order, lower)
	}

	for _, m := range capitalizedPhraseRe.FindAllString(text, -1) {
		add(m, EntityConcept)
	}
	for _, m := range quotedTermRe.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 {
			add(m[1], EntityTopic)
		}
	}
	for _, m := range camelOrSnakeRe.FindAllString(text, -1) {
		add(m, EntityTool)
	}

	out := make([]TypedConcept, 0, len(order))
	for _, lower := range order {
		out = append(out, TypedConcept{Name: seen[lower], Type: kind[lower]})
	}
	return out
}

var (
	// Sequences of 1-4 capitalized words, e.g. "Attention Graph", "SQLite".
	capitalizedPhraseRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*){0,3})\b`)
	// Quoted terms. ExtractTypedConcepts uses only the double-quoted group;
	// a single-quoted match adds no concept.
	quotedTermRe = regexp.MustCompile(`"([^"]{3,60})"|'([^']{3,60})'`)
	// CamelCase or snake_case technical identifiers.
	camelOrSnakeRe = regexp.MustCompile(`\b([a-z][a-z0-9]*(?:_[a-z0-9]+)+|[a-z]+[A-Z][a-zA-Z0-9]*)\b`)
)

var stopwords = map[string]bool{
	"the": true, "this": true, "that": true, "these": true, "those": true,
	"when": true, "where": true, "what": true, "how": true, "why": true,
}

// decisionPattern pairs a regex with the submatch group holding the
// decision's payload text.
type decisionPattern struct {
	re    *regexp.Regexp
	group int
}

var decisionPatterns = []decisionPattern{
	{regexp.MustCompile(`(?i)\bI (?:will|am going to|decided to|chose to)\s+(.{3,200}?)[.\n]`), 1},
	{regexp.MustCompile(`(?i)\b(?:Creating|Building|Writing|Implementing)\s+(.{3,200}?)[.\n]`), 1},
	{regexp.MustCompile(`(?i)\bMy (?:decision|choice|plan) (?:is|was)\s+(.{3,200}?)[.\n]`), 1},
}

// ExtractDecisions scans assistant-authored text for decision statements.
// Only text in the 10-200 character range (after trimming) is kept;
// shorter fragments are noise, longer ones are treated as narrative
// rather than a discrete decision.
func ExtractDecisions(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range decisionPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if len(m) <= p.group {
				continue
			}
			candidate := strings.TrimSpace(m[p.group])
			if len(candidate) < 10 || len(candidate) > 200 {
				continue
			}
			key := strings.ToLower(candidate)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, candidate)
		}
	}
	return out
}

// ExtractCompound builds a canonical compound-concept name from up to three
// concepts, sorted for stable naming regardless of extraction order.
func ExtractCompound(concepts []string) (name string, components []string) {
	if len(concepts) < 2 {
		return "", nil
	}
	sorted := append([]string(nil), concepts...)
	sort.Strings(sorted)
	n := len(sorted)
	if n > 3 {
		n = 3
	}
	components = sorted[:n]
	return strings.Join(components, " + "), components
}

// --- Pluggable concept sources ---

// ConceptSource is a pluggable concept extractor. Implementations may wrap
// regex heuristics, an embedding-based classifier, or an LLM call; the
// ensemble voter only cares about the returned concept set.
type ConceptSource interface {
	Name() string
	ExtractConcepts(ctx context.Context, text string) ([]string, error)
}

// RegexConceptSource adapts ExtractConcepts to the ConceptSource interface,
// giving the ensemble a zero-dependency baseline voter alongside any
// embedding- or model-backed sources a caller plugs in.
type RegexConceptSource struct{}

func (RegexConceptSource) Name() string { return "regex" }

func (RegexConceptSource) ExtractConcepts(_ context.Context, text string) ([]string, error) {
	return ExtractConcepts(text), nil
}

// VoteStrategy selects how an EnsembleVoter reconciles disagreeing sources.
type VoteStrategy string

const (
	// VoteUnion keeps every concept any source proposed.
	VoteUnion VoteStrategy = "union"
	// VoteIntersection keeps only concepts every source proposed.
	VoteIntersection VoteStrategy = "intersection"
	// VoteWeighted keeps concepts meeting MinAgreementCount and
	// ConfidenceThreshold, weighting by fraction of sources in agreement.
	VoteWeighted VoteStrategy = "weighted"
)

// VotedConcept is an ensemble-reconciled concept with its provenance.
type VotedConcept struct {
	Concept        string
	Confidence     float64
	Sources        []string
	AgreementCount int
}

// EnsembleVoter runs multiple ConceptSources and reconciles their output.
type EnsembleVoter struct {
	Sources             []ConceptSource
	Strategy            VoteStrategy
	MinAgreementCount   int
	ConfidenceThreshold float64
}

// Vote extracts concepts from every source and reconciles them according to
// Strategy. Source errors are skipped without logging (a failing extractor
// degrades the vote rather than failing the whole call); only when every
// source fails does Vote return a KindProvider error.
func (v EnsembleVoter) Vote(ctx context.Context, text string) ([]VotedConcept, error) {
	type tally struct {
		canonical string
		sources   map[string]bool
	}
	tallies := make(map[string]*tally)
	order := make([]string, 0, 16)

	total := 0
	for _, src := range v.Sources {
		concepts, err := src.ExtractConcepts(ctx, text)
		if err != nil {
			continue
		}
		total++
		for _, c := range concepts {
			key := strings.ToLower(c)
			t, ok := tallies[key]
			if !ok {
				t = &tally{canonical: c, sources: make(map[string]bool)}
				tallies[key] = t
				order = append(order, key)
			}
			t.sources[src.Name()] = true
		}
	}
	if total == 0 {
		return nil, newError(KindProvider, "EnsembleVoter.Vote", errAllSourcesFailed)
	}

	minAgreement := v.MinAgreementCount
	if minAgreement <= 0 {
		minAgreement = 1
	}

	var out []VotedConcept
	for _, key := range order {
		t := tallies[key]
		agreement := len(t.sources)
		confidence := float64(agreement) / float64(total)

		keep := false
		switch v.Strategy {
		case VoteIntersection:
			keep = agreement == total
		case VoteWeighted:
			keep = agreement >= minAgreement && confidence >= v.ConfidenceThreshold
		default: // VoteUnion
			keep = true
		}
		if !keep {
			continue
		}

		names := make([]string, 0, len(t.sources))
		for name := range t.sources {
			names = append(names, name)
		}
		sort.Strings(names)

		out = append(out, VotedConcept{
			Concept:        t.canonical,
			Confidence:     confidence,
			Sources:        names,
			AgreementCount: agreement,
		})
	}
	return out, nil
}

var errAllSourcesFailed = newPlainError("all concept sources failed")

// newPlainError avoids importing errors twice for a single static sentinel.
func newPlainError(msg string) error {
	return plainError(msg)
}

type plainError string

func (e plainError) Error() string { return string(e) }
