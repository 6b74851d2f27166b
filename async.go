package continuum

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// AsyncEngine wraps the blocking Engine with concurrency conveniences.
// It never weakens Engine's per-tenant write ordering: batch learning fans
// out across tenants with errgroup, but within a single tenant the
// underlying Store's writeMu still serializes writes. It also dedupes
// identical concurrent recalls with singleflight so a burst of requests
// for the same fingerprint hits storage once.
type AsyncEngine struct {
	engine *Engine
	group  singleflight.Group
}

// NewAsyncEngine wraps engine.
func NewAsyncEngine(engine *Engine) *AsyncEngine {
	return &AsyncEngine{engine: engine}
}

// Recall dedupes concurrent calls sharing the same tenant/message/budget
// via singleflight, then delegates to Engine.Recall.
func (a *AsyncEngine) Recall(ctx context.Context, in RecallInput) (RecallResult, error) {
	key := Fingerprint(in.TenantID, in.Message, in.MaxConcepts, in.IncludeVerbatim, providerID(a.engine.recall.embedder), a.engine.cfg.SchemaVersion)
	v, err, _ := a.group.Do(key, func() (any, error) {
		return a.engine.Recall(ctx, in)
	})
	if err != nil {
		return RecallResult{}, err
	}
	return v.(RecallResult), nil
}

// Learn delegates directly — Learn is already a single atomic unit of
// work and gains nothing from deduplication.
func (a *AsyncEngine) Learn(ctx context.Context, in LearnInput) (LearnResult, error) {
	return a.engine.Learn(ctx, in)
}

// BatchLearnResult pairs a LearnInput's outcome with its index in the
// original batch, since errgroup fan-out completes out of order.
type BatchLearnResult struct {
	Index  int
	Result LearnResult
	Err    error
}

// BatchLearn runs every input's Learn call concurrently (bounded by
// maxConcurrency) and returns one result per input, in input order. A
// single input's failure does not cancel the others — each result carries
// its own error so a caller can retry just the failed ones.
func (a *AsyncEngine) BatchLearn(ctx context.Context, inputs []LearnInput, maxConcurrency int) []BatchLearnResult {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	results := make([]BatchLearnResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			res, err := a.engine.Learn(gctx, in)
			results[i] = BatchLearnResult{Index: i, Result: res, Err: err}
			return nil // never abort the group; errors are per-item
		})
	}
	_ = g.Wait()
	return results
}

// ProcessTurn delegates to Engine.ProcessTurn; recall-then-learn is
// already sequential by nature (the response depends on the recall), so
// there is nothing to parallelize here.
func (a *AsyncEngine) ProcessTurn(ctx context.Context, tenantID, userMessage, aiResponse, sessionID string, metadata map[string]string) (TurnResult, error) {
	return a.engine.ProcessTurn(ctx, tenantID, userMessage, aiResponse, sessionID, metadata)
}

// Close releases the wrapped engine's resources.
func (a *AsyncEngine) Close() error {
	return a.engine.Close()
}
