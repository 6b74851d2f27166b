package continuum

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// requestIDHeader carries a fresh id (newRequestID) on every outbound
// embedding call. The id is generated per HTTP request; it is not derived
// from the Recall/Learn call that triggered it, and continuum does not log it.
const requestIDHeader = "X-Continuum-Request-Id"

// transientProviderError marks an embedding-provider failure as worth
// retrying (a network hiccup, 429, or 5xx) rather than a permanent one
// (bad API key, malformed response).
type transientProviderError struct{ err error }

func (e *transientProviderError) Error() string { return e.err.Error() }
func (e *transientProviderError) Unwrap() error { return e.err }

func transientProvider(err error) error { return &transientProviderError{err: err} }

func isTransientProviderError(err error) bool {
	var tpe *transientProviderError
	return errors.As(err, &tpe)
}

// transientHTTPStatus reports whether status is worth a retry: rate
// limiting or a server-side failure, as opposed to a client error that
// will never succeed on retry.
func transientHTTPStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// withProviderRetry retries fn once with exponential backoff when it
// reports a transientProviderError, mirroring Store.withWriteRetry's
// retry-once-on-transient shape: a flaky embedding call degrades the same
// way a flaky write does, one retry, then surface whatever remains. Every
// error leaving this function is wrapped as KindProvider so a failed
// rerank step (itself a no-op degrade in query.go) is distinguishable from
// a storage or validation failure in logs.
func withProviderRetry(op string, fn func() error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && isTransientProviderError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
	if err != nil {
		return newError(KindProvider, op, err)
	}
	return nil
}

// EmbeddingProvider turns text into a fixed-dimension vector for the
// optional vector-similarity rerank step of Recall. taskType
// distinguishes query-time embeddings from document-time embeddings for
// providers whose models are asymmetric (Gemini's "retrieval_query" vs
// "retrieval_document").
type EmbeddingProvider interface {
	Embed(ctx context.Context, text, taskType string) ([]float32, error)
	Dimension() int
}

// TruncatingProvider wraps another EmbeddingProvider and truncates its
// output to a smaller Matryoshka-style prefix, renormalizing so the result
// is still unit length. This lets a tenant trade recall precision for
// storage/compute by asking for a cheaper sub-dimension of a model trained
// with Matryoshka representation learning (e.g. Gemini's and OpenAI's
// newer embedding models), without needing a dedicated small model.
type TruncatingProvider struct {
	inner EmbeddingProvider
	dim   int
}

// NewTruncatingProvider wraps inner, truncating every embedding to dim
// components. dim must not exceed inner.Dimension().
func NewTruncatingProvider(inner EmbeddingProvider, dim int) *TruncatingProvider {
	if dim <= 0 || dim > inner.Dimension() {
		dim = inner.Dimension()
	}
	return &TruncatingProvider{inner: inner, dim: dim}
}

func (p *TruncatingProvider) Dimension() int { return p.dim }

func (p *TruncatingProvider) Embed(ctx context.Context, text, taskType string) ([]float32, error) {
	full, err := p.inner.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if p.dim >= len(full) {
		return full, nil
	}
	truncated := make([]float32, p.dim)
	copy(truncated, full[:p.dim])
	return normalize(truncated), nil
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// cosineSimilarity computes the cosine similarity of two equal-length
// vectors, used by query.go's optional vector rerank.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
