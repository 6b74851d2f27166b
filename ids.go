package continuum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newSessionID generates a fresh session identifier for a Learn call that
// did not supply one.
func newSessionID() string {
	return uuid.NewString()
}

// newInstanceID derives the per-process instance identifier for a tenant.
// instance_id is never caller-supplied: it is stamped once per process at
// Engine construction time, distinct from the caller-supplied session_id
// that threads a single conversation together.
func newInstanceID(tenantID string) string {
	return fmt.Sprintf("%s-%s", tenantID, time.Now().UTC().Format("20060102-150405"))
}

// newRequestID generates a correlation id for a single outbound provider
// call, distinct from session_id: a request id identifies one HTTP round
// trip, a session id threads an entire conversation.
func newRequestID() string {
	return uuid.NewString()
}

// newNodeID generates a federation node identifier.
func newNodeID() string {
	return "node_" + uuid.NewString()
}

// newAPIKey generates an opaque API key token with a "cm_" prefix.
func newAPIKey() string {
	return "cm_" + uuid.NewString()
}

// shortHash returns a short, reversible-looking (but not reversible)
// truncated SHA-256 tag used by the STANDARD anonymization level.
// It is NOT cryptographically reversible; "reversible" here only means
// the same input always maps to the same tag, so a federation consumer
// can correlate repeated mentions of the same entity without learning the
// entity's plaintext.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "hash_" + hex.EncodeToString(sum[:])[:12]
}

// fullHash returns the full 64 hex character SHA-256 digest used by the
// AGGRESSIVE anonymization level, which is irreversible by construction
// (no salt is retained anywhere in the system).
func fullHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
