package continuum

import "time"

// EntityType enumerates the kinds of concept an Entity row may represent.
type EntityType string

const (
	EntityConcept EntityType = "concept"
	EntityDecision EntityType = "decision"
	EntitySession  EntityType = "session"
	EntityPerson   EntityType = "person"
	EntityPlace    EntityType = "place"
	EntityProject  EntityType = "project"
	EntityTool     EntityType = "tool"
	EntityTopic    EntityType = "topic"
	EntityEvent    EntityType = "event"
)

// LinkType enumerates how an attention link's strength was derived.
type LinkType string

const (
	LinkCoOccurrence LinkType = "co-occurrence"
	LinkHebbian      LinkType = "hebbian"
	LinkNeural       LinkType = "neural"
)

// IntentionStatus enumerates the lifecycle of a resumable work item.
type IntentionStatus string

const (
	IntentionPending   IntentionStatus = "pending"
	IntentionCompleted IntentionStatus = "completed"
	IntentionAbandoned IntentionStatus = "abandoned"
)

// EvolutionEventType enumerates how a concept's understanding changed.
type EvolutionEventType string

const (
	EventCreated      EvolutionEventType = "created"
	EventStrengthened EvolutionEventType = "strengthened"
	EventWeakened     EvolutionEventType = "weakened"
	EventConnected    EvolutionEventType = "connected"
	EventRefined      EvolutionEventType = "refined"
	EventContradicted EvolutionEventType = "contradicted"
)

// Entity is a concept, decision, session, or other named atom in a
// tenant's knowledge graph. Dedup key is (lower(Name), TenantID) — the
// first write wins.
type Entity struct {
	ID          int64
	Name        string
	EntityType  EntityType
	Description string
	CreatedAt   time.Time
	TenantID    string
}

// Message is a verbatim user/assistant exchange. Never mutated after
// insert.
type Message struct {
	ID           int64
	UserMessage  string
	AIResponse   string
	SessionID    string
	CreatedAt    time.Time
	TenantID     string
	Metadata     map[string]string
	Thinking     string // optional assistant internal reasoning
}

// AutoMessage is a per-role log entry; message_number is monotonic within
// an instance_id.
type AutoMessage struct {
	ID            int64
	InstanceID    string
	Timestamp     time.Time
	MessageNumber int64
	Role          string // user | assistant | thinking
	Content       string
	Metadata      map[string]string
	TenantID      string
}

// Decision is extracted only from assistant-role text.
type Decision struct {
	ID            int64
	InstanceID    string
	Timestamp     time.Time
	DecisionText  string
	Context       string
	ExtractedFrom string
	TenantID      string
}

// AttentionLink is an unordered weighted association between two concepts
// within a tenant. ConceptA/ConceptB are stored in canonical (min, max)
// order, but Touch accepts either input ordering.
type AttentionLink struct {
	ID           int64
	ConceptA     string
	ConceptB     string
	LinkType     LinkType
	Strength     float64
	CreatedAt    time.Time
	LastAccessed time.Time
	TenantID     string
}

// CompoundConcept is a canonicalized combination of up to three
// co-occurring concepts.
type CompoundConcept struct {
	ID                int64
	CompoundName      string
	ComponentConcepts []string
	CoOccurrenceCount int
	LastSeen          time.Time
	TenantID          string
}

// Intention is a resumable work item.
type Intention struct {
	ID          int64
	Intention   string
	Context     string
	Priority    int // 1-10
	Status      IntentionStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	SessionID   string
	Metadata    map[string]string
	TenantID    string
}

// ConceptEvolutionEvent records a change in how a concept is understood.
type ConceptEvolutionEvent struct {
	ID          int64
	ConceptName string
	EventType   EvolutionEventType
	OldValue    string
	NewValue    string
	Context     string
	Timestamp   time.Time
	TenantID    string
}

// ThinkingSnapshot captures point-in-time engine metrics for later
// comparison via CompareSnapshots.
type ThinkingSnapshot struct {
	ID           int64
	SnapshotType string
	Content      string
	Metrics      map[string]float64
	Timestamp    time.Time
	TenantID     string
}

// --- Learn / Recall contracts ---

// LearnInput is the input to Engine.Learn.
type LearnInput struct {
	TenantID    string `validate:"required"`
	UserMessage string `validate:"required"`
	AIResponse  string `validate:"required"`
	SessionID   string
	Metadata    map[string]string
	Thinking    string
}

// LearnResult is the output of Engine.Learn.
type LearnResult struct {
	ConceptsExtracted int
	DecisionsDetected int
	LinksCreated      int
	CompoundsFound    int
	TenantID          string
}

// RecallInput is the input to Engine.Recall.
type RecallInput struct {
	TenantID    string `validate:"required"`
	Message     string `validate:"required"`
	MaxConcepts int
	// IncludeVerbatim appends recent matching messages rows to the
	// context string, as an addendum to the entity/graph results. Off by
	// default: most callers want the compact entity-graph rendering only.
	IncludeVerbatim bool
}

// RecallResult is the output of Engine.Recall.
type RecallResult struct {
	ContextString      string
	ConceptsFound      int
	RelationshipsFound int
	QueryTimeMS        float64
	TenantID           string
	CacheHit           bool
}

// TurnResult carries both halves of ProcessTurn.
type TurnResult struct {
	Recall RecallResult
	Learn  LearnResult
}
