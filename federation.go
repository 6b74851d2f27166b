package continuum

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Tier is a federation account tier. Each tier carries a fixed contribution
// policy — there is no per-tenant override, only the map below.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// AnonymizationLevel controls how much identifying detail is stripped from
// a contribution before it leaves the tenant's boundary.
type AnonymizationLevel string

const (
	AnonymizeNone       AnonymizationLevel = "none"
	AnonymizeStandard   AnonymizationLevel = "standard"
	AnonymizeAggressive AnonymizationLevel = "aggressive"
)

// TierPolicy is the fixed contribution policy for one tier.
type TierPolicy struct {
	Mandatory     bool
	AllowOptOut   bool
	Anonymization AnonymizationLevel
}

// tierPolicies is the exhaustive, non-configurable table of per-tier
// federation policy: FREE contributes mandatorily and aggressively
// anonymized with no opt-out; PRO contributes at standard anonymization
// and may opt out; ENTERPRISE contribution is optional with opt-out, and
// contributed data is passed on without anonymization.
var tierPolicies = map[Tier]TierPolicy{
	TierFree:       {Mandatory: true, AllowOptOut: false, Anonymization: AnonymizeAggressive},
	TierPro:        {Mandatory: false, AllowOptOut: true, Anonymization: AnonymizeStandard},
	TierEnterprise: {Mandatory: false, AllowOptOut: true, Anonymization: AnonymizeNone},
}

// PolicyFor returns the fixed policy for tier, or the FREE policy if tier
// is unrecognized (fail closed toward the strictest handling).
func PolicyFor(tier Tier) TierPolicy {
	if p, ok := tierPolicies[tier]; ok {
		return p
	}
	return tierPolicies[TierFree]
}

// Contribution is one tenant's candidate payload for the federation graph,
// before anonymization.
type Contribution struct {
	TenantID  string
	UserID    string
	Concept   string
	Text      string
	Entities  []string
	Timestamp time.Time
}

// AnonymizedContribution is what actually crosses the tenant boundary.
// TenantID/UserID are populated only at AnonymizeNone — STANDARD and
// AGGRESSIVE strip them entirely rather than retaining them under a hash,
// since a hash tag derived from the tenant/user id is still a stable
// identifier for that tenant/user, not an anonymization of it. Entities are
// hashed (reversibly at STANDARD, irreversibly at AGGRESSIVE) instead.
type AnonymizedContribution struct {
	TenantID   string // plaintext at AnonymizeNone only, "" otherwise
	UserID     string // plaintext at AnonymizeNone only, "" otherwise
	Concept    string
	Text       string
	Entities   []string       // plaintext at NONE, hashed at STANDARD/AGGRESSIVE
	TimeBucket map[string]int // e.g. {"hour": 14, "day_of_week": 3}, populated at AGGRESSIVE
	Timestamp  string         // RFC3339 at NONE, date-generalized at STANDARD, empty at AGGRESSIVE
}

// TierEnforcer decides whether a contribution is allowed, and if so,
// anonymizes it according to the tenant's tier.
type TierEnforcer struct {
	tenantTiers map[string]Tier
	optOuts     map[string]bool
}

// NewTierEnforcer builds an enforcer over a tenant->tier map. tenants
// absent from the map are treated as FREE (fail closed).
func NewTierEnforcer(tenantTiers map[string]Tier) *TierEnforcer {
	return &TierEnforcer{tenantTiers: tenantTiers, optOuts: make(map[string]bool)}
}

// SetOptOut records a tenant's opt-out preference. A FREE tenant's opt-out
// is recorded but never honored by CheckContributionAllowed, since FREE's
// policy disallows opting out at all.
func (te *TierEnforcer) SetOptOut(tenantID string, optOut bool) {
	te.optOuts[tenantID] = optOut
}

func (te *TierEnforcer) tierOf(tenantID string) Tier {
	if t, ok := te.tenantTiers[tenantID]; ok {
		return t
	}
	return TierFree
}

// CheckContributionAllowed reports whether tenantID's data may be
// contributed right now, given its tier policy and opt-out state.
func (te *TierEnforcer) CheckContributionAllowed(tenantID string) bool {
	policy := PolicyFor(te.tierOf(tenantID))
	if policy.Mandatory {
		return true
	}
	if !policy.AllowOptOut {
		return true
	}
	return !te.optOuts[tenantID]
}

// Anonymize applies tenantID's tier anonymization level to c. STANDARD
// strips tenant_id/user_id entirely and hashes entities with a short
// reversible-style tag, date-generalizing the timestamp; AGGRESSIVE also
// strips every remaining identifier, hashes entities with a full
// irreversible SHA-256, reduces the timestamp to {hour, day_of_week}, and
// truncates concept/text over 100 characters.
func (te *TierEnforcer) Anonymize(c Contribution) AnonymizedContribution {
	level := PolicyFor(te.tierOf(c.TenantID)).Anonymization
	out := AnonymizedContribution{Concept: c.Concept}

	switch level {
	case AnonymizeNone:
		out.TenantID = c.TenantID
		out.UserID = c.UserID
		out.Text = c.Text
		out.Entities = append([]string(nil), c.Entities...)
		out.Timestamp = c.Timestamp.UTC().Format(time.RFC3339)
	case AnonymizeStandard:
		out.Entities = hashEntities(c.Entities, shortHash)
		out.Text = c.Text
		out.Timestamp = c.Timestamp.UTC().Format("2006-01-02")
	case AnonymizeAggressive:
		out.Entities = hashEntities(c.Entities, fullHash)
		out.Concept = truncateText(c.Concept, 100)
		out.Text = truncateText(c.Text, 100)
		out.TimeBucket = map[string]int{
			"hour":        c.Timestamp.UTC().Hour(),
			"day_of_week": int(c.Timestamp.UTC().Weekday()),
		}
	}
	return out
}

// hashEntities maps every entity through h, preserving order; nil in,
// nil out, so AnonymizedContribution.Entities stays unset when a
// contribution carries no entities at all.
func hashEntities(entities []string, h func(string) string) []string {
	if entities == nil {
		return nil
	}
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = h(e)
	}
	return out
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// EnforceContribution is the single call site a caller uses: it checks the
// policy and, if allowed, returns the anonymized payload ready to send to
// a federation node.
func (te *TierEnforcer) EnforceContribution(c Contribution) (AnonymizedContribution, bool) {
	if !te.CheckContributionAllowed(c.TenantID) {
		return AnonymizedContribution{}, false
	}
	return te.Anonymize(c), true
}

// ContributionStats is one tenant's running contribution/consumption
// ledger, used to compute the fairness ratio federation nodes report.
type ContributionStats struct {
	Contributed      int
	Consumed         int
	LastContribution time.Time
}

// Ratio returns Contributed/Consumed, or 0 if nothing has been consumed
// yet (avoids a divide-by-zero for a brand new tenant).
func (cs ContributionStats) Ratio() float64 {
	if cs.Consumed == 0 {
		return 0
	}
	return float64(cs.Contributed) / float64(cs.Consumed)
}

// ContributionTracker is an in-memory ledger of per-tenant contribution
// stats. A production deployment would back this with Store, but the
// ledger's shape is intentionally separate from the memory graph schema
// since federation bookkeeping is node-local, not tenant-queryable data.
type ContributionTracker struct {
	stats   map[string]*ContributionStats
	metrics *Metrics
}

// NewContributionTracker returns an empty tracker.
func NewContributionTracker() *ContributionTracker {
	return &ContributionTracker{stats: make(map[string]*ContributionStats)}
}

// SetMetrics attaches an optional metrics sink; a nil tracker metrics field
// makes TrackContribution's reporting step a no-op, same as everywhere else
// *Metrics is threaded through.
func (ct *ContributionTracker) SetMetrics(m *Metrics) { ct.metrics = m }

// TrackContribution records a contribution and/or consumption event for
// tenantID and returns its updated stats.
func (ct *ContributionTracker) TrackContribution(ctx context.Context, tenantID string, contributed, consumed int) ContributionStats {
	s, ok := ct.stats[tenantID]
	if !ok {
		s = &ContributionStats{}
		ct.stats[tenantID] = s
	}
	if contributed > 0 {
		s.Contributed += contributed
		s.LastContribution = time.Now().UTC()
	}
	s.Consumed += consumed
	ct.metrics.RecordContributionRatio(ctx, tenantID, s.Ratio())
	return *s
}

// --- TOML-backed node registry ---

// FederationNode describes one peer in the federation network, persisted
// to a TOML registry file so it survives process restarts without needing
// a database migration of its own.
type FederationNode struct {
	NodeID       string    `toml:"node_id"`
	RegisteredAt time.Time `toml:"registered_at"`
	Verified     bool      `toml:"verified"`
	Contributed  int       `toml:"contributed"`
	Consumed     int       `toml:"consumed"`
}

// NodeRegistry is the on-disk TOML file listing known federation nodes.
type NodeRegistry struct {
	Nodes []FederationNode `toml:"nodes"`
}

// LoadNodeRegistry reads a registry from path. A missing file is treated
// as an empty registry rather than an error, since a freshly provisioned
// node has not joined any federation yet.
func LoadNodeRegistry(path string) (*NodeRegistry, error) {
	reg := &NodeRegistry{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, newError(KindStorage, "LoadNodeRegistry", err)
	}
	if err := toml.Unmarshal(data, reg); err != nil {
		return nil, newError(KindStorage, "LoadNodeRegistry", err)
	}
	return reg, nil
}

// Save writes the registry to path.
func (r *NodeRegistry) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return newError(KindStorage, "NodeRegistry.Save", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(r); err != nil {
		return newError(KindStorage, "NodeRegistry.Save", err)
	}
	return nil
}

// Register adds a new node, generating its node_id, or returns the
// existing entry if nodeID is already present.
func (r *NodeRegistry) Register(nodeID string) FederationNode {
	if nodeID == "" {
		nodeID = newNodeID()
	}
	for _, n := range r.Nodes {
		if n.NodeID == nodeID {
			return n
		}
	}
	node := FederationNode{NodeID: nodeID, RegisteredAt: time.Now().UTC()}
	r.Nodes = append(r.Nodes, node)
	return node
}

// Find returns the node matching nodeID, if registered.
func (r *NodeRegistry) Find(nodeID string) (FederationNode, bool) {
	for _, n := range r.Nodes {
		if strings.EqualFold(n.NodeID, nodeID) {
			return n, true
		}
	}
	return FederationNode{}, false
}
