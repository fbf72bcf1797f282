package providers

import (
	"sync"

	"github.com/propelship/leadforge/internal/models"
)

// defaultChains is the messenger failover order per tier when config
// supplies no override. The tier's native provider comes first.
var defaultChains = map[models.CampaignTier][]string{
	models.TierBulk:       {"instantly", "smartlead"},
	models.TierAutomation: {"smartlead", "instantly"},
	models.TierPremium:    {"ses"},
}

// Registry holds the configured provider adapters and resolves the
// per-tier messenger failover chains.
type Registry struct {
	mu             sync.RWMutex
	jobSources     []JobSource
	contactSources []ContactSource
	verifiers      []Verifier
	messengers     map[string]Messenger
	chains         map[models.CampaignTier][]string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		messengers: make(map[string]Messenger),
		chains:     make(map[models.CampaignTier][]string),
	}
}

// RegisterJobSource appends a job discovery source. Sources are queried
// in registration order.
func (r *Registry) RegisterJobSource(s JobSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobSources = append(r.jobSources, s)
}

// RegisterContactSource appends a contact discovery source.
func (r *Registry) RegisterContactSource(s ContactSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contactSources = append(r.contactSources, s)
}

// RegisterVerifier appends an email verifier.
func (r *Registry) RegisterVerifier(v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers = append(r.verifiers, v)
}

// RegisterMessenger makes a messenger available for chain resolution.
func (r *Registry) RegisterMessenger(m Messenger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messengers[m.Tag()] = m
}

// SetChain overrides the failover order for a tier. Unknown tags are
// tolerated here and skipped at resolution time, so config can name
// providers that are not enabled in this deployment.
func (r *Registry) SetChain(tier models.CampaignTier, tags []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[tier] = append([]string(nil), tags...)
}

// JobSources returns the registered job sources.
func (r *Registry) JobSources() []JobSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobSource, len(r.jobSources))
	copy(out, r.jobSources)
	return out
}

// ContactSources returns the registered contact sources.
func (r *Registry) ContactSources() []ContactSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ContactSource, len(r.contactSources))
	copy(out, r.contactSources)
	return out
}

// Verifiers returns the registered verifiers.
func (r *Registry) Verifiers() []Verifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Verifier, len(r.verifiers))
	copy(out, r.verifiers)
	return out
}

// Messenger looks up a single messenger by tag.
func (r *Registry) Messenger(tag string) (Messenger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messengers[tag]
	return m, ok
}

// Chain resolves the ordered messenger list for a tier, primary first.
// Tags with no registered messenger are skipped.
func (r *Registry) Chain(tier models.CampaignTier) []Messenger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags, ok := r.chains[tier]
	if !ok {
		tags = defaultChains[tier]
	}
	out := make([]Messenger, 0, len(tags))
	for _, tag := range tags {
		if m, ok := r.messengers[tag]; ok {
			out = append(out, m)
		}
	}
	return out
}
