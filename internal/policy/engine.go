package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
)

// decisionQuery is the rego document every outreach policy must define.
const decisionQuery = "data.leadforge.outreach.decision"

// Engine is the outreach compliance gate the dispatch router consults
// before every send.
type Engine interface {
	Evaluate(ctx context.Context, input *OutreachInput) (*Decision, error)
	LoadPolicies() error
	IsEnabled() bool
	Mode() Mode
}

// OutreachInput is the per-recipient context handed to the policy.
type OutreachInput struct {
	AgentID    string `json:"agent_id"`
	Email      string `json:"email"`
	Domain     string `json:"domain"`
	Company    string `json:"company"`
	Tier       string `json:"tier"`
	Suppressed bool   `json:"suppressed"`

	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Decision is one evaluation outcome. Reason is always populated; audit
// tags carry the context operators need to trace a block.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`

	AuditTags map[string]string `json:"audit_tags,omitempty"`
}

// OPAEngine evaluates rego policies compiled from a directory. The
// compiled query is swapped atomically on reload; evaluations in flight
// keep the set they started with.
type OPAEngine struct {
	config *Config
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	enabled  bool

	cache *decisionCache
}

// NewOPAEngine compiles the configured policy directory. With FailClosed
// set, a missing or broken policy set is a construction error; otherwise
// the engine comes up disabled and allows everything.
func NewOPAEngine(config *Config, logger *zap.Logger) (*OPAEngine, error) {
	config.Normalize()
	e := &OPAEngine{
		config:  config,
		logger:  logger,
		enabled: config.Enabled,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}
	if !e.enabled {
		return e, nil
	}

	if err := e.LoadPolicies(); err != nil {
		if config.FailClosed {
			return nil, fmt.Errorf("load policies (fail-closed): %w", err)
		}
		logger.Warn("Policies unavailable, engine disabled fail-open", zap.Error(err))
		e.enabled = false
	}
	return e, nil
}

// LoadPolicies compiles every .rego file under the configured directory
// and swaps the active set. The config watcher calls this on file change;
// cached decisions from the old set are dropped.
func (e *OPAEngine) LoadPolicies() error {
	if !e.config.Enabled {
		return nil
	}

	modules, err := readPolicyDir(e.config.Path)
	if err != nil {
		return err
	}
	if len(modules) == 0 {
		if e.config.FailClosed {
			return fmt.Errorf("no .rego files under %s", e.config.Path)
		}
		e.logger.Warn("No policy files found", zap.String("path", e.config.Path))
		return nil
	}

	opts := make([]func(*rego.Rego), 0, len(modules)+1)
	opts = append(opts, rego.Query(decisionQuery))
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile policies: %w", err)
	}

	e.mu.Lock()
	e.compiled = &prepared
	e.mu.Unlock()
	e.cache.Purge()

	e.logger.Info("Policies compiled",
		zap.Int("modules", len(modules)),
		zap.String("query", decisionQuery),
	)
	return nil
}

// readPolicyDir collects .rego sources keyed by their path relative to
// the policy root.
func readPolicyDir(root string) (map[string]string, error) {
	modules := make(map[string]string)
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".rego") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read policy %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		modules[strings.TrimSuffix(rel, ".rego")] = string(src)
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return nil, fmt.Errorf("walk policy directory: %w", err)
	}
	return modules, nil
}

// Evaluate runs the compiled decision query for one recipient. A disabled
// engine and evaluation failures resolve through the fail posture; only
// fail-closed surfaces the error to the caller.
func (e *OPAEngine) Evaluate(ctx context.Context, input *OutreachInput) (*Decision, error) {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	if !e.enabled || compiled == nil {
		return e.bypassDecision("policy engine disabled or no policies loaded"), nil
	}

	if d, ok := e.cache.Get(input); ok {
		return d, nil
	}

	raw, err := inputDocument(input)
	if err != nil {
		e.logger.Error("Policy input not encodable", zap.Error(err))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return e.bypassDecision("input conversion failed"), nil
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(raw))
	if err != nil {
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return e.bypassDecision("policy evaluation error"), nil
	}

	decision := e.applyMode(decodeDecision(results, input), input)

	outcome := "deny"
	if decision.Allow {
		outcome = "allow"
	}
	metrics.PolicyDecisions.WithLabelValues(outcome, string(e.config.Mode)).Inc()

	e.logger.Debug("Policy evaluated",
		zap.Bool("allow", decision.Allow),
		zap.String("reason", decision.Reason),
		zap.String("agent_id", input.AgentID),
		zap.String("email", input.Email),
	)

	e.cache.Set(input, decision)
	return decision, nil
}

// IsEnabled reports whether a compiled policy set is active.
func (e *OPAEngine) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled && e.compiled != nil
}

// Mode returns the configured enforcement mode.
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

// bypassDecision is the outcome when no evaluation happened. Allow
// follows the fail posture.
func (e *OPAEngine) bypassDecision(reason string) *Decision {
	return &Decision{
		Allow:  !e.config.FailClosed,
		Reason: reason,
		AuditTags: map[string]string{
			"policy_enabled": fmt.Sprintf("%t", e.enabled),
			"mode":           string(e.config.Mode),
		},
	}
}

// inputDocument round-trips the input through JSON so the policy sees
// the same field names the wire format uses.
func inputDocument(input *OutreachInput) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeDecision extracts the decision document from an OPA result set.
// Policies may return either the full document or a bare boolean.
func decodeDecision(results rego.ResultSet, input *OutreachInput) *Decision {
	decision := &Decision{
		Allow:  false,
		Reason: "no matching policy rules",
		AuditTags: map[string]string{
			"agent_id": input.AgentID,
			"tier":     input.Tier,
		},
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case map[string]interface{}:
		if allow, ok := v["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := v["reason"].(string); ok {
			decision.Reason = reason
		}
	case bool:
		decision.Allow = v
		if v {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}

// applyMode folds the enforcement mode into a raw decision. Dry-run
// always allows but the reason records what enforce would have done.
func (e *OPAEngine) applyMode(decision *Decision, input *OutreachInput) *Decision {
	if decision.AuditTags == nil {
		decision.AuditTags = make(map[string]string)
	}
	decision.AuditTags["mode"] = string(e.config.Mode)

	switch e.config.Mode {
	case ModeEnforce:
		return decision
	case ModeDryRun:
		denied := !decision.Allow
		reason := decision.Reason
		decision.Allow = true
		if denied {
			decision.Reason = fmt.Sprintf("dry-run: would have been denied - %s", reason)
			e.logger.Info("Dry-run policy denial",
				zap.String("agent_id", input.AgentID),
				zap.String("email", input.Email),
				zap.String("reason", reason),
			)
		} else {
			decision.Reason = fmt.Sprintf("dry-run: would have been allowed - %s", reason)
		}
		return decision
	default:
		decision.Allow = !e.config.FailClosed
		decision.Reason = "policy engine disabled"
		return decision
	}
}

// decisionCache keeps recent decisions keyed by the full policy-visible
// input. Entries expire on a TTL; insertion order bounds the size, which
// is close enough to LRU for a per-recipient gate where the same address
// rarely recurs outside one dispatch pass.
type decisionCache struct {
	cap int
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cachedDecision
	order   []string
}

type cachedDecision struct {
	decision  *Decision
	expiresAt time.Time
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:     cap,
		ttl:     ttl,
		entries: make(map[string]cachedDecision),
	}
}

// cacheKey covers every field a policy can read, the suppressed flag
// included, so a suppression change never serves a stale allow.
func cacheKey(input *OutreachInput) string {
	return strings.Join([]string{
		input.Environment, input.Email, input.Domain, input.Company,
		input.Tier, fmt.Sprintf("%t", input.Suppressed), input.AgentID,
	}, "|")
}

func (c *decisionCache) Get(input *OutreachInput) (*Decision, bool) {
	key := cacheKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.decision, true
}

func (c *decisionCache) Set(input *OutreachInput, d *Decision) {
	key := cacheKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cachedDecision{decision: d, expiresAt: time.Now().Add(c.ttl)}

	// Evict oldest insertions; slots whose key already expired out of
	// the map are skipped.
	for len(c.entries) > c.cap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Purge drops every cached decision. Called after a policy reload.
func (c *decisionCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedDecision)
	c.order = nil
}
