package ratecontrol

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan is the complete rate posture for one provider tag: token-bucket
// rate, bounded concurrency, and the retry schedule the query layer
// applies on transient failures.
type Plan struct {
	RPS           float64       `yaml:"rps"`
	Burst         int           `yaml:"burst"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	TokenWait     time.Duration `yaml:"token_wait"`
}

// UnmarshalYAML accepts durations as strings ("500ms", "1m") since the
// yaml package only decodes raw nanosecond integers into time.Duration.
func (p *Plan) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		RPS           float64 `yaml:"rps"`
		Burst         int     `yaml:"burst"`
		MaxConcurrent int     `yaml:"max_concurrent"`
		MaxAttempts   int     `yaml:"max_attempts"`
		BackoffBase   string  `yaml:"backoff_base"`
		BackoffMax    string  `yaml:"backoff_max"`
		TokenWait     string  `yaml:"token_wait"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parse := func(field, s string) (time.Duration, error) {
		if s == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", field, err)
		}
		return d, nil
	}

	var err error
	p.RPS = raw.RPS
	p.Burst = raw.Burst
	p.MaxConcurrent = raw.MaxConcurrent
	p.MaxAttempts = raw.MaxAttempts
	if p.BackoffBase, err = parse("backoff_base", raw.BackoffBase); err != nil {
		return err
	}
	if p.BackoffMax, err = parse("backoff_max", raw.BackoffMax); err != nil {
		return err
	}
	if p.TokenWait, err = parse("token_wait", raw.TokenWait); err != nil {
		return err
	}
	return nil
}

// Override is a per-run lowering of a provider plan, accepted at start.
// A run can tighten the process-wide ceiling but never raise it.
type Override struct {
	RPS           float64 `json:"rps" yaml:"rps"`
	MaxConcurrent int     `json:"max_concurrent" yaml:"max_concurrent"`
}

// Apply returns p tightened by o. Zero override fields are ignored;
// values above the plan's own ceiling are ignored too.
func (p Plan) Apply(o Override) Plan {
	out := p
	if o.RPS > 0 && o.RPS < p.RPS {
		out.RPS = o.RPS
	}
	if o.MaxConcurrent > 0 && o.MaxConcurrent < p.MaxConcurrent {
		out.MaxConcurrent = o.MaxConcurrent
	}
	return out
}

type config struct {
	RatePlans struct {
		Defaults  Plan            `yaml:"defaults"`
		Providers map[string]Plan `yaml:"providers"`
	} `yaml:"rate_plans"`
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
	explicit    string
)

func defaultPaths() []string {
	return []string{
		os.Getenv("RATE_PLANS_PATH"),
		"/app/config/ratecontrol.yaml",
		"./config/ratecontrol.yaml",
		"../../config/ratecontrol.yaml",
	}
}

// SetPath pins the plan file location. The config watcher calls this once
// at startup and then Reload on file change.
func SetPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	explicit = path
	initialized = false
	loadLocked()
}

func loadLocked() {
	var cfg config
	paths := defaultPaths()
	if explicit != "" {
		paths = []string{explicit}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("WARNING: failed to unmarshal rate plan config from %s: %v", p, err)
			continue
		}
		cfg = tmp
		log.Printf("Loaded rate plan configuration from %s", p)
		break
	}
	if cfg.RatePlans.Defaults == (Plan{}) && len(cfg.RatePlans.Providers) == 0 && explicit == "" {
		if path, ok := findUpConfig(); ok {
			if data, err := os.ReadFile(path); err == nil {
				var tmp config
				if err := yaml.Unmarshal(data, &tmp); err == nil {
					cfg = tmp
					log.Printf("Loaded rate plan configuration from %s", path)
				}
			}
		}
	}
	loaded = &cfg
	initialized = true
}

func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "ratecontrol.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// PlanFor resolves the effective plan for a provider tag: file provider
// entry over file defaults over built-in limits. Unset fields fall back
// level by level.
func PlanFor(provider string) Plan {
	tag := strings.ToLower(strings.TrimSpace(provider))
	base := builtInPlans["default"]
	if builtin, ok := builtInPlans[tag]; ok {
		base = fill(builtin, builtInPlans["default"])
	}

	cfg := get()
	if cfg == nil {
		return base
	}
	merged := fill(cfg.RatePlans.Defaults, base)
	if override, ok := cfg.RatePlans.Providers[tag]; ok {
		merged = fill(override, merged)
	}
	return merged
}

// fill returns p with zero fields taken from fallback.
func fill(p, fallback Plan) Plan {
	if p.RPS <= 0 {
		p.RPS = fallback.RPS
	}
	if p.Burst <= 0 {
		p.Burst = fallback.Burst
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = fallback.MaxConcurrent
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = fallback.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = fallback.BackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = fallback.BackoffMax
	}
	if p.TokenWait <= 0 {
		p.TokenWait = fallback.TokenWait
	}
	return p
}

// Built-in ceilings for the provider tags the pipeline ships with. The
// numbers track each service's documented free-tier limits, deliberately
// conservative.
var builtInPlans = map[string]Plan{
	"default":   {RPS: 2, Burst: 4, MaxConcurrent: 4, MaxAttempts: 3, BackoffBase: 500 * time.Millisecond, BackoffMax: 8 * time.Second, TokenWait: 5 * time.Second},
	"jsearch":   {RPS: 1, Burst: 2, MaxConcurrent: 3},
	"jobfeed":   {RPS: 1, Burst: 3, MaxConcurrent: 3},
	"hunter":    {RPS: 0.5, Burst: 1, MaxConcurrent: 2},
	"clearout":  {RPS: 1, Burst: 2, MaxConcurrent: 2},
	"instantly": {RPS: 2, Burst: 4, MaxConcurrent: 2},
	"smartlead": {RPS: 2, Burst: 4, MaxConcurrent: 2},
	"ses":       {RPS: 5, Burst: 10, MaxConcurrent: 4},
	"openai":    {RPS: 1, Burst: 2, MaxConcurrent: 2},
}

// Reload re-reads the plan file. Safe to call from the config watcher.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	loadLocked()
}
