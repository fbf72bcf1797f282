package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadforge_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_circuit_breaker_requests_total",
			Help: "Requests attempted through a circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadforge_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker opened (0 while not open)",
		},
		[]string{"name", "service"},
	)
)

// Collector tracks registered breakers so health checks can enumerate
// their states and so transitions feed prometheus.
type Collector struct {
	mutex    sync.RWMutex
	breakers map[string]*Breaker
	services map[string]string
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		breakers: make(map[string]*Breaker),
		services: make(map[string]string),
	}
}

// DefaultCollector is the process-wide collector wrappers register with.
var DefaultCollector = NewCollector()

// Register wires a breaker's state changes into prometheus and remembers
// it for state snapshots. Chains any OnStateChange already configured.
func (c *Collector) Register(service string, b *Breaker) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.breakers[b.name] = b
	c.services[b.name] = service
	breakerState.WithLabelValues(b.name, service).Set(float64(b.state))

	prev := b.config.OnStateChange
	b.config.OnStateChange = func(name string, from, to State) {
		if prev != nil {
			prev(name, from, to)
		}
		breakerTransitions.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
		if to == StateOpen {
			breakerOpenSince.WithLabelValues(name, service).SetToCurrentTime()
		} else if from == StateOpen {
			breakerOpenSince.WithLabelValues(name, service).Set(0)
		}
	}
}

// RecordRequest counts one attempt through a registered breaker.
func (c *Collector) RecordRequest(name string, state State, success bool) {
	c.mutex.RLock()
	service := c.services[name]
	c.mutex.RUnlock()

	result := "success"
	if !success {
		result = "failure"
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// States snapshots the current state of every registered breaker.
func (c *Collector) States() map[string]State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make(map[string]State, len(c.breakers))
	for name, b := range c.breakers {
		out[name] = b.State()
	}
	return out
}
