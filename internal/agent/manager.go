package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/pipeline"
	"github.com/propelship/leadforge/internal/ratecontrol"
	"github.com/propelship/leadforge/internal/streaming"
)

const (
	maxQueryLen     = 500
	defaultHoursOld = 720
	maxHoursOld     = 8760
	defaultMinScore = 0.5

	// How long Resume waits for a predecessor launch to drain its one
	// in-flight unit before giving up.
	teardownWait = 30 * time.Second

	maxStatusEvents = 20
)

// Top contact roles from the stock enrichment profile, used when a
// request names none.
var defaultTargetRoles = []string{
	"talent acquisition", "recruiter", "hr manager", "hiring manager",
	"head of talent", "people operations", "human resources",
	"ceo", "founder", "president",
}

// Store is the slice of the persistence layer the manager drives the
// lifecycle through. Implemented by *store.Client.
type Store interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, from, to models.AgentStatus) (bool, error)
	CompleteAgent(ctx context.Context, id string, to models.AgentStatus, errMsg string) (bool, error)
	ListEventsSince(ctx context.Context, agentID string, seq uint64) ([]models.RunEvent, error)
}

// Runner is one launch of a run's pipeline. Implemented by
// *pipeline.Executor.
type Runner interface {
	Run(ctx context.Context, agent *models.Agent, ctl pipeline.Controller) error
	StageResults() []pipeline.StageResult
}

// RunnerFactory builds a fresh runner for one launch, wiring the run's
// rate overrides into its provider access.
type RunnerFactory func(overrides map[string]ratecontrol.Override) Runner

// StartRequest carries the caller's run parameters. Zero values take
// the configured defaults.
type StartRequest struct {
	Query         string                          `json:"query"`
	HoursOld      int                             `json:"hours_old,omitempty"`
	MinScore      float64                         `json:"min_score,omitempty"`
	Tier          models.CampaignTier             `json:"tier,omitempty"`
	Tags          []string                        `json:"tags,omitempty"`
	TargetRoles   []string                        `json:"target_roles,omitempty"`
	RateOverrides map[string]ratecontrol.Override `json:"rate_overrides,omitempty"`
}

// Defaults fills absent StartRequest fields. Zero fields fall back to
// the stock values.
type Defaults struct {
	HoursOld    int
	MinScore    float64
	TargetRoles []string
}

func (d Defaults) normalize() Defaults {
	if d.HoursOld == 0 {
		d.HoursOld = defaultHoursOld
	}
	if d.MinScore == 0 {
		d.MinScore = defaultMinScore
	}
	if len(d.TargetRoles) == 0 {
		d.TargetRoles = defaultTargetRoles
	}
	return d
}

// build validates the request and shapes the agent row. No entity is
// created on validation failure.
func (r StartRequest) build(d Defaults) (*models.Agent, error) {
	query := strings.TrimSpace(r.Query)
	if query == "" {
		return nil, &models.ValidationError{Field: "query", Reason: "required"}
	}
	if len(query) > maxQueryLen {
		return nil, &models.ValidationError{Field: "query", Reason: fmt.Sprintf("longer than %d characters", maxQueryLen)}
	}

	hours := r.HoursOld
	if hours == 0 {
		hours = d.HoursOld
	}
	if hours < 1 || hours > maxHoursOld {
		return nil, &models.ValidationError{Field: "hours_old", Reason: "must be between 1 and 8760"}
	}

	score := r.MinScore
	if score == 0 {
		score = d.MinScore
	}
	if score < 0 || score > 1 {
		return nil, &models.ValidationError{Field: "min_score", Reason: "must be between 0 and 1"}
	}

	tier := r.Tier
	if tier == "" {
		tier = models.TierBulk
	}
	switch tier {
	case models.TierBulk, models.TierAutomation, models.TierPremium:
	default:
		return nil, &models.ValidationError{Field: "tier", Reason: "unknown tier " + string(tier)}
	}

	roles := r.TargetRoles
	if len(roles) == 0 {
		roles = d.TargetRoles
	}

	now := time.Now().UTC()
	return &models.Agent{
		ID:          uuid.NewString(),
		Query:       query,
		Status:      models.StatusCreated,
		HoursOld:    hours,
		MinScore:    score,
		Tier:        tier,
		Tags:        r.Tags,
		TargetRoles: roles,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// StatusReport is the control-plane view of one run: the persisted row
// plus, while an executor is live in this process, its per-stage
// outcomes and requested-but-unapplied control flags.
type StatusReport struct {
	Agent           *models.Agent          `json:"agent"`
	Stages          []pipeline.StageResult `json:"stages,omitempty"`
	Events          []models.RunEvent      `json:"events,omitempty"`
	PauseRequested  bool                   `json:"pause_requested,omitempty"`
	CancelRequested bool                   `json:"cancel_requested,omitempty"`
}

// runHandle is the in-process state for one launch. The store row stays
// the source of truth; handles only exist while this process owns the
// run.
type runHandle struct {
	ctl       *Control
	runner    Runner
	overrides map[string]ratecontrol.Override
}

// Config wires a Manager.
type Config struct {
	Store    Store
	Sink     *streaming.Sink
	Factory  RunnerFactory
	Defaults Defaults
	Logger   *zap.Logger
}

// Manager owns run lifecycles: launching executors, mapping their exit
// into terminal states, and serving control requests.
type Manager struct {
	store    Store
	sink     *streaming.Sink
	factory  RunnerFactory
	defaults Defaults
	logger   *zap.Logger

	mu   sync.Mutex
	runs map[string]*runHandle
}

// NewManager builds a Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    cfg.Store,
		sink:     cfg.Sink,
		factory:  cfg.Factory,
		defaults: cfg.Defaults.normalize(),
		logger:   logger,
		runs:     make(map[string]*runHandle),
	}
}

// Start validates the request, persists a new run, and launches its
// executor. The returned agent is a caller-owned snapshot.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*models.Agent, error) {
	agent, err := req.build(m.defaults)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	h := &runHandle{
		ctl:       NewControl(),
		runner:    m.factory(req.RateOverrides),
		overrides: req.RateOverrides,
	}
	if err := m.register(agent.ID, h); err != nil {
		return nil, err
	}

	ok, err := m.store.UpdateAgentStatus(ctx, agent.ID, models.StatusCreated, models.StatusRunning)
	if err != nil {
		m.unregister(agent.ID)
		return nil, fmt.Errorf("activate agent: %w", err)
	}
	if !ok {
		m.unregister(agent.ID)
		return nil, models.ErrAlreadyRunning
	}
	agent.Status = models.StatusRunning

	metrics.RunsStarted.Inc()
	metrics.RunsActive.Inc()
	m.sink.StatusChanged(agent.ID, models.StatusRunning)
	m.logger.Info("Run started",
		zap.String("agent_id", agent.ID),
		zap.String("query", agent.Query),
		zap.String("tier", string(agent.Tier)),
	)

	run := *agent
	go m.drive(&run, h)
	return agent, nil
}

// drive runs one launch to its exit and maps the result onto the state
// machine. Paused launches exit without a terminal write and keep their
// handle registered so Resume can pick up the rate overrides.
func (m *Manager) drive(agent *models.Agent, h *runHandle) {
	start := time.Now()
	err := h.runner.Run(context.Background(), agent, h.ctl)
	h.ctl.finish()
	metrics.RunsActive.Dec()
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		m.finalize(agent.ID, models.StatusCompleted, "", elapsed)
	case errors.Is(err, ErrPaused):
		m.logger.Info("Run paused, executor drained", zap.String("agent_id", agent.ID))
	case errors.Is(err, ErrCancelled):
		m.finalize(agent.ID, models.StatusCancelled, "", elapsed)
	default:
		m.logger.Warn("Run failed",
			zap.String("agent_id", agent.ID),
			zap.Error(err),
		)
		m.finalize(agent.ID, models.StatusFailed, err.Error(), elapsed)
	}
}

func (m *Manager) finalize(id string, status models.AgentStatus, errMsg string, elapsed float64) {
	ctx := context.Background()
	ok, err := m.store.CompleteAgent(ctx, id, status, errMsg)
	if err != nil {
		m.logger.Error("Failed to persist terminal state",
			zap.String("agent_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	} else if ok {
		m.sink.StatusChanged(id, status)
	}
	metrics.RecordRunCompleted(string(status), elapsed)
	m.unregister(id)
	m.logger.Info("Run finished",
		zap.String("agent_id", id),
		zap.String("status", string(status)),
	)
}

// Pause asks a running run to stop after its in-flight units drain. The
// bool reports whether this call performed the transition; pausing a
// run that is not running is a no-op.
func (m *Manager) Pause(ctx context.Context, id string) (bool, error) {
	current, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status != models.StatusRunning {
		return false, nil
	}

	ok, err := m.store.UpdateAgentStatus(ctx, id, models.StatusRunning, models.StatusPaused)
	if err != nil {
		return false, fmt.Errorf("pause agent: %w", err)
	}
	if !ok {
		return false, nil
	}

	if h := m.handle(id); h != nil {
		h.ctl.RequestPause()
	}
	m.sink.StatusChanged(id, models.StatusPaused)
	m.logger.Info("Run pause requested", zap.String("agent_id", id))
	return true, nil
}

// Resume relaunches a paused run with a fresh executor over a fresh
// resumption scan. The CAS decides races between concurrent resumes;
// the winner waits for the predecessor launch to drain before starting
// the new one.
func (m *Manager) Resume(ctx context.Context, id string) (bool, error) {
	current, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status != models.StatusPaused {
		return false, nil
	}

	ok, err := m.store.UpdateAgentStatus(ctx, id, models.StatusPaused, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("resume agent: %w", err)
	}
	if !ok {
		return false, nil
	}

	var overrides map[string]ratecontrol.Override
	if old := m.handle(id); old != nil {
		overrides = old.overrides
		select {
		case <-old.ctl.Done():
		case <-ctx.Done():
			m.rollbackResume(id)
			return false, ctx.Err()
		case <-time.After(teardownWait):
			m.rollbackResume(id)
			return false, models.ErrAlreadyRunning
		}
	}

	h := &runHandle{ctl: NewControl(), runner: m.factory(overrides), overrides: overrides}
	m.replace(id, h)

	current.Status = models.StatusRunning
	metrics.RunsActive.Inc()
	m.sink.StatusChanged(id, models.StatusRunning)
	m.logger.Info("Run resumed", zap.String("agent_id", id))

	run := *current
	go m.drive(&run, h)
	return true, nil
}

// Cancel stops a run for good. A live executor persists the terminal
// state at its next checkpoint; otherwise the row is completed
// directly. Cancelling a terminal run is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	current, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status.Terminal() {
		return false, nil
	}

	h := m.handle(id)
	if current.Status == models.StatusRunning && h != nil {
		select {
		case <-h.ctl.Done():
			// Launch already exited; fall through to the direct write.
		default:
			h.ctl.RequestCancel()
			m.logger.Info("Run cancel requested", zap.String("agent_id", id))
			return true, nil
		}
	}

	ok, err := m.store.CompleteAgent(ctx, id, models.StatusCancelled, "")
	if err != nil {
		return false, fmt.Errorf("cancel agent: %w", err)
	}
	if !ok {
		return false, nil
	}
	metrics.RunsCompleted.WithLabelValues(string(models.StatusCancelled)).Inc()
	m.sink.StatusChanged(id, models.StatusCancelled)
	m.unregister(id)
	m.logger.Info("Run cancelled", zap.String("agent_id", id))
	return true, nil
}

// Status reports one run. Unknown ids surface the store's ErrNotFound.
func (m *Manager) Status(ctx context.Context, id string) (*StatusReport, error) {
	agent, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Agent: agent}
	if h := m.handle(id); h != nil {
		report.Stages = h.runner.StageResults()
		report.PauseRequested, report.CancelRequested = h.ctl.Snapshot()
	}

	events, err := m.store.ListEventsSince(ctx, id, 0)
	if err != nil {
		m.logger.Warn("Failed to load run events", zap.String("agent_id", id), zap.Error(err))
	} else {
		if len(events) > maxStatusEvents {
			events = events[len(events)-maxStatusEvents:]
		}
		report.Events = events
	}
	return report, nil
}

// List returns all runs, newest first.
func (m *Manager) List(ctx context.Context) ([]*models.Agent, error) {
	return m.store.ListAgents(ctx)
}

// Shutdown pauses every live launch and waits for the executors to
// drain, bounded by ctx. Paused rows resume after a restart.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	handles := make(map[string]*runHandle, len(m.runs))
	for id, h := range m.runs {
		handles[id] = h
	}
	m.mu.Unlock()

	for id, h := range handles {
		select {
		case <-h.ctl.Done():
			continue
		default:
		}
		if ok, err := m.store.UpdateAgentStatus(ctx, id, models.StatusRunning, models.StatusPaused); err == nil && ok {
			m.sink.StatusChanged(id, models.StatusPaused)
		}
		h.ctl.RequestPause()
	}

	for _, h := range handles {
		select {
		case <-h.ctl.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// rollbackResume undoes the paused -> running CAS when the new launch
// never started. Uses a fresh context since the caller's may be done.
func (m *Manager) rollbackResume(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.store.UpdateAgentStatus(ctx, id, models.StatusRunning, models.StatusPaused); err != nil {
		m.logger.Error("Failed to roll back resume", zap.String("agent_id", id), zap.Error(err))
	}
}

func (m *Manager) register(id string, h *runHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[id]; exists {
		return models.ErrAlreadyRunning
	}
	m.runs[id] = h
	return nil
}

func (m *Manager) replace(id string, h *runHandle) {
	m.mu.Lock()
	m.runs[id] = h
	m.mu.Unlock()
}

func (m *Manager) handle(id string) *runHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()
}
