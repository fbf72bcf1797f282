// Package pipeline drives one run through its stages: discover postings,
// score them, find contacts at admitted companies, verify addresses, and
// dispatch campaigns. Stages run strictly in order and each consumes the
// previous stage's persisted output, never an in-memory handoff, so a
// relaunched executor resumes from whatever the store already holds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/dispatch"
	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/providers"
	"github.com/propelship/leadforge/internal/query"
	"github.com/propelship/leadforge/internal/store"
	"github.com/propelship/leadforge/internal/streaming"
	"github.com/propelship/leadforge/internal/tracing"
)

// ErrNoJobsDiscovered fails the run. Discovery is the only stage whose
// empty output ends the pipeline, since nothing downstream can work
// without postings.
var ErrNoJobsDiscovered = errors.New("discovery produced no jobs")

// Controller is the cooperative control surface the executor polls
// between units. A nil return means keep going; any error stops the
// dispatch of new units, in-flight units finish and persist, and the
// error is returned from Run.
type Controller interface {
	Checkpoint(ctx context.Context) error
}

// Store is the slice of the persistence layer the executor reads and
// writes. Implemented by *store.Client.
type Store interface {
	StageCursor(ctx context.Context, agentID string) (store.Cursor, error)
	UpsertJob(ctx context.Context, job *models.JobPosting) (bool, error)
	ListUnscoredJobs(ctx context.Context, agentID string) ([]models.JobPosting, error)
	ListAdmittedJobs(ctx context.Context, agentID string) ([]models.JobPosting, error)
	MarkJobScored(ctx context.Context, id int64, score float64, admitted bool) error
	UpsertContact(ctx context.Context, contact *models.Contact) (bool, error)
	ListContacts(ctx context.Context, agentID string) ([]models.Contact, error)
	ListUnverifiedContacts(ctx context.Context, agentID string) ([]models.Contact, error)
	ListVerifiedContacts(ctx context.Context, agentID string) ([]models.Contact, error)
	MarkContactVerified(ctx context.Context, id int64, verified bool, confidence float64) error
	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	ListCampaigns(ctx context.Context, agentID string) ([]models.Campaign, error)
	UpdateAgentCounts(ctx context.Context, id string, counts models.StageCounts) error
	QueueProgress(agentID string, progress float64)
}

// BatchSender delivers one campaign batch. Implemented by
// *dispatch.Router.
type BatchSender interface {
	Send(ctx context.Context, campaign *models.Campaign, batch []providers.Recipient) (dispatch.BatchResult, error)
}

// StageResult is one stage's outcome for status reporting. Degraded
// means the stage gave up early on a permanent provider failure and the
// run advanced with partial output.
type StageResult struct {
	Stage     models.Stage `json:"stage"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Degraded  bool         `json:"degraded"`
	Reason    string       `json:"reason,omitempty"`
}

// Stage weights for run progress, matching how long each stage tends to
// take. They sum to 100.
var stageWeights = map[models.Stage]float64{
	models.StageDiscover: 40,
	models.StageScore:    10,
	models.StageContacts: 25,
	models.StageVerify:   10,
	models.StageDispatch: 15,
}

// Default company-size keywords that shave score points. Matches the
// hands-off posture of the stock filter: big-company language in the
// posting usually means a slow procurement cycle.
var defaultPenaltyKeywords = []string{"enterprise", "corporation", "multinational", "fortune 500"}

// Config wires an executor. Query is the run's admission surface; pass
// a Scoped view when the run carries rate overrides.
type Config struct {
	Store           Store
	Sink            *streaming.Sink
	Query           query.Doer
	Registry        *providers.Registry
	Router          BatchSender
	Personalizer    *dispatch.Personalizer
	Workers         int
	DispatchWorkers int
	BatchSize       int
	SearchPages     int
	Blacklist       []string
	PenaltyKeywords []string
	Logger          *zap.Logger
}

// Executor runs one agent through the stage pipeline. Build a fresh one
// per launch; a paused run's executor is torn down and resume builds a
// new one over a fresh resumption scan.
type Executor struct {
	store        Store
	sink         *streaming.Sink
	query        query.Doer
	registry     *providers.Registry
	router       BatchSender
	personalizer *dispatch.Personalizer

	workers         int
	dispatchWorkers int
	batchSize       int
	searchPages     int
	blacklist       []string
	penalties       []string
	logger          *zap.Logger
	now             func() time.Time

	mu      sync.Mutex
	results []StageResult
}

// NewExecutor builds an executor over the given collaborators.
func NewExecutor(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	dispatchWorkers := cfg.DispatchWorkers
	if dispatchWorkers <= 0 {
		dispatchWorkers = 2
	}
	pages := cfg.SearchPages
	if pages <= 0 {
		pages = 2
	}
	penalties := cfg.PenaltyKeywords
	if penalties == nil {
		penalties = defaultPenaltyKeywords
	}
	lowered := make([]string, 0, len(penalties))
	for _, kw := range penalties {
		if kw != "" {
			lowered = append(lowered, strings.ToLower(kw))
		}
	}

	return &Executor{
		store:           cfg.Store,
		sink:            cfg.Sink,
		query:           cfg.Query,
		registry:        cfg.Registry,
		router:          cfg.Router,
		personalizer:    cfg.Personalizer,
		workers:         workers,
		dispatchWorkers: dispatchWorkers,
		batchSize:       cfg.BatchSize,
		searchPages:     pages,
		blacklist:       cfg.Blacklist,
		penalties:       lowered,
		logger:          logger,
		now:             time.Now,
	}
}

// StageResults returns a snapshot of the per-stage outcomes so far.
func (e *Executor) StageResults() []StageResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StageResult, len(e.results))
	copy(out, e.results)
	return out
}

func (e *Executor) record(res StageResult) {
	e.mu.Lock()
	e.results = append(e.results, res)
	e.mu.Unlock()
}

// runState is one launch's mutable context shared by pool workers.
type runState struct {
	agent  *models.Agent
	ctl    Controller
	cursor store.Cursor

	mu        sync.Mutex
	completed float64
}

// bump mutates the agent's stage counters under the run lock.
func (rs *runState) bump(f func(*models.StageCounts)) {
	rs.mu.Lock()
	f(&rs.agent.Counts)
	rs.mu.Unlock()
}

// Run drives the stages in order. It returns nil when the run completed,
// ErrNoJobsDiscovered when discovery yielded nothing, or the checkpoint
// error when the control plane stopped the run. The caller owns the
// terminal status transition.
func (e *Executor) Run(ctx context.Context, agent *models.Agent, ctl Controller) error {
	cur, err := e.store.StageCursor(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("resumption scan: %w", err)
	}

	rs := &runState{agent: agent, ctl: ctl, cursor: cur}
	agent.Counts.TotalJobs = cur.JobCount
	agent.Counts.AdmittedJobs = cur.AdmittedCount
	agent.Counts.TotalContacts = cur.ContactCount
	agent.Counts.VerifiedCount = cur.VerifiedCount
	agent.Counts.TotalCampaigns = cur.CampaignCount

	stages := []struct {
		stage models.Stage
		run   func(context.Context, *runState) (StageResult, error)
	}{
		{models.StageDiscover, e.discover},
		{models.StageScore, e.score},
		{models.StageContacts, e.contacts},
		{models.StageVerify, e.verify},
		{models.StageDispatch, e.dispatch},
	}

	for _, s := range stages {
		if err := ctl.Checkpoint(ctx); err != nil {
			return err
		}

		stageCtx, span := tracing.StartSpan(ctx, "stage."+string(s.stage),
			attribute.String("agent_id", agent.ID),
		)
		start := time.Now()
		res, err := s.run(stageCtx, rs)
		span.End()
		res.Stage = s.stage
		e.record(res)
		metrics.StageDuration.WithLabelValues(string(s.stage)).Observe(time.Since(start).Seconds())

		rs.bump(func(c *models.StageCounts) { c.FailedUnits += res.Failed })
		e.persistCounts(ctx, rs)

		if err != nil {
			return err
		}

		if res.Degraded {
			metrics.StagesDegraded.WithLabelValues(string(s.stage)).Inc()
			e.sink.Log(agent.ID, models.LevelWarn, s.stage, "Stage degraded: "+res.Reason, map[string]any{
				"processed": res.Processed,
				"failed":    res.Failed,
			})
		} else {
			e.sink.Log(agent.ID, models.LevelInfo, s.stage, "Stage complete", map[string]any{
				"processed": res.Processed,
				"failed":    res.Failed,
			})
		}
		e.advance(rs, s.stage)
	}
	return nil
}

// runUnits fans total units out to a bounded worker pool. The dispatcher
// checkpoints before handing out each unit, so cancellation latency is
// bounded by one in-flight unit, and stops early once the stage tally
// degrades; workers always drain what was already dispatched.
func (e *Executor) runUnits(ctx context.Context, ctl Controller, workers, total int, tally *stageTally, fn func(context.Context, int)) error {
	if total == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	units := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range units {
				fn(ctx, i)
			}
		}()
	}

	var ctlErr error
	for i := 0; i < total; i++ {
		if tally != nil && tally.aborted() {
			break
		}
		if err := ctl.Checkpoint(ctx); err != nil {
			ctlErr = err
			break
		}
		units <- i
	}
	close(units)
	wg.Wait()
	return ctlErr
}

// stageTally accumulates one stage's outcome across pool workers.
type stageTally struct {
	mu        sync.Mutex
	processed int
	failed    int
	degraded  bool
	reason    string
}

// unit records one finished unit and returns how many are done in total.
func (t *stageTally) unit(ok bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.processed++
	} else {
		t.failed++
	}
	return t.processed + t.failed
}

// degrade marks the stage degraded. First reason wins.
func (t *stageTally) degrade(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.degraded {
		t.degraded = true
		t.reason = reason
	}
}

func (t *stageTally) aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

func (t *stageTally) result() StageResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return StageResult{
		Processed: t.processed,
		Failed:    t.failed,
		Degraded:  t.degraded,
		Reason:    t.reason,
	}
}

// progress recomputes run progress as finished stage weights plus the
// current stage's fraction, and persists it through the monotonic
// store update. Never moves backward.
func (e *Executor) progress(rs *runState, stage models.Stage, done, total int) {
	frac := 0.0
	if total > 0 {
		frac = float64(done) / float64(total)
		if frac > 1 {
			frac = 1
		}
	}

	rs.mu.Lock()
	p := rs.completed + stageWeights[stage]*frac
	if p < rs.agent.Progress {
		p = rs.agent.Progress
	}
	rs.agent.Progress = p
	rs.mu.Unlock()

	e.store.QueueProgress(rs.agent.ID, p)
	e.sink.ProgressTick(rs.agent.ID, p)
}

// advance credits a finished stage's full weight.
func (e *Executor) advance(rs *runState, stage models.Stage) {
	rs.mu.Lock()
	rs.completed += stageWeights[stage]
	p := rs.completed
	if p < rs.agent.Progress {
		p = rs.agent.Progress
	}
	rs.agent.Progress = p
	rs.mu.Unlock()

	e.store.QueueProgress(rs.agent.ID, p)
	e.sink.ProgressTick(rs.agent.ID, p)
}

func (e *Executor) persistCounts(ctx context.Context, rs *runState) {
	rs.mu.Lock()
	counts := rs.agent.Counts
	rs.mu.Unlock()
	if err := e.store.UpdateAgentCounts(ctx, rs.agent.ID, counts); err != nil {
		e.logger.Error("Failed to persist stage counts",
			zap.String("agent_id", rs.agent.ID),
			zap.Error(err),
		)
	}
}
