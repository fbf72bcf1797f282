package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/providers"
)

// discover fans the search query out across the registered job sources,
// one pool unit per source, and upserts everything they return. Sources
// are independent, so a failing source never blocks the others; the
// stage only degrades when some sources failed and fails the run when
// no postings exist at all afterwards.
func (e *Executor) discover(ctx context.Context, rs *runState) (StageResult, error) {
	agent := rs.agent

	if rs.cursor.DiscoverDone() {
		e.sink.Log(agent.ID, models.LevelInfo, models.StageDiscover, "Discovery output already persisted, skipping", map[string]any{
			"jobs": rs.cursor.JobCount,
		})
		return StageResult{}, nil
	}

	sources := e.registry.JobSources()
	if len(sources) == 0 {
		e.sink.Log(agent.ID, models.LevelError, models.StageDiscover, "No job sources configured", nil)
		return StageResult{}, ErrNoJobsDiscovered
	}

	req := providers.SearchRequest{
		Query:    agent.Query,
		HoursOld: agent.HoursOld,
		Pages:    e.searchPages,
	}
	total := len(sources)
	tally := &stageTally{}

	var (
		mu       sync.Mutex
		inserted int
	)
	err := e.runUnits(ctx, rs.ctl, e.workers, total, nil, func(ctx context.Context, i int) {
		src := sources[i]

		var jobs []models.JobPosting
		qErr := e.query.Do(ctx, src.Tag(), "search", func(ctx context.Context) error {
			var sErr error
			jobs, sErr = src.Search(ctx, req)
			return sErr
		})
		if qErr != nil {
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageDiscover), "failed")
			e.sink.Log(agent.ID, models.LevelWarn, models.StageDiscover,
				fmt.Sprintf("Source %s failed: %v", src.Tag(), qErr), nil)
			e.progress(rs, models.StageDiscover, done, total)
			return
		}

		kept := 0
		for j := range jobs {
			job := &jobs[j]
			job.AgentID = agent.ID
			fresh, upErr := e.store.UpsertJob(ctx, job)
			if upErr != nil {
				e.logger.Error("Job upsert failed",
					zap.String("agent_id", agent.ID),
					zap.String("source", src.Tag()),
					zap.Error(upErr),
				)
				continue
			}
			if fresh {
				kept++
			}
		}
		mu.Lock()
		inserted += kept
		mu.Unlock()
		rs.bump(func(c *models.StageCounts) { c.TotalJobs += kept })

		done := tally.unit(true)
		metrics.RecordUnit(string(models.StageDiscover), "ok")
		e.sink.Log(agent.ID, models.LevelInfo, models.StageDiscover,
			fmt.Sprintf("Source %s returned %d postings", src.Tag(), len(jobs)), map[string]any{
				"new": kept,
			})
		e.progress(rs, models.StageDiscover, done, total)
	})

	res := tally.result()
	if err != nil {
		return res, err
	}

	if inserted == 0 {
		e.sink.Log(agent.ID, models.LevelError, models.StageDiscover, "Discovery produced no jobs", nil)
		return res, ErrNoJobsDiscovered
	}
	if res.Failed > 0 {
		res.Degraded = true
		res.Reason = fmt.Sprintf("%d of %d sources failed", res.Failed, total)
	}
	return res, nil
}
