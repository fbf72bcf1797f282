package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
)

// score rates every unscored posting against the run query and persists
// the verdict. Scoring is local work, so units only fail on storage
// errors and the stage never degrades.
func (e *Executor) score(ctx context.Context, rs *runState) (StageResult, error) {
	agent := rs.agent

	jobs, err := e.store.ListUnscoredJobs(ctx, agent.ID)
	if err != nil {
		return StageResult{}, fmt.Errorf("load unscored jobs: %w", err)
	}
	if len(jobs) == 0 {
		return StageResult{}, nil
	}

	total := len(jobs)
	tally := &stageTally{}
	now := e.now()

	err = e.runUnits(ctx, rs.ctl, e.workers, total, nil, func(ctx context.Context, i int) {
		job := jobs[i]
		score, blacklisted := e.scoreJob(&job, agent, now)
		admitted := !blacklisted && score >= agent.MinScore

		if mErr := e.store.MarkJobScored(ctx, job.ID, score, admitted); mErr != nil {
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageScore), "failed")
			e.logger.Error("Failed to persist job score",
				zap.String("agent_id", agent.ID),
				zap.Int64("job_id", job.ID),
				zap.Error(mErr),
			)
			e.progress(rs, models.StageScore, done, total)
			return
		}

		if admitted {
			rs.bump(func(c *models.StageCounts) { c.AdmittedJobs++ })
		}
		done := tally.unit(true)
		metrics.RecordUnit(string(models.StageScore), "ok")

		outcome := "filtered"
		switch {
		case blacklisted:
			outcome = "blacklisted"
		case admitted:
			outcome = "admitted"
		}
		e.sink.Log(agent.ID, models.LevelDebug, models.StageScore,
			fmt.Sprintf("%s at %s %s (%.2f)", job.Title, job.Company, outcome, score), nil)
		e.progress(rs, models.StageScore, done, total)
	})

	return tally.result(), err
}

// scoreJob rates one posting against the run query: each query word is
// worth 10 points in the title and 1 in the description, a posting
// fresher than half the search window earns 5, and each company-size
// keyword in the company name or description costs 5. The raw total is
// clamped at zero and normalized against the best possible hit so
// MinScore stays comparable across queries. The second return reports a
// blacklist rejection, which zeroes the score outright.
func (e *Executor) scoreJob(job *models.JobPosting, agent *models.Agent, now time.Time) (float64, bool) {
	company := strings.ToLower(job.Company)
	for _, entry := range e.blacklist {
		if entry != "" && strings.Contains(company, strings.ToLower(entry)) {
			return 0, true
		}
	}

	words := strings.Fields(strings.ToLower(agent.Query))
	if len(words) == 0 {
		return 0, false
	}

	title := strings.ToLower(job.Title)
	desc := strings.ToLower(job.Description)
	raw := 0.0
	for _, w := range words {
		if strings.Contains(title, w) {
			raw += 10
		}
		if strings.Contains(desc, w) {
			raw++
		}
	}

	if job.PostedAt != nil && agent.HoursOld > 0 {
		half := time.Duration(agent.HoursOld) * time.Hour / 2
		if age := now.Sub(*job.PostedAt); age >= 0 && age <= half {
			raw += 5
		}
	}

	for _, kw := range e.penalties {
		if strings.Contains(company, kw) || strings.Contains(desc, kw) {
			raw -= 5
		}
	}
	if raw < 0 {
		raw = 0
	}

	best := float64(len(words))*11 + 5
	score := raw / best
	if score > 1 {
		score = 1
	}
	return score, false
}
