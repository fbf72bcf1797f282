package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/propelship/leadforge/internal/dispatch"
	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/providers"
)

// batchUnit is one dispatch unit: a company's verified contacts plus the
// campaign that carries them. campaign is nil until one is persisted.
type batchUnit struct {
	company  string
	role     string
	location string
	contacts []models.Contact
	campaign *models.Campaign
}

// dispatch groups verified contacts by company and sends one campaign
// per group through the tier router. Companies whose campaign already
// went out in an earlier launch are skipped; campaigns still in ready or
// deferred state are resent. The campaign row is persisted before the
// first send attempt, so a crash between create and send resumes as a
// resend rather than a duplicate campaign. Deferred batches get one
// immediate re-pass at the end of the stage; whatever is still deferred
// stays persisted for the next cycle.
func (e *Executor) dispatch(ctx context.Context, rs *runState) (StageResult, error) {
	agent := rs.agent

	verified, err := e.store.ListVerifiedContacts(ctx, agent.ID)
	if err != nil {
		return StageResult{}, fmt.Errorf("load verified contacts: %w", err)
	}
	if len(verified) == 0 {
		e.sink.Log(agent.ID, models.LevelInfo, models.StageDispatch, "No verified contacts to dispatch", nil)
		return StageResult{}, nil
	}

	jobs, err := e.store.ListAdmittedJobs(ctx, agent.ID)
	if err != nil {
		return StageResult{}, fmt.Errorf("load admitted jobs: %w", err)
	}
	jobFor := make(map[string]models.JobPosting, len(jobs))
	for _, j := range jobs {
		key := strings.ToLower(j.Company)
		if _, ok := jobFor[key]; !ok {
			jobFor[key] = j
		}
	}

	existing, err := e.store.ListCampaigns(ctx, agent.ID)
	if err != nil {
		return StageResult{}, fmt.Errorf("load campaigns: %w", err)
	}
	campaignFor := make(map[string]models.Campaign, len(existing))
	for _, c := range existing {
		campaignFor[strings.ToLower(c.Company)] = c
	}

	units := e.groupBatches(verified, jobFor, campaignFor)
	if len(units) == 0 {
		e.sink.Log(agent.ID, models.LevelInfo, models.StageDispatch, "All campaigns already dispatched", nil)
		return StageResult{}, nil
	}

	total := len(units)
	tally := &stageTally{}
	var (
		deferredMu sync.Mutex
		deferred   []int
	)

	err = e.runUnits(ctx, rs.ctl, e.dispatchWorkers, total, nil, func(ctx context.Context, i int) {
		u := &units[i]
		result, sendErr := e.sendBatch(ctx, rs, u)
		switch {
		case sendErr == nil:
			done := tally.unit(true)
			metrics.RecordUnit(string(models.StageDispatch), "ok")
			e.sink.Log(agent.ID, models.LevelInfo, models.StageDispatch,
				fmt.Sprintf("Campaign for %s dispatched via %s", u.company, result.Provider), map[string]any{
					"sent":       result.Sent,
					"suppressed": result.Suppressed,
				})
			e.progress(rs, models.StageDispatch, done, total)
		case errors.Is(sendErr, models.ErrDeferred):
			deferredMu.Lock()
			deferred = append(deferred, i)
			deferredMu.Unlock()
			done := tally.unit(true)
			metrics.RecordUnit(string(models.StageDispatch), "deferred")
			e.progress(rs, models.StageDispatch, done, total)
		default:
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageDispatch), "failed")
			e.sink.Log(agent.ID, models.LevelWarn, models.StageDispatch,
				fmt.Sprintf("Campaign for %s failed: %v", u.company, sendErr), nil)
			e.progress(rs, models.StageDispatch, done, total)
		}
	})
	if err != nil {
		return tally.result(), err
	}

	for _, i := range deferred {
		if cErr := rs.ctl.Checkpoint(ctx); cErr != nil {
			return tally.result(), cErr
		}
		u := &units[i]
		result, rErr := e.sendBatch(ctx, rs, u)
		if rErr != nil {
			e.sink.Log(agent.ID, models.LevelWarn, models.StageDispatch,
				fmt.Sprintf("Campaign for %s deferred until the next cycle", u.company), nil)
			continue
		}
		e.sink.Log(agent.ID, models.LevelInfo, models.StageDispatch,
			fmt.Sprintf("Campaign for %s dispatched via %s on retry", u.company, result.Provider), map[string]any{
				"sent": result.Sent,
			})
	}

	return tally.result(), nil
}

// groupBatches folds verified contacts into per-company units, keeping
// first-seen order. Companies whose campaign is past the sendable states
// are dropped here, and each unit is capped at the configured batch
// size so one heavily-staffed company cannot blow the send volume.
func (e *Executor) groupBatches(verified []models.Contact, jobFor map[string]models.JobPosting, campaignFor map[string]models.Campaign) []batchUnit {
	var units []batchUnit
	index := make(map[string]int)
	for _, contact := range verified {
		key := strings.ToLower(contact.Company)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			if e.batchSize > 0 && len(units[i].contacts) >= e.batchSize {
				continue
			}
			units[i].contacts = append(units[i].contacts, contact)
			continue
		}
		if camp, ok := campaignFor[key]; ok &&
			camp.Status != models.CampaignReady && camp.Status != models.CampaignDeferred {
			continue
		}

		u := batchUnit{company: contact.Company, contacts: []models.Contact{contact}}
		if job, ok := jobFor[key]; ok {
			u.role = job.Title
			u.location = job.Location
		}
		if camp, ok := campaignFor[key]; ok {
			clone := camp
			u.campaign = &clone
		}
		index[key] = len(units)
		units = append(units, u)
	}
	return units
}

// sendBatch persists the unit's campaign if it does not exist yet and
// hands the batch to the router.
func (e *Executor) sendBatch(ctx context.Context, rs *runState, u *batchUnit) (dispatch.BatchResult, error) {
	agent := rs.agent

	if u.campaign == nil {
		spec := dispatch.MessageSpec{
			Company:  u.company,
			Role:     u.role,
			Location: u.location,
			Tier:     agent.Tier,
		}
		campaign := &models.Campaign{
			AgentID:     agent.ID,
			Name:        e.personalizer.CampaignName(spec),
			Company:     u.company,
			Tier:        agent.Tier,
			Status:      models.CampaignReady,
			Subject:     e.personalizer.Subject(spec),
			Body:        e.personalizer.Body(ctx, spec),
			TargetCount: len(u.contacts),
		}
		if err := e.store.CreateCampaign(ctx, campaign); err != nil {
			return dispatch.BatchResult{}, fmt.Errorf("create campaign: %w", err)
		}
		u.campaign = campaign
		rs.bump(func(c *models.StageCounts) { c.TotalCampaigns++ })
	}

	batch := make([]providers.Recipient, 0, len(u.contacts))
	for _, c := range u.contacts {
		batch = append(batch, providers.Recipient{
			Email:     c.Email,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Company:   c.Company,
			Role:      c.Role,
		})
	}
	return e.router.Send(ctx, u.campaign, batch)
}
