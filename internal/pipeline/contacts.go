package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/providers"
)

// companyTarget is one contact-enrichment unit: a company that owns at
// least one admitted posting and has no contacts yet.
type companyTarget struct {
	company  string
	role     string
	location string
}

// contacts enriches each admitted company with people, one pool unit per
// company. Companies already holding contacts from an earlier launch are
// skipped, so a resumed run never refetches them. The contact source
// chain is tried in order until one yields people; when every source
// fails permanently the stage degrades and the remaining companies are
// left for a later run.
func (e *Executor) contacts(ctx context.Context, rs *runState) (StageResult, error) {
	agent := rs.agent

	admitted, err := e.store.ListAdmittedJobs(ctx, agent.ID)
	if err != nil {
		return StageResult{}, fmt.Errorf("load admitted jobs: %w", err)
	}
	if len(admitted) == 0 {
		return StageResult{}, nil
	}

	existing, err := e.store.ListContacts(ctx, agent.ID)
	if err != nil {
		return StageResult{}, fmt.Errorf("load contacts: %w", err)
	}
	covered := make(map[string]bool, len(existing))
	for _, c := range existing {
		covered[strings.ToLower(c.Company)] = true
	}

	var targets []companyTarget
	seen := make(map[string]bool)
	for _, job := range admitted {
		key := strings.ToLower(job.Company)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if covered[key] {
			continue
		}
		targets = append(targets, companyTarget{
			company:  job.Company,
			role:     job.Title,
			location: job.Location,
		})
	}
	if len(targets) == 0 {
		return StageResult{}, nil
	}

	sources := e.registry.ContactSources()
	if len(sources) == 0 {
		e.sink.Log(agent.ID, models.LevelWarn, models.StageContacts, "No contact sources configured, skipping enrichment", nil)
		return StageResult{Degraded: true, Reason: "no contact sources configured"}, nil
	}

	total := len(targets)
	tally := &stageTally{}

	err = e.runUnits(ctx, rs.ctl, e.workers, total, tally, func(ctx context.Context, i int) {
		target := targets[i]

		found, exhausted, unitErr := e.findContacts(ctx, sources, target.company)
		if exhausted {
			tally.degrade(fmt.Sprintf("contact sources unavailable: %v", unitErr))
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageContacts), "failed")
			e.sink.Log(agent.ID, models.LevelWarn, models.StageContacts,
				fmt.Sprintf("Contact sources exhausted at %s: %v", target.company, unitErr), nil)
			e.progress(rs, models.StageContacts, done, total)
			return
		}
		if unitErr != nil && len(found) == 0 {
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageContacts), "failed")
			e.sink.Log(agent.ID, models.LevelWarn, models.StageContacts,
				fmt.Sprintf("No contacts for %s: %v", target.company, unitErr), nil)
			e.progress(rs, models.StageContacts, done, total)
			return
		}

		kept := 0
		for j := range found {
			contact := &found[j]
			contact.AgentID = agent.ID
			if contact.Company == "" {
				contact.Company = target.company
			}
			// Contacts with an unknown role stay in: dropping them
			// would silently shrink small companies to zero.
			if contact.Role != "" && len(agent.TargetRoles) > 0 &&
				!providers.MatchesRole(contact.Role, agent.TargetRoles) {
				continue
			}
			fresh, upErr := e.store.UpsertContact(ctx, contact)
			if upErr != nil {
				e.logger.Error("Contact upsert failed",
					zap.String("agent_id", agent.ID),
					zap.String("email", contact.Email),
					zap.Error(upErr),
				)
				continue
			}
			if fresh {
				kept++
			}
		}
		rs.bump(func(c *models.StageCounts) { c.TotalContacts += kept })

		done := tally.unit(true)
		metrics.RecordUnit(string(models.StageContacts), "ok")
		e.sink.Log(agent.ID, models.LevelInfo, models.StageContacts,
			fmt.Sprintf("Found %d contacts at %s", kept, target.company), nil)
		e.progress(rs, models.StageContacts, done, total)
	})

	return tally.result(), err
}

// findContacts walks the contact source chain until one yields people.
// The bool reports that every source failed permanently, a credential or
// quota problem that will not heal within this run.
func (e *Executor) findContacts(ctx context.Context, sources []providers.ContactSource, company string) ([]models.Contact, bool, error) {
	var lastErr error
	permanent := 0
	for _, src := range sources {
		var found []models.Contact
		err := e.query.Do(ctx, src.Tag(), "contacts", func(ctx context.Context) error {
			var fErr error
			found, fErr = src.FindContacts(ctx, company, "")
			return fErr
		})
		if err != nil {
			lastErr = err
			if models.IsPermanent(err) {
				permanent++
			}
			continue
		}
		if len(found) > 0 {
			return found, false, nil
		}
	}
	return nil, len(sources) > 0 && permanent == len(sources), lastErr
}
