package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/providers"
)

// verify checks every unchecked contact's address, one pool unit per
// contact. Undeliverable contacts are kept and flagged so dispatch can
// skip them; contacts the verifiers could not answer for stay unchecked
// and are retried on the next launch. When every verifier fails
// permanently the stage degrades and the rest stay unchecked.
func (e *Executor) verify(ctx context.Context, rs *runState) (StageResult, error) {
	agent := rs.agent

	pending, err := e.store.ListUnverifiedContacts(ctx, agent.ID)
	if err != nil {
		return StageResult{}, fmt.Errorf("load unverified contacts: %w", err)
	}
	if len(pending) == 0 {
		return StageResult{}, nil
	}

	verifiers := e.registry.Verifiers()
	if len(verifiers) == 0 {
		e.sink.Log(agent.ID, models.LevelWarn, models.StageVerify, "No verifiers configured, contacts stay unchecked", nil)
		return StageResult{Degraded: true, Reason: "no verifiers configured"}, nil
	}

	total := len(pending)
	tally := &stageTally{}

	err = e.runUnits(ctx, rs.ctl, e.workers, total, tally, func(ctx context.Context, i int) {
		contact := pending[i]

		result, exhausted, unitErr := e.verifyEmail(ctx, verifiers, contact.Email)
		if exhausted {
			tally.degrade(fmt.Sprintf("verifiers unavailable: %v", unitErr))
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageVerify), "failed")
			e.sink.Log(agent.ID, models.LevelWarn, models.StageVerify,
				fmt.Sprintf("Verifiers exhausted at %s: %v", contact.Email, unitErr), nil)
			e.progress(rs, models.StageVerify, done, total)
			return
		}
		if unitErr != nil {
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageVerify), "failed")
			e.sink.Log(agent.ID, models.LevelWarn, models.StageVerify,
				fmt.Sprintf("Verification failed for %s: %v", contact.Email, unitErr), nil)
			e.progress(rs, models.StageVerify, done, total)
			return
		}

		if mErr := e.store.MarkContactVerified(ctx, contact.ID, result.Deliverable, result.Confidence); mErr != nil {
			done := tally.unit(false)
			metrics.RecordUnit(string(models.StageVerify), "failed")
			e.logger.Error("Failed to persist verification",
				zap.String("agent_id", agent.ID),
				zap.String("email", contact.Email),
				zap.Error(mErr),
			)
			e.progress(rs, models.StageVerify, done, total)
			return
		}

		if result.Deliverable {
			rs.bump(func(c *models.StageCounts) { c.VerifiedCount++ })
		}
		done := tally.unit(true)
		metrics.RecordUnit(string(models.StageVerify), "ok")
		e.sink.Log(agent.ID, models.LevelDebug, models.StageVerify,
			fmt.Sprintf("%s deliverable=%t (%.2f)", contact.Email, result.Deliverable, result.Confidence), nil)
		e.progress(rs, models.StageVerify, done, total)
	})

	return tally.result(), err
}

// verifyEmail tries each verifier in order until one answers. The bool
// reports that every verifier failed permanently.
func (e *Executor) verifyEmail(ctx context.Context, verifiers []providers.Verifier, email string) (providers.VerifyResult, bool, error) {
	var lastErr error
	permanent := 0
	for _, v := range verifiers {
		var result providers.VerifyResult
		err := e.query.Do(ctx, v.Tag(), "verify", func(ctx context.Context) error {
			var vErr error
			result, vErr = v.Verify(ctx, email)
			return vErr
		})
		if err != nil {
			lastErr = err
			if models.IsPermanent(err) {
				permanent++
			}
			continue
		}
		return result, false, nil
	}
	return providers.VerifyResult{}, len(verifiers) > 0 && permanent == len(verifiers), lastErr
}
