package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/policy"
	"github.com/propelship/leadforge/internal/providers"
	"github.com/propelship/leadforge/internal/query"
)

// CampaignStore is the slice of the persistence layer the router writes
// through. Counter updates are additive on the store side.
type CampaignStore interface {
	UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, provider string) error
	AddCampaignCounts(ctx context.Context, id string, sent, suppressed int) error
	ApplyCampaignFeedback(ctx context.Context, id string, opens, replies, bounces int) error
}

// BatchResult reports what happened to one dispatch batch.
type BatchResult struct {
	Provider   string
	Sent       int
	Suppressed int
	Denied     int
	Rejected   []providers.RecipientStatus
	Deferred   bool
}

// RouterConfig wires the router's collaborators.
type RouterConfig struct {
	Registry    *providers.Registry
	Query       *query.Client
	Policy      policy.Engine
	Suppression *SuppressionList
	Quota       *QuotaLedger
	Store       CampaignStore
	Logger      *zap.Logger
}

// Router sends campaign batches through the tier's ordered provider
// chain, failing over on provider-level errors and deferring the batch
// when the whole chain is down.
type Router struct {
	registry    *providers.Registry
	query       *query.Client
	engine      policy.Engine
	suppression *SuppressionList
	quota       *QuotaLedger
	store       CampaignStore
	logger      *zap.Logger
}

// NewRouter builds the dispatch router.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:    cfg.Registry,
		query:       cfg.Query,
		engine:      cfg.Policy,
		suppression: cfg.Suppression,
		quota:       cfg.Quota,
		store:       cfg.Store,
		logger:      logger,
	}
}

// Send delivers the batch. Order: suppression filter, policy gate,
// quota precheck, then the tier chain. Returns models.ErrDeferred when
// every provider in the chain refused the batch; the campaign is left
// in Deferred for the next dispatch cycle.
func (r *Router) Send(ctx context.Context, campaign *models.Campaign, batch []providers.Recipient) (BatchResult, error) {
	var result BatchResult

	eligible := make([]providers.Recipient, 0, len(batch))
	for _, rcpt := range batch {
		if r.suppression != nil && r.suppression.Contains(ctx, rcpt.Email) {
			result.Suppressed++
			metrics.SuppressionHits.Inc()
			r.logger.Debug("Recipient suppressed",
				zap.String("campaign_id", campaign.ID),
				zap.String("email", rcpt.Email),
			)
			continue
		}
		if !r.admit(ctx, campaign, rcpt) {
			result.Denied++
			continue
		}
		eligible = append(eligible, rcpt)
	}

	if len(eligible) == 0 {
		// The whole batch filtered out. No provider is involved; the
		// campaign stays active with its filter counts recorded.
		r.record(ctx, campaign, models.CampaignActive, "", 0, result.Suppressed+result.Denied)
		return result, nil
	}

	chain := r.registry.Chain(campaign.Tier)
	if len(chain) == 0 {
		r.logger.Error("No messengers registered for tier", zap.String("tier", string(campaign.Tier)))
		return r.deferBatch(ctx, campaign, result)
	}

	for i, m := range chain {
		if i > 0 {
			metrics.DispatchFailovers.WithLabelValues(string(campaign.Tier)).Inc()
		}

		if r.quota != nil && !r.quota.CanSpend(ctx, m.Tag(), len(eligible)) {
			r.logger.Warn("Dispatch failover: local quota exhausted",
				zap.String("campaign_id", campaign.ID),
				zap.String("provider", m.Tag()),
			)
			continue
		}
		if remaining := r.remoteQuota(ctx, m); remaining >= 0 && remaining < len(eligible) {
			r.logger.Warn("Dispatch failover: provider quota insufficient",
				zap.String("campaign_id", campaign.ID),
				zap.String("provider", m.Tag()),
				zap.Int("remaining", remaining),
				zap.Int("batch", len(eligible)),
			)
			continue
		}

		var delivery providers.DeliveryResult
		err := r.query.Do(ctx, m.Tag(), "send", func(ctx context.Context) error {
			var sendErr error
			delivery, sendErr = m.Send(ctx, campaign, eligible)
			return sendErr
		})
		if err != nil {
			r.logger.Warn("Dispatch failover: provider send failed",
				zap.String("campaign_id", campaign.ID),
				zap.String("provider", m.Tag()),
				zap.String("tier", string(campaign.Tier)),
				zap.Error(err),
			)
			continue
		}

		if r.quota != nil {
			r.quota.Record(ctx, m.Tag(), len(delivery.Accepted))
		}
		result.Provider = m.Tag()
		result.Sent = len(delivery.Accepted)
		result.Rejected = delivery.Rejected
		metrics.DispatchSends.WithLabelValues(m.Tag(), string(campaign.Tier), "accepted").Add(float64(len(delivery.Accepted)))
		metrics.DispatchSends.WithLabelValues(m.Tag(), string(campaign.Tier), "rejected").Add(float64(len(delivery.Rejected)))

		r.record(ctx, campaign, models.CampaignActive, m.Tag(), result.Sent, result.Suppressed+result.Denied)
		r.logger.Info("Dispatch batch delivered",
			zap.String("campaign_id", campaign.ID),
			zap.String("provider", m.Tag()),
			zap.Int("accepted", result.Sent),
			zap.Int("rejected", len(result.Rejected)),
			zap.Int("suppressed", result.Suppressed),
		)
		return result, nil
	}

	return r.deferBatch(ctx, campaign, result)
}

// admit runs the policy gate for one recipient. Enforce mode drops
// denied recipients; dry-run records and lets them through (the engine
// rewrites the decision).
func (r *Router) admit(ctx context.Context, campaign *models.Campaign, rcpt providers.Recipient) bool {
	if r.engine == nil || !r.engine.IsEnabled() {
		return true
	}

	domain := ""
	if at := strings.LastIndex(rcpt.Email, "@"); at >= 0 {
		domain = rcpt.Email[at+1:]
	}
	decision, err := r.engine.Evaluate(ctx, &policy.OutreachInput{
		AgentID:   campaign.AgentID,
		Email:     strings.ToLower(rcpt.Email),
		Domain:    strings.ToLower(domain),
		Company:   rcpt.Company,
		Tier:      string(campaign.Tier),
		Timestamp: time.Now(),
	})
	if err != nil {
		r.logger.Error("Policy evaluation error", zap.Error(err))
	}
	if decision != nil && !decision.Allow {
		r.logger.Info("Recipient denied by policy",
			zap.String("campaign_id", campaign.ID),
			zap.String("email", rcpt.Email),
			zap.String("reason", decision.Reason),
		)
		return false
	}
	return true
}

// remoteQuota asks the provider for its remaining allowance. Negative
// means unknown (no quota endpoint, or the check itself failed), which
// never blocks a send attempt.
func (r *Router) remoteQuota(ctx context.Context, m providers.Messenger) int {
	var info providers.QuotaInfo
	err := r.query.Do(ctx, m.Tag(), "quota", func(ctx context.Context) error {
		var qErr error
		info, qErr = m.Quota(ctx)
		return qErr
	})
	if err != nil {
		r.logger.Debug("Provider quota check failed",
			zap.String("provider", m.Tag()),
			zap.Error(err),
		)
		return -1
	}
	return info.Remaining
}

func (r *Router) deferBatch(ctx context.Context, campaign *models.Campaign, result BatchResult) (BatchResult, error) {
	result.Deferred = true
	metrics.DeferredBatches.WithLabelValues(string(campaign.Tier)).Inc()
	r.record(ctx, campaign, models.CampaignDeferred, "", 0, result.Suppressed+result.Denied)
	r.logger.Warn("Dispatch batch deferred",
		zap.String("campaign_id", campaign.ID),
		zap.String("tier", string(campaign.Tier)),
	)
	return result, fmt.Errorf("campaign %s: %w", campaign.ID, models.ErrDeferred)
}

// record persists the outcome and mirrors it onto the in-memory
// campaign so callers see the final state without a re-read.
func (r *Router) record(ctx context.Context, campaign *models.Campaign, status models.CampaignStatus, provider string, sent, suppressed int) {
	if sent > 0 || suppressed > 0 {
		if err := r.store.AddCampaignCounts(ctx, campaign.ID, sent, suppressed); err != nil {
			r.logger.Error("Failed to record campaign counts",
				zap.String("campaign_id", campaign.ID),
				zap.Error(err),
			)
		}
	}
	if err := r.store.UpdateCampaignStatus(ctx, campaign.ID, status, provider); err != nil {
		r.logger.Error("Failed to update campaign status",
			zap.String("campaign_id", campaign.ID),
			zap.Error(err),
		)
	}
	campaign.Status = status
	if provider != "" {
		campaign.Provider = provider
	}
	campaign.SentCount += sent
	campaign.SuppressedCount += suppressed
}
