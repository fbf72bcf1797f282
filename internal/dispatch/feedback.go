package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/metrics"
)

// Feedback kinds accepted from delivery webhooks.
const (
	FeedbackBounce    = "bounce"
	FeedbackComplaint = "complaint"
	FeedbackOpen      = "open"
	FeedbackReply     = "reply"
)

// FeedbackEvent is one delivery signal for a campaign recipient.
type FeedbackEvent struct {
	CampaignID string `json:"campaign_id"`
	Email      string `json:"email"`
	Kind       string `json:"kind"`
}

// HandleFeedback applies a delivery signal: bounces and complaints
// suppress the address and bump the campaign bounce counter, opens and
// replies bump their counters. All updates are additive. Failures are
// logged and swallowed; feedback must never fail the caller.
func (r *Router) HandleFeedback(ctx context.Context, evt FeedbackEvent) {
	metrics.FeedbackEvents.WithLabelValues(evt.Kind).Inc()

	var opens, replies, bounces int
	switch evt.Kind {
	case FeedbackBounce, FeedbackComplaint:
		if r.suppression != nil {
			r.suppression.Add(ctx, evt.Email)
		}
		bounces = 1
	case FeedbackOpen:
		opens = 1
	case FeedbackReply:
		replies = 1
	default:
		r.logger.Warn("Unknown feedback kind dropped",
			zap.String("kind", evt.Kind),
			zap.String("campaign_id", evt.CampaignID),
		)
		return
	}

	if evt.CampaignID == "" {
		return
	}
	if err := r.store.ApplyCampaignFeedback(ctx, evt.CampaignID, opens, replies, bounces); err != nil {
		r.logger.Error("Failed to apply campaign feedback",
			zap.String("campaign_id", evt.CampaignID),
			zap.String("kind", evt.Kind),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Feedback applied",
		zap.String("campaign_id", evt.CampaignID),
		zap.String("kind", evt.Kind),
		zap.String("email", evt.Email),
	)
}
