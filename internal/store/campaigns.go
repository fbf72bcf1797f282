package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

// CreateCampaign inserts a dispatch batch in the Ready state.
func (c *Client) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}
	now := time.Now()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}
	campaign.UpdatedAt = now
	if campaign.Status == "" {
		campaign.Status = models.CampaignReady
	}

	query := `
		INSERT INTO campaigns (
			id, agent_id, name, company, provider, tier, status,
			subject, body, target_count, sent_count, suppressed_count,
			open_count, reply_count, bounce_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`

	_, err := c.db.ExecContext(ctx, query,
		campaign.ID, campaign.AgentID, campaign.Name, campaign.Company,
		campaign.Provider, campaign.Tier, campaign.Status,
		campaign.Subject, campaign.Body,
		campaign.TargetCount, campaign.SentCount, campaign.SuppressedCount,
		campaign.OpenCount, campaign.ReplyCount, campaign.BounceCount,
		campaign.CreatedAt, campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	c.logger.Debug("Campaign created",
		zap.String("campaign_id", campaign.ID),
		zap.String("company", campaign.Company),
		zap.String("tier", string(campaign.Tier)),
	)
	return nil
}

const campaignColumns = `
	id, agent_id, name, company, provider, tier, status,
	subject, body, target_count, sent_count, suppressed_count,
	open_count, reply_count, bounce_count, created_at, updated_at`

// ListCampaigns returns every campaign persisted for a run.
func (c *Client) ListCampaigns(ctx context.Context, agentID string) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	query := `SELECT` + campaignColumns + ` FROM campaigns WHERE agent_id = $1 ORDER BY created_at`

	if err := c.db.SelectContext(ctx, &campaigns, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// UpdateCampaignStatus records a campaign's new status, and the provider
// that accepted the batch when one did. An empty provider keeps the
// previous value.
func (c *Client) UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, provider string) error {
	query := `
		UPDATE campaigns SET
			status = $1,
			provider = COALESCE(NULLIF($2, ''), provider),
			updated_at = $3
		WHERE id = $4`

	if _, err := c.db.ExecContext(ctx, query, status, provider, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return nil
}

// AddCampaignCounts adds send outcomes to a campaign's counters. The
// additive form is safe under concurrent writers.
func (c *Client) AddCampaignCounts(ctx context.Context, id string, sent, suppressed int) error {
	query := `
		UPDATE campaigns SET
			sent_count = sent_count + $1,
			suppressed_count = suppressed_count + $2,
			updated_at = $3
		WHERE id = $4`

	if _, err := c.db.ExecContext(ctx, query, sent, suppressed, time.Now(), id); err != nil {
		return fmt.Errorf("failed to add campaign counts: %w", err)
	}
	return nil
}

// ApplyCampaignFeedback adds delivery feedback to a campaign's counters.
// Feedback arrives concurrently from the webhook; additive updates never
// lose an increment.
func (c *Client) ApplyCampaignFeedback(ctx context.Context, id string, opens, replies, bounces int) error {
	query := `
		UPDATE campaigns SET
			open_count = open_count + $1,
			reply_count = reply_count + $2,
			bounce_count = bounce_count + $3,
			updated_at = $4
		WHERE id = $5`

	if _, err := c.db.ExecContext(ctx, query, opens, replies, bounces, time.Now(), id); err != nil {
		return fmt.Errorf("failed to apply campaign feedback: %w", err)
	}
	return nil
}
