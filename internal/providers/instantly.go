package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

const instantlyDefaultBase = "https://api.instantly.ai/api/v1"

// instantlyMessenger drives the Instantly campaign API: one campaign
// create, then a bulk lead upload.
type instantlyMessenger struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewInstantlyMessenger builds the bulk-tier messenger.
func NewInstantlyMessenger(cfg Config, logger *zap.Logger) Messenger {
	cfg.fill(instantlyDefaultBase)
	return &instantlyMessenger{cfg: cfg, http: newHTTPClient(cfg), logger: logger}
}

func (m *instantlyMessenger) Tag() string               { return "instantly" }
func (m *instantlyMessenger) Tier() models.CampaignTier { return models.TierBulk }

type instantlyCampaignRequest struct {
	CampaignName      string `json:"campaign_name"`
	FromEmail         string `json:"from_email"`
	ReplyToEmail      string `json:"reply_to_email"`
	Subject           string `json:"subject"`
	BodyText          string `json:"body_text"`
	ScheduleStartTime string `json:"schedule_start_time"`
}

type instantlyCampaignResponse struct {
	ID string `json:"id"`
}

type instantlyLead struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company_name"`
}

type instantlyLeadsRequest struct {
	CampaignID string          `json:"campaign_id"`
	Leads      []instantlyLead `json:"leads"`
}

type instantlyLeadsResponse struct {
	Status      string `json:"status"`
	LeadsAdded  int    `json:"leads_added"`
	FailedLeads []struct {
		Email string `json:"email"`
		Error string `json:"error"`
	} `json:"failed_leads"`
}

func (m *instantlyMessenger) Send(ctx context.Context, campaign *models.Campaign, batch []Recipient) (DeliveryResult, error) {
	result := DeliveryResult{Provider: m.Tag()}
	if len(batch) == 0 {
		return result, nil
	}

	var created instantlyCampaignResponse
	err := m.post(ctx, "/campaigns", instantlyCampaignRequest{
		CampaignName:      campaign.Name,
		FromEmail:         m.cfg.FromEmail,
		ReplyToEmail:      m.cfg.FromEmail,
		Subject:           campaign.Subject,
		BodyText:          campaign.Body,
		ScheduleStartTime: "now",
	}, &created)
	if err != nil {
		return result, err
	}
	result.ExternalID = created.ID

	leads := make([]instantlyLead, 0, len(batch))
	for _, r := range batch {
		leads = append(leads, instantlyLead{
			Email:     r.Email,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Company:   r.Company,
		})
	}
	var uploaded instantlyLeadsResponse
	if err := m.post(ctx, "/leads", instantlyLeadsRequest{CampaignID: created.ID, Leads: leads}, &uploaded); err != nil {
		return result, fmt.Errorf("campaign created but lead upload failed: %w", err)
	}

	failed := make(map[string]string, len(uploaded.FailedLeads))
	for _, f := range uploaded.FailedLeads {
		failed[f.Email] = f.Error
	}
	for _, r := range batch {
		if reason, ok := failed[r.Email]; ok {
			result.Rejected = append(result.Rejected, RecipientStatus{Email: r.Email, Reason: reason})
			continue
		}
		result.Accepted = append(result.Accepted, RecipientStatus{Email: r.Email})
	}

	m.logger.Debug("instantly campaign dispatched",
		zap.String("campaign_id", created.ID),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

// Quota reports unknown: Instantly has no quota endpoint, the local
// ledger is authoritative.
func (m *instantlyMessenger) Quota(ctx context.Context) (QuotaInfo, error) {
	return QuotaInfo{Remaining: -1}, nil
}

func (m *instantlyMessenger) post(ctx context.Context, path string, payload, out interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("instantly: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("instantly: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api_key", m.cfg.APIKey)

	resp, err := m.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("instantly: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("instantly", resp)
	}
	if out == nil {
		return nil
	}
	return decodeJSON("instantly", resp, out)
}
