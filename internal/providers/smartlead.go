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

const smartleadDefaultBase = "https://server.smartlead.ai/api/v1"

// smartleadMessenger drives the Smartlead campaign API: create the
// campaign, attach a one-step sequence, then add leads one by one so
// each recipient gets an individual accept or reject.
type smartleadMessenger struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewSmartleadMessenger builds the automation-tier messenger.
func NewSmartleadMessenger(cfg Config, logger *zap.Logger) Messenger {
	cfg.fill(smartleadDefaultBase)
	return &smartleadMessenger{cfg: cfg, http: newHTTPClient(cfg), logger: logger}
}

func (m *smartleadMessenger) Tag() string               { return "smartlead" }
func (m *smartleadMessenger) Tier() models.CampaignTier { return models.TierAutomation }

type smartleadCampaignRequest struct {
	Name        string `json:"name"`
	FromEmail   string `json:"from_email"`
	FromName    string `json:"from_name"`
	Timezone    string `json:"timezone"`
	TrackOpens  bool   `json:"track_opens"`
	TrackClicks bool   `json:"track_clicks"`
}

type smartleadCampaignResponse struct {
	ID string `json:"id"`
}

type smartleadSequenceRequest struct {
	CampaignID string `json:"campaign_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	DelayDays  int    `json:"delay_days"`
}

type smartleadLeadRequest struct {
	CampaignID   string            `json:"campaign_id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Company      string            `json:"company"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

type smartleadLeadResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (m *smartleadMessenger) Send(ctx context.Context, campaign *models.Campaign, batch []Recipient) (DeliveryResult, error) {
	result := DeliveryResult{Provider: m.Tag()}
	if len(batch) == 0 {
		return result, nil
	}

	var created smartleadCampaignResponse
	err := m.post(ctx, "/campaigns", smartleadCampaignRequest{
		Name:        campaign.Name,
		FromEmail:   m.cfg.FromEmail,
		FromName:    m.cfg.FromName,
		Timezone:    "America/New_York",
		TrackOpens:  true,
		TrackClicks: true,
	}, &created)
	if err != nil {
		return result, err
	}
	result.ExternalID = created.ID

	err = m.post(ctx, "/sequences", smartleadSequenceRequest{
		CampaignID: created.ID,
		Subject:    campaign.Subject,
		Body:       campaign.Body,
	}, nil)
	if err != nil {
		return result, fmt.Errorf("campaign created but sequence failed: %w", err)
	}

	for _, r := range batch {
		var lead smartleadLeadResponse
		err := m.post(ctx, "/leads", smartleadLeadRequest{
			CampaignID: created.ID,
			Email:      r.Email,
			FirstName:  r.FirstName,
			LastName:   r.LastName,
			Company:    r.Company,
			CustomFields: map[string]string{
				"title": r.Role,
			},
		}, &lead)
		switch {
		case err != nil && models.IsPermanent(err):
			// Credential or quota failure will reject the whole batch;
			// surface it so the router can fail over.
			return result, err
		case err != nil:
			result.Rejected = append(result.Rejected, RecipientStatus{Email: r.Email, Reason: err.Error()})
		case lead.Error != "":
			result.Rejected = append(result.Rejected, RecipientStatus{Email: r.Email, Reason: lead.Error})
		default:
			result.Accepted = append(result.Accepted, RecipientStatus{Email: r.Email})
		}
	}

	m.logger.Debug("smartlead campaign dispatched",
		zap.String("campaign_id", created.ID),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

// Quota reports unknown: Smartlead has no quota endpoint, the local
// ledger is authoritative.
func (m *smartleadMessenger) Quota(ctx context.Context) (QuotaInfo, error) {
	return QuotaInfo{Remaining: -1}, nil
}

func (m *smartleadMessenger) post(ctx context.Context, path string, payload, out interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("smartlead: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("smartlead: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("smartlead: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("smartlead", resp)
	}
	if out == nil {
		return nil
	}
	return decodeJSON("smartlead", resp, out)
}
