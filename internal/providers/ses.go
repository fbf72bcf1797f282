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

// sesMessenger sends one personalized email per recipient through an
// SES-v2-compatible REST gateway. Premium tier: no shared campaign
// object on the provider side, every recipient is an individual send.
type sesMessenger struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

const sesDefaultBase = "https://email.us-east-1.amazonaws.com"

// NewSESMessenger builds the premium-tier messenger.
func NewSESMessenger(cfg Config, logger *zap.Logger) Messenger {
	cfg.fill(sesDefaultBase)
	return &sesMessenger{cfg: cfg, http: newHTTPClient(cfg), logger: logger}
}

func (m *sesMessenger) Tag() string               { return "ses" }
func (m *sesMessenger) Tier() models.CampaignTier { return models.TierPremium }

type sesContent struct {
	Simple struct {
		Subject struct {
			Data string `json:"Data"`
		} `json:"Subject"`
		Body struct {
			Text struct {
				Data string `json:"Data"`
			} `json:"Text"`
		} `json:"Body"`
	} `json:"Simple"`
}

type sesSendRequest struct {
	FromEmailAddress string `json:"FromEmailAddress"`
	Destination      struct {
		ToAddresses []string `json:"ToAddresses"`
	} `json:"Destination"`
	Content sesContent `json:"Content"`
}

type sesSendResponse struct {
	MessageID string `json:"MessageId"`
}

type sesAccountResponse struct {
	SendQuota struct {
		Max24HourSend   float64 `json:"Max24HourSend"`
		SentLast24Hours float64 `json:"SentLast24Hours"`
	} `json:"SendQuota"`
}

func (m *sesMessenger) Send(ctx context.Context, campaign *models.Campaign, batch []Recipient) (DeliveryResult, error) {
	result := DeliveryResult{Provider: m.Tag()}
	for _, r := range batch {
		if err := m.sendOne(ctx, campaign, r); err != nil {
			if models.IsPermanent(err) {
				return result, err
			}
			result.Rejected = append(result.Rejected, RecipientStatus{Email: r.Email, Reason: err.Error()})
			continue
		}
		result.Accepted = append(result.Accepted, RecipientStatus{Email: r.Email})
	}
	m.logger.Debug("ses batch dispatched",
		zap.String("campaign", campaign.Name),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

func (m *sesMessenger) sendOne(ctx context.Context, campaign *models.Campaign, r Recipient) error {
	payload := sesSendRequest{FromEmailAddress: m.cfg.FromEmail}
	payload.Destination.ToAddresses = []string{r.Email}
	payload.Content.Simple.Subject.Data = campaign.Subject
	payload.Content.Simple.Body.Text.Data = campaign.Body

	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ses: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v2/email/outbound-emails", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("ses: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ses: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("ses", resp)
	}
	var body sesSendResponse
	return decodeJSON("ses", resp, &body)
}

// Quota reads the account send quota.
func (m *sesMessenger) Quota(ctx context.Context) (QuotaInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/v2/email/account", nil)
	if err != nil {
		return QuotaInfo{}, fmt.Errorf("ses: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.http.Do(httpReq)
	if err != nil {
		return QuotaInfo{}, fmt.Errorf("ses: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return QuotaInfo{}, statusError("ses", resp)
	}
	var body sesAccountResponse
	if err := decodeJSON("ses", resp, &body); err != nil {
		return QuotaInfo{}, err
	}
	limit := int(body.SendQuota.Max24HourSend)
	remaining := limit - int(body.SendQuota.SentLast24Hours)
	if remaining < 0 {
		remaining = 0
	}
	return QuotaInfo{Remaining: remaining, Limit: limit}, nil
}
