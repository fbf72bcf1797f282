// Package providers holds the HTTP adapters for external job, contact,
// verification, and messaging services. Adapters normalize wire formats
// into the domain types and map response statuses into the error
// taxonomy; rate limiting, retries, and circuit breaking stay in the
// query layer that invokes them.
package providers

import (
	"context"
	"time"

	"github.com/propelship/leadforge/internal/models"
)

// SearchRequest are the discovery parameters fanned out to job sources.
type SearchRequest struct {
	Query    string
	Location string
	HoursOld int
	Remote   bool
	Pages    int
}

// JobSource finds job postings for a search query.
type JobSource interface {
	Tag() string
	Search(ctx context.Context, req SearchRequest) ([]models.JobPosting, error)
}

// ContactSource finds people reachable at a company domain.
type ContactSource interface {
	Tag() string
	FindContacts(ctx context.Context, company, domain string) ([]models.Contact, error)
}

// VerifyResult is the normalized outcome of a single email verification.
type VerifyResult struct {
	Deliverable bool
	Confidence  float64
}

// Verifier checks whether an address is deliverable.
type Verifier interface {
	Tag() string
	Verify(ctx context.Context, email string) (VerifyResult, error)
}

// Recipient is one target of an outbound campaign batch.
type Recipient struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	Role      string
}

// RecipientStatus records the per-recipient outcome of a send. Reason is
// empty for accepted recipients.
type RecipientStatus struct {
	Email  string
	Reason string
}

// DeliveryResult is the per-batch outcome from a messenger.
type DeliveryResult struct {
	Provider   string
	ExternalID string
	Accepted   []RecipientStatus
	Rejected   []RecipientStatus
}

// QuotaInfo reports a provider's remaining send allowance. Remaining < 0
// means the provider does not expose quota and the local ledger is
// authoritative.
type QuotaInfo struct {
	Remaining int
	Limit     int
}

// Messenger delivers a campaign to a batch of recipients.
type Messenger interface {
	Tag() string
	Tier() models.CampaignTier
	Send(ctx context.Context, campaign *models.Campaign, batch []Recipient) (DeliveryResult, error)
	Quota(ctx context.Context) (QuotaInfo, error)
}

// Config is the common adapter configuration. FromEmail and FromName are
// only read by messengers.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	FromEmail string
	FromName  string
}

func (c *Config) fill(defaultBase string) {
	if c.BaseURL == "" {
		c.BaseURL = defaultBase
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FromName == "" {
		c.FromName = "Recruiting Team"
	}
}
