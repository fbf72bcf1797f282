package providers

import (
	"context"
	"testing"

	"github.com/propelship/leadforge/internal/models"
)

type stubMessenger struct {
	tag  string
	tier models.CampaignTier
}

func (s *stubMessenger) Tag() string               { return s.tag }
func (s *stubMessenger) Tier() models.CampaignTier { return s.tier }
func (s *stubMessenger) Send(ctx context.Context, c *models.Campaign, batch []Recipient) (DeliveryResult, error) {
	return DeliveryResult{Provider: s.tag}, nil
}
func (s *stubMessenger) Quota(ctx context.Context) (QuotaInfo, error) {
	return QuotaInfo{Remaining: -1}, nil
}

func TestRegistryDefaultChains(t *testing.T) {
	r := NewRegistry()
	r.RegisterMessenger(&stubMessenger{tag: "instantly", tier: models.TierBulk})
	r.RegisterMessenger(&stubMessenger{tag: "smartlead", tier: models.TierAutomation})
	r.RegisterMessenger(&stubMessenger{tag: "ses", tier: models.TierPremium})

	bulk := r.Chain(models.TierBulk)
	if len(bulk) != 2 || bulk[0].Tag() != "instantly" || bulk[1].Tag() != "smartlead" {
		t.Fatalf("bulk chain = %v", chainTags(bulk))
	}
	auto := r.Chain(models.TierAutomation)
	if len(auto) != 2 || auto[0].Tag() != "smartlead" {
		t.Fatalf("automation chain = %v", chainTags(auto))
	}
	premium := r.Chain(models.TierPremium)
	if len(premium) != 1 || premium[0].Tag() != "ses" {
		t.Fatalf("premium chain = %v", chainTags(premium))
	}
}

func TestRegistryChainOverride(t *testing.T) {
	r := NewRegistry()
	r.RegisterMessenger(&stubMessenger{tag: "instantly", tier: models.TierBulk})
	r.RegisterMessenger(&stubMessenger{tag: "smartlead", tier: models.TierAutomation})
	r.SetChain(models.TierBulk, []string{"smartlead", "instantly"})

	bulk := r.Chain(models.TierBulk)
	if len(bulk) != 2 || bulk[0].Tag() != "smartlead" {
		t.Fatalf("override ignored: %v", chainTags(bulk))
	}
}

func TestRegistryChainSkipsUnregistered(t *testing.T) {
	r := NewRegistry()
	r.RegisterMessenger(&stubMessenger{tag: "smartlead", tier: models.TierAutomation})
	// Config may name providers not enabled in this deployment.
	r.SetChain(models.TierBulk, []string{"instantly", "smartlead"})

	bulk := r.Chain(models.TierBulk)
	if len(bulk) != 1 || bulk[0].Tag() != "smartlead" {
		t.Fatalf("bulk chain = %v", chainTags(bulk))
	}
}

func TestRegistryAdapterLists(t *testing.T) {
	r := NewRegistry()
	if got := r.Chain(models.TierBulk); len(got) != 0 {
		t.Fatalf("empty registry chain = %v", chainTags(got))
	}
	if len(r.JobSources()) != 0 || len(r.ContactSources()) != 0 || len(r.Verifiers()) != 0 {
		t.Fatal("empty registry should report no adapters")
	}

	if _, ok := r.Messenger("ses"); ok {
		t.Fatal("unregistered tag should not resolve")
	}
	r.RegisterMessenger(&stubMessenger{tag: "ses", tier: models.TierPremium})
	if m, ok := r.Messenger("ses"); !ok || m.Tier() != models.TierPremium {
		t.Fatal("registered messenger should resolve by tag")
	}
}

func chainTags(chain []Messenger) []string {
	tags := make([]string, 0, len(chain))
	for _, m := range chain {
		tags = append(tags, m.Tag())
	}
	return tags
}
