package store

import (
	"context"
	"sync"
	"testing"

	"github.com/propelship/leadforge/internal/models"
)

func TestCampaignCountersAreAdditive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	campaign := &models.Campaign{
		AgentID:     "run-1",
		Name:        "Acme outreach",
		Company:     "Acme",
		Tier:        models.TierBulk,
		TargetCount: 5,
	}
	if err := s.CreateCampaign(ctx, campaign); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	if campaign.ID == "" {
		t.Fatal("CreateCampaign must assign an id")
	}

	if err := s.AddCampaignCounts(ctx, campaign.ID, 3, 1); err != nil {
		t.Fatalf("AddCampaignCounts failed: %v", err)
	}
	if err := s.AddCampaignCounts(ctx, campaign.ID, 1, 0); err != nil {
		t.Fatalf("AddCampaignCounts failed: %v", err)
	}

	// Feedback lands concurrently; every increment must survive.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ApplyCampaignFeedback(ctx, campaign.ID, 1, 0, 1); err != nil {
				t.Errorf("ApplyCampaignFeedback failed: %v", err)
			}
		}()
	}
	wg.Wait()

	campaigns, err := s.ListCampaigns(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(campaigns) != 1 {
		t.Fatalf("Expected 1 campaign, got %d", len(campaigns))
	}

	got := campaigns[0]
	if got.SentCount != 4 || got.SuppressedCount != 1 {
		t.Errorf("Send counters lost an update: sent=%d suppressed=%d", got.SentCount, got.SuppressedCount)
	}
	if got.OpenCount != 5 || got.BounceCount != 5 {
		t.Errorf("Feedback counters lost an update: opens=%d bounces=%d", got.OpenCount, got.BounceCount)
	}
}

func TestUpdateCampaignStatusKeepsProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	campaign := &models.Campaign{AgentID: "run-1", Company: "Acme", Tier: models.TierBulk}
	if err := s.CreateCampaign(ctx, campaign); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}

	// The provider that actually accepted the batch is recorded.
	if err := s.UpdateCampaignStatus(ctx, campaign.ID, models.CampaignActive, "smartlead"); err != nil {
		t.Fatalf("UpdateCampaignStatus failed: %v", err)
	}

	// Later status changes without a provider keep the recorded one.
	if err := s.UpdateCampaignStatus(ctx, campaign.ID, models.CampaignDeferred, ""); err != nil {
		t.Fatalf("UpdateCampaignStatus failed: %v", err)
	}

	campaigns, _ := s.ListCampaigns(ctx, "run-1")
	if campaigns[0].Status != models.CampaignDeferred {
		t.Errorf("Expected deferred, got %s", campaigns[0].Status)
	}
	if campaigns[0].Provider != "smartlead" {
		t.Errorf("Provider must persist through status updates, got %q", campaigns[0].Provider)
	}
}
