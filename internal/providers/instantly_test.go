package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

func TestInstantlySend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/campaigns", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api_key"); got != "in-key" {
			t.Fatalf("api_key header = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("unexpected Authorization header %q", got)
		}
		var req instantlyCampaignRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.CampaignName != "Acme outreach" || req.ScheduleStartTime != "now" {
			t.Fatalf("unexpected campaign request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(instantlyCampaignResponse{ID: "ic-7"})
	})
	mux.HandleFunc("/leads", func(w http.ResponseWriter, r *http.Request) {
		var req instantlyLeadsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.CampaignID != "ic-7" || len(req.Leads) != 3 {
			t.Fatalf("unexpected leads request: %+v", req)
		}
		resp := instantlyLeadsResponse{Status: "success", LeadsAdded: 2}
		resp.FailedLeads = append(resp.FailedLeads, struct {
			Email string `json:"email"`
			Error string `json:"error"`
		}{Email: "bad@acme.com", Error: "invalid email"})
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewInstantlyMessenger(Config{BaseURL: srv.URL, APIKey: "in-key", FromEmail: "out@propelship.io"}, zap.NewNop())
	if m.Tier() != models.TierBulk {
		t.Fatalf("tier = %v", m.Tier())
	}

	batch := []Recipient{
		{Email: "jane@acme.com", FirstName: "Jane", Company: "Acme"},
		{Email: "bad@acme.com", FirstName: "Bad", Company: "Acme"},
		{Email: "bob@acme.com", FirstName: "Bob", Company: "Acme"},
	}
	campaign := &models.Campaign{Name: "Acme outreach", Subject: "Hello", Body: "Hi there"}
	res, err := m.Send(context.Background(), campaign, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExternalID != "ic-7" || res.Provider != "instantly" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Accepted) != 2 {
		t.Fatalf("accepted = %+v", res.Accepted)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Email != "bad@acme.com" || res.Rejected[0].Reason != "invalid email" {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
}

func TestInstantlyCampaignCreateFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "payment required", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	m := NewInstantlyMessenger(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	batch := []Recipient{{Email: "jane@acme.com"}}
	_, err := m.Send(context.Background(), &models.Campaign{Name: "c"}, batch)
	if !models.IsPermanent(err) {
		t.Fatalf("402 should classify permanent, got %v", err)
	}
}

func TestInstantlyQuotaUnknown(t *testing.T) {
	m := NewInstantlyMessenger(Config{APIKey: "k"}, zap.NewNop())
	q, err := m.Quota(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Remaining >= 0 {
		t.Fatalf("remaining = %d, want negative (unknown)", q.Remaining)
	}
}
