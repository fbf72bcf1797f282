package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

func smartleadBatch() []Recipient {
	return []Recipient{
		{Email: "jane@acme.com", FirstName: "Jane", LastName: "Doe", Company: "Acme", Role: "Recruiter"},
		{Email: "bob@acme.com", FirstName: "Bob", Company: "Acme", Role: "HR Manager"},
	}
}

func TestSmartleadSend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/campaigns", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sl-key" {
			t.Fatalf("Authorization = %q", got)
		}
		var req smartleadCampaignRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "Acme outreach" || req.FromEmail != "out@propelship.io" {
			t.Fatalf("unexpected campaign request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(smartleadCampaignResponse{ID: "cmp-9"})
	})
	mux.HandleFunc("/sequences", func(w http.ResponseWriter, r *http.Request) {
		var req smartleadSequenceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.CampaignID != "cmp-9" || req.Subject == "" {
			t.Fatalf("unexpected sequence request: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/leads", func(w http.ResponseWriter, r *http.Request) {
		var req smartleadLeadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Email == "bob@acme.com" {
			_ = json.NewEncoder(w).Encode(smartleadLeadResponse{Error: "duplicate lead"})
			return
		}
		_ = json.NewEncoder(w).Encode(smartleadLeadResponse{OK: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewSmartleadMessenger(Config{BaseURL: srv.URL, APIKey: "sl-key", FromEmail: "out@propelship.io"}, zap.NewNop())
	if m.Tier() != models.TierAutomation {
		t.Fatalf("tier = %v", m.Tier())
	}

	campaign := &models.Campaign{Name: "Acme outreach", Subject: "Hiring at Acme", Body: "Hello"}
	res, err := m.Send(context.Background(), campaign, smartleadBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExternalID != "cmp-9" || res.Provider != "smartlead" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Accepted) != 1 || res.Accepted[0].Email != "jane@acme.com" {
		t.Fatalf("accepted = %+v", res.Accepted)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != "duplicate lead" {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
}

func TestSmartleadAuthFailureAbortsBatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/campaigns", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(smartleadCampaignResponse{ID: "cmp-1"})
	})
	mux.HandleFunc("/sequences", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/leads", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "account suspended", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewSmartleadMessenger(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	campaign := &models.Campaign{Name: "c", Subject: "s", Body: "b"}
	_, err := m.Send(context.Background(), campaign, smartleadBatch())
	if !models.IsPermanent(err) {
		t.Fatalf("403 on leads should bubble up permanent, got %v", err)
	}
}

func TestSmartleadSequenceFailureAnnotated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/campaigns", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(smartleadCampaignResponse{ID: "cmp-1"})
	})
	mux.HandleFunc("/sequences", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad sequence", http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewSmartleadMessenger(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	campaign := &models.Campaign{Name: "c", Subject: "s", Body: "b"}
	res, err := m.Send(context.Background(), campaign, smartleadBatch())
	if err == nil || !strings.Contains(err.Error(), "sequence failed") {
		t.Fatalf("err = %v", err)
	}
	if res.ExternalID != "cmp-1" {
		t.Fatal("campaign id should be reported even on sequence failure")
	}
}

func TestSmartleadEmptyBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	}))
	defer srv.Close()

	m := NewSmartleadMessenger(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	res, err := m.Send(context.Background(), &models.Campaign{Name: "c"}, nil)
	if err != nil || len(res.Accepted) != 0 {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
}

func TestSmartleadQuotaUnknown(t *testing.T) {
	m := NewSmartleadMessenger(Config{APIKey: "k"}, zap.NewNop())
	q, err := m.Quota(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Remaining >= 0 {
		t.Fatalf("remaining = %d, want negative (unknown)", q.Remaining)
	}
}
