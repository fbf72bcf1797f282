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

func TestHunterFindContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/domain-search" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("domain") != "acme.com" {
			t.Fatalf("domain = %q", q.Get("domain"))
		}
		if q.Get("api_key") != "hunter-key" {
			t.Fatalf("api_key = %q", q.Get("api_key"))
		}
		if q.Get("limit") != "10" {
			t.Fatalf("limit = %q", q.Get("limit"))
		}
		var resp hunterResponse
		resp.Data.Domain = "acme.com"
		resp.Data.Emails = []hunterEmail{
			{Value: "jane@acme.com", FirstName: "Jane", LastName: "Doe", Position: "Recruiter", Confidence: 92},
			{Value: "", FirstName: "Ghost"},
			{Value: "bob@acme.com", FirstName: "Bob", Position: "HR Manager", Confidence: 60},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	src := NewHunterContacts(Config{BaseURL: srv.URL, APIKey: "hunter-key"}, zap.NewNop())
	contacts, err := src.FindContacts(context.Background(), "Acme Inc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("contacts = %d, want 2 (blank address skipped)", len(contacts))
	}
	jane := contacts[0]
	if jane.Email != "jane@acme.com" || jane.FirstName != "Jane" || jane.Role != "Recruiter" {
		t.Fatalf("unexpected normalization: %+v", jane)
	}
	if jane.Confidence != 0.92 {
		t.Fatalf("confidence = %v, want 0.92", jane.Confidence)
	}
	if jane.Company != "Acme Inc" {
		t.Fatalf("company = %q, want caller's name", jane.Company)
	}
	if jane.Source != "hunter" {
		t.Fatalf("source = %q", jane.Source)
	}
}

func TestHunterExplicitDomainWins(t *testing.T) {
	var gotDomain string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDomain = r.URL.Query().Get("domain")
		_ = json.NewEncoder(w).Encode(hunterResponse{})
	}))
	defer srv.Close()

	src := NewHunterContacts(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	if _, err := src.FindContacts(context.Background(), "Acme Inc", "acme.io"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDomain != "acme.io" {
		t.Fatalf("domain = %q, explicit domain must not be re-guessed", gotDomain)
	}
}

func TestHunterNoDomainNoCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected when no domain can be derived")
	}))
	defer srv.Close()

	src := NewHunterContacts(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	contacts, err := src.FindContacts(context.Background(), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contacts != nil {
		t.Fatalf("contacts = %v, want nil", contacts)
	}
}

func TestHunterQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "monthly quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewHunterContacts(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	_, err := src.FindContacts(context.Background(), "Acme", "acme.com")
	if !models.IsTransient(err) {
		t.Fatalf("429 should classify transient, got %v", err)
	}
}
