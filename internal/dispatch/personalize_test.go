package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/query"
)

func TestPersonalizerTemplates(t *testing.T) {
	p := NewPersonalizer(PersonalizerConfig{
		SenderName:  "Morgan",
		SenderTitle: "Recruiting Lead",
	}, nil, zaptest.NewLogger(t))

	if p.Enabled() {
		t.Fatal("no API key configured, AI path should be disabled")
	}

	spec := MessageSpec{Company: "Acme", Role: "Staff Engineer", ContactName: "Jane", Tier: models.TierBulk}
	if got := p.CampaignName(spec); got != "Outreach to Acme - Staff Engineer" {
		t.Fatalf("name = %q", got)
	}

	subjects := map[models.CampaignTier]string{
		models.TierBulk:       "Interest in the Staff Engineer Opportunity at Acme",
		models.TierAutomation: "Re: Staff Engineer Position at Acme",
		models.TierPremium:    "Confidential Staff Engineer Opportunity at Acme",
	}
	for tier, want := range subjects {
		spec.Tier = tier
		if got := p.Subject(spec); got != want {
			t.Fatalf("subject for %s = %q, want %q", tier, got, want)
		}
	}

	body := p.Body(context.Background(), spec)
	if !strings.HasPrefix(body, "Hi Jane,") {
		t.Fatalf("body greeting = %q", body)
	}
	if !strings.Contains(body, "Staff Engineer opening at Acme") {
		t.Fatalf("body missing role/company: %q", body)
	}
	if !strings.Contains(body, "Morgan\nRecruiting Lead") {
		t.Fatalf("body missing signature: %q", body)
	}
}

func TestPersonalizerDefaults(t *testing.T) {
	p := NewPersonalizer(PersonalizerConfig{}, nil, zaptest.NewLogger(t))

	body := p.Body(context.Background(), MessageSpec{})
	if !strings.HasPrefix(body, "Hi there,") {
		t.Fatalf("body greeting = %q", body)
	}
	if !strings.Contains(body, "your company") || !strings.Contains(body, "the position") {
		t.Fatalf("body missing placeholder defaults: %q", body)
	}
	if !strings.Contains(body, "Alex\nTalent Specialist") {
		t.Fatalf("body missing default signature: %q", body)
	}

	// Unknown tiers fall back to the bulk subject.
	got := p.Subject(MessageSpec{Company: "Acme", Role: "SRE", Tier: models.CampaignTier("vip")})
	if got != "Interest in the SRE Opportunity at Acme" {
		t.Fatalf("subject = %q", got)
	}
}

func TestPersonalizerModelBody(t *testing.T) {
	setPlans(t)

	var gotModel string
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("auth = %q", auth)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotModel = req.Model
		if len(req.Messages) == 1 {
			gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1724600000,
			"model": "gpt-4o-mini",
			"choices": [
				{"index": 0, "finish_reason": "stop",
				 "message": {"role": "assistant", "content": "  Hi Jane, noticed the SRE opening at Acme.  "}}
			]
		}`))
	}))
	defer srv.Close()

	p := NewPersonalizer(PersonalizerConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, query.NewClient(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	if !p.Enabled() {
		t.Fatal("AI path should be enabled")
	}

	body := p.Body(context.Background(), MessageSpec{Company: "Acme", Role: "SRE", Location: "Austin"})
	if body != "Hi Jane, noticed the SRE opening at Acme." {
		t.Fatalf("body = %q, want trimmed completion", body)
	}
	if gotModel != "gpt-4o-mini" {
		t.Fatalf("model = %q", gotModel)
	}
	if !strings.Contains(gotPrompt, "Role: SRE") || !strings.Contains(gotPrompt, "Company: Acme") {
		t.Fatalf("prompt missing campaign context: %q", gotPrompt)
	}
	if !strings.Contains(gotPrompt, "under 150 words") {
		t.Fatalf("prompt missing length constraint: %q", gotPrompt)
	}
}

func TestPersonalizerFallsBackOnModelError(t *testing.T) {
	setPlans(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewPersonalizer(PersonalizerConfig{
		APIKey:  "bad-key",
		BaseURL: srv.URL,
	}, query.NewClient(zaptest.NewLogger(t)), zaptest.NewLogger(t))

	body := p.Body(context.Background(), MessageSpec{Company: "Acme", Role: "SRE", ContactName: "Jane"})
	if !strings.HasPrefix(body, "Hi Jane,") {
		t.Fatalf("expected template fallback, got %q", body)
	}
	if !strings.Contains(body, "SRE opening at Acme") {
		t.Fatalf("fallback body = %q", body)
	}
}

func TestPersonalizerEmptyCompletionFallsBack(t *testing.T) {
	setPlans(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"created": 1724600000,
			"model": "gpt-4o-mini",
			"choices": [
				{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": ""}}
			]
		}`))
	}))
	defer srv.Close()

	p := NewPersonalizer(PersonalizerConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, query.NewClient(zaptest.NewLogger(t)), zaptest.NewLogger(t))

	body := p.Body(context.Background(), MessageSpec{Company: "Acme", Role: "SRE", ContactName: "Jane"})
	if !strings.HasPrefix(body, "Hi Jane,") {
		t.Fatalf("expected template fallback, got %q", body)
	}
}
