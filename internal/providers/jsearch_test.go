package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

func TestJSearchSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-RapidAPI-Key"); got != "key-123" {
			t.Fatalf("X-RapidAPI-Key = %q", got)
		}
		if got := r.Header.Get("X-RapidAPI-Host"); got == "" {
			t.Fatal("X-RapidAPI-Host not set")
		}
		q := r.URL.Query()
		if q.Get("query") != "devops engineer" {
			t.Fatalf("query = %q", q.Get("query"))
		}
		if q.Get("date_posted") != "week" {
			t.Fatalf("date_posted = %q", q.Get("date_posted"))
		}
		if q.Get("remote_jobs_only") != "true" {
			t.Fatalf("remote_jobs_only = %q", q.Get("remote_jobs_only"))
		}
		if q.Get("num_pages") != "2" {
			t.Fatalf("num_pages = %q", q.Get("num_pages"))
		}
		resp := jsearchResponse{
			Status: "OK",
			Data: []jsearchJob{
				{
					JobID:     "abc123",
					Title:     "DevOps Engineer",
					Employer:  "Acme Inc",
					City:      "Austin",
					State:     "TX",
					ApplyLink: "https://example.com/apply",
					PostedAt:  "2026-08-20T12:00:00Z",
					Remote:    true,
				},
				{JobID: "def456", Title: "SRE", Employer: "Initech"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	src := NewJSearchSource(Config{BaseURL: srv.URL, APIKey: "key-123"}, zap.NewNop())
	jobs, err := src.Search(context.Background(), SearchRequest{
		Query:    "devops engineer",
		HoursOld: 100,
		Remote:   true,
		Pages:    2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	first := jobs[0]
	if first.SourceID != "abc123" || first.Company != "Acme Inc" || first.Site != "jsearch" {
		t.Fatalf("unexpected normalization: %+v", first)
	}
	if first.Location != "Austin, TX" {
		t.Fatalf("location = %q", first.Location)
	}
	if !first.Remote {
		t.Fatal("remote flag lost")
	}
	if first.PostedAt == nil || first.PostedAt.Day() != 20 {
		t.Fatalf("posted_at = %v", first.PostedAt)
	}
	if jobs[1].PostedAt != nil {
		t.Fatal("missing posted_at should stay nil")
	}
}

func TestJSearchHostHeaderFromBaseURL(t *testing.T) {
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Header.Get("X-RapidAPI-Host")
		_ = json.NewEncoder(w).Encode(jsearchResponse{Status: "OK"})
	}))
	defer srv.Close()

	src := NewJSearchSource(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	if _, err := src.Search(context.Background(), SearchRequest{Query: "q"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse(srv.URL)
	if gotHost != u.Host {
		t.Fatalf("host header = %q, want %q", gotHost, u.Host)
	}
}

func TestJSearchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewJSearchSource(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	_, err := src.Search(context.Background(), SearchRequest{Query: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !models.IsTransient(err) {
		t.Fatalf("429 should classify transient, got %v", err)
	}
}

func TestJSearchBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := NewJSearchSource(Config{BaseURL: srv.URL, APIKey: "bad"}, zap.NewNop())
	_, err := src.Search(context.Background(), SearchRequest{Query: "q"})
	if !models.IsPermanent(err) {
		t.Fatalf("401 should classify permanent, got %v", err)
	}
}

func TestDatePostedWindow(t *testing.T) {
	cases := []struct {
		hours int
		want  string
	}{
		{12, "today"},
		{24, "today"},
		{48, "3days"},
		{168, "week"},
		{720, "month"},
		{0, "month"},
	}
	for _, tc := range cases {
		if got := datePostedWindow(tc.hours); got != tc.want {
			t.Errorf("datePostedWindow(%d) = %q, want %q", tc.hours, got, tc.want)
		}
	}
}
