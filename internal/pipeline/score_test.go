package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/propelship/leadforge/internal/models"
)

func scoreAgent(query string) *models.Agent {
	return &models.Agent{ID: "a1", Query: query, HoursOld: 720, MinScore: 0.5}
}

func TestScoreJobKeywordMatches(t *testing.T) {
	e := NewExecutor(Config{})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	agent := scoreAgent("senior golang engineer")

	recent := now.Add(-2 * time.Hour)
	stale := now.Add(-27 * 24 * time.Hour)

	// Best possible raw total for a three word query is 3*11+5 = 38.
	cases := []struct {
		name string
		job  models.JobPosting
		want float64
	}{
		{
			name: "full match with recency",
			job: models.JobPosting{
				Title:       "Senior Golang Engineer",
				Company:     "Acme",
				Description: "senior golang engineer role",
				PostedAt:    &recent,
			},
			want: 1.0,
		},
		{
			name: "partial title match",
			job: models.JobPosting{
				Title:    "Golang Engineer",
				Company:  "Beta Labs",
				PostedAt: &stale,
			},
			want: 20.0 / 38.0,
		},
		{
			name: "no keyword overlap",
			job: models.JobPosting{
				Title:   "Marketing Manager",
				Company: "Gamma",
			},
			want: 0,
		},
		{
			name: "description hits only",
			job: models.JobPosting{
				Title:       "Backend Developer",
				Company:     "Delta",
				Description: "senior golang engineer wanted",
			},
			want: 3.0 / 38.0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, blacklisted := e.scoreJob(&tc.job, agent, now)
			if blacklisted {
				t.Fatalf("job unexpectedly blacklisted")
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScoreJobBlacklistRejects(t *testing.T) {
	e := NewExecutor(Config{Blacklist: []string{"staffing", "Recruiting Co"}})
	now := time.Now()
	agent := scoreAgent("golang")

	job := models.JobPosting{Title: "Golang Developer", Company: "Apex Staffing LLC"}
	score, blacklisted := e.scoreJob(&job, agent, now)
	if !blacklisted {
		t.Fatal("expected blacklist rejection")
	}
	if score != 0 {
		t.Errorf("blacklisted score = %v, want 0", score)
	}

	// Case-insensitive on both sides.
	job = models.JobPosting{Title: "Golang Developer", Company: "ACME RECRUITING CO"}
	if _, blacklisted := e.scoreJob(&job, agent, now); !blacklisted {
		t.Error("expected case-insensitive blacklist match")
	}
}

func TestScoreJobPenaltyKeywords(t *testing.T) {
	e := NewExecutor(Config{})
	now := time.Now()
	agent := scoreAgent("golang engineer")

	clean := models.JobPosting{Title: "Golang Engineer", Company: "Small Shop"}
	penalized := models.JobPosting{
		Title:       "Golang Engineer",
		Company:     "Enterprise Holdings Corporation",
		Description: "a fortune 500 multinational",
	}

	cleanScore, _ := e.scoreJob(&clean, agent, now)
	penalizedScore, _ := e.scoreJob(&penalized, agent, now)
	if penalizedScore >= cleanScore {
		t.Errorf("penalized score %v should be below clean score %v", penalizedScore, cleanScore)
	}

	// Four size keywords at 5 points each cancel the 20 title points.
	if penalizedScore != 0 {
		t.Errorf("penalized score = %v, want 0", penalizedScore)
	}
}

func TestScoreJobFloorsAtZero(t *testing.T) {
	e := NewExecutor(Config{})
	now := time.Now()
	agent := scoreAgent("golang")

	job := models.JobPosting{
		Title:       "Sales Lead",
		Company:     "Enterprise Corporation",
		Description: "multinational fortune 500",
	}
	score, blacklisted := e.scoreJob(&job, agent, now)
	if blacklisted {
		t.Fatal("job unexpectedly blacklisted")
	}
	if score != 0 {
		t.Errorf("score = %v, want 0", score)
	}
}

func TestScoreJobRecencyWindow(t *testing.T) {
	e := NewExecutor(Config{})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	// 48 hour search window gives a 24 hour recency bonus window.
	agent := &models.Agent{ID: "a1", Query: "golang", HoursOld: 48, MinScore: 0.5}

	inside := now.Add(-23 * time.Hour)
	outside := now.Add(-25 * time.Hour)
	future := now.Add(2 * time.Hour)

	base := models.JobPosting{Title: "Golang Developer", Company: "Acme"}

	withBonus := base
	withBonus.PostedAt = &inside
	withoutBonus := base
	withoutBonus.PostedAt = &outside
	clockSkew := base
	clockSkew.PostedAt = &future

	got, _ := e.scoreJob(&withBonus, agent, now)
	if want := 15.0 / 16.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("recent score = %v, want %v", got, want)
	}
	got, _ = e.scoreJob(&withoutBonus, agent, now)
	if want := 10.0 / 16.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("stale score = %v, want %v", got, want)
	}
	got, _ = e.scoreJob(&clockSkew, agent, now)
	if want := 10.0 / 16.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("future-dated score = %v, want %v", got, want)
	}
}

func TestScoreJobEmptyQuery(t *testing.T) {
	e := NewExecutor(Config{})
	agent := scoreAgent("   ")
	job := models.JobPosting{Title: "Golang Developer", Company: "Acme"}
	score, blacklisted := e.scoreJob(&job, agent, time.Now())
	if blacklisted || score != 0 {
		t.Errorf("got (%v, %v), want (0, false)", score, blacklisted)
	}
}
