package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

// jobfeedSource talks to a hosted job-board aggregator that scrapes
// Indeed, Glassdoor, and ZipRecruiter behind one search endpoint.
type jobfeedSource struct {
	cfg    Config
	http   *http.Client
	sites  []string
	logger *zap.Logger
}

// NewJobfeedSource builds the aggregator job source.
func NewJobfeedSource(cfg Config, logger *zap.Logger) JobSource {
	cfg.fill("")
	return &jobfeedSource{
		cfg:    cfg,
		http:   newHTTPClient(cfg),
		sites:  []string{"indeed", "glassdoor", "zip_recruiter"},
		logger: logger,
	}
}

func (s *jobfeedSource) Tag() string { return "jobfeed" }

type jobfeedRequest struct {
	SearchTerm    string   `json:"search_term"`
	Location      string   `json:"location,omitempty"`
	SiteNames     []string `json:"site_name"`
	ResultsWanted int      `json:"results_wanted"`
	HoursOld      int      `json:"hours_old,omitempty"`
	IsRemote      bool     `json:"is_remote,omitempty"`
	CountryIndeed string   `json:"country_indeed"`
}

type jobfeedJob struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	JobURL      string `json:"job_url"`
	Description string `json:"description"`
	DatePosted  string `json:"date_posted"`
	Site        string `json:"site"`
	IsRemote    bool   `json:"is_remote"`
}

type jobfeedResponse struct {
	Jobs []jobfeedJob `json:"jobs"`
}

func (s *jobfeedSource) Search(ctx context.Context, req SearchRequest) ([]models.JobPosting, error) {
	wanted := req.Pages * 20
	if wanted <= 0 {
		wanted = 20
	}
	payload := jobfeedRequest{
		SearchTerm:    req.Query,
		Location:      req.Location,
		SiteNames:     s.sites,
		ResultsWanted: wanted,
		HoursOld:      req.HoursOld,
		IsRemote:      req.Remote,
		CountryIndeed: "us",
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobfeed: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/v1/search", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("jobfeed: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jobfeed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("jobfeed", resp)
	}

	var body jobfeedResponse
	if err := decodeJSON("jobfeed", resp, &body); err != nil {
		return nil, err
	}

	jobs := make([]models.JobPosting, 0, len(body.Jobs))
	for _, j := range body.Jobs {
		site := j.Site
		if site == "" {
			site = "jobfeed"
		}
		job := models.JobPosting{
			Title:       j.Title,
			Company:     j.Company,
			Location:    j.Location,
			Remote:      j.IsRemote,
			Description: j.Description,
			URL:         j.JobURL,
			Site:        site,
		}
		if j.DatePosted != "" {
			if ts, err := time.Parse("2006-01-02", j.DatePosted); err == nil {
				job.PostedAt = &ts
			}
		}
		jobs = append(jobs, job)
	}
	s.logger.Debug("jobfeed search complete",
		zap.String("query", req.Query),
		zap.Int("jobs", len(jobs)),
	)
	return jobs, nil
}
