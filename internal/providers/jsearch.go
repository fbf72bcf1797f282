package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

const jsearchDefaultBase = "https://jsearch.p.rapidapi.com"

// jsearchSource searches the RapidAPI JSearch aggregator.
type jsearchSource struct {
	cfg    Config
	http   *http.Client
	host   string
	logger *zap.Logger
}

// NewJSearchSource builds the jsearch job source.
func NewJSearchSource(cfg Config, logger *zap.Logger) JobSource {
	cfg.fill(jsearchDefaultBase)
	host := jsearchDefaultBase
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &jsearchSource{cfg: cfg, http: newHTTPClient(cfg), host: host, logger: logger}
}

func (s *jsearchSource) Tag() string { return "jsearch" }

type jsearchJob struct {
	JobID          string `json:"job_id"`
	Title          string `json:"job_title"`
	Employer       string `json:"employer_name"`
	City           string `json:"job_city"`
	State          string `json:"job_state"`
	Description    string `json:"job_description"`
	ApplyLink      string `json:"job_apply_link"`
	EmploymentType string `json:"job_employment_type"`
	PostedAt       string `json:"job_posted_at_datetime_utc"`
	Remote         bool   `json:"job_is_remote"`
}

type jsearchResponse struct {
	Status string       `json:"status"`
	Data   []jsearchJob `json:"data"`
}

func (s *jsearchSource) Search(ctx context.Context, req SearchRequest) ([]models.JobPosting, error) {
	pages := req.Pages
	if pages <= 0 {
		pages = 1
	}

	q := url.Values{}
	q.Set("query", req.Query)
	q.Set("page", "1")
	q.Set("num_pages", strconv.Itoa(pages))
	q.Set("date_posted", datePostedWindow(req.HoursOld))
	q.Set("employment_types", "FULLTIME")
	if req.Location != "" {
		q.Set("location", req.Location)
	}
	if req.Remote {
		q.Set("remote_jobs_only", "true")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jsearch: build request: %w", err)
	}
	httpReq.Header.Set("X-RapidAPI-Key", s.cfg.APIKey)
	httpReq.Header.Set("X-RapidAPI-Host", s.host)

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jsearch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("jsearch", resp)
	}

	var body jsearchResponse
	if err := decodeJSON("jsearch", resp, &body); err != nil {
		return nil, err
	}

	jobs := make([]models.JobPosting, 0, len(body.Data))
	for _, j := range body.Data {
		jobs = append(jobs, s.normalize(j))
	}
	s.logger.Debug("jsearch search complete",
		zap.String("query", req.Query),
		zap.Int("jobs", len(jobs)),
	)
	return jobs, nil
}

func (s *jsearchSource) normalize(j jsearchJob) models.JobPosting {
	location := j.City
	if j.State != "" {
		if location != "" {
			location += ", "
		}
		location += j.State
	}
	job := models.JobPosting{
		SourceID:    j.JobID,
		Title:       j.Title,
		Company:     j.Employer,
		Location:    location,
		Remote:      j.Remote,
		Description: j.Description,
		URL:         j.ApplyLink,
		Site:        "jsearch",
	}
	if j.PostedAt != "" {
		if ts, err := time.Parse(time.RFC3339, j.PostedAt); err == nil {
			job.PostedAt = &ts
		}
	}
	return job
}

// datePostedWindow maps a freshness bound in hours onto jsearch's
// coarse-grained windows.
func datePostedWindow(hoursOld int) string {
	switch {
	case hoursOld > 0 && hoursOld <= 24:
		return "today"
	case hoursOld > 0 && hoursOld <= 72:
		return "3days"
	case hoursOld > 0 && hoursOld <= 168:
		return "week"
	default:
		return "month"
	}
}
