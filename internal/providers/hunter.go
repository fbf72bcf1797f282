package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

const hunterDefaultBase = "https://api.hunter.io"

// hunterContacts discovers people via Hunter.io domain search.
type hunterContacts struct {
	cfg    Config
	http   *http.Client
	limit  int
	logger *zap.Logger
}

// NewHunterContacts builds the Hunter.io contact source.
func NewHunterContacts(cfg Config, logger *zap.Logger) ContactSource {
	cfg.fill(hunterDefaultBase)
	return &hunterContacts{cfg: cfg, http: newHTTPClient(cfg), limit: 10, logger: logger}
}

func (h *hunterContacts) Tag() string { return "hunter" }

type hunterEmail struct {
	Value        string `json:"value"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Position     string `json:"position"`
	Confidence   int    `json:"confidence"`
	Verification struct {
		Result string `json:"result"`
	} `json:"verification"`
}

type hunterResponse struct {
	Data struct {
		Domain string        `json:"domain"`
		Emails []hunterEmail `json:"emails"`
	} `json:"data"`
}

func (h *hunterContacts) FindContacts(ctx context.Context, company, domain string) ([]models.Contact, error) {
	if domain == "" {
		domain = GuessDomain(company)
	}
	if domain == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("domain", domain)
	q.Set("api_key", h.cfg.APIKey)
	q.Set("limit", strconv.Itoa(h.limit))
	q.Set("offset", "0")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL+"/v2/domain-search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("hunter: build request: %w", err)
	}

	resp, err := h.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("hunter: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("hunter", resp)
	}

	var body hunterResponse
	if err := decodeJSON("hunter", resp, &body); err != nil {
		return nil, err
	}

	contacts := make([]models.Contact, 0, len(body.Data.Emails))
	for _, e := range body.Data.Emails {
		if e.Value == "" {
			continue
		}
		contacts = append(contacts, models.Contact{
			FirstName:  e.FirstName,
			LastName:   e.LastName,
			Email:      e.Value,
			Company:    company,
			Role:       e.Position,
			Confidence: float64(e.Confidence) / 100,
			Source:     "hunter",
		})
	}
	h.logger.Debug("hunter domain search complete",
		zap.String("domain", domain),
		zap.Int("contacts", len(contacts)),
	)
	return contacts, nil
}
