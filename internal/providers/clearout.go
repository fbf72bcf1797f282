package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const clearoutDefaultBase = "https://api.clearout.io"

// clearoutVerifier checks deliverability through the Clearout instant
// verify endpoint.
type clearoutVerifier struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClearoutVerifier builds the Clearout email verifier.
func NewClearoutVerifier(cfg Config, logger *zap.Logger) Verifier {
	cfg.fill(clearoutDefaultBase)
	return &clearoutVerifier{cfg: cfg, http: newHTTPClient(cfg), logger: logger}
}

func (v *clearoutVerifier) Tag() string { return "clearout" }

type clearoutResponse struct {
	Status string `json:"status"`
	Data   struct {
		Status     string  `json:"status"`
		SafeToSend string  `json:"safe_to_send"`
		Confidence float64 `json:"confidence"`
	} `json:"data"`
}

func (v *clearoutVerifier) Verify(ctx context.Context, email string) (VerifyResult, error) {
	q := url.Values{}
	q.Set("email", email)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.BaseURL+"/v2/email_verify/instant?"+q.Encode(), nil)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("clearout: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(httpReq)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("clearout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return VerifyResult{}, statusError("clearout", resp)
	}

	var body clearoutResponse
	if err := decodeJSON("clearout", resp, &body); err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{
		Deliverable: strings.EqualFold(body.Data.Status, "valid"),
		Confidence:  body.Data.Confidence / 100,
	}
	if result.Deliverable && result.Confidence == 0 {
		// Clearout omits confidence on some plans; a valid verdict
		// without one still clears the admission bar.
		result.Confidence = 0.9
	}
	v.logger.Debug("clearout verify complete",
		zap.String("email", email),
		zap.Bool("deliverable", result.Deliverable),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}
