package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/query"
)

// MessageSpec is the campaign context the personalizer writes from.
type MessageSpec struct {
	Company     string
	Role        string
	Location    string
	ContactName string
	Tier        models.CampaignTier
}

var nameTemplate = template.Must(template.New("name").Parse(
	"Outreach to {{.Company}} - {{.Role}}"))

// One deterministic subject per tier, drawn from the variants the
// message templates shipped with.
var subjectTemplates = map[models.CampaignTier]*template.Template{
	models.TierBulk: template.Must(template.New("bulk").Parse(
		"Interest in the {{.Role}} Opportunity at {{.Company}}")),
	models.TierAutomation: template.Must(template.New("automation").Parse(
		"Re: {{.Role}} Position at {{.Company}}")),
	models.TierPremium: template.Must(template.New("premium").Parse(
		"Confidential {{.Role}} Opportunity at {{.Company}}")),
}

var bodyTemplate = template.Must(template.New("body").Parse(
	`Hi {{.ContactName}},

I came across the {{.Role}} opening at {{.Company}} and wanted to reach out directly. We work with candidates who are a strong match for exactly this kind of role, and I would value a short conversation about what you are looking for.

Would you be open to a brief 10-15 minute call this week?

Best regards,
{{.Sender}}
{{.SenderTitle}}`))

// PersonalizerConfig configures message generation. An empty APIKey
// disables the AI path entirely.
type PersonalizerConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	SenderName  string
	SenderTitle string
}

// Personalizer composes campaign names, subjects, and bodies. Subjects
// and names are always deterministic templates; the body is optionally
// enhanced by a language model and falls back to the template on any
// failure, so dispatch never blocks on the model being reachable.
type Personalizer struct {
	client *openai.Client
	query  *query.Client
	model  string
	cfg    PersonalizerConfig
	logger *zap.Logger
}

// NewPersonalizer builds the personalizer. query may be nil only when
// the AI path is disabled.
func NewPersonalizer(cfg PersonalizerConfig, q *query.Client, logger *zap.Logger) *Personalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SenderName == "" {
		cfg.SenderName = "Alex"
	}
	if cfg.SenderTitle == "" {
		cfg.SenderTitle = "Talent Specialist"
	}
	p := &Personalizer{query: q, cfg: cfg, logger: logger}

	if cfg.APIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := openai.NewClient(opts...)
		p.client = &client
		p.model = cfg.Model
		if p.model == "" {
			p.model = openai.ChatModelGPT4oMini
		}
	}
	return p
}

// Enabled reports whether the AI path is configured.
func (p *Personalizer) Enabled() bool { return p.client != nil }

type templateData struct {
	Company     string
	Role        string
	ContactName string
	Sender      string
	SenderTitle string
}

func (p *Personalizer) data(spec MessageSpec) templateData {
	d := templateData{
		Company:     spec.Company,
		Role:        spec.Role,
		ContactName: spec.ContactName,
		Sender:      p.cfg.SenderName,
		SenderTitle: p.cfg.SenderTitle,
	}
	if d.Company == "" {
		d.Company = "your company"
	}
	if d.Role == "" {
		d.Role = "the position"
	}
	if d.ContactName == "" {
		d.ContactName = "there"
	}
	return d
}

func render(tmpl *template.Template, data templateData) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

// CampaignName names the campaign for a company and role.
func (p *Personalizer) CampaignName(spec MessageSpec) string {
	return render(nameTemplate, p.data(spec))
}

// Subject renders the tier's subject line.
func (p *Personalizer) Subject(spec MessageSpec) string {
	tmpl, ok := subjectTemplates[spec.Tier]
	if !ok {
		tmpl = subjectTemplates[models.TierBulk]
	}
	return render(tmpl, p.data(spec))
}

// Body writes the outreach message: the model when configured, the
// template otherwise or on any model failure.
func (p *Personalizer) Body(ctx context.Context, spec MessageSpec) string {
	fallback := render(bodyTemplate, p.data(spec))
	if p.client == nil || p.query == nil {
		return fallback
	}

	body, err := p.generate(ctx, spec)
	if err != nil {
		p.logger.Warn("Message generation fell back to template",
			zap.String("company", spec.Company),
			zap.Error(err),
		)
		return fallback
	}
	return body
}

func (p *Personalizer) generate(ctx context.Context, spec MessageSpec) (string, error) {
	prompt := fmt.Sprintf(`Write a professional, personalized outreach email.

Role: %s
Company: %s
Location: %s
Sender: %s (%s)

Requirements:
- Keep it under 150 words
- Professional yet personable tone
- Include a specific value proposition
- Clear call to action
- No generic templates`,
		spec.Role, spec.Company, spec.Location, p.cfg.SenderName, p.cfg.SenderTitle)

	var body string
	err := p.query.Do(ctx, "openai", "personalize", func(ctx context.Context) error {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
			Model:               p.model,
			Temperature:         openai.Float(0.7),
			MaxCompletionTokens: openai.Int(200),
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices returned")
		}
		body = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", errors.New("empty completion")
	}
	return body, nil
}
