// Package research_gpt is the generation capability of the engine: it turns
// a research context and its derived parameters into a model prompt, invokes
// the serving backend, and parses the reply into a candidate document.
package research_gpt

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Prompt types
// ---------------------------------------------------------------------------

// PromptInput carries everything a generation prompt is built from.
type PromptInput struct {
	Context               research.ResearchContext
	Params                research.ResearchParameters
	Attempt               int
	CorrectiveInstruction string
}

// BuiltPrompt is a fully assembled prompt ready for backend invocation.
type BuiltPrompt struct {
	System            string
	User              string
	EstimatedTokens   int
	TruncationApplied bool
	TemplateVersion   string
}

// TemplateInfo describes a registered prompt template.
type TemplateInfo struct {
	Name         string
	Version      string
	RegisteredAt time.Time
}

type templateEntry struct {
	raw    string
	parsed *template.Template
	info   TemplateInfo
}

// ---------------------------------------------------------------------------
// PromptBuilder
// ---------------------------------------------------------------------------

// PromptBuilder renders generation prompts from registered templates.
type PromptBuilder interface {
	BuildGenerationPrompt(input *PromptInput) (*BuiltPrompt, error)
	RenderTemplate(name string, data interface{}) (string, error)
	RegisterTemplate(name, body string) error
	ListTemplates() []TemplateInfo
	EstimateTokenCount(text string) int
}

// PromptConfig holds tuning knobs for prompt assembly.
type PromptConfig struct {
	// MaxInstructionTokens caps the corrective-feedback block; the rest of
	// the prompt is fixed-size and never truncated.
	MaxInstructionTokens int
	TemplateVersion      string
}

// DefaultPromptConfig returns production defaults.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		MaxInstructionTokens: 1500,
		TemplateVersion:      "v1",
	}
}

type promptBuilder struct {
	mu        sync.RWMutex
	templates map[string]*templateEntry
	cfg       PromptConfig
	funcMap   template.FuncMap
}

// Template names.
const (
	tmplGenerationSystem = "generation.system"
	tmplGenerationUser   = "generation.user"
)

// NewPromptBuilder creates a PromptBuilder with the built-in templates
// pre-loaded.
func NewPromptBuilder(cfg PromptConfig) (PromptBuilder, error) {
	if cfg.MaxInstructionTokens <= 0 {
		cfg.MaxInstructionTokens = DefaultPromptConfig().MaxInstructionTokens
	}
	if cfg.TemplateVersion == "" {
		cfg.TemplateVersion = DefaultPromptConfig().TemplateVersion
	}
	pb := &promptBuilder{
		templates: make(map[string]*templateEntry),
		cfg:       cfg,
		funcMap: template.FuncMap{
			"join": strings.Join,
		},
	}
	for name, raw := range builtinTemplates {
		if err := pb.RegisterTemplate(name, raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfiguration, fmt.Sprintf("built-in template %s", name))
		}
	}
	return pb, nil
}

// generationData is the flattened view the templates render from.
type generationData struct {
	Target           string
	Indication       string
	TherapeuticArea  string
	Region           string
	Phase            string
	FullDepth        bool
	AcademicEmphasis bool

	Strictness       string
	SearchDepth      string
	ContextSize      string
	ReasoningEffort  string
	QueriesPerSearch int
	MinSourceCount   int

	Attempt               int
	CorrectiveInstruction string
}

func (pb *promptBuilder) BuildGenerationPrompt(input *PromptInput) (*BuiltPrompt, error) {
	if input == nil {
		return nil, errors.New(errors.ErrCodeValidation, "prompt input is nil")
	}
	if strings.TrimSpace(input.Context.Target) == "" {
		return nil, errors.New(errors.ErrCodeResearchContextInvalid, "research target is required")
	}

	instruction := strings.TrimSpace(input.CorrectiveInstruction)
	truncated := false
	if pb.EstimateTokenCount(instruction) > pb.cfg.MaxInstructionTokens {
		instruction = truncateToTokens(instruction, pb.cfg.MaxInstructionTokens, pb)
		truncated = true
	}

	data := &generationData{
		Target:                input.Context.Target,
		Indication:            input.Context.Indication,
		TherapeuticArea:       input.Context.TherapeuticArea.Name,
		Region:                input.Context.Geography.Region,
		Phase:                 string(input.Context.Phase),
		FullDepth:             input.Context.FullDepth,
		AcademicEmphasis:      input.Context.AcademicEmphasis,
		Strictness:            string(input.Params.Strictness),
		SearchDepth:           string(input.Params.SearchDepth),
		ContextSize:           string(input.Params.ContextSize),
		ReasoningEffort:       string(input.Params.ReasoningEffort),
		QueriesPerSearch:      input.Params.QueriesPerSearch,
		MinSourceCount:        input.Params.MinSourceCount,
		Attempt:               input.Attempt,
		CorrectiveInstruction: instruction,
	}

	system, err := pb.RenderTemplate(tmplGenerationSystem, data)
	if err != nil {
		return nil, err
	}
	user, err := pb.RenderTemplate(tmplGenerationUser, data)
	if err != nil {
		return nil, err
	}

	return &BuiltPrompt{
		System:            system,
		User:              user,
		EstimatedTokens:   pb.EstimateTokenCount(system) + pb.EstimateTokenCount(user),
		TruncationApplied: truncated,
		TemplateVersion:   pb.cfg.TemplateVersion,
	}, nil
}

func (pb *promptBuilder) RenderTemplate(name string, data interface{}) (string, error) {
	pb.mu.RLock()
	entry, ok := pb.templates[name]
	pb.mu.RUnlock()
	if !ok {
		return "", errors.Newf(errors.ErrCodeNotFound, "template %q not registered", name)
	}
	var buf bytes.Buffer
	if err := entry.parsed.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("rendering template %q", name))
	}
	return strings.TrimSpace(buf.String()), nil
}

func (pb *promptBuilder) RegisterTemplate(name, body string) error {
	if name == "" {
		return errors.New(errors.ErrCodeValidation, "template name is required")
	}
	if body == "" {
		return errors.New(errors.ErrCodeValidation, "template body is required")
	}
	parsed, err := template.New(name).Funcs(pb.funcMap).Parse(body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, fmt.Sprintf("parsing template %q", name))
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.templates[name] = &templateEntry{
		raw:    body,
		parsed: parsed,
		info: TemplateInfo{
			Name:         name,
			Version:      pb.cfg.TemplateVersion,
			RegisteredAt: time.Now(),
		},
	}
	return nil
}

func (pb *promptBuilder) ListTemplates() []TemplateInfo {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	out := make([]TemplateInfo, 0, len(pb.templates))
	for _, e := range pb.templates {
		out = append(out, e.info)
	}
	return out
}

// EstimateTokenCount gives a rough token estimate at ~4 characters per token.
func (pb *promptBuilder) EstimateTokenCount(text string) int {
	if text == "" {
		return 0
	}
	runes := 0
	for range text {
		runes++
	}
	tokens := runes / 4
	if tokens < 1 {
		return 1
	}
	return tokens
}

// truncateToTokens cuts text so its estimate fits the budget, appending an
// ellipsis marker.
func truncateToTokens(text string, budget int, pb *promptBuilder) string {
	if budget <= 0 {
		return ""
	}
	maxRunes := budget * 4
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + " …[truncated]"
}

// ---------------------------------------------------------------------------
// Built-in templates
// ---------------------------------------------------------------------------

var builtinTemplates = map[string]string{
	tmplGenerationSystem: `You are a pharmaceutical commercial intelligence analyst producing a structured market research document for a licensing and acquisition team.
Ground every quantitative claim in a named, citable source. Prefer primary sources (regulatory filings, trial registries, company disclosures) and peer-reviewed literature over press coverage.
Reply with exactly one JSON object and no surrounding prose. Do not invent figures; omit a field rather than guess.`,

	tmplGenerationUser: `## Research Target
Target: {{.Target}}
{{- if .Indication}}
Indication: {{.Indication}}
{{- end}}
{{- if .TherapeuticArea}}
Therapeutic area: {{.TherapeuticArea}}
{{- end}}
{{- if .Region}}
Geography: {{.Region}}
{{- end}}
{{- if .Phase}}
Development phase: {{.Phase}}
{{- end}}

## Research Configuration
Validation strictness: {{.Strictness}}
Search depth: {{.SearchDepth}}
Context size: {{.ContextSize}}
Reasoning effort: {{.ReasoningEffort}}
Queries per search: {{.QueriesPerSearch}}
Minimum distinct sources: {{.MinSourceCount}}
{{- if .FullDepth}}
Full-depth research requested: expand competitor, deal, and pricing coverage.
{{- end}}
{{- if .AcademicEmphasis}}
Academic emphasis: weight peer-reviewed literature above commercial databases.
{{- end}}
{{- if .CorrectiveInstruction}}

## Prior Attempt Feedback
This is attempt {{.Attempt}}. The previous candidate was rejected. Address every point below before anything else:
{{.CorrectiveInstruction}}
{{- end}}

## Output Contract
Return one JSON object with these fields:
- "summary": narrative assessment of the commercial opportunity
- "market": {"current_market_usd", "peak_revenue_usd", "years_to_peak", "reported_cagr", "avg_annual_price_usd", "persistence_rate", "reported_peak_patients", "sources"}
- "competitors": [{"company", "asset", "mechanism", "phase", "same_target", "sources"}]
- "deals": [{"acquirer", "asset", "indication", "rationale", "announced_date", "value_usd", "stage", "sources"}]
- "pricing": [{"geography", "annual_price_usd", "access_tier", "rationale", "sources"}]
- "incentives": [{"program", "region", "impact", "expiry_year", "sources"}]
- "strategic_fit": {"portfolio_synergy", "therapeutic_focus", "commercial_reach", "pipeline_gap"} each in [0,1]
- "sources": [{"title", "url", "type", "year", "authority"}]
Every source entry needs "title", "url", "type" (primary|secondary|database|academic), "year", and "authority". reported_cagr is a fraction, not a percent.`,
}
