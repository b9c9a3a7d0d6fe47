package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

const (
	DefaultModel    = "gpt-4.1-mini"
	DefaultMaxChars = 200000

	temperature  = 0.2
	parseRetries = 3
)

const systemPrompt = "You are a senior economic and energy analyst. Return STRICT JSON only, no markdown."

// KeyNumber ist eine aus dem Bericht extrahierte Kennzahl.
type KeyNumber struct {
	Metric  string      `json:"metric"`
	Value   interface{} `json:"value"`
	Unit    interface{} `json:"unit"`
	Context string      `json:"context"`
}

// Dates enthält die im Bericht genannten Zeitangaben.
type Dates struct {
	Published *string     `json:"published"`
	Horizon   *string     `json:"horizon"`
	Other     interface{} `json:"other,omitempty"`
}

// Summary ist die strukturierte Antwort des Modells.
type Summary struct {
	Summary     string      `json:"summary"`
	KeyPoints   []string    `json:"key_points"`
	KeyNumbers  []KeyNumber `json:"key_numbers"`
	Topics      []string    `json:"topics"`
	Countries   []string    `json:"countries"`
	Dates       Dates       `json:"dates"`
	ImpactLevel string      `json:"impact_level"`
	Confidence  *float64    `json:"confidence"`

	// Raw ist die unveränderte JSON-Antwort für die Ablage als Datei.
	Raw json.RawMessage `json:"-"`
}

// Config für den OpenAI-kompatiblen Endpunkt.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	MaxChars int
}

// OpenAI fasst Berichte über ein OpenAI-kompatibles Chat-Modell im JSON-Modus zusammen.
type OpenAI struct {
	client   llms.Model
	maxChars int
	logger   *zap.Logger
}

// New erstellt einen Summarizer gegen den konfigurierten Endpunkt.
func New(cfg Config, logger *zap.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("summarizer: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("summarizer: create client: %w", err)
	}
	return NewWithModel(client, cfg.MaxChars, logger), nil
}

// NewWithModel verwendet ein bereits konfiguriertes Modell.
func NewWithModel(model llms.Model, maxChars int, logger *zap.Logger) *OpenAI {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{client: model, maxChars: maxChars, logger: logger}
}

type requiredSchema struct {
	Summary     string              `json:"summary"`
	KeyPoints   []string            `json:"key_points"`
	KeyNumbers  []map[string]string `json:"key_numbers"`
	Topics      []string            `json:"topics"`
	Countries   []string            `json:"countries"`
	Dates       map[string]string   `json:"dates"`
	ImpactLevel string              `json:"impact_level"`
	Confidence  string              `json:"confidence"`
}

type userMessage struct {
	Task               string         `json:"task"`
	Source             string         `json:"source"`
	Title              string         `json:"title"`
	RequiredJSONSchema requiredSchema `json:"required_json_schema"`
	Constraints        []string       `json:"constraints"`
	Text               string         `json:"text"`
}

func buildUserMessage(text, title, source string) ([]byte, error) {
	msg := userMessage{
		Task:   "Summarize and extract structured signals from the report text.",
		Source: source,
		Title:  title,
		RequiredJSONSchema: requiredSchema{
			Summary:   "string (120-200 words, neutral, dense, no hype)",
			KeyPoints: []string{"bullet strings (6-10)"},
			KeyNumbers: []map[string]string{{
				"metric": "string", "value": "string/number", "unit": "string|null", "context": "string",
			}},
			Topics:      []string{"strings"},
			Countries:   []string{"strings"},
			Dates:       map[string]string{"published": "string|null", "horizon": "string|null", "other": "object"},
			ImpactLevel: "low|medium|high",
			Confidence:  "number 0-1",
		},
		Constraints: []string{
			"If unsure, be explicit via lower confidence.",
			"Prefer extracting numbers that are clearly stated.",
			"Do not invent data.",
		},
		Text: text,
	}
	return json.Marshal(msg)
}

// Truncate kürzt text auf höchstens maxChars Zeichen.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	// schneller Pfad: weniger Bytes als Zeichenlimit
	if len(text) <= maxChars {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}

// Summarize ruft das Modell mit dem gekürzten Text auf und dekodiert die JSON-Antwort.
// Ungültiges JSON wird bis zu drei Mal neu angefragt.
func (o *OpenAI) Summarize(ctx context.Context, text, title, source string) (*Summary, error) {
	log := o.logger.With(zap.String("source_id", source), zap.String("title", title))

	user, err := buildUserMessage(Truncate(text, o.maxChars), title, source)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, string(user)),
	}

	var lastErr error
	for attempt := 0; attempt < parseRetries; attempt++ {
		resp, err := o.client.GenerateContent(ctx, content, llms.WithTemperature(temperature), llms.WithJSONMode())
		if err != nil {
			return nil, fmt.Errorf("generate summary: %w", err)
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("model returned no choices")
			log.Warn("Modell lieferte keine Antwort", zap.Int("attempt", attempt+1))
			continue
		}

		raw := stripCodeFences(resp.Choices[0].Content)
		var s Summary
		// Nur eine Antwort, die gar kein JSON-Objekt ist, wird neu angefragt.
		if !strings.HasPrefix(raw, "{") {
			lastErr = errors.New("parse summary json: response is not a json object")
			log.Warn("Antwort ist kein JSON-Objekt", zap.Int("attempt", attempt+1))
			continue
		}
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			lastErr = fmt.Errorf("parse summary json: %w", err)
			log.Warn("Antwort ist kein gültiges JSON",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		s.Raw = json.RawMessage(raw)
		return &s, nil
	}
	return nil, lastErr
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
