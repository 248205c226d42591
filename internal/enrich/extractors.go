package enrich

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/models"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// OpenAIExtractor implements MetricsExtractor with the OpenAI chat API.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
}

// NewOpenAIExtractor creates an extractor. baseURL overrides the API
// endpoint when set (proxies, compatible servers).
func NewOpenAIExtractor(apiKey, model, baseURL string) *OpenAIExtractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIExtractor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Extract asks the model for the figures and parses its JSON reply.
func (e *OpenAIExtractor) Extract(ctx context.Context, symbol, text string) (*models.FinancialMetrics, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: metricsPrompt},
			{Role: openai.ChatMessageRoleUser, Content: truncateText(text)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai completion failed: %v", apperrors.ErrAnalysisFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response from openai", apperrors.ErrAnalysisFailed)
	}
	return ParseMetricsReply(symbol, resp.Choices[0].Message.Content)
}

// GeminiExtractor implements MetricsExtractor with the Gemini API and a
// JSON response schema.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor creates an extractor. baseURL overrides the API
// endpoint when set.
func NewGeminiExtractor(ctx context.Context, apiKey, model, baseURL string) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

// Extract asks the model for the figures and parses its JSON reply.
func (e *GeminiExtractor) Extract(ctx context.Context, symbol, text string) (*models.FinancialMetrics, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: "Analyze the following filing text:\n\n---\n" + truncateText(text)}},
		},
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: metricsPrompt}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    metricsSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini API call failed: %v", apperrors.ErrAnalysisFailed, err)
	}
	return ParseMetricsReply(symbol, resp.Text())
}

func metricsSchema() *genai.Schema {
	number := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeNumber, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"revenue_from_operations": number("Revenue from operations for the latest period."),
			"profit_after_tax":        number("Profit after tax for the latest period."),
			"profit_before_tax":       number("Profit before tax for the latest period."),
			"total_income":            number("Total income for the latest period."),
			"other_income":            number("Other income for the latest period."),
			"earnings_per_share":      number("Basic earnings per share for the latest period."),
			"units":                   {Type: genai.TypeString, Description: "crores or lakhs"},
			"quarterly_data": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"period":     {Type: genai.TypeString, Description: "Q1, Q2, Q3 or Q4"},
						"year_ended": {Type: genai.TypeString, Description: "YYYY"},
					},
				},
			},
		},
	}
}
