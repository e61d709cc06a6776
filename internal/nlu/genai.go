package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient adapts Google's Gemini API to the ExternalClassifier and
// ExternalExtractor contracts. It is strictly optional: every failure is
// returned to the strategy chain, which falls back to rules.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a Gemini-backed collaborator.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIClient{client: client, model: model}, nil
}

// ClassifyLabel asks the model to pick one label from candidates. The reply
// is returned verbatim (trimmed); the caller screens it against the known
// intent set.
func (g *GenAIClient) ClassifyLabel(ctx context.Context, text string, labels []string) (string, error) {
	prompt := fmt.Sprintf(
		"Classify the user request into exactly one of these labels: %s.\n"+
			"Reply with the label only, nothing else.\n\nRequest: %q",
		strings.Join(labels, ", "), text)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt), &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0),
		})
	if err != nil {
		return "", fmt.Errorf("genai classify: %w", err)
	}

	return strings.TrimSpace(resp.Text()), nil
}

// ExtractEntities asks the model for a flat JSON object of entity slots. A
// malformed reply is an error so the chain can fall back to rules.
func (g *GenAIClient) ExtractEntities(ctx context.Context, text string) (map[string]string, error) {
	prompt := fmt.Sprintf(
		"Extract entities from the user request as a flat JSON object.\n"+
			"Allowed keys: task_title, search_term, title, description, priority, "+
			"due_date, category, info_type. Omit keys that are not present.\n"+
			"Reply with JSON only.\n\nRequest: %q",
		text)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt), &genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0),
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return nil, fmt.Errorf("genai extract: %w", err)
	}

	raw := strings.TrimSpace(resp.Text())
	// Models occasionally wrap JSON in a code fence despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var entities map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &entities); err != nil {
		return nil, fmt.Errorf("genai extract: malformed reply: %w", err)
	}
	return entities, nil
}
