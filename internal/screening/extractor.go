// Package screening checks an uploaded loan document against the name and
// ID number typed on the application. The outcome is advisory for the
// reviewing admin and never changes a loan's status.
package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used for extraction.
const DefaultModelName = "gemini-2.5-flash"

// ErrUnreadable means the model could not find identity details in the
// document or answered with something that is not the requested JSON.
var ErrUnreadable = errors.New("document unreadable")

// Identity is what the model read off the document.
type Identity struct {
	FullName string `json:"full_name"`
	IDNumber string `json:"id_number"`
}

// Extractor reads identity details from a document.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*Identity, error)
}

// GeminiExtractor extracts identity details with Gemini on Vertex AI.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

var _ Extractor = (*GeminiExtractor)(nil)

// NewGeminiExtractor creates a Vertex AI backed extractor.
func NewGeminiExtractor(ctx context.Context, project, region, model string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:     genai.BackendVertexAI,
		Project:     project,
		Location:    region,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

const extractPrompt = "You are checking an identity document attached to a loan application.\n\n" +
	"Task:\n" +
	"- Find the holder's full name and national ID number in the attached document.\n" +
	"- Output STRICT JSON only: an object with the fields \"full_name\" and \"id_number\".\n" +
	"- Use null for a field you cannot read.\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

// Extract sends the document to the model and parses its answer.
func (g *GeminiExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*Identity, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: extractPrompt},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Extract: generate content: %w", err)
	}
	return ParseIdentity(resp.Text())
}

// ParseIdentity decodes a model answer, tolerating code fences and stray
// text around the JSON object.
func ParseIdentity(raw string) (*Identity, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrUnreadable)
	}

	var id struct {
		FullName *string `json:"full_name"`
		IDNumber *string `json:"id_number"`
	}
	if err := json.Unmarshal([]byte(clean), &id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	out := &Identity{}
	if id.FullName != nil {
		out.FullName = strings.TrimSpace(*id.FullName)
	}
	if id.IDNumber != nil {
		out.IDNumber = strings.TrimSpace(*id.IDNumber)
	}
	if out.FullName == "" && out.IDNumber == "" {
		return nil, fmt.Errorf("%w: no identity details found", ErrUnreadable)
	}
	return out, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return ""
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
