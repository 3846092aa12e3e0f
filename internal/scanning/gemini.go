package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Model interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates a new Gemini Model instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
	}, nil
}

// Generate sends the image with the receipt function declared. A function
// call in the answer is the structured output; anything else is text.
func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	// GenerativeModel is configured per call so concurrent requests never
	// share mutable settings.
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instructions)}}
	model.Tools = []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{geminiFunction(req.Schema)},
	}}
	model.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingAuto},
	}

	parts := []genai.Part{
		genai.Blob{MIMEType: req.MIMEType, Data: req.Image},
		genai.Text(req.Prompt),
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return Response{}, fmt.Errorf("%w: %v", ErrContentRejected, err)
		}
		return Response{}, fmt.Errorf("generating content: %w", err)
	}

	return responseFromGemini(resp, req.Schema.Name)
}

// responseFromGemini converts a Gemini answer into a Response
func responseFromGemini(resp *genai.GenerateContentResponse, function string) (Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return Response{}, fmt.Errorf("%w: prompt blocked: %s", ErrContentRejected, resp.PromptFeedback.BlockReason)
		}
		return Response{}, fmt.Errorf("no response from gemini")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		if candidate.FinishReason == genai.FinishReasonSafety {
			return Response{}, fmt.Errorf("%w: finish reason %s", ErrContentRejected, candidate.FinishReason)
		}
		return Response{}, fmt.Errorf("empty response from gemini (finish reason %s)", candidate.FinishReason)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.FunctionCall:
			if p.Name != function {
				continue
			}
			args, err := json.Marshal(p.Args)
			if err != nil {
				return Response{}, fmt.Errorf("marshaling function arguments: %w", err)
			}
			return Response{Structured: args}, nil
		case genai.Text:
			text.WriteString(string(p))
		}
	}

	return Response{Text: strings.TrimSpace(text.String())}, nil
}

// geminiFunction converts a Schema into a Gemini function declaration
func geminiFunction(s Schema) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(s.Fields))
	for _, f := range s.Fields {
		fs := &genai.Schema{
			Description: f.Description,
			Nullable:    !f.Required,
		}
		switch f.Type {
		case FieldNumber:
			fs.Type = genai.TypeNumber
		default:
			fs.Type = genai.TypeString
		}
		if len(f.Enum) > 0 {
			fs.Format = "enum"
			fs.Enum = f.Enum
		}
		props[f.Name] = fs
	}
	return &genai.FunctionDeclaration{
		Name:        s.Name,
		Description: s.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   s.RequiredFields(),
		},
	}
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
