package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Ollama implements the Model interface using Ollama's chat API with tools
type Ollama struct {
	model  string
	client *resty.Client
}

// NewOllama creates a new Ollama Model instance
// Recommended models need both vision and tool support, e.g.:
//   - qwen2.5vl
//   - llama3.2-vision
//   - gemma3
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		// Ollama can be slower, especially for vision models
		SetTimeout(120 * time.Second)

	return &Ollama{
		model:  modelName,
		client: client,
	}, nil
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// Generate sends the image with the receipt tool declared
func (o *Ollama) Generate(ctx context.Context, req Request) (Response, error) {
	imageData := req.Image
	// Ollama only decodes JPEG and PNG reliably
	if req.MIMEType != "image/jpeg" && req.MIMEType != "image/png" {
		pngData, err := imageToPNG(imageData)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrContentRejected, err)
		}
		imageData = pngData
	}

	body := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.Instructions},
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []string{base64.StdEncoding.EncodeToString(imageData)},
			},
		},
		Tools: []ollamaTool{{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Parameters:  req.Schema.JSONSchema(),
			},
		}},
		Options: map[string]interface{}{"temperature": 0},
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/api/chat")
	if err != nil {
		return Response{}, fmt.Errorf("calling ollama API: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		if resp.StatusCode() == http.StatusBadRequest {
			return Response{}, fmt.Errorf("%w: ollama API error (status %d): %s", ErrContentRejected, resp.StatusCode(), resp.String())
		}
		return Response{}, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(resp.Body(), &chatResp); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if chatResp.Error != "" {
		return Response{}, fmt.Errorf("ollama API error: %s", chatResp.Error)
	}

	return responseFromOllama(chatResp.Message, req.Schema.Name)
}

// responseFromOllama converts an Ollama assistant message into a Response.
// Models that ignore tools sometimes answer with the JSON object as text;
// that object still counts as structured output when it carries a total.
func responseFromOllama(msg ollamaMessage, function string) (Response, error) {
	for _, call := range msg.ToolCalls {
		if call.Function.Name != function {
			continue
		}
		args := bytes.TrimSpace(call.Function.Arguments)
		// some models send arguments as a JSON encoded string
		if len(args) > 0 && args[0] == '"' {
			var s string
			if err := json.Unmarshal(args, &s); err != nil {
				return Response{}, fmt.Errorf("decoding tool arguments: %w", err)
			}
			args = []byte(s)
		}
		return Response{Structured: json.RawMessage(args)}, nil
	}

	text := strings.TrimSpace(msg.Content)
	if obj := structuredFromText(text); obj != nil {
		return Response{Structured: obj}, nil
	}
	return Response{Text: text}, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
