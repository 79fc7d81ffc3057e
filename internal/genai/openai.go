package genai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const requestTimeout = 3 * time.Minute

// OpenAIClient implements Client against any OpenAI-compatible chat
// completion endpoint, using forced tool calls for structured output.
type OpenAIClient struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// NewOpenAI creates a client for the given endpoint. An empty endpoint
// means the vendor default.
func NewOpenAI(apiKey, endpoint, model string, log zerolog.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		return nil, errors.New("openai model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log,
	}, nil
}

func (c *OpenAIClient) GenerateStructured(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        req.SchemaName,
				Description: "Save the generated study items.",
				Parameters:  req.Schema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.SchemaName},
		},
	})
	if err != nil {
		return nil, &GenerationError{Code: CodeRequestFailed, Message: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &GenerationError{Code: CodeNoStructuredOutput, Message: "response carried no choices"}
	}

	msg := resp.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Function.Name != req.SchemaName {
			continue
		}
		raw := json.RawMessage(call.Function.Arguments)
		if !json.Valid(raw) {
			return nil, &GenerationError{Code: CodeBadJSON, Message: "tool call arguments are not valid JSON"}
		}
		return raw, nil
	}

	// Some models answer in prose despite the forced tool choice. Try to
	// salvage a JSON object from the content before declaring the attempt
	// failed.
	if salvaged := extractJSON(msg.Content); salvaged != "" && json.Valid([]byte(salvaged)) {
		c.log.Debug().Str("model", c.model).Msg("salvaged structured output from message content")
		return json.RawMessage(salvaged), nil
	}
	return nil, &GenerationError{Code: CodeNoStructuredOutput, Message: "model returned no structured tool call"}
}

// extractJSON strips markdown fences and surrounding prose from model
// content, returning the outermost JSON object candidate.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		start := 3
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	if startIdx := strings.Index(content, "{"); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "}"); endIdx != -1 && endIdx > startIdx {
			return strings.TrimSpace(content[startIdx : endIdx+1])
		}
	}
	return ""
}
