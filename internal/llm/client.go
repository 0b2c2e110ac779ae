// Package llm wraps the OpenAI API behind the two narrow capabilities the
// pipeline needs: text embedding and grounded answer generation. Upstream
// failures surface as *ServiceError; the client performs no retries — retry
// policy belongs to callers or the operator layer.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/acmetech/docchat/internal/log"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message sent to the model.
type Message struct {
	Role    Role
	Content string
}

// ServiceError reports a transient upstream failure (service unavailable,
// input over model limits). Check with errors.As.
type ServiceError struct {
	Op  string // "embed", "embed_batch" or "generate"
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Config holds the OpenAI client configuration.
type Config struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string
	Temperature        float64
	MaxAnswerTokens    int
}

// Client calls the OpenAI API for embeddings and chat completions.
// Safe for concurrent use.
type Client struct {
	api    openai.Client
	cfg    Config
	logger log.Logger
}

// New creates a Client. Extra request options are appended after the API key,
// which lets tests point the client at a local HTTP stub via
// option.WithBaseURL.
func New(cfg Config, logger log.Logger, opts ...option.RequestOption) *Client {
	if logger == nil {
		logger = log.NewNop()
	}

	requestOpts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)

	return &Client{
		api:    openai.NewClient(requestOpts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Embed generates the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, "embed", openai.EmbeddingNewParamsInputUnion{
		OfString: openai.String(text),
	}, 1)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
// The result is order-preserving: result[i] corresponds to texts[i].
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, "embed_batch", openai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}, len(texts))
}

func (c *Client) embed(ctx context.Context, op string, input openai.EmbeddingNewParamsInputUnion, want int) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Input: input,
	}
	if c.cfg.EmbeddingDimension > 0 {
		params.Dimensions = openai.Int(int64(c.cfg.EmbeddingDimension))
	}

	resp, err := c.api.Embeddings.New(ctx, params)
	if err != nil {
		return nil, &ServiceError{Op: op, Err: err}
	}
	if len(resp.Data) != want {
		return nil, &ServiceError{Op: op, Err: fmt.Errorf("got %d embeddings, want %d", len(resp.Data), want)}
	}

	// The API tags each embedding with its input index; place by Index so the
	// result order matches the input order regardless of response order.
	vectors := make([][]float32, want)
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= want {
			return nil, &ServiceError{Op: op, Err: fmt.Errorf("embedding index %d out of range", item.Index)}
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[item.Index] = vec
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, &ServiceError{Op: op, Err: fmt.Errorf("no embedding returned for input %d", i)}
		}
	}

	c.logger.Debug("embeddings generated", "count", want, "dimension", len(vectors[0]))
	return vectors, nil
}

// Generate produces a chat completion for the given messages and returns the
// raw text of the first choice. One call per request; no tool loop.
func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.ChatModel),
		Messages:    toChatMessages(messages),
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if c.cfg.MaxAnswerTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.cfg.MaxAnswerTokens))
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &ServiceError{Op: "generate", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ServiceError{Op: "generate", Err: fmt.Errorf("no choices in completion response")}
	}

	answer := resp.Choices[0].Message.Content
	c.logger.Debug("answer generated", "length", len(answer))
	return answer, nil
}

// toChatMessages converts pipeline messages to the OpenAI union type.
func toChatMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
