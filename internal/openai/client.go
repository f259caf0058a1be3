package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/lodestone-ai/lodestone/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from text-embedding-3-small
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the OpenAI model used for answer generation
	DefaultChatModel = "gpt-4o-mini"
)

var (
	// ErrEmptyInput is returned when no texts are given to embed
	ErrEmptyInput = errors.New("embedding input cannot be empty")
	// ErrWrongDimensions is returned when an embedding has unexpected dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// EmbeddingAPI defines the provider call for batch embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatAPI defines the provider calls for answer generation
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, system, prompt string) (string, error)
	CreateChatCompletionStream(ctx context.Context, system, prompt string) (TokenStream, error)
}

// TokenStream yields an ordered, finite sequence of text fragments from one
// generation call. Close releases the underlying provider connection.
type TokenStream interface {
	// Recv returns the next fragment, or io.EOF when the stream is done.
	Recv() (string, error)
	Close() error
}

// Client wraps the OpenAI API for embeddings and chat completions
type Client struct {
	embeddings EmbeddingAPI
	chat       ChatAPI
	dimensions int
}

// OpenAIAdapter implements EmbeddingAPI and ChatAPI against the real API
type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
}

func NewOpenAIAdapter(apiKey string, embeddingModel openai.EmbeddingModel, chatModel string) *OpenAIAdapter {
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	return &OpenAIAdapter{
		client:         openai.NewClient(apiKey),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
	}
}

// CreateEmbeddings calls the OpenAI API to embed a batch of texts,
// preserving input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, errors.New("embedding response size does not match input")
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, errors.New("embedding response index out of range")
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CreateChatCompletion generates a full answer for the prompt
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.ErrGenerationFailed
	}
	return resp.Choices[0].Message.Content, nil
}

// CreateChatCompletionStream opens a streaming generation call
func (a *OpenAIAdapter) CreateChatCompletionStream(ctx context.Context, system, prompt string) (TokenStream, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:  a.chatModel,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return &chatStream{inner: stream}, nil
}

type chatStream struct {
	inner *openai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *chatStream) Close() error {
	return s.inner.Close()
}

// classifyProviderError maps provider failures onto the domain taxonomy so
// callers can distinguish rate limits and timeouts from hard failures.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return domain.NewDomainErrorWithCause(domain.ErrCodeRateLimited, "provider rate limit exceeded", err)
		case apiErr.HTTPStatusCode >= 500:
			return domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, "provider unavailable", err)
		}
		return domain.NewDomainErrorWithCause(domain.ErrCodeGeneration, "provider request failed", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, "provider request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// network-level failures are retryable
	return domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, "provider request failed", err)
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	adapter := NewOpenAIAdapter(cfg.APIKey, cfg.EmbeddingModel, cfg.ChatModel)
	return &Client{
		embeddings: adapter,
		chat:       adapter,
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// EmbedBatch embeds a batch of texts, preserving order and validating
// dimensions.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors, err := c.embeddings.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}

	for _, v := range vectors {
		if len(v) != c.dimensions {
			return nil, ErrWrongDimensions
		}
	}

	return vectors, nil
}

// Generate produces a full completion for the prompt
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	return c.chat.CreateChatCompletion(ctx, system, prompt)
}

// GenerateStream opens a cancellable streaming completion for the prompt
func (c *Client) GenerateStream(ctx context.Context, system, prompt string) (TokenStream, error) {
	return c.chat.CreateChatCompletionStream(ctx, system, prompt)
}
