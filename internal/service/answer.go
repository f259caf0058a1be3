package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/openai"
)

const answerSystemPrompt = `You are a document assistant. Answer the question using only the provided context passages. Cite passages by their bracketed anchor, e.g. [0] or [2]. If the context does not contain the answer, say so.`

// GenerationClient defines the text-generation capability the answer
// pipeline depends on.
type GenerationClient interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	GenerateStream(ctx context.Context, system, prompt string) (openai.TokenStream, error)
}

// Answer is a generated answer with the context it was grounded on
type Answer struct {
	Text    string
	Context *domain.AnswerContext
}

// AnswerService orchestrates retrieve -> assemble -> generate
type AnswerService struct {
	retriever *Retriever
	assembler *Assembler
	generator GenerationClient
}

// NewAnswerService creates an AnswerService
func NewAnswerService(retriever *Retriever, assembler *Assembler, generator GenerationClient) *AnswerService {
	return &AnswerService{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
	}
}

// Answer retrieves context for the query and generates a cited answer. An
// empty retrieval returns an empty context without calling the generator;
// the caller decides how to handle "no relevant context". Generation
// failures return the assembled context alongside the error so the caller
// can retry generation without re-retrieving.
func (s *AnswerService) Answer(ctx context.Context, query string, filters domain.SearchFilters, topK int) (*Answer, error) {
	answerCtx, err := s.prepare(ctx, query, filters, topK)
	if err != nil {
		return nil, err
	}
	if answerCtx.Empty() {
		return &Answer{Context: answerCtx}, nil
	}

	text, err := s.generator.Generate(ctx, answerSystemPrompt, buildPrompt(query, answerCtx))
	if err != nil {
		return &Answer{Context: answerCtx}, err
	}
	return &Answer{Text: text, Context: answerCtx}, nil
}

// AnswerStream retrieves context and opens a cancellable token stream for
// the generated answer. Returns the context and a nil stream when retrieval
// found nothing.
func (s *AnswerService) AnswerStream(ctx context.Context, query string, filters domain.SearchFilters, topK int) (*domain.AnswerContext, openai.TokenStream, error) {
	answerCtx, err := s.prepare(ctx, query, filters, topK)
	if err != nil {
		return nil, nil, err
	}
	if answerCtx.Empty() {
		return answerCtx, nil, nil
	}

	stream, err := s.generator.GenerateStream(ctx, answerSystemPrompt, buildPrompt(query, answerCtx))
	if err != nil {
		return answerCtx, nil, err
	}
	return answerCtx, stream, nil
}

func (s *AnswerService) prepare(ctx context.Context, query string, filters domain.SearchFilters, topK int) (*domain.AnswerContext, error) {
	result, err := s.retriever.Retrieve(ctx, query, filters, topK)
	if err != nil {
		return nil, err
	}
	return s.assembler.Assemble(result, 0), nil
}

func buildPrompt(query string, answerCtx *domain.AnswerContext) string {
	var b strings.Builder
	b.WriteString("Context passages:\n\n")
	for _, p := range answerCtx.Passages {
		fmt.Fprintf(&b, "[%d]", p.Anchor)
		if p.Section != "" {
			fmt.Fprintf(&b, " (%s)", p.Section)
		}
		b.WriteString("\n")
		b.WriteString(p.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}
