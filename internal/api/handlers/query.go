package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lodestone-ai/lodestone/internal/api"
	"github.com/lodestone-ai/lodestone/internal/api/middleware"
	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/openai"
	"github.com/lodestone-ai/lodestone/internal/service"
	"github.com/lodestone-ai/lodestone/internal/telemetry"
)

type AnswerAPI interface {
	Answer(ctx context.Context, query string, filters domain.SearchFilters, topK int) (*service.Answer, error)
	AnswerStream(ctx context.Context, query string, filters domain.SearchFilters, topK int) (*domain.AnswerContext, openai.TokenStream, error)
}

type QueryHandler struct {
	answers AnswerAPI
}

func NewQueryHandler(answers AnswerAPI) *QueryHandler {
	return &QueryHandler{answers: answers}
}

type QueryRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type PassageResponse struct {
	Anchor  int     `json:"anchor"`
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
	Page    int     `json:"page,omitempty"`
	Section string  `json:"section,omitempty"`
}

type QueryResponse struct {
	Answer     string            `json:"answer"`
	Passages   []PassageResponse `json:"passages"`
	Citations  map[int]string    `json:"citations"`
	TokensUsed int               `json:"tokens_used"`
}

// QueryErrorResponse reports a failed generation together with the retrieved
// passages, so the client can degrade to citations without re-retrieving.
type QueryErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Passages  []PassageResponse `json:"passages"`
	Citations map[int]string    `json:"citations"`
}

func contextToResponse(answer string, answerCtx *domain.AnswerContext) *QueryResponse {
	resp := &QueryResponse{
		Answer:     answer,
		Passages:   make([]PassageResponse, 0, len(answerCtx.Passages)),
		Citations:  answerCtx.Citations,
		TokensUsed: answerCtx.TokensUsed,
	}
	if resp.Citations == nil {
		resp.Citations = map[int]string{}
	}
	for _, p := range answerCtx.Passages {
		resp.Passages = append(resp.Passages, PassageResponse{
			Anchor:  p.Anchor,
			ChunkID: p.ChunkID,
			Text:    p.Text,
			Score:   p.Score,
			Page:    p.Page,
			Section: p.Section,
		})
	}
	return resp
}

func (h *QueryHandler) decode(r *http.Request) (*QueryRequest, domain.SearchFilters, error) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, domain.SearchFilters{}, domain.NewDomainError(domain.ErrCodeValidation, "invalid request body")
	}

	filters := domain.SearchFilters{
		TenantID:    middleware.GetTenantID(r.Context()),
		DocumentIDs: req.DocumentIDs,
		Tags:        req.Tags,
	}
	return &req, filters, nil
}

// Query answers a question against the tenant's indexed documents.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, filters, err := h.decode(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	answer, err := h.answers.Answer(r.Context(), req.Query, filters, req.TopK)
	if err != nil {
		// Generation failures still carry the assembled context; return it
		// with the error so the client keeps the citations.
		if answer != nil && answer.Context != nil && !answer.Context.Empty() {
			writeDegraded(w, err, answer.Context)
			return
		}
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, contextToResponse(answer.Text, answer.Context))
}

func writeDegraded(w http.ResponseWriter, err error, answerCtx *domain.AnswerContext) {
	resp := contextToResponse("", answerCtx)
	out := QueryErrorResponse{
		Error:     err.Error(),
		Passages:  resp.Passages,
		Citations: resp.Citations,
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		out.Error = de.Message
		out.Code = de.Code
	}
	api.JSON(w, api.DomainErrorToHTTP(err), out)
}

// QueryStream answers a question over Server-Sent Events. The context event
// with citations is sent first, then token events, then done. Client
// disconnect cancels the request context and the upstream generation stream.
func (h *QueryHandler) QueryStream(w http.ResponseWriter, r *http.Request) {
	req, filters, err := h.decode(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	answerCtx, stream, err := h.answers.AnswerStream(r.Context(), req.Query, filters, req.TopK)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, flusher, "context", contextToResponse("", answerCtx))

	if stream == nil {
		// No relevant context was found; nothing to generate.
		writeSSE(w, flusher, "done", map[string]string{"reason": "no_context"})
		return
	}
	defer stream.Close()

	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			writeSSE(w, flusher, "done", map[string]string{"reason": "complete"})
			return
		}
		if err != nil {
			if r.Context().Err() != nil {
				// Client went away, nothing left to write.
				return
			}
			telemetry.CaptureError(r.Context(), err)
			writeSSE(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		writeSSE(w, flusher, "token", map[string]string{"token": token})
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
