package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lodestone-ai/lodestone/internal/api"
	"github.com/lodestone-ai/lodestone/internal/api/middleware"
	"github.com/lodestone-ai/lodestone/internal/domain"
	"github.com/lodestone-ai/lodestone/internal/service"
)

type IngestionAPI interface {
	Submit(ctx context.Context, input service.SubmitInput) (*domain.Document, error)
	Resubmit(ctx context.Context, documentID string) error
	Reindex(ctx context.Context, documentID string) error
}

type DocumentAPI interface {
	Get(ctx context.Context, tenantID, id string) (*domain.Document, error)
	List(ctx context.Context, tenantID string, offset, limit int) ([]*domain.Document, int, error)
	Delete(ctx context.Context, tenantID, id string) error
}

type DocumentHandler struct {
	ingest IngestionAPI
	docs   DocumentAPI
}

func NewDocumentHandler(ingest IngestionAPI, docs DocumentAPI) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, docs: docs}
}

type DocumentResponse struct {
	ID               string   `json:"id"`
	TenantID         string   `json:"tenant_id"`
	Filename         string   `json:"filename"`
	ContentType      string   `json:"content_type"`
	Status           string   `json:"status"`
	FailReason       string   `json:"fail_reason,omitempty"`
	EmbeddingVersion string   `json:"embedding_version,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	ChunkCount       int      `json:"chunk_count"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

type DocumentListResponse struct {
	Documents []*DocumentResponse `json:"documents"`
	Total     int                 `json:"total"`
	Offset    int                 `json:"offset"`
	Limit     int                 `json:"limit"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:               d.ID,
		TenantID:         d.TenantID,
		Filename:         d.Filename,
		ContentType:      d.ContentType,
		Status:           string(d.Status),
		FailReason:       d.FailReason,
		EmbeddingVersion: d.EmbeddingVersion,
		Tags:             d.Tags,
		ChunkCount:       d.ChunkCount,
		CreatedAt:        d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:        d.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// Upload accepts a multipart document upload and enqueues it for ingestion.
// Re-uploading content already indexed under the current embedding version
// returns the existing document with 200 instead of 202.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(blob) == 0 {
		api.Error(w, http.StatusBadRequest, "file is empty")
		return
	}

	contentType := r.FormValue("content_type")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}

	doc, err := h.ingest.Submit(r.Context(), service.SubmitInput{
		TenantID:    tenantID,
		Filename:    header.Filename,
		ContentType: contentType,
		Tags:        parseTags(r.FormValue("tags")),
		Blob:        blob,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusAccepted
	if doc.Status == domain.DocumentStatusIndexed {
		status = http.StatusOK
	}
	api.Success(w, status, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	doc, err := h.docs.Get(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)

	docs, total, err := h.docs.List(r.Context(), tenantID, offset, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &DocumentListResponse{
		Documents: make([]*DocumentResponse, 0, len(docs)),
		Total:     total,
		Offset:    offset,
		Limit:     limit,
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, documentToResponse(d))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.docs.Delete(r.Context(), tenantID, id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusNoContent, nil)
}

// Resubmit requeues a failed document for ingestion.
func (h *DocumentHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	// Scope check before mutating: resubmission must not cross tenants.
	if _, err := h.docs.Get(r.Context(), tenantID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.ingest.Resubmit(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, map[string]string{"id": id, "status": string(domain.DocumentStatusPending)})
}

// Reindex requeues an indexed document so its chunks are rebuilt under the
// current embedding version.
func (h *DocumentHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := h.docs.Get(r.Context(), tenantID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.ingest.Reindex(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, map[string]string{"id": id})
}

func parseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
