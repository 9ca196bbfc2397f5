package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/docrag/types"
)

const maxUploadSize = 50 << 20

// DocumentService is the pipeline behind the HTTP API.
type DocumentService interface {
	Upload(ctx context.Context, r io.Reader, filename string) (*types.UploadResult, error)
	Update(ctx context.Context, documentID string, r io.Reader, filename string) (*types.UploadResult, error)
	Delete(ctx context.Context, documentID string) error
	Query(ctx context.Context, req types.QueryRequest) (*types.QueryResult, error)
	CrossQuery(ctx context.Context, req types.CrossQueryRequest) (*types.CrossQueryResponse, error)
	ListDocuments(ctx context.Context) ([]types.DocumentInfo, error)
	GetDocument(ctx context.Context, documentID string) (*types.DocumentInfo, error)
	Aggregate(ctx context.Context, req types.AggregationRequest) (*types.AggregationResult, error)
	History(ctx context.Context, documentID string, limit int) ([]*types.IngestionRecord, error)
}

type DocumentHandler struct {
	documents DocumentService
	timeout   time.Duration
}

func NewDocumentHandler(documents DocumentService, timeout time.Duration) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		timeout:   timeout,
	}
}

func (h *DocumentHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *DocumentHandler) HandleUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		sendBadRequest(c, "Invalid file")
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		sendBadRequest(c, "File too large")
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.documents.Upload(ctx, file, header.Filename)
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, types.DocumentResponse{
		DocumentID: res.DocumentID,
		Message:    "Document uploaded successfully",
		Metadata:   res.Metadata,
	})
}

func (h *DocumentHandler) HandleUpdate(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		sendBadRequest(c, "Invalid file")
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		sendBadRequest(c, "File too large")
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.documents.Update(ctx, c.Param("id"), file, header.Filename)
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, types.DocumentResponse{
		DocumentID: res.DocumentID,
		Message:    "Document updated successfully",
		Metadata:   res.Metadata,
	})
}

func (h *DocumentHandler) HandleDelete(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	documentID := c.Param("id")
	if err := h.documents.Delete(ctx, documentID); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status:  true,
		Message: "Document " + documentID + " deleted successfully",
	})
}

func (h *DocumentHandler) HandleList(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	docs, err := h.documents.ListDocuments(ctx)
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, types.DocumentListResponse{Documents: docs})
}

func (h *DocumentHandler) HandleGet(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	info, err := h.documents.GetDocument(ctx, c.Param("id"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, info)
}

func (h *DocumentHandler) HandleHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := h.context(c)
	defer cancel()

	records, err := h.documents.History(ctx, c.Param("id"), limit)
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, records)
}
