package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/quillworks/quill/internal/documents"
	"go.uber.org/zap"
)

var errMissingDocumentsService = errors.New("documents service dependency required")

// Dependencies lists the collaborators required to build the HTTP handler.
type Dependencies struct {
	DocumentsService *documents.Service
	Logger           *zap.Logger
}

// NewHTTPHandler assembles the gin router for the documents API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.DocumentsService == nil {
		return nil, errMissingDocumentsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		documentsService: deps.DocumentsService,
		logger:           logger,
	}

	router.GET("/documents", handler.handleListDocuments)
	router.POST("/documents", handler.handleCreateDocument)
	router.GET("/documents/:id", handler.handleGetDocument)
	router.PATCH("/documents/:id", handler.handleUpdateDocument)
	router.DELETE("/documents/:id", handler.handleDeleteDocument)

	return router, nil
}

type httpHandler struct {
	documentsService *documents.Service
	logger           *zap.Logger
}

type documentPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Content          string `json:"content"`
	Kind             string `json:"kind"`
	Revision         int64  `json:"revision"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type listDocumentsPayload struct {
	Documents []documentPayload `json:"documents"`
}

type createDocumentPayload struct {
	Kind string `json:"kind"`
}

type updateDocumentPayload struct {
	Content      *string `json:"content"`
	Name         *string `json:"name"`
	BaseRevision *int64  `json:"base_revision"`
}

func toDocumentPayload(record documents.Document) documentPayload {
	return documentPayload{
		ID:               record.ID,
		Name:             record.Name,
		Content:          record.Content,
		Kind:             record.Kind,
		Revision:         record.Revision,
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	records, err := h.documentsService.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "failed to list documents", err)
		return
	}

	response := listDocumentsPayload{Documents: make([]documentPayload, 0, len(records))}
	for _, record := range records {
		response.Documents = append(response.Documents, toDocumentPayload(record))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	var request createDocumentPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	record, err := h.documentsService.Create(c.Request.Context(), documents.CreateRequest{Kind: request.Kind})
	if err != nil {
		h.respondServiceError(c, "failed to create document", err)
		return
	}
	c.JSON(http.StatusCreated, toDocumentPayload(record))
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	documentID, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	record, err := h.documentsService.Get(c.Request.Context(), documentID)
	if errors.Is(err, documents.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "failed to fetch document", err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(record))
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	documentID, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	var request updateDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Content == nil || request.BaseRevision == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	baseRevision, err := documents.NewRevision(*request.BaseRevision)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_base_revision"})
		return
	}

	record, err := h.documentsService.Update(c.Request.Context(), documents.UpdateRequest{
		DocumentID:   documentID,
		Content:      *request.Content,
		Name:         request.Name,
		BaseRevision: baseRevision,
	})
	if errors.Is(err, documents.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	var conflictErr *documents.ConflictError
	if errors.As(err, &conflictErr) {
		// The conflict body is the current authoritative record so the caller
		// can re-base instead of silently losing either side's data.
		c.JSON(http.StatusConflict, toDocumentPayload(conflictErr.Current))
		return
	}
	if err != nil {
		h.respondServiceError(c, "failed to update document", err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(record))
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	documentID, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	err = h.documentsService.Delete(c.Request.Context(), documentID)
	if errors.Is(err, documents.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "failed to delete document", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	var serviceErr *documents.ServiceError
	if errors.As(err, &serviceErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceErr.Code()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
