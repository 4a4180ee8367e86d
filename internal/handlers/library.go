package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/services"
)

type LibraryHandler struct {
	library *services.LibraryService
}

func NewLibraryHandler(library *services.LibraryService) *LibraryHandler {
	return &LibraryHandler{library: library}
}

// GET /api/content/books
func (h *LibraryHandler) ListBooks(c *gin.Context) {
	books, err := h.library.ListBooks(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"books": books, "count": len(books)})
}

// GET /api/content/books/:id
func (h *LibraryHandler) GetBook(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	book, err := h.library.GetBook(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "book_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "book_read_failed", err)
		return
	}
	RespondOK(c, gin.H{"book": book})
}

// GET /api/content/graph/concept/:id
func (h *LibraryHandler) ConceptGraph(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	cg, err := h.library.ConceptGraph(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "concept_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "graph_read_failed", err)
		return
	}
	RespondOK(c, cg)
}

// GET /api/content/graph/path?from=<id>&to=<id>
func (h *LibraryHandler) LearningPath(c *gin.Context) {
	from := strings.TrimSpace(c.Query("from"))
	to := strings.TrimSpace(c.Query("to"))
	if from == "" || to == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("query params 'from' and 'to' required"))
		return
	}
	path, err := h.library.LearningPath(c.Request.Context(), from, to)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "path_failed", err)
		return
	}
	RespondOK(c, path)
}

// POST /api/content/books/:id/reconcile
func (h *LibraryHandler) Reconcile(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	report, err := h.library.Reconcile(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "reconcile_failed", err)
		return
	}
	RespondOK(c, report)
}

// DELETE /api/content/books/:id
func (h *LibraryHandler) DeleteBook(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.library.DeleteBook(c.Request.Context(), id); err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"book_id": id, "deleted": true})
}

func parseUUIDParam(c *gin.Context, name string) (string, bool) {
	raw := c.Param(name)
	if _, err := uuid.Parse(raw); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", fmt.Errorf("param %s must be a UUID: %w", name, err))
		return "", false
	}
	return raw, true
}
