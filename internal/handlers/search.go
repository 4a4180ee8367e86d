package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spoolhq/content-service/internal/services"
)

type SearchHandler struct {
	search *services.SearchService
}

func NewSearchHandler(search *services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	Query       string `json:"query" binding:"required"`
	TopK        int    `json:"top_k"`
	BookID      string `json:"book_id"`
	Subject     string `json:"subject"`
	ContentType string `json:"content_type"`
}

// POST /api/content/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	results, err := h.search.Search(c.Request.Context(), req.Query, req.TopK, req.BookID, req.Subject, req.ContentType)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "search_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}
