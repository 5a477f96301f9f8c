package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scentmemory/scentmemory/internal/service"
	"github.com/scentmemory/scentmemory/pkg/auth"
)

type searchRequest struct {
	Query     string `json:"query" binding:"required"`
	QueryType string `json:"query_type"`
}

type feedbackRequest struct {
	Rating        int      `json:"rating" binding:"required"`
	FeedbackText  *string  `json:"feedback_text"`
	DislikedNotes []string `json:"disliked_notes"`
}

func (s *Server) handleSearch(c *gin.Context) {
	userID := auth.UserIDFromContext(c)

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.queries.Search(c.Request.Context(), userID, req.Query, req.QueryType)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyQuery), errors.Is(err, service.ErrQueryTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("Search failed", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			c.JSON(http.StatusBadGateway, gin.H{"error": "recommendation service unavailable"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleFeedback(c *gin.Context) {
	userID := auth.UserIDFromContext(c)
	queryID := c.Param("id")

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.queries.SubmitFeedback(c.Request.Context(), userID, queryID, req.Rating, req.FeedbackText, req.DislikedNotes)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRating),
			errors.Is(err, service.ErrTooManyNotes),
			errors.Is(err, service.ErrNoteTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrQueryNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			s.logger.Error("Failed to record feedback", map[string]interface{}{
				"user_id":  userID,
				"query_id": queryID,
				"error":    err.Error(),
			})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	userID := auth.UserIDFromContext(c)
	c.JSON(http.StatusOK, s.queries.CacheStats(c.Request.Context(), userID))
}
