package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scentmemory/scentmemory/internal/service"
	"github.com/scentmemory/scentmemory/pkg/auth"
)

type uploadMemoryRequest struct {
	Title   string `json:"title"`
	Content string `json:"content" binding:"required"`
	Emotion string `json:"emotion"`
}

func (s *Server) handleUploadMemory(c *gin.Context) {
	userID := auth.UserIDFromContext(c)

	var req uploadMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	memory, err := s.memories.Upload(c.Request.Context(), userID, req.Title, req.Content, req.Emotion)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent),
			errors.Is(err, service.ErrContentTooLong),
			errors.Is(err, service.ErrTitleTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("Failed to upload memory", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, memory)
}

func (s *Server) handleListMemories(c *gin.Context) {
	userID := auth.UserIDFromContext(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	memories, err := s.memories.List(c.Request.Context(), userID, limit)
	if err != nil {
		s.logger.Error("Failed to list memories", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list memories"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
}
