package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scentmemory/scentmemory/pkg/auth"
)

type updateProfileRequest struct {
	IntensityPreference *string  `json:"intensity_preference"`
	BudgetRange         *string  `json:"budget_range"`
	DislikedNotes       []string `json:"disliked_notes"`
}

func (s *Server) handleGetProfile(c *gin.Context) {
	userID := auth.UserIDFromContext(c)

	profile, err := s.profiles.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to load profile", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	userID := auth.UserIDFromContext(c)

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.DislikedNotes) > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maximum 50 disliked notes allowed"})
		return
	}

	if err := s.profiles.Update(c.Request.Context(), userID, req.IntensityPreference, req.BudgetRange, req.DislikedNotes); err != nil {
		s.logger.Error("Failed to update profile", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	profile, err := s.profiles.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, profile)
}
