package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leyline/core/internal/database/models"
	"github.com/leyline/core/internal/services"
)

// ProfileHandler handles profile related requests
type ProfileHandler struct {
	profiles *services.ProfileService
}

// NewProfileHandler creates a new ProfileHandler instance
func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// UpdateProfileRequest represents the request to create or replace a profile
type UpdateProfileRequest struct {
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	UserData  map[string]string `json:"user_data"`
}

// AddContextRequest represents a free-text note merged into user data
type AddContextRequest struct {
	Note string `json:"note" binding:"required"`
}

// GetProfile returns the profile of an address
// GET /api/profiles/:email
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, err := h.profiles.GetProfile(c.Param("email"))
	if err != nil {
		profileError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    profile,
	})
}

// UpdateProfile creates or replaces the profile of an address
// PUT /api/profiles/:email
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
			},
		})
		return
	}

	profile, err := h.profiles.UpsertProfile(&models.Profile{
		Email:     c.Param("email"),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		UserData:  req.UserData,
	})
	if err != nil {
		profileError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    profile,
	})
}

// AddContext merges a note into the profile's user data
// POST /api/profiles/:email/context
func (h *ProfileHandler) AddContext(c *gin.Context) {
	var req AddContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "A note is required",
			},
		})
		return
	}

	userData, err := h.profiles.AddContext(c.Request.Context(), c.Param("email"), req.Note)
	if err != nil {
		profileError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"user_data": userData,
		},
	})
}

func profileError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update user data"
	switch {
	case errors.Is(err, services.ErrProfileNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", "Profile not found"
	case errors.Is(err, services.ErrInvalidProfile), errors.Is(err, services.ErrEmptyContext):
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	}

	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
