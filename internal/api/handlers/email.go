package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leyline/core/internal/database/models"
	"github.com/leyline/core/internal/mailbox"
	"github.com/leyline/core/internal/services"
)

// keepAliveInterval is how often an idle event stream sends a comment
const keepAliveInterval = 25 * time.Second

// Reprocessor re-runs the action engine on a stale email
type Reprocessor interface {
	Reprocess(ctx context.Context, emailID string) error
}

// EmailHandler handles email related requests
type EmailHandler struct {
	store       *services.EmailStore
	reprocessor Reprocessor
	hub         *services.EventHub
	logService  *services.LogService
}

// NewEmailHandler creates a new EmailHandler instance
func NewEmailHandler(store *services.EmailStore, reprocessor Reprocessor, hub *services.EventHub, logService *services.LogService) *EmailHandler {
	return &EmailHandler{
		store:       store,
		reprocessor: reprocessor,
		hub:         hub,
		logService:  logService,
	}
}

// AttachmentResponse is attachment metadata; payloads are not served
type AttachmentResponse struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	Fetched      bool   `json:"fetched"`
}

// EmailResponse represents the response for an email
type EmailResponse struct {
	ID           string               `json:"id"`
	Snippet      string               `json:"snippet"`
	InternalDate int64                `json:"internal_date"`
	Sender       string               `json:"sender"`
	Recipient    string               `json:"recipient"`
	Subject      string               `json:"subject"`
	Status       models.EmailStatus   `json:"status"`
	Summary      string               `json:"summary,omitempty"`
	MessageText  string               `json:"message_text,omitempty"`
	Attachments  []AttachmentResponse `json:"attachments,omitempty"`
	Actions      []string             `json:"actions,omitempty"`
}

// toEmailResponse converts an Email model; detail adds the body, attachments and actions
func toEmailResponse(email *models.Email, detail bool) EmailResponse {
	response := EmailResponse{
		ID:           email.ID,
		Snippet:      email.Snippet,
		InternalDate: email.InternalDate.UnixMilli(),
		Sender:       email.Sender,
		Recipient:    email.Recipient,
		Subject:      email.Subject,
		Status:       email.Status,
		Summary:      email.Summary,
	}
	if !detail {
		return response
	}

	response.MessageText = email.MessageText
	for _, a := range email.Attachments {
		response.Attachments = append(response.Attachments, AttachmentResponse{
			AttachmentID: a.AttachmentID,
			Filename:     a.Filename,
			MimeType:     a.MimeType,
			Size:         a.Size,
			Fetched:      a.Data != "",
		})
	}
	if email.ActionLog != nil {
		response.Actions = email.ActionLog.Actions
	}
	return response
}

// ListEmails returns a page of emails, newest first
// GET /api/emails?status=&page=&limit=
func (h *EmailHandler) ListEmails(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.store.ListEmails(services.EmailListOptions{
		Status: models.EmailStatus(c.Query("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Status must be one of stale, processing, done",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve emails",
			},
		})
		return
	}

	emails := make([]EmailResponse, 0, len(result.Emails))
	for i := range result.Emails {
		emails = append(emails, toEmailResponse(&result.Emails[i], false))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total":  result.Total,
			"page":   result.Page,
			"limit":  result.Limit,
			"emails": emails,
		},
	})
}

// GetEmail returns one email with its attachments and action log
// GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	email, err := h.store.GetEmail(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrEmailNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Email not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve email",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toEmailResponse(email, true),
	})
}

// LogResponse is one audit row of an email
type LogResponse struct {
	Level     models.LogLevel  `json:"level"`
	Module    models.LogModule `json:"module"`
	Action    string           `json:"action"`
	Message   string           `json:"message"`
	Details   json.RawMessage  `json:"details,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// GetEmailLogs returns the audit trail of one email, oldest first
// GET /api/emails/:id/logs?limit=
func (h *EmailHandler) GetEmailLogs(c *gin.Context) {
	id := c.Param("id")
	exists, err := h.store.EmailExists(id)
	if err == nil && !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Email not found",
			},
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	var rows []models.Log
	if err == nil {
		rows, err = h.logService.GetLogsByEmailID(id, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve logs",
			},
		})
		return
	}

	logs := make([]LogResponse, 0, len(rows))
	for _, row := range rows {
		entry := LogResponse{
			Level:     row.Level,
			Module:    row.Module,
			Action:    row.Action,
			Message:   row.Message,
			CreatedAt: row.CreatedAt,
		}
		if row.Details != "" {
			entry.Details = json.RawMessage(row.Details)
		}
		logs = append(logs, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    logs,
	})
}

// Reprocess runs the action engine again on a stale email
// POST /api/emails/:id/reprocess
func (h *EmailHandler) Reprocess(c *gin.Context) {
	err := h.reprocessor.Reprocess(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrEmailNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Email not found",
			},
		})
		return
	case errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_STATE",
				"message": "Only stale emails can be reprocessed",
			},
		})
		return
	case mailbox.IsAuthError(err), mailbox.IsFetchError(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MAILBOX_ERROR",
				"message": err.Error(),
			},
		})
		return
	default:
		// engine failures leave the email stale and are reported here
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PROCESSING_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	email, err := h.store.GetEmail(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve email",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toEmailResponse(email, true),
	})
}

// Events streams inserts and status transitions as Server-Sent Events
// GET /api/emails/events
func (h *EmailHandler) Events(c *gin.Context) {
	events, unsubscribe := h.hub.Subscribe(32)
	defer unsubscribe()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-keepAlive.C:
			io.WriteString(w, ": keep-alive\n\n")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
