package services

import (
	"encoding/json"
	"time"

	"github.com/leyline/core/internal/database/models"
	"gorm.io/gorm"
)

// LogService writes audit rows for pipeline and API events. A nil
// *LogService discards everything.
type LogService struct {
	db       *gorm.DB
	minLevel models.LogLevel
}

// NewLogService creates a LogService recording INFO and above
func NewLogService(db *gorm.DB) *LogService {
	return NewLogServiceWithLevel(db, string(models.LogLevelInfo))
}

// NewLogServiceWithLevel creates a LogService recording level and above
func NewLogServiceWithLevel(db *gorm.DB, level string) *LogService {
	return &LogService{db: db, minLevel: models.ParseLogLevel(level)}
}

// SetLogLevel changes the minimum recorded level
func (s *LogService) SetLogLevel(level string) {
	s.minLevel = models.ParseLogLevel(level)
}

// GetLogLevel returns the minimum recorded level
func (s *LogService) GetLogLevel() models.LogLevel {
	return s.minLevel
}

// LogEntry is one row to record; Details is stored as JSON
type LogEntry struct {
	EmailID string
	Level   models.LogLevel
	Module  models.LogModule
	Action  string
	Message string
	Details interface{}
}

// Log records entry when its level passes the filter
func (s *LogService) Log(entry LogEntry) error {
	if s == nil || !entry.Level.AtLeast(s.minLevel) {
		return nil
	}

	row := &models.Log{
		EmailID: entry.EmailID,
		Level:   entry.Level,
		Module:  entry.Module,
		Action:  entry.Action,
		Message: entry.Message,
	}
	if entry.Details != nil {
		row.Details = "{}"
		if raw, err := json.Marshal(entry.Details); err == nil {
			row.Details = string(raw)
		}
	}
	return s.db.Create(row).Error
}

func (s *LogService) record(level models.LogLevel, emailID string, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{EmailID: emailID, Level: level, Module: module, Action: action, Message: message, Details: details})
}

// LogDebug records a DEBUG row
func (s *LogService) LogDebug(emailID string, module models.LogModule, action, message string, details interface{}) error {
	return s.record(models.LogLevelDebug, emailID, module, action, message, details)
}

// LogInfo records an INFO row
func (s *LogService) LogInfo(emailID string, module models.LogModule, action, message string, details interface{}) error {
	return s.record(models.LogLevelInfo, emailID, module, action, message, details)
}

// LogWarn records a WARN row
func (s *LogService) LogWarn(emailID string, module models.LogModule, action, message string, details interface{}) error {
	return s.record(models.LogLevelWarn, emailID, module, action, message, details)
}

// LogError records an ERROR row
func (s *LogService) LogError(emailID string, module models.LogModule, action, message string, details interface{}) error {
	return s.record(models.LogLevelError, emailID, module, action, message, details)
}

// ===== Webhook Logging =====

// DeliveryDetails represents details for webhook delivery logs
type DeliveryDetails struct {
	DeliveryID string `json:"delivery_id"`
	PushID     string `json:"push_id,omitempty"`
	Mailbox    string `json:"mailbox,omitempty"`
	HistoryID  uint64 `json:"history_id,omitempty"`
	Outcome    string `json:"outcome"`
	ErrorMsg   string `json:"error_msg,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// LogDelivery logs the outcome of one webhook delivery
func (s *LogService) LogDelivery(emailID string, details DeliveryDetails, rejected bool) error {
	level := models.LogLevelInfo
	if rejected {
		level = models.LogLevelError
	} else if details.ErrorMsg != "" {
		level = models.LogLevelWarn
	}

	return s.Log(LogEntry{
		EmailID: emailID,
		Level:   level,
		Module:  models.LogModuleWebhook,
		Action:  "delivery",
		Message: details.Outcome,
		Details: details,
	})
}

// ===== Ingestion Logging =====

// IngestDetails represents details for ingestion logs
type IngestDetails struct {
	Subject     string `json:"subject,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Attachments int    `json:"attachments"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

// LogEmailIngested logs a persisted (or already present) email
func (s *LogService) LogEmailIngested(emailID string, details IngestDetails) error {
	message := "Email saved"
	if details.Duplicate {
		message = "Email already ingested"
	}
	if details.ErrorMsg != "" {
		return s.LogError(emailID, models.LogModuleIngest, "persist", "Failed to persist email", details)
	}
	return s.LogInfo(emailID, models.LogModuleIngest, "persist", message, details)
}

// ExtractionDetails represents details for attachment fetch failures
type ExtractionDetails struct {
	Filename     string `json:"filename"`
	AttachmentID string `json:"attachment_id"`
	ErrorMsg     string `json:"error_msg"`
}

// LogExtractionFailure logs an attachment whose payload could not be fetched
func (s *LogService) LogExtractionFailure(emailID string, details ExtractionDetails) error {
	return s.LogWarn(emailID, models.LogModuleIngest, "attachment", "Attachment payload left empty", details)
}

// ===== Action Engine Logging =====

// EngineRunDetails represents details for action engine runs
type EngineRunDetails struct {
	ProcessedBy string `json:"processed_by"` // "ai" or "local"
	Turns       int    `json:"turns"`
	Actions     int    `json:"actions"`
	HasSummary  bool   `json:"has_summary"`
	Status      string `json:"status"`
	ErrorMsg    string `json:"error_msg,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// LogEngineRun logs the outcome of one action engine run
func (s *LogService) LogEngineRun(emailID string, details EngineRunDetails) error {
	if details.ErrorMsg != "" {
		return s.LogError(emailID, models.LogModuleEngine, "process", "Failed to process email", details)
	}
	return s.LogInfo(emailID, models.LogModuleEngine, "process", "Email processed successfully", details)
}

// ===== Profile Logging =====

// ProfileChangeDetails represents details for profile updates
type ProfileChangeDetails struct {
	Email     string   `json:"email"`
	Source    string   `json:"source"` // "api", "cli" or "context"
	KeysAdded []string `json:"keys_added,omitempty"`
	KeysKept  []string `json:"keys_kept,omitempty"`
	ErrorMsg  string   `json:"error_msg,omitempty"`
}

// LogProfileUpdated logs a profile change
func (s *LogService) LogProfileUpdated(details ProfileChangeDetails) error {
	if details.ErrorMsg != "" {
		return s.LogWarn("", models.LogModuleProfile, "update", "Profile update failed", details)
	}
	return s.LogInfo("", models.LogModuleProfile, "update", "Profile updated", details)
}

// ===== API Request Logging =====

// APIRequestDetails represents details for API request logs
type APIRequestDetails struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Duration   int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// statusLevel grades a response: 5xx is ERROR, 4xx is WARN
func statusLevel(statusCode int) models.LogLevel {
	switch {
	case statusCode >= 500:
		return models.LogLevelError
	case statusCode >= 400:
		return models.LogLevelWarn
	default:
		return models.LogLevelInfo
	}
}

// LogAPIRequest logs a served HTTP request
func (s *LogService) LogAPIRequest(method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error {
	return s.record(statusLevel(statusCode), "", models.LogModuleAPI, "request", method+" "+path, APIRequestDetails{
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Duration:   durationMs,
		ClientIP:   clientIP,
		UserAgent:  userAgent,
	})
}

// APIKeyDetails represents details for API key events
type APIKeyDetails struct {
	ClientIP string `json:"client_ip,omitempty"`
	Status   string `json:"status"`
}

// LogAPIKeyValidation records a key check; accepted keys are DEBUG rows
func (s *LogService) LogAPIKeyValidation(success bool, clientIP string) error {
	if success {
		return s.LogDebug("", models.LogModuleAPI, "api_key_validation", "API key accepted", APIKeyDetails{ClientIP: clientIP, Status: "valid"})
	}
	return s.LogWarn("", models.LogModuleAPI, "api_key_validation", "API key rejected", APIKeyDetails{ClientIP: clientIP, Status: "invalid"})
}

// LogAPIKeyReset logs an API key reset event
func (s *LogService) LogAPIKeyReset() error {
	return s.LogInfo("", models.LogModuleCLI, "api_key_reset", "API key reset", nil)
}

// ===== Log Query Methods =====

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	EmailID   string
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs returns one page of matching rows, newest first
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	filters := map[string]string{
		"email_id": query.EmailID,
		"level":    query.Level,
		"module":   query.Module,
		"action":   query.Action,
	}

	db := s.db.Model(&models.Log{})
	for column, value := range filters {
		if value != "" {
			db = db.Where(column+" = ?", value)
		}
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}

	result := &LogQueryResult{}
	if err := db.Count(&result.Total).Error; err != nil {
		return nil, err
	}

	page, limit := query.Page, query.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	err := db.Order("created_at DESC, id DESC").Offset((page - 1) * limit).Limit(limit).Find(&result.Logs).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetLogsByEmailID returns the rows recorded for one email, oldest first
func (s *LogService) GetLogsByEmailID(emailID string, limit int) ([]models.Log, error) {
	if limit < 1 {
		limit = 100
	}

	var logs []models.Log
	err := s.db.Where("email_id = ?", emailID).Order("created_at ASC, id ASC").Limit(limit).Find(&logs).Error
	return logs, err
}
