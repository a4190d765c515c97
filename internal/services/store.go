package services

import (
	"errors"
	"fmt"

	"github.com/leyline/core/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrEmailNotFound indicates the email was not found
	ErrEmailNotFound = errors.New("email not found")
	// ErrInvalidStatus indicates an unknown status filter
	ErrInvalidStatus = errors.New("invalid email status")
	// ErrEmailExists indicates the message was already ingested
	ErrEmailExists = errors.New("email already exists")
)

// EmailStore persists ingested emails and their action logs
type EmailStore struct {
	db *gorm.DB
}

// NewEmailStore creates a new EmailStore instance
func NewEmailStore(db *gorm.DB) *EmailStore {
	return &EmailStore{db: db}
}

// InsertEmail creates the email row; the id is the provider message id
func (s *EmailStore) InsertEmail(email *models.Email) error {
	if email.Status == "" {
		email.Status = models.EmailStatusStale
	}
	return s.db.Create(email).Error
}

// InsertPayload stores the MIME root snapshot of an email
func (s *EmailStore) InsertPayload(payload *models.Payload) error {
	return s.db.Create(payload).Error
}

// InsertAttachment stores one attachment row
func (s *EmailStore) InsertAttachment(attachment *models.Attachment) error {
	return s.db.Create(attachment).Error
}

// EmailExists reports whether an email with id was already ingested
func (s *EmailStore) EmailExists(id string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.Email{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateEmailStatus moves an email from one status to another in a single
// conditional statement. It reports false when the email was not in from.
// The summary is written only when non-nil.
func (s *EmailStore) UpdateEmailStatus(id string, from, to models.EmailStatus, summary *string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if summary != nil {
		updates["summary"] = *summary
	}

	result := s.db.Model(&models.Email{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AppendAction appends text to the email's action log. The row is created
// on first use; later appends extend the stored array in the same statement,
// so concurrent appends for one email do not overwrite each other.
func (s *EmailStore) AppendAction(emailID, text string) error {
	var appendExpr clause.Expr
	switch s.db.Dialector.Name() {
	case "mysql":
		appendExpr = gorm.Expr("JSON_ARRAY_APPEND(actions, '$', ?)", text)
	default:
		appendExpr = gorm.Expr("json_insert(email_actions.actions, '$[#]', ?)", text)
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"actions": appendExpr}),
	}).Create(&models.ActionLog{
		EmailID: emailID,
		Actions: []string{text},
	}).Error
}

// GetActionLog returns the ordered action log of an email, empty when none was written
func (s *EmailStore) GetActionLog(emailID string) ([]string, error) {
	var actionLog models.ActionLog
	if err := s.db.Where("email_id = ?", emailID).First(&actionLog).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	return actionLog.Actions, nil
}

// GetEmail retrieves an email with its payload, attachments and action log
func (s *EmailStore) GetEmail(id string) (*models.Email, error) {
	var email models.Email
	err := s.db.
		Preload("Payload").
		Preload("Attachments").
		Preload("ActionLog").
		Where("id = ?", id).
		First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// EmailListOptions represents options for listing emails
type EmailListOptions struct {
	Status models.EmailStatus
	Page   int
	Limit  int
}

// EmailListResult represents the result of listing emails
type EmailListResult struct {
	Emails []models.Email `json:"emails"`
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// ListEmails returns emails newest first, optionally filtered by status
func (s *EmailStore) ListEmails(opts EmailListOptions) (*EmailListResult, error) {
	if opts.Status != "" && !opts.Status.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, opts.Status)
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	query := s.db.Model(&models.Email{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var emails []models.Email
	offset := (opts.Page - 1) * opts.Limit
	if err := query.Order("internal_date DESC").Offset(offset).Limit(opts.Limit).Find(&emails).Error; err != nil {
		return nil, err
	}

	return &EmailListResult{
		Emails: emails,
		Total:  total,
		Page:   opts.Page,
		Limit:  opts.Limit,
	}, nil
}

// ListByStatus returns the ids of all emails in status, oldest first
func (s *EmailStore) ListByStatus(status models.EmailStatus) ([]string, error) {
	var ids []string
	err := s.db.Model(&models.Email{}).
		Where("status = ?", status).
		Order("internal_date ASC").
		Pluck("id", &ids).Error
	return ids, err
}
