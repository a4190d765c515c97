package models

import (
	"time"
)

// EmailStatus represents the lifecycle state of an ingested email
type EmailStatus string

const (
	// EmailStatusStale is the resting state before processing or after a failure
	EmailStatusStale EmailStatus = "stale"
	// EmailStatusProcessing is set while the action engine runs
	EmailStatusProcessing EmailStatus = "processing"
	// EmailStatusDone is set once the action engine completed
	EmailStatusDone EmailStatus = "done"
)

// IsValid checks if the status is one of the known states
func (s EmailStatus) IsValid() bool {
	switch s {
	case EmailStatusStale, EmailStatusProcessing, EmailStatusDone:
		return true
	}
	return false
}

// Email represents one inbound Gmail message
type Email struct {
	ID           string      `gorm:"primaryKey;size:64" json:"id"` // Gmail message id
	Snippet      string      `gorm:"type:text" json:"snippet"`
	InternalDate time.Time   `gorm:"index" json:"internal_date"`
	Sender       string      `gorm:"size:500" json:"sender"`
	Recipient    string      `gorm:"size:255;index" json:"recipient"`
	Subject      string      `gorm:"size:1000" json:"subject"`
	MessageText  string      `gorm:"type:text" json:"message_text"`
	Status       EmailStatus `gorm:"size:20;index;default:'stale'" json:"status"`
	Summary      string      `gorm:"type:text" json:"summary,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	// Relations
	Payload     *Payload     `gorm:"foreignKey:EmailID" json:"payload,omitempty"`
	Attachments []Attachment `gorm:"foreignKey:EmailID" json:"attachments,omitempty"`
	ActionLog   *ActionLog   `gorm:"foreignKey:EmailID" json:"action_log,omitempty"`
}

// PayloadBody mirrors the body descriptor of the MIME root part
type PayloadBody struct {
	AttachmentID string `json:"attachmentId,omitempty"`
	Size         int64  `json:"size"`
	Data         string `json:"data,omitempty"`
}

// Payload is a snapshot of the MIME root part of an email
type Payload struct {
	ID       uint              `gorm:"primaryKey" json:"id"`
	EmailID  string            `gorm:"uniqueIndex;size:64;not null" json:"email_id"`
	PartID   string            `gorm:"size:64" json:"part_id"`
	MimeType string            `gorm:"size:255" json:"mime_type"`
	Filename string            `gorm:"size:500" json:"filename"`
	Headers  map[string]string `gorm:"type:json;serializer:json" json:"headers"`
	Body     PayloadBody       `gorm:"type:json;serializer:json" json:"body"`
}

// TableName specifies the table name for GORM
func (Payload) TableName() string {
	return "email_payloads"
}

// Attachment is one MIME part carrying a filename and a body
type Attachment struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	EmailID      string `gorm:"index;size:64;not null" json:"email_id"`
	AttachmentID string `gorm:"type:text" json:"attachment_id"` // provider scoped, not unique
	Filename     string `gorm:"size:500" json:"filename"`
	MimeType     string `gorm:"size:255" json:"mime_type"`
	Size         int64  `json:"size"`
	Data         string `gorm:"type:longtext" json:"-"` // raw base64url payload
}

// TableName specifies the table name for GORM
func (Attachment) TableName() string {
	return "email_attachments"
}
