package models

// ActionLog holds the ordered utterances emitted by the action engine for one email
type ActionLog struct {
	ID      uint     `gorm:"primaryKey" json:"id"`
	EmailID string   `gorm:"uniqueIndex;size:64;not null" json:"email_id"`
	Actions []string `gorm:"type:json;serializer:json" json:"actions"`
}

// TableName specifies the table name for GORM
func (ActionLog) TableName() string {
	return "email_actions"
}
