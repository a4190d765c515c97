package models

// Profile stores known facts about a mailbox owner, keyed by email address
type Profile struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	FirstName string            `gorm:"size:100" json:"first_name"`
	LastName  string            `gorm:"size:100" json:"last_name"`
	Email     string            `gorm:"uniqueIndex;size:255;not null" json:"email"`
	UserData  map[string]string `gorm:"type:json;serializer:json" json:"user_data"`
}
