package domain

import "time"

// Notification is an audit copy of an inbound transcoder webhook.
type Notification struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AssemblyID string    `gorm:"type:text;index" json:"assembly_id"`
	Signature  string    `gorm:"type:text" json:"signature"`
	Payload    string    `gorm:"type:text" json:"payload"`
	Verified   bool      `json:"verified"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
