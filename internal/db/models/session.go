package models

import "time"

// Session stores the captured auth state for one account on one platform.
// AccountKey is "platform:username" and is the only key; a save replaces
// the previous row.
type Session struct {
	AccountKey   string `gorm:"primaryKey"`
	Platform     string `gorm:"index;not null"`
	Username     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Extras       string // JSON blob for platform-specific ids (channel, business user)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
