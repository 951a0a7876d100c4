// Package domain contains core domain types for the patch orchestrator.
package domain

import (
	"time"
)

// User is a messaging user that has talked to the bot.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SeenWithin reports whether the user was active in the last d.
func (u *User) SeenWithin(d time.Duration, now time.Time) bool {
	return now.Sub(u.LastSeenAt) <= d
}
