// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Username and Email are each unique across all rows; the store enforces
// that with UNIQUE constraints. PasswordHash always holds a bcrypt hash,
// never the submitted secret, and is tagged json:"-" so it can't leak
// into a response by accident.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
