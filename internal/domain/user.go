// Package domain contains core domain types for the MDCAT companion.
package domain

import (
	"time"
)

// User is a learner known to the REST API.
type User struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
