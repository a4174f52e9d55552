package models

import (
	"strings"

	"github.com/google/uuid"
)

// Profile is the read-only slice of the identity provider's profiles table
// needed to address notifications.
type Profile struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
}

// DisplayName returns "FirstName L." format (first name + last initial).
func (p Profile) DisplayName() string {
	parts := strings.Fields(p.FullName)
	if len(parts) <= 1 {
		return p.FullName
	}
	lastName := parts[len(parts)-1]
	return parts[0] + " " + string([]rune(lastName)[0]) + "."
}

// FirstName falls back to "there" so greetings still read naturally.
func (p Profile) FirstName() string {
	parts := strings.Fields(p.FullName)
	if len(parts) == 0 {
		return "there"
	}
	return parts[0]
}

type ErrorResponse struct {
	Error string `json:"error"`
}
