// Package domain contains core domain types for the voice assistant.
package domain

import (
	"strings"
	"time"
)

// User is an account together with its assistant profile.
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	AssistantName     string    `json:"assistantName,omitempty"`
	AssistantImage    string    `json:"assistantImage,omitempty"`
	AssistantLanguage string    `json:"assistantLanguage,omitempty"`
	History           []string  `json:"history"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// HasAssistant reports whether the assistant has been customized.
func (u *User) HasAssistant() bool {
	return u.AssistantName != ""
}

// NormalizeEmail lowercases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
