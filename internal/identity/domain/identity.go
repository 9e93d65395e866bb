package domain

import (
	"errors"
	"time"
)

// Identity is an account that can sign in. Username and Phone are optional and empty when unset.
type Identity struct {
	ID            string
	Email         string
	Username      string
	Phone         string // E.164
	PasswordHash  string
	FirstName     string
	LastName      string
	Timezone      string
	Status        Status
	EmailVerified bool
	PhoneVerified bool
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Validate checks the identity before persistence and fills defaults.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return errors.New("id is required")
	}
	if i.Email == "" {
		return errors.New("email is required")
	}
	if i.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if i.Status == "" {
		i.Status = StatusActive
	}
	if i.Timezone == "" {
		i.Timezone = "UTC"
	}
	return nil
}

// Summary is the caller-facing view of an identity; it never carries the password hash.
type Summary struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username,omitempty"`
	Phone         string     `json:"phone_number,omitempty"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Timezone      string     `json:"timezone"`
	Status        Status     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	PhoneVerified bool       `json:"phone_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Summary returns the public view of i.
func (i *Identity) Summary() Summary {
	return Summary{
		ID:            i.ID,
		Email:         i.Email,
		Username:      i.Username,
		Phone:         i.Phone,
		FirstName:     i.FirstName,
		LastName:      i.LastName,
		Timezone:      i.Timezone,
		Status:        i.Status,
		EmailVerified: i.EmailVerified,
		PhoneVerified: i.PhoneVerified,
		LastLoginAt:   i.LastLoginAt,
		CreatedAt:     i.CreatedAt,
	}
}
