package service

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// SignupInput is the caller-supplied data for Signup.
type SignupInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	Phone     string `json:"phone_number"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Timezone  string `json:"timezone"`
}

// normalize trims fields and lowercases the email. The password is left untouched.
func (in *SignupInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.Phone = strings.TrimSpace(in.Phone)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Timezone = strings.TrimSpace(in.Timezone)
}

// Validate checks the input; region is used to parse phone numbers without a country code.
func (in SignupInput) Validate(region string) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&in.Username, validation.Match(usernamePattern)),
		validation.Field(&in.Phone, validation.By(phoneRule(region))),
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, 50)),
		validation.Field(&in.LastName, validation.Required, validation.Length(1, 50)),
	)
}

func phoneRule(region string) validation.RuleFunc {
	return func(value interface{}) error {
		raw, _ := value.(string)
		if raw == "" {
			return nil
		}
		if _, err := normalizePhone(raw, region); err != nil {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

// normalizePhone parses raw in region and returns it in E.164 form (e.g. +14155550100).
func normalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// looksLikePhone reports whether identifier could be a phone number rather than a username.
func looksLikePhone(identifier string) bool {
	digits := 0
	for _, r := range identifier {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= 7
}
