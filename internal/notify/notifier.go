// Package notify delivers verification codes to identities over email or SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind selects the message template.
type Kind string

const (
	// KindSignupOTP is the welcome message carrying the first email OTP.
	KindSignupOTP Kind = "signup_otp"
	// KindVerifyOTP carries a short-lived numeric code.
	KindVerifyOTP Kind = "verify_otp"
	// KindVerifyToken carries a long hex token, typically issued when an unverified identity signs in.
	KindVerifyToken Kind = "verify_token"
)

// Channel names match the verification channel types.
const (
	ChannelEmail = "EMAIL"
	ChannelPhone = "PHONE"
)

// ErrNoRoute is returned by Mux when no notifier is registered for a channel.
var ErrNoRoute = errors.New("notify: no notifier for channel")

// Message is one code delivery. Code is plaintext and must never be logged.
type Message struct {
	Channel   string
	Target    string
	Code      string
	Kind      Kind
	ExpiresAt time.Time
}

// Notifier sends a code to its target.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Mux routes messages to a notifier by channel.
type Mux struct {
	routes map[string]Notifier
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]Notifier)}
}

// Handle registers n for channel, replacing any previous registration.
func (m *Mux) Handle(channel string, n Notifier) *Mux {
	m.routes[channel] = n
	return m
}

// Send dispatches msg to the notifier registered for msg.Channel.
func (m *Mux) Send(ctx context.Context, msg Message) error {
	n, ok := m.routes[msg.Channel]
	if !ok {
		return fmt.Errorf("%w %q", ErrNoRoute, msg.Channel)
	}
	return n.Send(ctx, msg)
}

// Tee sends to every notifier in order and returns the first error. Used to add dev
// capture alongside real delivery.
func Tee(ns ...Notifier) Notifier {
	return Func(func(ctx context.Context, msg Message) error {
		var first error
		for _, n := range ns {
			if err := n.Send(ctx, msg); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
