// Package notify delivers account notifications (password reset links,
// password and second factor changes) to users.
package notify

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindPasswordReset     Kind = "passwordReset"
	KindPasswordChanged   Kind = "passwordChanged"
	KindTwoFactorEnabled  Kind = "twoFactorEnabled"
	KindTwoFactorDisabled Kind = "twoFactorDisabled"
)

var (
	ErrNotConfigured = errors.New("notification sender not configured")
	ErrUnknownKind   = errors.New("unknown notification kind")
	ErrQueueFull     = errors.New("notification queue full")
	ErrClosed        = errors.New("notification sender closed")
)

// Data is the template input of a notification.
type Data struct {
	Username  string `json:"username"`
	ResetLink string `json:"resetLink,omitempty"`
}

// Sender delivers one notification to address to.
type Sender interface {
	Send(ctx context.Context, to string, kind Kind, data Data) error
}

// Event is the wire form of a notification handed to external mailers.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	To         string    `json:"to"`
	Data       Data      `json:"data"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Recorder receives the outcome of every delivery attempt.
type Recorder interface {
	NotificationResult(kind string, outcome string)
}

const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

type nopRecorder struct{}

func (nopRecorder) NotificationResult(string, string) {}
