// Package audit records injections accepted by the external message bridge.
package audit

import (
	"context"
	"time"
)

// EventInjectionAccepted is the record type published for every accepted injection.
const EventInjectionAccepted = "openclaw.injection.accepted"

// Entry describes one injected message after it has been dispatched.
type Entry struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Channel    string    `json:"channel"`
	AccountID  string    `json:"account_id"`
	UpdateID   int       `json:"update_id"`
	ChatID     int64     `json:"chat_id"`
	MessageID  int       `json:"message_id"`
	SenderID   int64     `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name"`
	At         time.Time `json:"at"`
}

// Sink receives audit entries. Publish failures never affect the injection.
type Sink interface {
	Publish(ctx context.Context, e Entry) error
	Close() error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Publish(context.Context, Entry) error { return nil }
func (Nop) Close() error                         { return nil }
