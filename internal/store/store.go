// Package store provides storage backends for VendaFlow.
//
// It defines the Store interface over conversations, turn events, payment
// records and settings, with SQLite and PostgreSQL implementations, plus the
// durable job queue that schedules turn processing across restarts.
package store

import (
	"strings"
	"time"

	"github.com/vendaflow/vendaflow/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or SQLite.
// PostgreSQL DSNs use the postgres:// scheme or key=value connection strings;
// everything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the durable record of conversations, turns, payments and settings.
type Store interface {
	// Conversations
	GetConversation(id string) (*models.Conversation, error)
	GetConversationByChatID(chatID string) (*models.Conversation, error)
	CreateConversation(c *models.Conversation) error
	UpdateConversationStatus(id string, status models.ConversationStatus) error
	UpdateLeadScore(id string, score models.LeadScore) error
	UpdateFunnelPhase(id, phase string) error
	UpdateUserName(id, name string) error
	SetDebounceToken(id, token string) error
	TouchInbound(id string, at time.Time) error
	TouchOutbound(id string, at time.Time) error
	// AddAmountPaid increments the cumulative paid total and returns the new total.
	AddAmountPaid(id string, amount float64) (float64, error)
	SetReengageFlag(id string) error
	ClearReengageFlag(id string) error
	// ListUnansweredConversations returns active conversations whose last
	// inbound is newer than their last outbound and older than idleSince.
	// Used by the recovery sweep to pick up turns whose worker never ran.
	ListUnansweredConversations(idleSince time.Time) ([]models.Conversation, error)

	// Turn events
	AddTurnEvent(e *models.TurnEvent) error
	AttachEventMedia(eventID, mediaURL string, kind models.MediaKind) error
	// LatestEventByOrigin returns the newest event with the given origin, or
	// nil if the conversation has none.
	LatestEventByOrigin(conversationID string, origin models.EventOrigin) (*models.TurnEvent, error)
	// ListEventsSince returns events strictly newer than after with any of the
	// given origins, in chronological order.
	ListEventsSince(conversationID string, after time.Time, origins ...models.EventOrigin) ([]models.TurnEvent, error)
	// ListRecentEvents returns up to limit events at or before the cutoff with
	// any of the given origins, in chronological order. Used to reconstruct
	// engine history without the trailing unanswered turn.
	ListRecentEvents(conversationID string, before time.Time, limit int, origins ...models.EventOrigin) ([]models.TurnEvent, error)
	DeleteTurnEvent(eventID string) error

	// Payments
	CreatePaymentRecord(p *models.PaymentRecord) error
	LatestPendingPayment(conversationID string) (*models.PaymentRecord, error)
	MarkPaymentConfirmed(id string, at time.Time) error

	// Settings
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error

	Close() error
}
