// Package store provides storage backends for VendaFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/vendaflow/vendaflow/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore satisfies Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Conversations

func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetConversationByChatID(chatID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE chat_id = $1`, chatID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationByChatID failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to get conversation for chat %s: %w", chatID, err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateConversation(c *models.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO conversations (id, chat_id, user_name, status, funnel_phase,
		score_arousal, score_financial, score_neediness, score_attachment,
		amount_paid, user_city, high_ticket_device, needs_reengage, debounce_token,
		last_inbound_at, last_outbound_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.ChatID, c.UserName, c.Status, c.FunnelPhase,
		c.LeadScore.Arousal, c.LeadScore.Financial, c.LeadScore.Neediness, c.LeadScore.Attachment,
		c.AmountPaid, c.UserCity, c.HighTicketDevice, c.NeedsReengage, c.DebounceToken,
		c.LastInboundAt, c.LastOutboundAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "id", c.ID, "chatID", c.ChatID)
		return fmt.Errorf("failed to create conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) updateConversationField(id, query string, args ...interface{}) error {
	args = append(args, time.Now().UTC(), id)
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrConversationNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateConversationStatus(id string, status models.ConversationStatus) error {
	if !models.IsValidConversationStatus(status) {
		return models.ErrInvalidStatus
	}
	err := s.updateConversationField(id,
		`UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`, status)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update status for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadScore(id string, score models.LeadScore) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET score_arousal = $1, score_financial = $2, score_neediness = $3, score_attachment = $4, updated_at = $5 WHERE id = $6`,
		score.Arousal, score.Financial, score.Neediness, score.Attachment)
	if err != nil {
		slog.Error("PostgresStore UpdateLeadScore failed", "error", err, "id", id)
		return fmt.Errorf("failed to update lead score for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateFunnelPhase(id, phase string) error {
	if !models.IsValidFunnelPhase(phase) {
		return models.ErrInvalidFunnelPhase
	}
	err := s.updateConversationField(id,
		`UPDATE conversations SET funnel_phase = $1, updated_at = $2 WHERE id = $3`, phase)
	if err != nil {
		slog.Error("PostgresStore UpdateFunnelPhase failed", "error", err, "id", id, "phase", phase)
		return fmt.Errorf("failed to update funnel phase for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserName(id, name string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET user_name = $1, updated_at = $2 WHERE id = $3`, name)
	if err != nil {
		slog.Error("PostgresStore UpdateUserName failed", "error", err, "id", id)
		return fmt.Errorf("failed to update user name for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) SetDebounceToken(id, token string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET debounce_token = $1, updated_at = $2 WHERE id = $3`, token)
	if err != nil {
		slog.Error("PostgresStore SetDebounceToken failed", "error", err, "id", id)
		return fmt.Errorf("failed to set debounce token for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) TouchInbound(id string, at time.Time) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET last_inbound_at = $1, updated_at = $2 WHERE id = $3`, at.UTC())
	if err != nil {
		slog.Error("PostgresStore TouchInbound failed", "error", err, "id", id)
		return fmt.Errorf("failed to touch inbound for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) TouchOutbound(id string, at time.Time) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET last_outbound_at = $1, updated_at = $2 WHERE id = $3`, at.UTC())
	if err != nil {
		slog.Error("PostgresStore TouchOutbound failed", "error", err, "id", id)
		return fmt.Errorf("failed to touch outbound for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AddAmountPaid(id string, amount float64) (float64, error) {
	var total float64
	err := s.db.QueryRow(`UPDATE conversations SET amount_paid = amount_paid + $1, updated_at = $2 WHERE id = $3 RETURNING amount_paid`,
		amount, time.Now().UTC(), id).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, models.ErrConversationNotFound
	}
	if err != nil {
		slog.Error("PostgresStore AddAmountPaid failed", "error", err, "id", id)
		return 0, fmt.Errorf("failed to add amount paid for conversation %s: %w", id, err)
	}
	return total, nil
}

func (s *PostgresStore) SetReengageFlag(id string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET needs_reengage = TRUE, updated_at = $1 WHERE id = $2`)
	if err != nil {
		slog.Error("PostgresStore SetReengageFlag failed", "error", err, "id", id)
		return fmt.Errorf("failed to set reengage flag for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ClearReengageFlag(id string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET needs_reengage = FALSE, updated_at = $1 WHERE id = $2`)
	if err != nil {
		slog.Error("PostgresStore ClearReengageFlag failed", "error", err, "id", id)
		return fmt.Errorf("failed to clear reengage flag for conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListUnansweredConversations(idleSince time.Time) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations
		WHERE status = $1
		  AND last_inbound_at IS NOT NULL
		  AND (last_outbound_at IS NULL OR last_inbound_at > last_outbound_at)
		  AND last_inbound_at < $2
		ORDER BY last_inbound_at ASC`,
		models.ConversationStatusActive, idleSince.UTC())
	if err != nil {
		slog.Error("PostgresStore ListUnansweredConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query unanswered conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return out, nil
}

// Turn events

func (s *PostgresStore) AddTurnEvent(e *models.TurnEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO turn_events (id, conversation_id, origin, content, media_url, media_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ConversationID, e.Origin, e.Content, nilIfEmpty(e.MediaURL), nilIfEmpty(string(e.MediaKind)), e.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddTurnEvent failed", "error", err, "id", e.ID, "conversationID", e.ConversationID)
		return fmt.Errorf("failed to add turn event %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) AttachEventMedia(eventID, mediaURL string, kind models.MediaKind) error {
	res, err := s.db.Exec(`UPDATE turn_events SET media_url = $1, media_kind = $2 WHERE id = $3`,
		mediaURL, kind, eventID)
	if err != nil {
		slog.Error("PostgresStore AttachEventMedia failed", "error", err, "eventID", eventID)
		return fmt.Errorf("failed to attach media to event %s: %w", eventID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

func (s *PostgresStore) LatestEventByOrigin(conversationID string, origin models.EventOrigin) (*models.TurnEvent, error) {
	row := s.db.QueryRow(`SELECT `+turnEventColumns+` FROM turn_events
		WHERE conversation_id = $1 AND origin = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID, origin)
	e, err := scanTurnEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestEventByOrigin failed", "error", err, "conversationID", conversationID, "origin", origin)
		return nil, fmt.Errorf("failed to get latest %s event for conversation %s: %w", origin, conversationID, err)
	}
	return &e, nil
}

func (s *PostgresStore) ListEventsSince(conversationID string, after time.Time, origins ...models.EventOrigin) ([]models.TurnEvent, error) {
	query := `SELECT ` + turnEventColumns + ` FROM turn_events
		WHERE conversation_id = $1 AND created_at > $2
		  AND origin IN (` + postgresPlaceholders(3, len(origins)) + `)
		ORDER BY created_at ASC, id ASC`
	args := append([]interface{}{conversationID, after.UTC()}, originArgs(origins)...)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListEventsSince query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query events for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []models.TurnEvent
	for rows.Next() {
		e, err := scanTurnEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn event rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListRecentEvents(conversationID string, before time.Time, limit int, origins ...models.EventOrigin) ([]models.TurnEvent, error) {
	n := len(origins)
	query := `SELECT ` + turnEventColumns + ` FROM turn_events
		WHERE conversation_id = $1 AND created_at <= $2
		  AND origin IN (` + postgresPlaceholders(3, n) + `)
		ORDER BY created_at DESC, id DESC LIMIT $` + fmt.Sprint(3+n)
	args := append([]interface{}{conversationID, before.UTC()}, originArgs(origins)...)
	args = append(args, limit)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListRecentEvents query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query recent events for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []models.TurnEvent
	for rows.Next() {
		e, err := scanTurnEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn event rows: %w", err)
	}
	return reverseEvents(out), nil
}

func (s *PostgresStore) DeleteTurnEvent(eventID string) error {
	res, err := s.db.Exec(`DELETE FROM turn_events WHERE id = $1`, eventID)
	if err != nil {
		slog.Error("PostgresStore DeleteTurnEvent failed", "error", err, "eventID", eventID)
		return fmt.Errorf("failed to delete turn event %s: %w", eventID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

// Payments

func (s *PostgresStore) CreatePaymentRecord(p *models.PaymentRecord) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	_, err := s.db.Exec(`INSERT INTO payments (id, conversation_id, provider_payment_id, amount, pix_code, status, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ConversationID, p.ProviderPaymentID, p.Amount, p.PixCode, p.Status, p.CreatedAt, p.ConfirmedAt)
	if err != nil {
		slog.Error("PostgresStore CreatePaymentRecord failed", "error", err, "id", p.ID, "conversationID", p.ConversationID)
		return fmt.Errorf("failed to create payment record %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) LatestPendingPayment(conversationID string) (*models.PaymentRecord, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments
		WHERE conversation_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID, models.PaymentStatusPending)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestPendingPayment failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get pending payment for conversation %s: %w", conversationID, err)
	}
	return &p, nil
}

func (s *PostgresStore) MarkPaymentConfirmed(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE payments SET status = $1, confirmed_at = $2 WHERE id = $3 AND status = $4`,
		models.PaymentStatusConfirmed, at.UTC(), id, models.PaymentStatusPending)
	if err != nil {
		slog.Error("PostgresStore MarkPaymentConfirmed failed", "error", err, "id", id)
		return fmt.Errorf("failed to confirm payment %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrPaymentNotFound
	}
	return nil
}

// Settings

func (s *PostgresStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSetting failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		slog.Error("PostgresStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres store")
	return s.db.Close()
}
