// Package store provides storage backends for VendaFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vendaflow/vendaflow/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore satisfies Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Conversations

func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetConversationByChatID(chatID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE chat_id = ?`, chatID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationByChatID failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to get conversation for chat %s: %w", chatID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateConversation(c *models.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO conversations (id, chat_id, user_name, status, funnel_phase,
		score_arousal, score_financial, score_neediness, score_attachment,
		amount_paid, user_city, high_ticket_device, needs_reengage, debounce_token,
		last_inbound_at, last_outbound_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ChatID, c.UserName, c.Status, c.FunnelPhase,
		c.LeadScore.Arousal, c.LeadScore.Financial, c.LeadScore.Neediness, c.LeadScore.Attachment,
		c.AmountPaid, c.UserCity, c.HighTicketDevice, c.NeedsReengage, c.DebounceToken,
		c.LastInboundAt, c.LastOutboundAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "id", c.ID, "chatID", c.ChatID)
		return fmt.Errorf("failed to create conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "id", c.ID, "chatID", c.ChatID)
	return nil
}

// updateConversationField runs a single-column update and maps a missing row
// to models.ErrConversationNotFound.
func (s *SQLiteStore) updateConversationField(id, query string, args ...interface{}) error {
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

func (s *SQLiteStore) UpdateConversationStatus(id string, status models.ConversationStatus) error {
	if !models.IsValidConversationStatus(status) {
		return models.ErrInvalidStatus
	}
	err := s.updateConversationField(id,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`, status)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update status for conversation %s: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdateConversationStatus succeeded", "id", id, "status", status)
	return nil
}

func (s *SQLiteStore) UpdateLeadScore(id string, score models.LeadScore) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET score_arousal = ?, score_financial = ?, score_neediness = ?, score_attachment = ?, updated_at = ? WHERE id = ?`,
		score.Arousal, score.Financial, score.Neediness, score.Attachment)
	if err != nil {
		slog.Error("SQLiteStore UpdateLeadScore failed", "error", err, "id", id)
		return fmt.Errorf("failed to update lead score for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateFunnelPhase(id, phase string) error {
	if !models.IsValidFunnelPhase(phase) {
		return models.ErrInvalidFunnelPhase
	}
	err := s.updateConversationField(id,
		`UPDATE conversations SET funnel_phase = ?, updated_at = ? WHERE id = ?`, phase)
	if err != nil {
		slog.Error("SQLiteStore UpdateFunnelPhase failed", "error", err, "id", id, "phase", phase)
		return fmt.Errorf("failed to update funnel phase for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateUserName(id, name string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET user_name = ?, updated_at = ? WHERE id = ?`, name)
	if err != nil {
		slog.Error("SQLiteStore UpdateUserName failed", "error", err, "id", id)
		return fmt.Errorf("failed to update user name for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SetDebounceToken(id, token string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET debounce_token = ?, updated_at = ? WHERE id = ?`, token)
	if err != nil {
		slog.Error("SQLiteStore SetDebounceToken failed", "error", err, "id", id)
		return fmt.Errorf("failed to set debounce token for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) TouchInbound(id string, at time.Time) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET last_inbound_at = ?, updated_at = ? WHERE id = ?`, at.UTC())
	if err != nil {
		slog.Error("SQLiteStore TouchInbound failed", "error", err, "id", id)
		return fmt.Errorf("failed to touch inbound for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) TouchOutbound(id string, at time.Time) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET last_outbound_at = ?, updated_at = ? WHERE id = ?`, at.UTC())
	if err != nil {
		slog.Error("SQLiteStore TouchOutbound failed", "error", err, "id", id)
		return fmt.Errorf("failed to touch outbound for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddAmountPaid(id string, amount float64) (float64, error) {
	res, err := s.db.Exec(`UPDATE conversations SET amount_paid = amount_paid + ?, updated_at = ? WHERE id = ?`,
		amount, time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore AddAmountPaid failed", "error", err, "id", id)
		return 0, fmt.Errorf("failed to add amount paid for conversation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, models.ErrConversationNotFound
	}
	var total float64
	if err := s.db.QueryRow(`SELECT amount_paid FROM conversations WHERE id = ?`, id).Scan(&total); err != nil {
		slog.Error("SQLiteStore AddAmountPaid readback failed", "error", err, "id", id)
		return 0, fmt.Errorf("failed to read amount paid for conversation %s: %w", id, err)
	}
	slog.Debug("SQLiteStore AddAmountPaid succeeded", "id", id, "amount", amount, "total", total)
	return total, nil
}

func (s *SQLiteStore) SetReengageFlag(id string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET needs_reengage = 1, updated_at = ? WHERE id = ?`)
	if err != nil {
		slog.Error("SQLiteStore SetReengageFlag failed", "error", err, "id", id)
		return fmt.Errorf("failed to set reengage flag for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ClearReengageFlag(id string) error {
	err := s.updateConversationField(id,
		`UPDATE conversations SET needs_reengage = 0, updated_at = ? WHERE id = ?`)
	if err != nil {
		slog.Error("SQLiteStore ClearReengageFlag failed", "error", err, "id", id)
		return fmt.Errorf("failed to clear reengage flag for conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListUnansweredConversations(idleSince time.Time) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations
		WHERE status = ?
		  AND last_inbound_at IS NOT NULL
		  AND (last_outbound_at IS NULL OR last_inbound_at > last_outbound_at)
		  AND last_inbound_at < ?
		ORDER BY last_inbound_at ASC`,
		models.ConversationStatusActive, idleSince.UTC())
	if err != nil {
		slog.Error("SQLiteStore ListUnansweredConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query unanswered conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			slog.Error("SQLiteStore ListUnansweredConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("SQLiteStore ListUnansweredConversations succeeded", "count", len(out))
	return out, nil
}

// Turn events

func (s *SQLiteStore) AddTurnEvent(e *models.TurnEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO turn_events (id, conversation_id, origin, content, media_url, media_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConversationID, e.Origin, e.Content, nilIfEmpty(e.MediaURL), nilIfEmpty(string(e.MediaKind)), e.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddTurnEvent failed", "error", err, "id", e.ID, "conversationID", e.ConversationID)
		return fmt.Errorf("failed to add turn event %s: %w", e.ID, err)
	}
	slog.Debug("SQLiteStore AddTurnEvent succeeded", "id", e.ID, "origin", e.Origin)
	return nil
}

func (s *SQLiteStore) AttachEventMedia(eventID, mediaURL string, kind models.MediaKind) error {
	res, err := s.db.Exec(`UPDATE turn_events SET media_url = ?, media_kind = ? WHERE id = ?`,
		mediaURL, kind, eventID)
	if err != nil {
		slog.Error("SQLiteStore AttachEventMedia failed", "error", err, "eventID", eventID)
		return fmt.Errorf("failed to attach media to event %s: %w", eventID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

func (s *SQLiteStore) LatestEventByOrigin(conversationID string, origin models.EventOrigin) (*models.TurnEvent, error) {
	row := s.db.QueryRow(`SELECT `+turnEventColumns+` FROM turn_events
		WHERE conversation_id = ? AND origin = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID, origin)
	e, err := scanTurnEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestEventByOrigin failed", "error", err, "conversationID", conversationID, "origin", origin)
		return nil, fmt.Errorf("failed to get latest %s event for conversation %s: %w", origin, conversationID, err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListEventsSince(conversationID string, after time.Time, origins ...models.EventOrigin) ([]models.TurnEvent, error) {
	query := `SELECT ` + turnEventColumns + ` FROM turn_events
		WHERE conversation_id = ? AND created_at > ?
		  AND origin IN (` + sqlitePlaceholders(len(origins)) + `)
		ORDER BY created_at ASC, id ASC`
	args := append([]interface{}{conversationID, after.UTC()}, originArgs(origins)...)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListEventsSince query failed", "error", err, "conversationID", conversationID)
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

func (s *SQLiteStore) ListRecentEvents(conversationID string, before time.Time, limit int, origins ...models.EventOrigin) ([]models.TurnEvent, error) {
	query := `SELECT ` + turnEventColumns + ` FROM turn_events
		WHERE conversation_id = ? AND created_at <= ?
		  AND origin IN (` + sqlitePlaceholders(len(origins)) + `)
		ORDER BY created_at DESC, id DESC LIMIT ?`
	args := append([]interface{}{conversationID, before.UTC()}, originArgs(origins)...)
	args = append(args, limit)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListRecentEvents query failed", "error", err, "conversationID", conversationID)
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

func (s *SQLiteStore) DeleteTurnEvent(eventID string) error {
	res, err := s.db.Exec(`DELETE FROM turn_events WHERE id = ?`, eventID)
	if err != nil {
		slog.Error("SQLiteStore DeleteTurnEvent failed", "error", err, "eventID", eventID)
		return fmt.Errorf("failed to delete turn event %s: %w", eventID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

// Payments

func (s *SQLiteStore) CreatePaymentRecord(p *models.PaymentRecord) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	_, err := s.db.Exec(`INSERT INTO payments (id, conversation_id, provider_payment_id, amount, pix_code, status, created_at, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ConversationID, p.ProviderPaymentID, p.Amount, p.PixCode, p.Status, p.CreatedAt, p.ConfirmedAt)
	if err != nil {
		slog.Error("SQLiteStore CreatePaymentRecord failed", "error", err, "id", p.ID, "conversationID", p.ConversationID)
		return fmt.Errorf("failed to create payment record %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore CreatePaymentRecord succeeded", "id", p.ID, "amount", p.Amount)
	return nil
}

func (s *SQLiteStore) LatestPendingPayment(conversationID string) (*models.PaymentRecord, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments
		WHERE conversation_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID, models.PaymentStatusPending)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestPendingPayment failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get pending payment for conversation %s: %w", conversationID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) MarkPaymentConfirmed(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE payments SET status = ?, confirmed_at = ? WHERE id = ? AND status = ?`,
		models.PaymentStatusConfirmed, at.UTC(), id, models.PaymentStatusPending)
	if err != nil {
		slog.Error("SQLiteStore MarkPaymentConfirmed failed", "error", err, "id", id)
		return fmt.Errorf("failed to confirm payment %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrPaymentNotFound
	}
	slog.Debug("SQLiteStore MarkPaymentConfirmed succeeded", "id", id)
	return nil
}

// Settings

func (s *SQLiteStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSetting failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		slog.Error("SQLiteStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite store")
	return s.db.Close()
}
