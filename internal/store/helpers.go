package store

import (
	"database/sql"
	"fmt"

	"github.com/vendaflow/vendaflow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// conversationColumns is the column list every conversation query selects,
// in the order scanConversation expects.
const conversationColumns = `id, chat_id, user_name, status, funnel_phase,
	score_arousal, score_financial, score_neediness, score_attachment,
	amount_paid, user_city, high_ticket_device, needs_reengage, debounce_token,
	last_inbound_at, last_outbound_at, created_at, updated_at`

// scanConversation scans a Conversation from a row or rows cursor.
func scanConversation(s rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var lastIn, lastOut sql.NullTime
	err := s.Scan(
		&c.ID, &c.ChatID, &c.UserName, &c.Status, &c.FunnelPhase,
		&c.LeadScore.Arousal, &c.LeadScore.Financial, &c.LeadScore.Neediness, &c.LeadScore.Attachment,
		&c.AmountPaid, &c.UserCity, &c.HighTicketDevice, &c.NeedsReengage, &c.DebounceToken,
		&lastIn, &lastOut, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	if lastIn.Valid {
		c.LastInboundAt = &lastIn.Time
	}
	if lastOut.Valid {
		c.LastOutboundAt = &lastOut.Time
	}
	return c, nil
}

// turnEventColumns is the column list every turn event query selects.
const turnEventColumns = `id, conversation_id, origin, content, media_url, media_kind, created_at`

// scanTurnEvent scans a TurnEvent from a row or rows cursor.
func scanTurnEvent(s rowScanner) (models.TurnEvent, error) {
	var e models.TurnEvent
	var mediaURL, mediaKind sql.NullString
	err := s.Scan(&e.ID, &e.ConversationID, &e.Origin, &e.Content, &mediaURL, &mediaKind, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.MediaURL = mediaURL.String
	e.MediaKind = models.MediaKind(mediaKind.String)
	return e, nil
}

// paymentColumns is the column list every payment query selects.
const paymentColumns = `id, conversation_id, provider_payment_id, amount, pix_code, status, created_at, confirmed_at`

// scanPayment scans a PaymentRecord from a row or rows cursor.
func scanPayment(s rowScanner) (models.PaymentRecord, error) {
	var p models.PaymentRecord
	var confirmedAt sql.NullTime
	err := s.Scan(&p.ID, &p.ConversationID, &p.ProviderPaymentID, &p.Amount, &p.PixCode, &p.Status, &p.CreatedAt, &confirmedAt)
	if err != nil {
		return p, err
	}
	if confirmedAt.Valid {
		p.ConfirmedAt = &confirmedAt.Time
	}
	return p, nil
}

// scanJob scans a Job from a row or rows cursor.
func scanJob(s rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := s.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// originArgs converts a slice of origins into driver args.
func originArgs(origins []models.EventOrigin) []interface{} {
	args := make([]interface{}, len(origins))
	for i, o := range origins {
		args[i] = string(o)
	}
	return args
}

// sqlitePlaceholders returns "?, ?, ..." with n entries.
func sqlitePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}

// postgresPlaceholders returns "$start, $start+1, ..." with n entries.
func postgresPlaceholders(start, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("$%d", start+i)
	}
	return out
}

// reverseEvents flips a slice scanned newest-first into chronological order.
func reverseEvents(events []models.TurnEvent) []models.TurnEvent {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}
