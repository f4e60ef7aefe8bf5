// Package models defines the core data structures for VendaFlow.
//
// It includes the conversation and turn event records shared across modules,
// plus the structured decision contract returned by the decision engine.
package models

import (
	"errors"
	"time"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	// ConversationStatusActive indicates the conversation is processed by the pipeline.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusPaused indicates an operator paused automated replies.
	ConversationStatusPaused ConversationStatus = "paused"
	// ConversationStatusClosed indicates the conversation reached a terminal state.
	ConversationStatusClosed ConversationStatus = "closed"
)

// IsValidConversationStatus checks if the given status is supported.
func IsValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationStatusActive, ConversationStatusPaused, ConversationStatusClosed:
		return true
	default:
		return false
	}
}

// EventOrigin tags who produced a turn event.
type EventOrigin string

const (
	// EventOriginUser marks an inbound message from the remote party.
	EventOriginUser EventOrigin = "user"
	// EventOriginBot marks an outbound message sent by the agent.
	EventOriginBot EventOrigin = "bot"
	// EventOriginSystem marks machine-parseable marker events and directives.
	EventOriginSystem EventOrigin = "system"
	// EventOriginAdmin marks messages an operator sent manually.
	EventOriginAdmin EventOrigin = "admin"
	// EventOriginThought marks the engine's internal reasoning, never shown to the remote party.
	EventOriginThought EventOrigin = "thought"
)

// MediaKind classifies a resolved media reference on a turn event.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// Error variables for better error handling and testability.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEventNotFound        = errors.New("turn event not found")
	ErrPaymentNotFound      = errors.New("payment record not found")
	ErrInvalidStatus        = errors.New("invalid conversation status")
	ErrInvalidAction        = errors.New("invalid decision action")
	ErrInvalidFunnelPhase   = errors.New("invalid funnel phase")
	ErrEmptyMessages        = errors.New("decision contains no messages")
)

// GaugeMax is the upper bound for every lead score gauge.
const GaugeMax = 100

// LeadScore holds the four independent 0-100 gauges estimating a
// conversation's commercial and emotional state.
type LeadScore struct {
	Arousal    int `json:"arousal"`
	Financial  int `json:"financial"`
	Neediness  int `json:"neediness"`
	Attachment int `json:"attachment"`
}

// BaselineLeadScore returns the fixed non-zero default used wherever an
// all-zero score shows up: all-zero is treated as "uninitialized", never as
// a legitimate reading.
func BaselineLeadScore() LeadScore {
	return LeadScore{Arousal: 10, Financial: 10, Neediness: 20, Attachment: 20}
}

// clampGauge clamps a single gauge into [0, GaugeMax].
func clampGauge(v int) int {
	if v < 0 {
		return 0
	}
	if v > GaugeMax {
		return GaugeMax
	}
	return v
}

// Clamp returns a copy with every gauge clamped into [0, GaugeMax].
func (s LeadScore) Clamp() LeadScore {
	return LeadScore{
		Arousal:    clampGauge(s.Arousal),
		Financial:  clampGauge(s.Financial),
		Neediness:  clampGauge(s.Neediness),
		Attachment: clampGauge(s.Attachment),
	}
}

// IsZero reports whether every gauge is exactly zero.
func (s LeadScore) IsZero() bool {
	return s.Arousal == 0 && s.Financial == 0 && s.Neediness == 0 && s.Attachment == 0
}

// Normalize clamps the score and substitutes the baseline for the
// degenerate all-zero case.
func (s LeadScore) Normalize() LeadScore {
	c := s.Clamp()
	if c.IsZero() {
		return BaselineLeadScore()
	}
	return c
}

// Max returns the per-gauge maximum of two scores.
func (s LeadScore) Max(other LeadScore) LeadScore {
	maxInt := func(a, b int) int {
		if a > b {
			return a
		}
		return b
	}
	return LeadScore{
		Arousal:    maxInt(s.Arousal, other.Arousal),
		Financial:  maxInt(s.Financial, other.Financial),
		Neediness:  maxInt(s.Neediness, other.Neediness),
		Attachment: maxInt(s.Attachment, other.Attachment),
	}
}

// Add returns a copy with the given deltas applied and clamped.
func (s LeadScore) Add(arousal, financial, neediness, attachment int) LeadScore {
	return LeadScore{
		Arousal:    clampGauge(s.Arousal + arousal),
		Financial:  clampGauge(s.Financial + financial),
		Neediness:  clampGauge(s.Neediness + neediness),
		Attachment: clampGauge(s.Attachment + attachment),
	}
}

// Conversation is the durable record for one remote chat identity.
type Conversation struct {
	ID               string             `json:"id"`
	ChatID           string             `json:"chat_id"` // external Telegram chat identifier, unique
	UserName         string             `json:"user_name"`
	Status           ConversationStatus `json:"status"`
	FunnelPhase      string             `json:"funnel_phase"`
	LeadScore        LeadScore          `json:"lead_score"`
	AmountPaid       float64            `json:"amount_paid"`
	UserCity         string             `json:"user_city"`
	HighTicketDevice bool               `json:"high_ticket_device"`
	NeedsReengage    bool               `json:"needs_reengage"`
	DebounceToken    string             `json:"debounce_token"`
	LastInboundAt    *time.Time         `json:"last_inbound_at"`
	LastOutboundAt   *time.Time         `json:"last_outbound_at"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// TurnEvent is one persisted inbound or outbound unit in a conversation.
// Ordering is by CreatedAt only.
type TurnEvent struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Origin         EventOrigin `json:"origin"`
	Content        string      `json:"content"`
	MediaURL       string      `json:"media_url,omitempty"`
	MediaKind      MediaKind   `json:"media_kind,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// PaymentStatus represents the lifecycle of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is the structured payment state, decoupled from the
// human-readable transcript. Marker events in the transcript mirror it for
// operator display and stored-history interop.
type PaymentRecord struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversation_id"`
	ProviderPaymentID string        `json:"provider_payment_id"`
	Amount            float64       `json:"amount"`
	PixCode           string        `json:"pix_code"`
	Status            PaymentStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	ConfirmedAt       *time.Time    `json:"confirmed_at,omitempty"`
}

// TurnStatus classifies how a turn-processing invocation ended. None of
// these are errors except TurnError; supersession and paused are normal,
// silent termination paths.
type TurnStatus string

const (
	// TurnSuperseded means a newer inbound event owns this burst.
	TurnSuperseded TurnStatus = "superseded"
	// TurnPaused means the conversation was not active at a checkpoint.
	TurnPaused TurnStatus = "paused"
	// TurnEmpty means there was nothing unanswered to reply to.
	TurnEmpty TurnStatus = "empty"
	// TurnDone means the turn completed and replies were dispatched.
	TurnDone TurnStatus = "done"
	// TurnError means the turn failed; Message carries the diagnostic.
	TurnError TurnStatus = "error"
)

// TurnResult is the status payload every worker invocation returns for
// observability. The pipeline never propagates a raw error to the HTTP
// boundary.
type TurnResult struct {
	Status  TurnStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}
