package turn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vendaflow/vendaflow/internal/genai"
	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/payment"
	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/util"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "turn_test.db")
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestConversation(t *testing.T, s store.Store) *models.Conversation {
	t.Helper()
	c := &models.Conversation{
		ID:          util.GenerateConversationID(),
		ChatID:      util.GenerateRandomID("chat_", 12),
		Status:      models.ConversationStatusActive,
		FunnelPhase: models.PhaseWelcome,
		LeadScore:   models.BaselineLeadScore(),
	}
	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return c
}

// addEvent inserts a turn event with a created-at offset from a fixed base so
// ordering in assertions is deterministic.
func addEvent(t *testing.T, s store.Store, convID string, origin models.EventOrigin, content string, offset time.Duration) *models.TurnEvent {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: convID,
		Origin:         origin,
		Content:        content,
		CreatedAt:      base.Add(offset),
	}
	if err := s.AddTurnEvent(e); err != nil {
		t.Fatalf("AddTurnEvent failed: %v", err)
	}
	return e
}

// fakeEngine returns a scripted decision, or an error when set.
type fakeEngine struct {
	decision *models.Decision
	err      error
	calls    int
	lastReq  genai.DecisionRequest
}

func (f *fakeEngine) Decide(ctx context.Context, req genai.DecisionRequest) (*models.Decision, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

// fakeProvider is a scripted payment provider.
type fakeProvider struct {
	created     *payment.PaymentResponse
	createErr   error
	status      *payment.PaymentResponse
	statusErr   error
	createCalls int
	statusCalls int
	lastParams  payment.CreatePaymentParams
	lastQueryID string
}

func (f *fakeProvider) CreatePayment(ctx context.Context, params payment.CreatePaymentParams) (*payment.PaymentResponse, error) {
	f.createCalls++
	f.lastParams = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeProvider) GetPaymentStatus(ctx context.Context, paymentID string) (*payment.PaymentResponse, error) {
	f.statusCalls++
	f.lastQueryID = paymentID
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func simpleDecision(phase string, messages ...string) *models.Decision {
	return &models.Decision{
		InternalThought:    "scripted",
		LeadClassification: "curious",
		LeadScore:          models.BaselineLeadScore(),
		FunnelPhase:        phase,
		Messages:           messages,
		Action:             models.ActionNone,
	}
}
