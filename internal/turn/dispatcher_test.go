package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vendaflow/vendaflow/internal/messaging"
	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/payment"
	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/util"
)

func newTestDispatcher(s store.Store, rec *messaging.RecorderService, provider payment.Provider, opts ...DispatcherOption) *Dispatcher {
	opts = append([]DispatcherOption{WithLineDelayWindow(0, 0)}, opts...)
	return NewDispatcher(s, rec, provider, opts...)
}

func systemEvents(t *testing.T, s store.Store, convID string) []models.TurnEvent {
	t.Helper()
	events, err := s.ListEventsSince(convID, time.Time{}, models.EventOriginSystem)
	if err != nil {
		t.Fatalf("ListEventsSince failed: %v", err)
	}
	return events
}

func TestDispatchSendsLinesInOrder(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	d := newTestDispatcher(s, rec, &fakeProvider{})

	decision := simpleDecision(models.PhaseConnection, "oi amor", "como voce ta?")
	d.Dispatch(context.Background(), conv, decision)

	texts := rec.Texts()
	if len(texts) != 2 || texts[0] != "oi amor" || texts[1] != "como voce ta?" {
		t.Errorf("texts = %v", texts)
	}
	if rec.Typing < 2 {
		t.Errorf("typing indications = %d", rec.Typing)
	}

	events, err := s.ListEventsSince(conv.ID, time.Time{}, models.EventOriginBot)
	if err != nil {
		t.Fatalf("ListEventsSince failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("bot events = %d", len(events))
	}

	updated, err := s.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if updated.FunnelPhase != models.PhaseConnection {
		t.Errorf("phase = %q", updated.FunnelPhase)
	}
	if updated.LastOutboundAt == nil {
		t.Error("outbound timestamp not set")
	}
}

func TestDispatchPrependsFillerOnDuplicate(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	addEvent(t, s, conv.ID, models.EventOriginBot, "Oi amor!", 0)
	rec := messaging.NewRecorderService()
	d := newTestDispatcher(s, rec, &fakeProvider{})

	d.Dispatch(context.Background(), conv, simpleDecision(models.PhaseWelcome, "oi amor"))

	texts := rec.Texts()
	if len(texts) != 2 {
		t.Fatalf("texts = %v", texts)
	}
	isFiller := false
	for _, f := range fillerLines {
		if texts[0] == f {
			isFiller = true
		}
	}
	if !isFiller {
		t.Errorf("first line %q is not a filler", texts[0])
	}
	if texts[1] != "oi amor" {
		t.Errorf("second line = %q", texts[1])
	}
}

func TestDispatchNoFillerWhenDifferent(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	addEvent(t, s, conv.ID, models.EventOriginBot, "boa noite", 0)
	rec := messaging.NewRecorderService()
	d := newTestDispatcher(s, rec, &fakeProvider{})

	d.Dispatch(context.Background(), conv, simpleDecision(models.PhaseWelcome, "oi amor"))

	if texts := rec.Texts(); len(texts) != 1 || texts[0] != "oi amor" {
		t.Errorf("texts = %v", texts)
	}
}

func TestDispatchDropsDuplicateLineWithinBurst(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	d := newTestDispatcher(s, rec, &fakeProvider{})

	d.Dispatch(context.Background(), conv, simpleDecision(models.PhaseWelcome, "oi amor", "Oi amor!!", "como voce ta?"))

	texts := rec.Texts()
	if len(texts) != 2 || texts[0] != "oi amor" || texts[1] != "como voce ta?" {
		t.Fatalf("texts = %v", texts)
	}
	events, err := s.ListEventsSince(conv.ID, time.Time{}, models.EventOriginBot)
	if err != nil {
		t.Fatalf("ListEventsSince failed: %v", err)
	}
	for i := 1; i < len(events); i++ {
		a, b := NormalizeLine(events[i-1].Content), NormalizeLine(events[i].Content)
		if a != "" && a == b {
			t.Errorf("adjacent outbound events %d/%d share normalized content %q", i-1, i, a)
		}
	}
}

// sendOrderService counts how many bot lines are already persisted when a
// send happens.
type sendOrderService struct {
	*messaging.RecorderService
	seenAtSend   []int
	countBotRows func() int
}

func (s *sendOrderService) SendText(ctx context.Context, to, body string) error {
	s.seenAtSend = append(s.seenAtSend, s.countBotRows())
	return s.RecorderService.SendText(ctx, to, body)
}

func TestDispatchPersistsLineAfterSendAttempt(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	svc := &sendOrderService{RecorderService: rec}
	svc.countBotRows = func() int {
		events, err := s.ListEventsSince(conv.ID, time.Time{}, models.EventOriginBot)
		if err != nil {
			t.Fatalf("ListEventsSince failed: %v", err)
		}
		return len(events)
	}
	d := NewDispatcher(s, svc, &fakeProvider{}, WithLineDelayWindow(0, 0))

	d.Dispatch(context.Background(), conv, simpleDecision(models.PhaseWelcome, "oi", "tudo bem?"))

	// A crash between persist and send must never leave a phantom bot line,
	// so at send time only the previously completed lines may be stored.
	if len(svc.seenAtSend) != 2 || svc.seenAtSend[0] != 0 || svc.seenAtSend[1] != 1 {
		t.Errorf("bot rows visible at send time = %v", svc.seenAtSend)
	}
}

func TestDispatchSendFailureDoesNotAbortTurn(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	rec.FailAll = true
	d := newTestDispatcher(s, rec, &fakeProvider{})

	d.Dispatch(context.Background(), conv, simpleDecision(models.PhaseConnection, "oi"))

	// The line is still persisted, a diagnostic is recorded, and the
	// end-of-turn update still runs.
	bot, err := s.LatestEventByOrigin(conv.ID, models.EventOriginBot)
	if err != nil || bot == nil || bot.Content != "oi" {
		t.Errorf("bot event = %+v, err %v", bot, err)
	}
	if len(systemEvents(t, s, conv.ID)) == 0 {
		t.Error("expected a diagnostic event")
	}
	updated, _ := s.GetConversation(conv.ID)
	if updated.FunnelPhase != models.PhaseConnection {
		t.Errorf("phase = %q", updated.FunnelPhase)
	}
}

func TestDispatchMediaSend(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	table := map[models.Action]MediaAsset{
		models.ActionSendVideoPreview: {
			URL:     "https://cdn.example/preview.mp4",
			Kind:    models.MediaKindVideo,
			Caption: "olha isso",
		},
	}
	d := newTestDispatcher(s, rec, &fakeProvider{}, WithMediaTable(table))

	decision := simpleDecision(models.PhasePreview, "vou te mostrar uma coisinha")
	decision.Action = models.ActionSendVideoPreview
	d.Dispatch(context.Background(), conv, decision)

	var media *messaging.SentItem
	for i := range rec.Sent {
		if rec.Sent[i].Kind == string(models.MediaKindVideo) {
			media = &rec.Sent[i]
		}
	}
	if media == nil {
		t.Fatal("no media sent")
	}
	if media.URL != table[models.ActionSendVideoPreview].URL || media.Caption != "olha isso" {
		t.Errorf("media = %+v", media)
	}

	bot, err := s.LatestEventByOrigin(conv.ID, models.EventOriginBot)
	if err != nil || bot == nil {
		t.Fatalf("marker lookup failed: %v", err)
	}
	if !strings.Contains(bot.Content, "[MEDIA: send_video_preview") || bot.MediaURL == "" {
		t.Errorf("marker event = %+v", bot)
	}
}

func TestDispatchMediaUnconfigured(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	d := newTestDispatcher(s, rec, &fakeProvider{})

	decision := simpleDecision(models.PhasePreview, "espera ai")
	decision.Action = models.ActionSendShowerPhoto
	d.Dispatch(context.Background(), conv, decision)

	for _, item := range rec.Sent {
		if item.Kind == string(models.MediaKindImage) {
			t.Fatal("no media should be sent without a configured asset")
		}
	}
	if len(systemEvents(t, s, conv.ID)) == 0 {
		t.Error("expected a diagnostic event")
	}
}

func TestDispatchRequestPayment(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	provider := &fakeProvider{created: &payment.PaymentResponse{
		PaymentID:    "pay_1",
		PixCopiaCola: "00020126pixcode",
		Status:       "pending",
	}}
	d := newTestDispatcher(s, rec, provider)

	decision := simpleDecision(models.PhaseClosing, "fechado amor, vou gerar o pix")
	decision.Action = models.ActionRequestPayment
	decision.PaymentDetails = &models.PaymentDetails{Amount: 49.90, Description: "pacote completo"}
	d.Dispatch(context.Background(), conv, decision)

	if provider.createCalls != 1 {
		t.Fatalf("create calls = %d", provider.createCalls)
	}
	if provider.lastParams.Value != 49.90 || provider.lastParams.Description != "pacote completo" {
		t.Errorf("params = %+v", provider.lastParams)
	}

	var code *messaging.SentItem
	for i := range rec.Sent {
		if rec.Sent[i].Kind == "code" {
			code = &rec.Sent[i]
		}
	}
	if code == nil || code.Body != "00020126pixcode" {
		t.Fatalf("copyable code = %+v", code)
	}

	record, err := s.LatestPendingPayment(conv.ID)
	if err != nil || record == nil {
		t.Fatalf("pending record lookup failed: %v", err)
	}
	if record.ProviderPaymentID != "pay_1" || record.Amount != 49.90 {
		t.Errorf("record = %+v", record)
	}

	events := systemEvents(t, s, conv.ID)
	found := false
	for _, e := range events {
		if amount, id, ok := ParsePixCreated(e.Content); ok && id == "pay_1" && amount == 49.90 {
			found = true
		}
	}
	if !found {
		t.Errorf("creation marker missing in %+v", events)
	}
}

func TestDispatchRequestPaymentDefaultAmount(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	provider := &fakeProvider{created: &payment.PaymentResponse{PaymentID: "p", PixCopiaCola: "c"}}
	d := newTestDispatcher(s, rec, provider)

	decision := simpleDecision(models.PhaseClosing, "vou gerar")
	decision.Action = models.ActionRequestPayment
	d.Dispatch(context.Background(), conv, decision)

	if provider.lastParams.Value != DefaultPaymentAmount {
		t.Errorf("value = %v, want default", provider.lastParams.Value)
	}
}

func TestDispatchRequestPaymentProviderFailure(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	provider := &fakeProvider{createErr: errors.New("provider down")}
	d := newTestDispatcher(s, rec, provider)

	decision := simpleDecision(models.PhaseClosing, "vou gerar o pix")
	decision.Action = models.ActionRequestPayment
	d.Dispatch(context.Background(), conv, decision)

	texts := rec.Texts()
	if texts[len(texts)-1] != paymentFailureLine {
		t.Errorf("texts = %v", texts)
	}
	if record, _ := s.LatestPendingPayment(conv.ID); record != nil {
		t.Errorf("no record should exist, got %+v", record)
	}
	for _, item := range rec.Sent {
		if item.Kind == "code" {
			t.Error("no code should be sent on provider failure")
		}
	}
}

func TestDispatchCheckPaymentPaid(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	record := &models.PaymentRecord{
		ID:                util.GeneratePaymentID(),
		ConversationID:    conv.ID,
		ProviderPaymentID: "pay_9",
		Amount:            49.90,
		PixCode:           "code",
	}
	if err := s.CreatePaymentRecord(record); err != nil {
		t.Fatalf("CreatePaymentRecord failed: %v", err)
	}
	rec := messaging.NewRecorderService()
	provider := &fakeProvider{status: &payment.PaymentResponse{PaymentID: "pay_9", Status: "approved"}}
	d := newTestDispatcher(s, rec, provider)

	decision := simpleDecision(models.PhasePaymentCheck, "deixa eu ver aqui")
	decision.Action = models.ActionCheckPayment
	d.Dispatch(context.Background(), conv, decision)

	if provider.lastQueryID != "pay_9" {
		t.Errorf("queried %q", provider.lastQueryID)
	}
	updated, _ := s.GetConversation(conv.ID)
	if updated.AmountPaid != 49.90 {
		t.Errorf("amount paid = %v", updated.AmountPaid)
	}
	if pending, _ := s.LatestPendingPayment(conv.ID); pending != nil {
		t.Errorf("record should be confirmed, got %+v", pending)
	}
	found := false
	for _, e := range systemEvents(t, s, conv.ID) {
		if amount, total, ok := ParsePixConfirmed(e.Content); ok && amount == 49.90 && total == 49.90 {
			found = true
		}
	}
	if !found {
		t.Error("confirmation marker missing")
	}
	texts := rec.Texts()
	if texts[len(texts)-1] != paidThanksLine {
		t.Errorf("texts = %v", texts)
	}
}

func TestDispatchCheckPaymentNotCleared(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	record := &models.PaymentRecord{
		ID:                util.GeneratePaymentID(),
		ConversationID:    conv.ID,
		ProviderPaymentID: "pay_2",
		Amount:            29.90,
	}
	if err := s.CreatePaymentRecord(record); err != nil {
		t.Fatalf("CreatePaymentRecord failed: %v", err)
	}
	rec := messaging.NewRecorderService()
	provider := &fakeProvider{status: &payment.PaymentResponse{PaymentID: "pay_2", Status: "pending"}}
	d := newTestDispatcher(s, rec, provider)

	decision := simpleDecision(models.PhasePaymentCheck, "vou ver")
	decision.Action = models.ActionCheckPayment
	d.Dispatch(context.Background(), conv, decision)

	texts := rec.Texts()
	if texts[len(texts)-1] != notClearedLine {
		t.Errorf("texts = %v", texts)
	}
	updated, _ := s.GetConversation(conv.ID)
	if updated.AmountPaid != 0 {
		t.Errorf("amount paid = %v", updated.AmountPaid)
	}
	if pending, _ := s.LatestPendingPayment(conv.ID); pending == nil {
		t.Error("record should still be pending")
	}
}

func TestDispatchCheckPaymentFallsBackToMarker(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	addEvent(t, s, conv.ID, models.EventOriginSystem, FormatPixCreated(19.90, "pay_old"), 0)
	rec := messaging.NewRecorderService()
	provider := &fakeProvider{status: &payment.PaymentResponse{PaymentID: "pay_old", Status: "paid"}}
	d := newTestDispatcher(s, rec, provider)

	decision := simpleDecision(models.PhasePaymentCheck, "vou conferir")
	decision.Action = models.ActionCheckPayment
	d.Dispatch(context.Background(), conv, decision)

	if provider.lastQueryID != "pay_old" {
		t.Errorf("queried %q", provider.lastQueryID)
	}
	updated, _ := s.GetConversation(conv.ID)
	if updated.AmountPaid != 19.90 {
		t.Errorf("amount paid = %v", updated.AmountPaid)
	}
}

func TestDispatchCheckPaymentNoCharge(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	rec := messaging.NewRecorderService()
	provider := &fakeProvider{}
	d := newTestDispatcher(s, rec, provider)

	decision := simpleDecision(models.PhasePaymentCheck, "deixa eu ver")
	decision.Action = models.ActionCheckPayment
	d.Dispatch(context.Background(), conv, decision)

	if provider.statusCalls != 0 {
		t.Errorf("provider should not be queried, calls = %d", provider.statusCalls)
	}
	texts := rec.Texts()
	if texts[len(texts)-1] != askProofLine {
		t.Errorf("texts = %v", texts)
	}
}
