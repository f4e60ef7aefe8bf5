package turn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vendaflow/vendaflow/internal/messaging"
	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/payment"
	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/util"
)

// Pacing window for outbound lines. A reply burst that lands instantly reads
// as a bot; one that takes 2-5s per line reads as typing.
const (
	defaultMinLineDelay = 2 * time.Second
	defaultMaxLineDelay = 5 * time.Second
)

// DefaultPaymentAmount is charged when the engine requests a payment without
// naming a price.
const DefaultPaymentAmount = 29.90

// payerEmailDomain synthesizes a payer email for the provider, which
// requires one even though leads never share theirs.
const payerEmailDomain = "leads.vendaflow.app"

// fillerLines break up would-be duplicate consecutive bot lines.
var fillerLines = []string{"amor", "oi?", "pera", "entao"}

// Fallback lines for partial failures inside a turn.
const (
	sendFailureLine    = "amor, meu celular ta travando aqui 😩 pera"
	paymentFailureLine = "amor, deu um erro aqui pra gerar o pix, me da um minutinho que eu tento de novo ta"
	notClearedLine     = "amor, ainda nao caiu aqui 😕 as vezes demora uns minutinhos, me avisa quando aparecer pago pra voce"
	askProofLine       = "amor, nao achei seu pagamento aqui... me manda o comprovante? 🙏"
	paidThanksLine     = "amooor caiu aqui!! 😍 obrigada vida, ja vou te mandar tudo"
)

// MediaAsset is one entry of the action → media lookup table.
type MediaAsset struct {
	URL     string
	Kind    models.MediaKind
	Caption string
}

// Dispatcher sequences a decision's replies and side effects against the
// platform and the payment provider.
type Dispatcher struct {
	store         store.Store
	msg           messaging.Service
	payments      payment.Provider
	media         map[models.Action]MediaAsset
	minLineDelay  time.Duration
	maxLineDelay  time.Duration
	defaultAmount float64
	sleep         func(ctx context.Context, d time.Duration) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMediaTable sets the action → media lookup table.
func WithMediaTable(table map[models.Action]MediaAsset) DispatcherOption {
	return func(d *Dispatcher) { d.media = table }
}

// WithLineDelayWindow overrides the pacing window. Tests use zero delays.
func WithLineDelayWindow(min, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.minLineDelay = min
		d.maxLineDelay = max
	}
}

// WithDefaultPaymentAmount overrides the fallback charge amount.
func WithDefaultPaymentAmount(amount float64) DispatcherOption {
	return func(d *Dispatcher) { d.defaultAmount = amount }
}

// NewDispatcher creates a reply dispatcher.
func NewDispatcher(st store.Store, msg messaging.Service, payments payment.Provider, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:         st,
		msg:           msg,
		payments:      payments,
		media:         map[models.Action]MediaAsset{},
		minLineDelay:  defaultMinLineDelay,
		maxLineDelay:  defaultMaxLineDelay,
		defaultAmount: DefaultPaymentAmount,
	}
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		if dur <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
			return nil
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one decision: reply lines in order with pacing, then the
// side-effect action, then the single end-of-turn conversation update. Every
// send and provider call is independently guarded; a failed step degrades
// and the turn continues.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *models.Conversation, decision *models.Decision) {
	for _, line := range d.planLines(conv, decision.Messages) {
		d.sendLine(ctx, conv, line)
	}

	d.runAction(ctx, conv, decision)

	// Phase and activity timestamps move exactly once, after everything was
	// attempted: the lead already saw the replies, so a failed media or
	// payment step must not freeze the funnel state.
	if models.IsValidFunnelPhase(decision.FunnelPhase) && decision.FunnelPhase != conv.FunnelPhase {
		if err := d.store.UpdateFunnelPhase(conv.ID, decision.FunnelPhase); err != nil {
			slog.Error("Dispatcher.Dispatch: phase update failed", "conversationID", conv.ID, "error", err)
		}
	}
	if err := d.store.TouchOutbound(conv.ID, time.Now().UTC()); err != nil {
		slog.Error("Dispatcher.Dispatch: outbound timestamp update failed", "conversationID", conv.ID, "error", err)
	}
}

// planLines orders the reply burst so no two adjacent outbound lines share
// normalized content. A repeat of the previous turn's last line gets a filler
// in front of it; a repeat inside the burst is dropped.
func (d *Dispatcher) planLines(conv *models.Conversation, proposed []string) []string {
	if len(proposed) == 0 {
		return nil
	}
	prev := ""
	if lastOut, err := d.store.LatestEventByOrigin(conv.ID, models.EventOriginBot); err == nil && lastOut != nil {
		prev = NormalizeLine(lastOut.Content)
	}

	out := make([]string, 0, len(proposed)+1)
	for i, line := range proposed {
		n := NormalizeLine(line)
		if n != "" && n == prev {
			if i > 0 {
				continue
			}
			filler := pickFiller(n)
			out = append(out, filler)
		}
		out = append(out, line)
		if n != "" {
			prev = n
		}
	}
	return out
}

// pickFiller returns a random filler line whose normalized form differs from
// the line it is breaking up.
func pickFiller(normalized string) string {
	start := rand.IntN(len(fillerLines))
	for i := 0; i < len(fillerLines); i++ {
		filler := fillerLines[(start+i)%len(fillerLines)]
		if NormalizeLine(filler) != normalized {
			return filler
		}
	}
	return fillerLines[start]
}

// sendLine paces, sends and persists one outbound line. The event is written
// only after the send attempt: a crash before it leaves no phantom bot line
// to advance the compositor cutoff past still-unanswered messages.
func (d *Dispatcher) sendLine(ctx context.Context, conv *models.Conversation, line string) {
	d.msg.SendTyping(ctx, conv.ChatID)
	delay := d.minLineDelay
	if jitter := d.maxLineDelay - d.minLineDelay; jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(jitter)))
	}
	if err := d.sleep(ctx, delay); err != nil {
		return
	}

	if err := d.msg.SendText(ctx, conv.ChatID, line); err != nil {
		slog.Error("Dispatcher.sendLine: send failed", "conversationID", conv.ID, "error", err)
		d.recordDiagnostic(conv, fmt.Sprintf("[ERRO: falha ao enviar mensagem: %v]", err))
	}
	event := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginBot,
		Content:        line,
	}
	if err := d.store.AddTurnEvent(event); err != nil {
		slog.Error("Dispatcher.sendLine: persist failed", "conversationID", conv.ID, "error", err)
	}
}

// runAction executes the decision's side effect. The switch is exhaustive
// over the action enum; adding a variant without a handler here is a
// compile-visible gap.
func (d *Dispatcher) runAction(ctx context.Context, conv *models.Conversation, decision *models.Decision) {
	switch decision.Action {
	case models.ActionNone:
		// nothing to do
	case models.ActionSendShowerPhoto, models.ActionSendLingeriePhoto,
		models.ActionSendWetPhoto, models.ActionSendVideoPreview:
		d.handleMediaSend(ctx, conv, decision.Action)
	case models.ActionRequestPayment:
		d.handleRequestPayment(ctx, conv, decision.PaymentDetails)
	case models.ActionCheckPayment:
		d.handleCheckPayment(ctx, conv)
	case models.ActionRequestAppInstall:
		d.handleAppInstall(ctx, conv)
	default:
		slog.Warn("Dispatcher.runAction: unknown action ignored", "action", decision.Action)
	}
}

func (d *Dispatcher) handleMediaSend(ctx context.Context, conv *models.Conversation, action models.Action) {
	asset, ok := d.media[action]
	if !ok || asset.URL == "" {
		slog.Error("Dispatcher.handleMediaSend: no media configured", "action", action)
		d.recordDiagnostic(conv, fmt.Sprintf("[ERRO: acao %s sem midia configurada]", action))
		return
	}
	if err := d.msg.SendMedia(ctx, conv.ChatID, asset.Kind, asset.URL, asset.Caption); err != nil {
		slog.Error("Dispatcher.handleMediaSend: send failed", "action", action, "error", err)
		d.sendFallbackLine(ctx, conv)
		d.recordDiagnostic(conv, fmt.Sprintf("[ERRO: falha ao enviar midia %s: %v]", action, err))
		return
	}
	marker := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginBot,
		Content:        FormatActionMarker(action, asset.URL),
		MediaURL:       asset.URL,
		MediaKind:      asset.Kind,
	}
	if err := d.store.AddTurnEvent(marker); err != nil {
		slog.Error("Dispatcher.handleMediaSend: marker persist failed", "action", action, "error", err)
	}
}

func (d *Dispatcher) handleRequestPayment(ctx context.Context, conv *models.Conversation, details *models.PaymentDetails) {
	amount := d.defaultAmount
	description := "conteudo exclusivo"
	if details != nil {
		if details.Amount > 0 {
			amount = details.Amount
		}
		if details.Description != "" {
			description = details.Description
		}
	}

	payerName := conv.UserName
	if payerName == "" {
		payerName = "Cliente"
	}
	created, err := d.payments.CreatePayment(ctx, payment.CreatePaymentParams{
		Value:       amount,
		Name:        payerName,
		Email:       fmt.Sprintf("lead-%s@%s", conv.ID, payerEmailDomain),
		Description: description,
		Metadata:    map[string]string{"conversation_id": conv.ID},
	})
	if err != nil {
		slog.Error("Dispatcher.handleRequestPayment: create failed", "conversationID", conv.ID, "error", err)
		if sendErr := d.msg.SendText(ctx, conv.ChatID, paymentFailureLine); sendErr != nil {
			slog.Error("Dispatcher.handleRequestPayment: fallback send failed", "error", sendErr)
		}
		d.recordDiagnostic(conv, fmt.Sprintf("[ERRO: falha ao gerar pix: %v]", err))
		return
	}

	// The payable code goes out before any bookkeeping: if persistence fails
	// afterwards the lead can still pay, and the provider remains the source
	// of truth for the charge.
	if err := d.msg.SendCopyableCode(ctx, conv.ChatID, created.PixCopiaCola); err != nil {
		slog.Error("Dispatcher.handleRequestPayment: code send failed", "conversationID", conv.ID, "error", err)
		d.recordDiagnostic(conv, fmt.Sprintf("[ERRO: falha ao enviar codigo pix: %v]", err))
	}

	marker := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginSystem,
		Content:        FormatPixCreated(amount, created.PaymentID),
	}
	if err := d.store.AddTurnEvent(marker); err != nil {
		slog.Error("Dispatcher.handleRequestPayment: marker persist failed", "error", err)
	}
	record := &models.PaymentRecord{
		ID:                util.GeneratePaymentID(),
		ConversationID:    conv.ID,
		ProviderPaymentID: created.PaymentID,
		Amount:            amount,
		PixCode:           created.PixCopiaCola,
		Status:            models.PaymentStatusPending,
	}
	if err := d.store.CreatePaymentRecord(record); err != nil {
		slog.Error("Dispatcher.handleRequestPayment: record persist failed", "error", err)
	}
}

func (d *Dispatcher) handleCheckPayment(ctx context.Context, conv *models.Conversation) {
	amount, providerID, recordID, found := d.locatePendingCharge(conv)
	if !found {
		if err := d.msg.SendText(ctx, conv.ChatID, askProofLine); err != nil {
			slog.Error("Dispatcher.handleCheckPayment: proof request send failed", "error", err)
		}
		return
	}

	status, err := d.payments.GetPaymentStatus(ctx, providerID)
	if err != nil {
		slog.Error("Dispatcher.handleCheckPayment: provider query failed", "providerID", providerID, "error", err)
		if sendErr := d.msg.SendText(ctx, conv.ChatID, askProofLine); sendErr != nil {
			slog.Error("Dispatcher.handleCheckPayment: fallback send failed", "error", sendErr)
		}
		d.recordDiagnostic(conv, fmt.Sprintf("[ERRO: falha ao consultar pagamento %s: %v]", providerID, err))
		return
	}

	if !status.Paid() {
		if err := d.msg.SendText(ctx, conv.ChatID, notClearedLine); err != nil {
			slog.Error("Dispatcher.handleCheckPayment: not-cleared send failed", "error", err)
		}
		return
	}

	total, err := d.store.AddAmountPaid(conv.ID, amount)
	if err != nil {
		slog.Error("Dispatcher.handleCheckPayment: total update failed", "conversationID", conv.ID, "error", err)
		total = conv.AmountPaid + amount
	}
	if recordID != "" {
		if err := d.store.MarkPaymentConfirmed(recordID, time.Now().UTC()); err != nil {
			slog.Error("Dispatcher.handleCheckPayment: record confirm failed", "recordID", recordID, "error", err)
		}
	}
	marker := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginSystem,
		Content:        FormatPixConfirmed(amount, total),
	}
	if err := d.store.AddTurnEvent(marker); err != nil {
		slog.Error("Dispatcher.handleCheckPayment: confirmation marker persist failed", "error", err)
	}
	if err := d.msg.SendText(ctx, conv.ChatID, paidThanksLine); err != nil {
		slog.Error("Dispatcher.handleCheckPayment: thanks send failed", "error", err)
	}
}

// locatePendingCharge finds the charge to verify: the structured payments
// table first, then the legacy transcript marker for conversations recorded
// before the table existed.
func (d *Dispatcher) locatePendingCharge(conv *models.Conversation) (amount float64, providerID, recordID string, found bool) {
	record, err := d.store.LatestPendingPayment(conv.ID)
	if err == nil && record != nil {
		return record.Amount, record.ProviderPaymentID, record.ID, true
	}
	if err != nil {
		slog.Error("Dispatcher.locatePendingCharge: record lookup failed", "conversationID", conv.ID, "error", err)
	}

	events, err := d.store.ListRecentEvents(conv.ID, time.Now().UTC(), 50, models.EventOriginSystem)
	if err != nil {
		slog.Error("Dispatcher.locatePendingCharge: marker scan failed", "conversationID", conv.ID, "error", err)
		return 0, "", "", false
	}
	for i := len(events) - 1; i >= 0; i-- {
		if a, id, ok := ParsePixCreated(events[i].Content); ok {
			return a, id, "", true
		}
	}
	return 0, "", "", false
}

func (d *Dispatcher) handleAppInstall(ctx context.Context, conv *models.Conversation) {
	asset, ok := d.media[models.ActionRequestAppInstall]
	if !ok || asset.URL == "" {
		slog.Warn("Dispatcher.handleAppInstall: no install link configured")
		return
	}
	line := asset.Caption
	if line == "" {
		line = asset.URL
	} else {
		line = line + " " + asset.URL
	}
	if err := d.msg.SendText(ctx, conv.ChatID, line); err != nil {
		slog.Error("Dispatcher.handleAppInstall: send failed", "error", err)
		d.recordDiagnostic(conv, fmt.Sprintf("[ERRO: falha ao enviar link do app: %v]", err))
		return
	}
	marker := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginBot,
		Content:        FormatActionMarker(models.ActionRequestAppInstall, asset.URL),
	}
	if err := d.store.AddTurnEvent(marker); err != nil {
		slog.Error("Dispatcher.handleAppInstall: marker persist failed", "error", err)
	}
}

func (d *Dispatcher) sendFallbackLine(ctx context.Context, conv *models.Conversation) {
	if err := d.msg.SendText(ctx, conv.ChatID, sendFailureLine); err != nil {
		slog.Error("Dispatcher.sendFallbackLine failed", "conversationID", conv.ID, "error", err)
	}
}

// recordDiagnostic persists an operator-visible system event. Never
// user-facing.
func (d *Dispatcher) recordDiagnostic(conv *models.Conversation, content string) {
	event := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginSystem,
		Content:        content,
	}
	if err := d.store.AddTurnEvent(event); err != nil {
		slog.Error("Dispatcher.recordDiagnostic: persist failed", "conversationID", conv.ID, "error", err)
	}
}
