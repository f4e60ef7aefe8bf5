package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"

	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/util"
)

// SettleDelay is how long a burst of inbound messages is allowed to settle
// before a turn is processed. Each message reschedules the turn this far out.
const SettleDelay = 6 * time.Second

// Ingress normalizes platform updates into stored turn events and schedules
// the debounced turn job.
type Ingress struct {
	store store.Store
	jobs  store.JobRepo
}

// NewIngress creates an ingress handler.
func NewIngress(st store.Store, jobs store.JobRepo) *Ingress {
	return &Ingress{store: st, jobs: jobs}
}

// HandleUpdate ingests one platform update. It always returns quickly: the
// engine round trip happens later, in the scheduled job. Updates with no
// usable payload are acknowledged and dropped.
func (i *Ingress) HandleUpdate(ctx context.Context, update telego.Update) error {
	msg := update.Message
	if msg == nil {
		// An edited message is treated as a fresh line in the conversation.
		msg = update.EditedMessage
	}
	if msg == nil {
		return nil
	}
	content := extractContent(msg)
	if content == "" {
		slog.Debug("Ingress.HandleUpdate: update without usable payload", "chatID", msg.Chat.ID)
		return nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	conv, err := i.findOrCreateConversation(chatID, msg)
	if err != nil {
		return err
	}

	event := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginUser,
		Content:        content,
	}
	if err := i.store.AddTurnEvent(event); err != nil {
		return fmt.Errorf("persist inbound event: %w", err)
	}

	now := time.Now().UTC()
	if err := i.store.TouchInbound(conv.ID, now); err != nil {
		slog.Error("Ingress.HandleUpdate: inbound timestamp update failed", "conversationID", conv.ID, "error", err)
	}
	if conv.NeedsReengage {
		if err := i.store.ClearReengageFlag(conv.ID); err != nil {
			slog.Error("Ingress.HandleUpdate: reengage clear failed", "conversationID", conv.ID, "error", err)
		}
	}

	token := uuid.NewString()
	if err := i.store.SetDebounceToken(conv.ID, token); err != nil {
		slog.Error("Ingress.HandleUpdate: debounce token update failed", "conversationID", conv.ID, "error", err)
	}

	i.scheduleTurn(conv.ID, ProcessTurnPayload{
		ConversationID: conv.ID,
		TriggerEventID: event.ID,
		DebounceToken:  token,
	}, now.Add(SettleDelay))
	return nil
}

// HandleForceSale records the operator's force-sale directive and schedules
// an immediate turn so it fires without waiting for the lead to speak.
func (i *Ingress) HandleForceSale(conversationID string) error {
	conv, err := i.store.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if conv == nil {
		return models.ErrConversationNotFound
	}

	event := &models.TurnEvent{
		ID:             util.GenerateEventID(),
		ConversationID: conv.ID,
		Origin:         models.EventOriginSystem,
		Content:        ForceSaleMarker,
	}
	if err := i.store.AddTurnEvent(event); err != nil {
		return fmt.Errorf("persist force-sale directive: %w", err)
	}

	i.scheduleTurn(conv.ID, ProcessTurnPayload{ConversationID: conv.ID}, time.Now().UTC())
	return nil
}

// scheduleTurn enqueues the turn job. Scheduling failures are logged and
// swallowed: the recovery sweep picks up conversations whose job never ran.
func (i *Ingress) scheduleTurn(conversationID string, payload ProcessTurnPayload, runAt time.Time) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Ingress.scheduleTurn: payload encode failed", "conversationID", conversationID, "error", err)
		return
	}
	if _, err := i.jobs.EnqueueJob(store.JobKindProcessTurn, runAt, string(body), ""); err != nil {
		slog.Error("Ingress.scheduleTurn: enqueue failed", "conversationID", conversationID, "error", err)
	}
}

func (i *Ingress) findOrCreateConversation(chatID string, msg *telego.Message) (*models.Conversation, error) {
	conv, err := i.store.GetConversationByChatID(chatID)
	if err != nil {
		return nil, fmt.Errorf("find conversation for chat %s: %w", chatID, err)
	}
	if conv != nil {
		return conv, nil
	}

	conv = &models.Conversation{
		ID:          util.GenerateConversationID(),
		ChatID:      chatID,
		Status:      models.ConversationStatusActive,
		FunnelPhase: models.PhaseWelcome,
	}
	if msg.From != nil {
		conv.UserName = msg.From.FirstName
	}
	if err := i.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("create conversation for chat %s: %w", chatID, err)
	}
	slog.Info("Ingress.findOrCreateConversation: new conversation", "conversationID", conv.ID, "chatID", chatID)
	return conv, nil
}

// extractContent maps a platform message to stored event content. Text is
// stored verbatim; media becomes a placeholder carrying the platform file
// handle, resolved later by the compositor. Returns "" for unusable updates.
func extractContent(msg *telego.Message) string {
	switch {
	case msg.Text != "":
		return msg.Text
	case msg.Voice != nil:
		return FormatAudioRef(msg.Voice.FileID)
	case msg.Audio != nil:
		return FormatAudioRef(msg.Audio.FileID)
	case len(msg.Photo) > 0:
		// Telegram orders photo sizes ascending; the last is the original.
		return FormatPhotoRef(msg.Photo[len(msg.Photo)-1].FileID)
	case msg.Video != nil:
		return FormatVideoRef(msg.Video.FileID, msg.Caption)
	default:
		return ""
	}
}
