package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/telegram"
)

// TelegramService adapts the Telegram client to the Service interface.
type TelegramService struct {
	client *telegram.Client
}

// Compile-time check that TelegramService implements Service.
var _ Service = (*TelegramService)(nil)

// NewTelegramService wraps a Telegram client as a messaging Service.
func NewTelegramService(client *telegram.Client) *TelegramService {
	return &TelegramService{client: client}
}

func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	id, err := canonicalizeChatID(recipient)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *TelegramService) SendText(ctx context.Context, to string, body string) error {
	id, err := canonicalizeChatID(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, id, body); err != nil {
		slog.Error("TelegramService.SendText failed", "to", to, "error", err)
		return err
	}
	return nil
}

func (s *TelegramService) SendCopyableCode(ctx context.Context, to string, code string) error {
	id, err := canonicalizeChatID(to)
	if err != nil {
		return err
	}
	if err := s.client.SendCopyableCode(ctx, id, code); err != nil {
		slog.Error("TelegramService.SendCopyableCode failed", "to", to, "error", err)
		return err
	}
	return nil
}

func (s *TelegramService) SendMedia(ctx context.Context, to string, kind models.MediaKind, url, caption string) error {
	id, err := canonicalizeChatID(to)
	if err != nil {
		return err
	}
	switch kind {
	case models.MediaKindImage:
		err = s.client.SendPhoto(ctx, id, url, caption)
	case models.MediaKindVideo:
		err = s.client.SendVideo(ctx, id, url, caption)
	default:
		return fmt.Errorf("unsupported media kind %q", kind)
	}
	if err != nil {
		slog.Error("TelegramService.SendMedia failed", "to", to, "kind", kind, "error", err)
		return err
	}
	return nil
}

func (s *TelegramService) SendTyping(ctx context.Context, to string) {
	id, err := canonicalizeChatID(to)
	if err != nil {
		return
	}
	s.client.SendTyping(ctx, id)
}
