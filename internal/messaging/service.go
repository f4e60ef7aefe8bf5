// Package messaging defines the pluggable delivery abstraction between the
// turn pipeline and the chat platform.
package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vendaflow/vendaflow/internal/models"
)

// Service defines a pluggable message delivery abstraction. The turn
// dispatcher talks to this interface so the pipeline stays platform-agnostic.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails. Each service implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendCopyableCode sends text formatted for one-tap copy. Used for PIX
	// copy-paste codes.
	SendCopyableCode(ctx context.Context, to string, code string) error

	// SendMedia sends a media asset by URL with an optional caption.
	SendMedia(ctx context.Context, to string, kind models.MediaKind, url, caption string) error

	// SendTyping shows a typing indicator. Best-effort.
	SendTyping(ctx context.Context, to string)
}

// canonicalizeChatID validates a numeric chat identifier, stripping nothing:
// Telegram chat IDs are signed integers rendered as decimal strings.
func canonicalizeChatID(recipient string) (int64, error) {
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID %q: %w", recipient, err)
	}
	return id, nil
}
