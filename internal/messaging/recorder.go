package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/vendaflow/vendaflow/internal/models"
)

// SentItem records one delivery made through the RecorderService.
type SentItem struct {
	To      string
	Kind    string // "text", "code", or the media kind
	Body    string
	URL     string
	Caption string
}

// RecorderService is an in-memory Service used in tests. It records every
// send and can be told to fail.
type RecorderService struct {
	mu      sync.Mutex
	Sent    []SentItem
	Typing  int
	FailAll bool
	Err     error
}

// Compile-time check that RecorderService implements Service.
var _ Service = (*RecorderService)(nil)

func NewRecorderService() *RecorderService {
	return &RecorderService{}
}

func (s *RecorderService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if _, err := canonicalizeChatID(recipient); err != nil {
		return "", err
	}
	return recipient, nil
}

func (s *RecorderService) SendText(ctx context.Context, to string, body string) error {
	return s.record(SentItem{To: to, Kind: "text", Body: body})
}

func (s *RecorderService) SendCopyableCode(ctx context.Context, to string, code string) error {
	return s.record(SentItem{To: to, Kind: "code", Body: code})
}

func (s *RecorderService) SendMedia(ctx context.Context, to string, kind models.MediaKind, url, caption string) error {
	return s.record(SentItem{To: to, Kind: string(kind), URL: url, Caption: caption})
}

func (s *RecorderService) SendTyping(ctx context.Context, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Typing++
}

func (s *RecorderService) record(item SentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		if s.Err != nil {
			return s.Err
		}
		return errors.New("send failed")
	}
	s.Sent = append(s.Sent, item)
	return nil
}

// Texts returns the bodies of all recorded text sends, in order.
func (s *RecorderService) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, item := range s.Sent {
		if item.Kind == "text" {
			out = append(out, item.Body)
		}
	}
	return out
}
