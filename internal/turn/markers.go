// Package turn implements the message-debounce-and-turn-resolution pipeline:
// ingress normalization, burst debouncing, turn composition, score
// reconciliation and reply dispatch.
package turn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vendaflow/vendaflow/internal/models"
)

// ForceSaleMarker is the operator directive that pushes the next turn toward
// closing. It fires at most once: the compositor deletes the event after the
// turn completes.
const ForceSaleMarker = "[ADMIN: FORCAR_VENDA]"

// Payment markers round-trip through the transcript as fixed textual
// patterns. The structured payments table is authoritative; the markers keep
// stored history parseable for older conversations and operator display.
var (
	pixCreatedRe   = regexp.MustCompile(`\[PIX_GERADO: valor=([0-9]+(?:\.[0-9]+)?) id=([^\]\s]+)\]`)
	pixConfirmedRe = regexp.MustCompile(`\[PIX_CONFIRMADO: valor=([0-9]+(?:\.[0-9]+)?) total=([0-9]+(?:\.[0-9]+)?)\]`)
)

// FormatPixCreated renders the payment-creation marker.
func FormatPixCreated(amount float64, providerID string) string {
	return fmt.Sprintf("[PIX_GERADO: valor=%.2f id=%s]", amount, providerID)
}

// ParsePixCreated extracts the amount and provider payment ID from a
// payment-creation marker. Returns ok=false if the content does not match.
func ParsePixCreated(content string) (amount float64, providerID string, ok bool) {
	m := pixCreatedRe.FindStringSubmatch(content)
	if m == nil {
		return 0, "", false
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", false
	}
	return amount, m[2], true
}

// FormatPixConfirmed renders the payment-confirmation marker with the
// confirmed amount and the new cumulative total.
func FormatPixConfirmed(amount, total float64) string {
	return fmt.Sprintf("[PIX_CONFIRMADO: valor=%.2f total=%.2f]", amount, total)
}

// ParsePixConfirmed extracts the confirmed amount and cumulative total from a
// confirmation marker.
func ParsePixConfirmed(content string) (amount, total float64, ok bool) {
	m := pixConfirmedRe.FindStringSubmatch(content)
	if m == nil {
		return 0, 0, false
	}
	amount, err1 := strconv.ParseFloat(m[1], 64)
	total, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return amount, total, true
}

// FormatActionMarker records which side-effect action fired and which media
// reference was used.
func FormatActionMarker(action models.Action, mediaRef string) string {
	return fmt.Sprintf("[MEDIA: %s ref=%s]", action, mediaRef)
}

// Inbound media placeholders. Ingress stores these as the event content; the
// compositor later resolves the handle through the platform API.
var (
	audioRefRe = regexp.MustCompile(`^\[AUDIO_REF: ([^\]]+)\]$`)
	photoRefRe = regexp.MustCompile(`^\[PHOTO_REF: ([^\]]+)\]`)
	videoRefRe = regexp.MustCompile(`^\[VIDEO_REF: ([^\]]+)\]`)
)

// FormatAudioRef renders the placeholder for an inbound voice or audio file.
func FormatAudioRef(handle string) string {
	return fmt.Sprintf("[AUDIO_REF: %s]", handle)
}

// FormatPhotoRef renders the placeholder for an inbound photo.
func FormatPhotoRef(handle string) string {
	return fmt.Sprintf("[PHOTO_REF: %s]", handle)
}

// FormatVideoRef renders the placeholder for an inbound video with its caption.
func FormatVideoRef(handle, caption string) string {
	if caption == "" {
		return fmt.Sprintf("[VIDEO_REF: %s]", handle)
	}
	return fmt.Sprintf("[VIDEO_REF: %s] Caption: %s", handle, caption)
}

// MediaRef is a parsed inbound media placeholder.
type MediaRef struct {
	Kind    models.MediaKind
	Handle  string
	Caption string
}

// ParseMediaRef recognizes an inbound media placeholder. Returns nil for
// plain text content.
func ParseMediaRef(content string) *MediaRef {
	if m := audioRefRe.FindStringSubmatch(content); m != nil {
		return &MediaRef{Kind: models.MediaKindAudio, Handle: m[1]}
	}
	if m := photoRefRe.FindStringSubmatch(content); m != nil {
		return &MediaRef{Kind: models.MediaKindImage, Handle: m[1]}
	}
	if m := videoRefRe.FindStringSubmatch(content); m != nil {
		ref := &MediaRef{Kind: models.MediaKindVideo, Handle: m[1]}
		if idx := strings.Index(content, "] Caption: "); idx >= 0 {
			ref.Caption = content[idx+len("] Caption: "):]
		}
		return ref
	}
	return nil
}
