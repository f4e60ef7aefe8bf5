package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vendaflow/vendaflow/internal/genai"
	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/store"
)

// Annotations appended to the composed prompt. They are instructions to the
// decision engine, never shown to the lead.
const (
	loopBreakAnnotation = "[INSTRUCAO INTERNA: o lead repetiu a mesma mensagem %d vezes seguidas. Nao repita sua resposta anterior; quebre o loop mudando de assunto ou fazendo uma pergunta direta.]"

	forceSaleAnnotation = "[INSTRUCAO INTERNA: o operador mandou iniciar a venda AGORA. Conduza a conversa para o fechamento com preco nesta resposta.]"

	audioSubstitute = "[o lead enviou um audio; responda como se tivesse ouvido, pedindo para ele digitar se algo ficou confuso]"
	photoSubstitute = "[o lead enviou uma foto; reaja com naturalidade sem descrever a imagem]"
	videoSubstitute = "[o lead enviou um video; reaja com naturalidade sem descrever o conteudo]"
)

// historyLimit caps how many prior events are replayed to the engine.
const historyLimit = 30

// FileResolver resolves a platform file handle to a downloadable URL and
// fetches its bytes. Satisfied by the Telegram client.
type FileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

// ComposedTurn is the compositor's output: the prompt the engine will see
// plus the side context the rest of the pipeline needs.
type ComposedTurn struct {
	Prompt            string
	UserLines         []string // raw selected lines, for the heuristic and repetition checks
	Audio             *genai.AudioAttachment
	Cutoff            time.Time
	ForceSale         bool
	ForceSaleEventIDs []string
}

// Compositor builds the engine prompt for one turn from stored events.
type Compositor struct {
	store store.Store
	files FileResolver
}

// NewCompositor creates a compositor. files may be nil, in which case media
// placeholders are substituted without URL resolution.
func NewCompositor(st store.Store, files FileResolver) *Compositor {
	return &Compositor{store: st, files: files}
}

// Compose selects every unanswered event since the last bot reply and builds
// the combined prompt. Returns nil (no error) when nothing is unanswered.
func (c *Compositor) Compose(ctx context.Context, conv *models.Conversation) (*ComposedTurn, error) {
	cutoff := time.Time{}
	lastBot, err := c.store.LatestEventByOrigin(conv.ID, models.EventOriginBot)
	if err != nil {
		return nil, fmt.Errorf("find last bot event: %w", err)
	}
	if lastBot != nil {
		cutoff = lastBot.CreatedAt
	}

	events, err := c.store.ListEventsSince(conv.ID, cutoff, models.EventOriginUser, models.EventOriginSystem)
	if err != nil {
		return nil, fmt.Errorf("list unanswered events: %w", err)
	}

	turn := &ComposedTurn{Cutoff: cutoff}
	var lines []string
	for _, e := range events {
		switch e.Origin {
		case models.EventOriginUser:
			line := c.resolveLine(ctx, e, turn)
			lines = append(lines, line)
			turn.UserLines = append(turn.UserLines, line)
		case models.EventOriginSystem:
			// Only recognized operator directives feed the prompt.
			if strings.HasPrefix(e.Content, ForceSaleMarker) {
				turn.ForceSale = true
				turn.ForceSaleEventIDs = append(turn.ForceSaleEventIDs, e.ID)
			}
		}
	}
	if len(lines) == 0 && !turn.ForceSale {
		return nil, nil
	}

	combined := strings.Join(lines, "\n")
	if run := TrailingRepetitionCount(turn.UserLines); run >= 2 {
		combined += "\n" + fmt.Sprintf(loopBreakAnnotation, run)
	}
	if turn.ForceSale {
		combined += "\n" + forceSaleAnnotation
	}
	turn.Prompt = combined
	return turn, nil
}

// resolveLine turns a stored event into a prompt line, resolving media
// placeholders. Raw imagery is never forwarded to the engine: photo and video
// placeholders become neutral in-persona instructions with the resolved URL
// attached to the event for operator visibility only. Voice notes are
// downloaded and handed to the engine as an audio attachment next to the
// substitute instruction.
func (c *Compositor) resolveLine(ctx context.Context, e models.TurnEvent, turn *ComposedTurn) string {
	ref := ParseMediaRef(e.Content)
	if ref == nil {
		return e.Content
	}

	url := e.MediaURL
	if c.files != nil && url == "" {
		resolved, err := c.files.FileURL(ctx, ref.Handle)
		if err != nil {
			slog.Warn("Compositor.resolveLine: media resolution failed", "eventID", e.ID, "error", err)
		} else {
			url = resolved
			if err := c.store.AttachEventMedia(e.ID, url, ref.Kind); err != nil {
				slog.Warn("Compositor.resolveLine: attach media failed", "eventID", e.ID, "error", err)
			}
		}
	}

	switch ref.Kind {
	case models.MediaKindAudio:
		// The most recent voice note in the turn wins; the substitute line
		// still tells the engine an audio arrived even when the fetch fails.
		if c.files != nil && url != "" {
			data, err := c.files.DownloadFile(ctx, url)
			if err != nil {
				slog.Warn("Compositor.resolveLine: audio download failed", "eventID", e.ID, "error", err)
			} else {
				turn.Audio = &genai.AudioAttachment{Data: data, Format: audioFormat(url)}
			}
		}
		return audioSubstitute
	case models.MediaKindVideo:
		if ref.Caption != "" {
			return videoSubstitute + " Legenda: " + ref.Caption
		}
		return videoSubstitute
	default:
		return photoSubstitute
	}
}

// audioFormat maps a file URL to the engine's audio input format. The API
// accepts wav and mp3; Telegram voice notes (ogg/opus) are labeled mp3 and
// the endpoint sniffs the actual codec from the payload.
func audioFormat(url string) string {
	if strings.HasSuffix(strings.ToLower(url), ".wav") {
		return "wav"
	}
	return "mp3"
}

// History reconstructs the recent exchange for the engine, ending at the
// cutoff so the freshly composed turn is not duplicated. The engine retains
// no memory between invocations; this is its only view of the past.
func (c *Compositor) History(ctx context.Context, conv *models.Conversation, cutoff time.Time) ([]genai.HistoryMessage, error) {
	if cutoff.IsZero() {
		return nil, nil
	}
	events, err := c.store.ListRecentEvents(conv.ID, cutoff, historyLimit, models.EventOriginUser, models.EventOriginBot)
	if err != nil {
		return nil, fmt.Errorf("list history events: %w", err)
	}
	out := make([]genai.HistoryMessage, 0, len(events))
	for _, e := range events {
		role := "user"
		if e.Origin == models.EventOriginBot {
			role = "assistant"
		}
		out = append(out, genai.HistoryMessage{Role: role, Content: e.Content})
	}
	return out, nil
}
