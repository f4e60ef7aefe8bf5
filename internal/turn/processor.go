package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vendaflow/vendaflow/internal/genai"
	"github.com/vendaflow/vendaflow/internal/messaging"
	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/util"
)

// Outcome reports what a processed turn did. Status uses the shared
// models.TurnStatus vocabulary; Decision is set only on TurnDone.
type Outcome struct {
	Status   models.TurnStatus
	Decision *models.Decision
	Fallback bool
}

// ProcessTurnPayload is the durable job body scheduled per inbound message.
type ProcessTurnPayload struct {
	ConversationID string `json:"conversation_id"`
	TriggerEventID string `json:"trigger_event_id"`
	DebounceToken  string `json:"debounce_token"`
}

// Processor runs the full turn pipeline: eligibility, composition, decision,
// score reconciliation and dispatch.
type Processor struct {
	store      store.Store
	msg        messaging.Service
	engine     genai.ClientInterface
	compositor *Compositor
	dispatcher *Dispatcher
}

// NewProcessor wires the turn pipeline.
func NewProcessor(st store.Store, msg messaging.Service, engine genai.ClientInterface, compositor *Compositor, dispatcher *Dispatcher) *Processor {
	return &Processor{
		store:      st,
		msg:        msg,
		engine:     engine,
		compositor: compositor,
		dispatcher: dispatcher,
	}
}

// HandleProcessTurnJob is the job-queue entry point. Supersession and pause
// outcomes are normal exits, not job failures; only infrastructure errors
// propagate so the queue retries them.
func (p *Processor) HandleProcessTurnJob(ctx context.Context, payload string) error {
	var body ProcessTurnPayload
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return fmt.Errorf("decode turn payload: %w", err)
	}
	result, err := p.ProcessTurn(ctx, body)
	if err != nil {
		return err
	}
	slog.Info("Processor.HandleProcessTurnJob: turn finished",
		"conversationID", body.ConversationID, "status", result.Status, "fallback", result.Fallback)
	return nil
}

// ProcessTurn runs one turn for the conversation named in the payload.
func (p *Processor) ProcessTurn(ctx context.Context, payload ProcessTurnPayload) (*Outcome, error) {
	conv, err := p.store.GetConversation(payload.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", payload.ConversationID, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("load conversation %s: %w", payload.ConversationID, models.ErrConversationNotFound)
	}
	if conv.Status != models.ConversationStatusActive {
		return &Outcome{Status: models.TurnPaused}, nil
	}

	if superseded, err := p.isSuperseded(conv, payload); err != nil {
		return nil, err
	} else if superseded {
		return &Outcome{Status: models.TurnSuperseded}, nil
	}

	// The lead sees typing as soon as the turn is claimed, before the engine
	// round trip adds its latency.
	p.msg.SendTyping(ctx, conv.ChatID)

	composed, err := p.compositor.Compose(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("compose turn: %w", err)
	}
	if composed == nil {
		return &Outcome{Status: models.TurnEmpty}, nil
	}

	decision, fallback := p.decide(ctx, conv, composed)

	if decision.InternalThought != "" {
		thought := &models.TurnEvent{
			ID:             util.GenerateEventID(),
			ConversationID: conv.ID,
			Origin:         models.EventOriginThought,
			Content:        decision.InternalThought,
		}
		if err := p.store.AddTurnEvent(thought); err != nil {
			slog.Error("Processor.ProcessTurn: thought persist failed", "conversationID", conv.ID, "error", err)
		}
	}

	p.reconcile(conv, composed, decision, fallback)

	if decision.ExtractedUserName != nil && *decision.ExtractedUserName != "" {
		if err := p.store.UpdateUserName(conv.ID, *decision.ExtractedUserName); err != nil {
			slog.Error("Processor.ProcessTurn: name update failed", "conversationID", conv.ID, "error", err)
		} else {
			conv.UserName = *decision.ExtractedUserName
		}
	}

	p.dispatcher.Dispatch(ctx, conv, decision)

	// A consumed force-sale directive must not re-fire on the next turn.
	for _, id := range composed.ForceSaleEventIDs {
		if err := p.store.DeleteTurnEvent(id); err != nil {
			slog.Error("Processor.ProcessTurn: force-sale cleanup failed", "eventID", id, "error", err)
		}
	}

	return &Outcome{Status: models.TurnDone, Decision: decision, Fallback: fallback}, nil
}

// isSuperseded reports whether a newer inbound message or a newer debounce
// token displaced this job.
func (p *Processor) isSuperseded(conv *models.Conversation, payload ProcessTurnPayload) (bool, error) {
	if payload.DebounceToken != "" && conv.DebounceToken != "" && payload.DebounceToken != conv.DebounceToken {
		return true, nil
	}
	if payload.TriggerEventID == "" {
		// Force-sale and sweep jobs are not tied to a specific inbound event.
		return false, nil
	}
	latest, err := p.store.LatestEventByOrigin(conv.ID, models.EventOriginUser)
	if err != nil {
		return false, fmt.Errorf("check latest inbound: %w", err)
	}
	return latest != nil && latest.ID != payload.TriggerEventID, nil
}

// decide asks the engine for a decision, degrading to the canned fallback on
// any engine failure so the lead always gets a reply.
func (p *Processor) decide(ctx context.Context, conv *models.Conversation, composed *ComposedTurn) (*models.Decision, bool) {
	persona, err := p.store.GetSetting(SettingPersonaPrompt)
	if err != nil {
		slog.Error("Processor.decide: persona lookup failed", "error", err)
	}

	history, err := p.compositor.History(ctx, conv, composed.Cutoff)
	if err != nil {
		slog.Error("Processor.decide: history load failed", "conversationID", conv.ID, "error", err)
		history = nil
	}

	decision, err := p.engine.Decide(ctx, genai.DecisionRequest{
		SystemPrompt: BuildSystemPrompt(persona, conv),
		History:      history,
		TurnContent:  composed.Prompt,
		Audio:        composed.Audio,
	})
	if err != nil {
		slog.Error("Processor.decide: engine failed, using fallback", "conversationID", conv.ID, "error", err)
		return genai.FallbackDecision(conv.FunnelPhase), true
	}
	return decision, false
}

// reconcile merges the engine's score with the keyword heuristic and persists
// the result. A fallback decision carries no engine score, so the heuristic
// alone moves the gauges.
func (p *Processor) reconcile(conv *models.Conversation, composed *ComposedTurn, decision *models.Decision, fallback bool) {
	preTurn := conv.LeadScore
	combined := strings.Join(composed.UserLines, "\n")
	heuristic := HeuristicScore(preTurn, combined)

	var final models.LeadScore
	if fallback {
		final = heuristic
	} else {
		final = ReconcileScores(preTurn, decision.LeadScore, heuristic)
	}
	// Persisted even without movement so a legacy all-zero row picks up the
	// baseline on its first turn.
	if err := p.store.UpdateLeadScore(conv.ID, final); err != nil {
		slog.Error("Processor.reconcile: score update failed", "conversationID", conv.ID, "error", err)
		return
	}
	conv.LeadScore = final
}
