package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/store"
)

func textUpdate(chatID int64, text string) telego.Update {
	return telego.Update{
		Message: &telego.Message{
			Chat: telego.Chat{ID: chatID},
			From: &telego.User{FirstName: "Ana"},
			Text: text,
		},
	}
}

func claimAllJobs(t *testing.T, s store.JobRepo) []store.Job {
	t.Helper()
	jobs, err := s.ClaimDueJobs(time.Now().UTC().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	return jobs
}

func TestHandleUpdateCreatesConversationAndSchedulesTurn(t *testing.T) {
	s := newTestStore(t)
	ing := NewIngress(s, s)

	before := time.Now().UTC()
	if err := ing.HandleUpdate(context.Background(), textUpdate(12345, "oi")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}

	conv, err := s.GetConversationByChatID("12345")
	if err != nil {
		t.Fatalf("GetConversationByChatID failed: %v", err)
	}
	if conv == nil {
		t.Fatal("conversation not created")
	}
	if conv.UserName != "Ana" || conv.Status != models.ConversationStatusActive {
		t.Errorf("conversation = %+v", conv)
	}
	if conv.DebounceToken == "" {
		t.Error("debounce token not set")
	}
	if conv.LastInboundAt == nil {
		t.Error("inbound timestamp not set")
	}

	event, err := s.LatestEventByOrigin(conv.ID, models.EventOriginUser)
	if err != nil || event == nil || event.Content != "oi" {
		t.Fatalf("inbound event = %+v, err %v", event, err)
	}

	jobs := claimAllJobs(t, s)
	if len(jobs) != 1 || jobs[0].Kind != store.JobKindProcessTurn {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].RunAt.Before(before.Add(SettleDelay - time.Second)) {
		t.Errorf("job should settle ~%v out, ran at %v", SettleDelay, jobs[0].RunAt)
	}

	var payload ProcessTurnPayload
	if err := json.Unmarshal([]byte(jobs[0].PayloadJSON), &payload); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if payload.ConversationID != conv.ID || payload.TriggerEventID != event.ID || payload.DebounceToken != conv.DebounceToken {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHandleUpdateReusesConversation(t *testing.T) {
	s := newTestStore(t)
	ing := NewIngress(s, s)

	if err := ing.HandleUpdate(context.Background(), textUpdate(777, "oi")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	first, _ := s.GetConversationByChatID("777")
	if err := ing.HandleUpdate(context.Background(), textUpdate(777, "tudo bem?")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	second, _ := s.GetConversationByChatID("777")

	if first.ID != second.ID {
		t.Error("a second message must not create a new conversation")
	}
	if first.DebounceToken == second.DebounceToken {
		t.Error("each message must rotate the debounce token")
	}

	events, err := s.ListEventsSince(second.ID, time.Time{}, models.EventOriginUser)
	if err != nil || len(events) != 2 {
		t.Errorf("events = %+v, err %v", events, err)
	}
	if jobs := claimAllJobs(t, s); len(jobs) != 2 {
		t.Errorf("jobs = %d", len(jobs))
	}
}

func TestHandleUpdateClearsReengageFlag(t *testing.T) {
	s := newTestStore(t)
	ingress := NewIngress(s, s)

	if err := ingress.HandleUpdate(context.Background(), textUpdate(555, "oi")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	conv, _ := s.GetConversationByChatID("555")
	if err := s.SetReengageFlag(conv.ID); err != nil {
		t.Fatalf("SetReengageFlag failed: %v", err)
	}

	if err := ingress.HandleUpdate(context.Background(), textUpdate(555, "voltei")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	conv, _ = s.GetConversationByChatID("555")
	if conv.NeedsReengage {
		t.Error("an inbound message must clear the reengage flag")
	}
}

func TestHandleUpdateMediaPlaceholders(t *testing.T) {
	s := newTestStore(t)
	ingress := NewIngress(s, s)

	cases := []struct {
		name   string
		update telego.Update
		want   string
	}{
		{
			"voice",
			telego.Update{Message: &telego.Message{
				Chat:  telego.Chat{ID: 1},
				Voice: &telego.Voice{FileID: "v1"},
			}},
			FormatAudioRef("v1"),
		},
		{
			"photo picks largest size",
			telego.Update{Message: &telego.Message{
				Chat:  telego.Chat{ID: 2},
				Photo: []telego.PhotoSize{{FileID: "small"}, {FileID: "large"}},
			}},
			FormatPhotoRef("large"),
		},
		{
			"video with caption",
			telego.Update{Message: &telego.Message{
				Chat:    telego.Chat{ID: 3},
				Video:   &telego.Video{FileID: "vid1"},
				Caption: "olha",
			}},
			FormatVideoRef("vid1", "olha"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ingress.HandleUpdate(context.Background(), tc.update); err != nil {
				t.Fatalf("HandleUpdate failed: %v", err)
			}
			conv, err := s.GetConversationByChatID(strconv.FormatInt(tc.update.Message.Chat.ID, 10))
			if err != nil || conv == nil {
				t.Fatalf("conversation lookup failed: %v", err)
			}
			event, err := s.LatestEventByOrigin(conv.ID, models.EventOriginUser)
			if err != nil || event == nil {
				t.Fatalf("event lookup failed: %v", err)
			}
			if event.Content != tc.want {
				t.Errorf("content = %q, want %q", event.Content, tc.want)
			}
		})
	}
}

func TestHandleUpdateAcceptsEditedMessage(t *testing.T) {
	s := newTestStore(t)
	ingress := NewIngress(s, s)

	update := telego.Update{
		EditedMessage: &telego.Message{
			Chat: telego.Chat{ID: 77},
			From: &telego.User{FirstName: "Ana"},
			Text: "corrigindo, amanha",
		},
	}
	if err := ingress.HandleUpdate(context.Background(), update); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}

	conv, err := s.GetConversationByChatID("77")
	if err != nil || conv == nil {
		t.Fatalf("conversation lookup failed: %v", err)
	}
	latest, err := s.LatestEventByOrigin(conv.ID, models.EventOriginUser)
	if err != nil || latest == nil || latest.Content != "corrigindo, amanha" {
		t.Errorf("edited message not stored: %+v, err %v", latest, err)
	}
	if len(claimAllJobs(t, s)) != 1 {
		t.Error("edited message should schedule a turn")
	}
}

func TestHandleUpdateIgnoresUnusablePayload(t *testing.T) {
	s := newTestStore(t)
	ingress := NewIngress(s, s)

	update := telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 99}}}
	if err := ingress.HandleUpdate(context.Background(), update); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if conv, _ := s.GetConversationByChatID("99"); conv != nil {
		t.Error("no conversation should be created for an empty update")
	}
	if err := ingress.HandleUpdate(context.Background(), telego.Update{}); err != nil {
		t.Fatalf("HandleUpdate failed for message-less update: %v", err)
	}
}

func TestHandleForceSale(t *testing.T) {
	s := newTestStore(t)
	conv := newTestConversation(t, s)
	ingress := NewIngress(s, s)

	if err := ingress.HandleForceSale(conv.ID); err != nil {
		t.Fatalf("HandleForceSale failed: %v", err)
	}

	event, err := s.LatestEventByOrigin(conv.ID, models.EventOriginSystem)
	if err != nil || event == nil || event.Content != ForceSaleMarker {
		t.Fatalf("directive event = %+v, err %v", event, err)
	}

	jobs, err := s.ClaimDueJobs(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("the force-sale job must be due immediately, jobs = %d", len(jobs))
	}
	var payload ProcessTurnPayload
	if err := json.Unmarshal([]byte(jobs[0].PayloadJSON), &payload); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if payload.ConversationID != conv.ID || payload.TriggerEventID != "" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHandleForceSaleMissingConversation(t *testing.T) {
	s := newTestStore(t)
	ingress := NewIngress(s, s)
	if err := ingress.HandleForceSale("conv_missing"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("err = %v", err)
	}
}
