package models

import "testing"

func TestLeadScoreClamp(t *testing.T) {
	tests := []struct {
		name string
		in   LeadScore
		want LeadScore
	}{
		{"in range", LeadScore{Arousal: 10, Financial: 20, Neediness: 30, Attachment: 40}, LeadScore{Arousal: 10, Financial: 20, Neediness: 30, Attachment: 40}},
		{"over max", LeadScore{Arousal: 150, Financial: 101, Neediness: 100, Attachment: 99}, LeadScore{Arousal: 100, Financial: 100, Neediness: 100, Attachment: 99}},
		{"negative", LeadScore{Arousal: -1, Financial: -50, Neediness: 0, Attachment: 5}, LeadScore{Arousal: 0, Financial: 0, Neediness: 0, Attachment: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(); got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLeadScoreNormalizeBaseline(t *testing.T) {
	zero := LeadScore{}
	got := zero.Normalize()
	if got.IsZero() {
		t.Fatal("Normalize of all-zero score should substitute the baseline")
	}
	if got != BaselineLeadScore() {
		t.Errorf("Normalize() = %+v, want baseline %+v", got, BaselineLeadScore())
	}

	nonZero := LeadScore{Arousal: 1}
	if got := nonZero.Normalize(); got != (LeadScore{Arousal: 1}) {
		t.Errorf("Normalize of non-zero score changed it: %+v", got)
	}
}

func TestLeadScoreMax(t *testing.T) {
	a := LeadScore{Arousal: 10, Financial: 80, Neediness: 30, Attachment: 5}
	b := LeadScore{Arousal: 50, Financial: 20, Neediness: 30, Attachment: 90}
	want := LeadScore{Arousal: 50, Financial: 80, Neediness: 30, Attachment: 90}
	if got := a.Max(b); got != want {
		t.Errorf("Max() = %+v, want %+v", got, want)
	}
	if got := b.Max(a); got != want {
		t.Errorf("Max should be symmetric, got %+v", got)
	}
}

func TestLeadScoreAddClamps(t *testing.T) {
	s := LeadScore{Arousal: 95, Financial: 5, Neediness: 50, Attachment: 50}
	got := s.Add(20, -10, 0, 0)
	want := LeadScore{Arousal: 100, Financial: 0, Neediness: 50, Attachment: 50}
	if got != want {
		t.Errorf("Add() = %+v, want %+v", got, want)
	}
}

func TestActionIsValid(t *testing.T) {
	for _, a := range Actions {
		if !a.IsValid() {
			t.Errorf("action %q should be valid", a)
		}
	}
	if Action("send_everything").IsValid() {
		t.Error("unknown action should be invalid")
	}
}

func TestActionIsMediaSend(t *testing.T) {
	media := []Action{ActionSendShowerPhoto, ActionSendLingeriePhoto, ActionSendWetPhoto, ActionSendVideoPreview}
	for _, a := range media {
		if !a.IsMediaSend() {
			t.Errorf("action %q should be a media send", a)
		}
	}
	for _, a := range []Action{ActionNone, ActionRequestPayment, ActionCheckPayment, ActionRequestAppInstall} {
		if a.IsMediaSend() {
			t.Errorf("action %q should not be a media send", a)
		}
	}
}

func TestDecisionValidate(t *testing.T) {
	valid := Decision{
		FunnelPhase: PhaseConnection,
		Messages:    []string{"oi"},
		Action:      ActionNone,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid decision rejected: %v", err)
	}

	badAction := valid
	badAction.Action = "explode"
	if err := badAction.Validate(); err != ErrInvalidAction {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}

	badPhase := valid
	badPhase.FunnelPhase = "MYSTERY"
	if err := badPhase.Validate(); err != ErrInvalidFunnelPhase {
		t.Errorf("expected ErrInvalidFunnelPhase, got %v", err)
	}

	noMessages := valid
	noMessages.Messages = nil
	if err := noMessages.Validate(); err != ErrEmptyMessages {
		t.Errorf("expected ErrEmptyMessages, got %v", err)
	}
}

func TestIsValidConversationStatus(t *testing.T) {
	for _, s := range []ConversationStatus{ConversationStatusActive, ConversationStatusPaused, ConversationStatusClosed} {
		if !IsValidConversationStatus(s) {
			t.Errorf("status %q should be valid", s)
		}
	}
	if IsValidConversationStatus("archived") {
		t.Error("unknown status should be invalid")
	}
}
