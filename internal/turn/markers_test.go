package turn

import (
	"testing"

	"github.com/vendaflow/vendaflow/internal/models"
)

func TestPixCreatedRoundTrip(t *testing.T) {
	marker := FormatPixCreated(49.9, "pay_abc123")
	if marker != "[PIX_GERADO: valor=49.90 id=pay_abc123]" {
		t.Fatalf("unexpected marker %q", marker)
	}
	amount, id, ok := ParsePixCreated(marker)
	if !ok {
		t.Fatal("marker did not parse")
	}
	if amount != 49.90 || id != "pay_abc123" {
		t.Errorf("got amount=%v id=%q", amount, id)
	}
}

func TestPixCreatedParseInsideLargerText(t *testing.T) {
	content := "nota do operador [PIX_GERADO: valor=10.00 id=p1] fim"
	if _, id, ok := ParsePixCreated(content); !ok || id != "p1" {
		t.Errorf("embedded marker should parse, got ok=%v id=%q", ok, id)
	}
	if _, _, ok := ParsePixCreated("[PIX_GERADO: valor=abc id=p1]"); ok {
		t.Error("non-numeric amount should not parse")
	}
	if _, _, ok := ParsePixCreated("sem marcador aqui"); ok {
		t.Error("plain text should not parse")
	}
}

func TestPixConfirmedRoundTrip(t *testing.T) {
	marker := FormatPixConfirmed(29.9, 79.8)
	amount, total, ok := ParsePixConfirmed(marker)
	if !ok || amount != 29.90 || total != 79.80 {
		t.Errorf("got ok=%v amount=%v total=%v", ok, amount, total)
	}
}

func TestFormatActionMarker(t *testing.T) {
	got := FormatActionMarker(models.ActionSendShowerPhoto, "https://cdn.example/a.jpg")
	want := "[MEDIA: send_shower_photo ref=https://cdn.example/a.jpg]"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestParseMediaRef(t *testing.T) {
	cases := []struct {
		content string
		kind    models.MediaKind
		handle  string
		caption string
	}{
		{FormatAudioRef("f1"), models.MediaKindAudio, "f1", ""},
		{FormatPhotoRef("f2"), models.MediaKindImage, "f2", ""},
		{FormatVideoRef("f3", ""), models.MediaKindVideo, "f3", ""},
		{FormatVideoRef("f4", "olha"), models.MediaKindVideo, "f4", "olha"},
	}
	for _, tc := range cases {
		ref := ParseMediaRef(tc.content)
		if ref == nil {
			t.Errorf("%q: expected a media ref", tc.content)
			continue
		}
		if ref.Kind != tc.kind || ref.Handle != tc.handle || ref.Caption != tc.caption {
			t.Errorf("%q: got %+v", tc.content, ref)
		}
	}
	if ref := ParseMediaRef("oi tudo bem"); ref != nil {
		t.Errorf("plain text should not parse as media, got %+v", ref)
	}
}
