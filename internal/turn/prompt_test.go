package turn

import (
	"strconv"
	"strings"
	"testing"

	"github.com/vendaflow/vendaflow/internal/models"
)

func TestBuildSystemPromptDefaults(t *testing.T) {
	conv := &models.Conversation{
		ID:          "conv_prompt",
		FunnelPhase: models.PhaseConnection,
		LeadScore:   models.LeadScore{},
	}

	prompt := BuildSystemPrompt("", conv)

	if !strings.HasPrefix(prompt, "Voce e a Lari") {
		t.Fatalf("expected default persona, got prefix %q", prompt[:30])
	}
	if !strings.Contains(prompt, "[CONTEXTO DO LEAD]") {
		t.Fatal("missing lead context block")
	}
	if !strings.Contains(prompt, "Cidade: São Paulo") {
		t.Errorf("expected default city, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "Nome:") {
		t.Error("unnamed lead should not emit a name line")
	}
	if strings.Contains(prompt, "Dispositivo:") {
		t.Error("device line should only appear for premium devices")
	}
	baseline := models.BaselineLeadScore()
	want := "tesao=" + strconv.Itoa(baseline.Arousal)
	if !strings.Contains(prompt, want) {
		t.Errorf("zero score should normalize to baseline, want %q in:\n%s", want, prompt)
	}
}

func TestBuildSystemPromptLeadContext(t *testing.T) {
	conv := &models.Conversation{
		ID:               "conv_prompt",
		UserName:         "Carlos",
		UserCity:         "Curitiba",
		HighTicketDevice: true,
		FunnelPhase:      models.PhaseNegotiation,
		AmountPaid:       49.90,
		LeadScore:        models.LeadScore{Arousal: 60, Financial: 45, Neediness: 30, Attachment: 25},
	}

	prompt := BuildSystemPrompt("persona custom", conv)

	if !strings.HasPrefix(prompt, "persona custom") {
		t.Fatal("operator persona override not used")
	}
	for _, want := range []string{
		"Nome: Carlos",
		"Cidade: Curitiba",
		"Dispositivo: premium",
		"Fase atual do funil: " + models.PhaseNegotiation,
		"Total ja pago: R$49.90",
		"tesao=60 financeiro=45 carencia=30 apego=25",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("missing %q in:\n%s", want, prompt)
		}
	}
}
