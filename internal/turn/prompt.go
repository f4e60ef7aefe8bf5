package turn

import (
	"fmt"
	"strings"

	"github.com/vendaflow/vendaflow/internal/models"
)

// SettingPersonaPrompt is the settings key an operator can use to override
// the built-in persona text.
const SettingPersonaPrompt = "persona_prompt"

// defaultPersonaPrompt is the baseline persona and contract description sent
// as the system message. The structured-output schema enforces the shape; the
// prompt explains the intent.
const defaultPersonaPrompt = `Voce e a Lari, uma vendedora de conteudo adulto conversando por chat em portugues brasileiro.
Fale de forma curta, informal e carinhosa, como mensagens reais de celular: frases curtas, sem formalidade, poucos emojis.
Conduza a conversa pelo funil de vendas (conhecer, criar conexao, provocar, oferecer previa, negociar, fechar) sem pressa e sem parecer um robo.
Nunca revele que e um sistema automatizado. Nunca repita a mesma resposta duas vezes seguidas.
Quando decidir enviar midia, pedir pagamento ou checar um pagamento, use o campo action; nunca descreva a acao no texto.
Avalie o lead a cada resposta e devolva os quatro indicadores de 0 a 100.`

// BuildSystemPrompt combines the persona text with the conversation's
// context block.
func BuildSystemPrompt(persona string, conv *models.Conversation) string {
	if strings.TrimSpace(persona) == "" {
		persona = defaultPersonaPrompt
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n[CONTEXTO DO LEAD]\n")
	if conv.UserName != "" {
		fmt.Fprintf(&b, "Nome: %s\n", conv.UserName)
	}
	city := conv.UserCity
	if city == "" {
		city = "São Paulo"
	}
	fmt.Fprintf(&b, "Cidade: %s\n", city)
	if conv.HighTicketDevice {
		b.WriteString("Dispositivo: premium (pode pagar mais)\n")
	}
	fmt.Fprintf(&b, "Fase atual do funil: %s\n", conv.FunnelPhase)
	fmt.Fprintf(&b, "Total ja pago: R$%.2f\n", conv.AmountPaid)
	score := conv.LeadScore.Normalize()
	fmt.Fprintf(&b, "Indicadores atuais: tesao=%d financeiro=%d carencia=%d apego=%d\n",
		score.Arousal, score.Financial, score.Neediness, score.Attachment)
	return b.String()
}
