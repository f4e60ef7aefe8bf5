package turn

import (
	"strings"

	"github.com/vendaflow/vendaflow/internal/models"
)

// heuristicRule adjusts gauges when any of its keywords appears in the
// combined turn text. Each rule fires at most once per turn.
type heuristicRule struct {
	keywords   []string
	arousal    int
	financial  int
	neediness  int
	attachment int
}

var heuristicRules = []heuristicRule{
	// Explicit requests for photos or nudity.
	{keywords: []string{"manda foto", "me manda foto", "quero foto", "mostra", "nude", "nudes", "pelada", "sem roupa"}, arousal: 20},
	// Explicit sexual vocabulary.
	{keywords: []string{"gostosa", "tesao", "tesão", "sexo", "safada", "delicia", "delícia"}, arousal: 25},
	// Purchase-intent vocabulary.
	{keywords: []string{"pix", "quanto custa", "quanto é", "qual o valor", "quero pagar", "quero comprar", "como pago"}, financial: 15},
	// Price complaints and stated poverty.
	{keywords: []string{"muito caro", "ta caro", "tá caro", "sem dinheiro", "nao tenho dinheiro", "não tenho dinheiro", "desempregado", "desempregada"}, financial: -20},
	// Affectionate openers.
	{keywords: []string{"amor", "linda", "princesa", "gata", "anjo"}, neediness: 10, attachment: 10},
	// Loneliness language.
	{keywords: []string{"sozinho", "sozinha", "carente", "solidao", "solidão", "ninguem me", "ninguém me"}, neediness: 15, attachment: 10},
}

// shortReplyWordLimit marks terse replies that slightly lower neediness.
const shortReplyWordLimit = 2

// HeuristicScore applies keyword rules to the combined turn text, starting
// from the conversation's current gauges. The terse-reply decrement only
// applies when no keyword rule fired, so a short but loaded message like
// "manda foto" moves exactly one gauge.
func HeuristicScore(current models.LeadScore, combinedText string) models.LeadScore {
	text := strings.ToLower(combinedText)
	score := current.Normalize()

	matched := false
	for _, rule := range heuristicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				score = score.Add(rule.arousal, rule.financial, rule.neediness, rule.attachment)
				matched = true
				break
			}
		}
	}

	if !matched && len(strings.Fields(text)) <= shortReplyWordLimit {
		score = score.Add(0, 0, -5, 0)
	}
	return score.Clamp()
}

// ReconcileScores merges the engine's proposed score with the heuristic
// score. The engine's number is advisory: if it is degenerate (all-zero
// before baseline substitution) or identical to the pre-turn score, the
// heuristic wins outright. Otherwise each gauge takes the maximum of the two
// proposals, so a positive signal from either source sticks.
func ReconcileScores(preTurn, engine, heuristic models.LeadScore) models.LeadScore {
	heuristic = heuristic.Clamp()
	if engine.IsZero() {
		return heuristic
	}
	normalized := engine.Normalize()
	if normalized == models.BaselineLeadScore() || normalized == preTurn.Normalize() {
		return heuristic
	}
	return normalized.Max(heuristic)
}
