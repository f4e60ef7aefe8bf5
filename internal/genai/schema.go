package genai

import "github.com/vendaflow/vendaflow/internal/models"

// decisionSchema is the strict JSON schema the completion must follow. It
// mirrors models.Decision field for field.
var decisionSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required": []string{
		"internal_thought", "lead_classification", "lead_score",
		"extracted_user_name", "funnel_phase", "messages", "action",
		"payment_details",
	},
	"properties": map[string]interface{}{
		"internal_thought": map[string]interface{}{
			"type":        "string",
			"description": "Private reasoning about the lead's state. Never shown to the user.",
		},
		"lead_classification": map[string]interface{}{
			"type": "string",
			"enum": models.LeadClassifications,
		},
		"lead_score": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"arousal", "financial", "neediness", "attachment"},
			"properties": map[string]interface{}{
				"arousal":    gaugeSchema,
				"financial":  gaugeSchema,
				"neediness":  gaugeSchema,
				"attachment": gaugeSchema,
			},
		},
		"extracted_user_name": map[string]interface{}{
			"type":        []string{"string", "null"},
			"description": "The user's first name if they revealed it this turn, else null.",
		},
		"funnel_phase": map[string]interface{}{
			"type": "string",
			"enum": models.FunnelPhases,
		},
		"messages": map[string]interface{}{
			"type":        "array",
			"minItems":    1,
			"items":       map[string]interface{}{"type": "string"},
			"description": "Reply lines, sent one at a time with typing pauses.",
		},
		"action": map[string]interface{}{
			"type": "string",
			"enum": actionEnum(),
		},
		"payment_details": map[string]interface{}{
			"type":                 []string{"object", "null"},
			"additionalProperties": false,
			"required":             []string{"amount", "description"},
			"properties": map[string]interface{}{
				"amount":      map[string]interface{}{"type": "number"},
				"description": map[string]interface{}{"type": "string"},
			},
		},
	},
}

var gaugeSchema = map[string]interface{}{
	"type":    "integer",
	"minimum": 0,
	"maximum": models.GaugeMax,
}

func actionEnum() []string {
	out := make([]string, len(models.Actions))
	for i, a := range models.Actions {
		out[i] = string(a)
	}
	return out
}
