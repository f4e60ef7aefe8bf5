package models

// FunnelPhase labels for the scripted sales conversation. The decision
// engine must return one of these; anything else fails schema validation.
const (
	PhaseWelcome      = "WELCOME"
	PhaseConnection   = "CONNECTION"
	PhaseTrigger      = "TRIGGER_PHASE"
	PhaseHotTalk      = "HOT_TALK"
	PhasePreview      = "PREVIEW"
	PhaseSalesPitch   = "SALES_PITCH"
	PhaseNegotiation  = "NEGOTIATION"
	PhaseClosing      = "CLOSING"
	PhasePaymentCheck = "PAYMENT_CHECK"
)

// FunnelPhases lists every valid funnel phase label, in funnel order.
var FunnelPhases = []string{
	PhaseWelcome,
	PhaseConnection,
	PhaseTrigger,
	PhaseHotTalk,
	PhasePreview,
	PhaseSalesPitch,
	PhaseNegotiation,
	PhaseClosing,
	PhasePaymentCheck,
}

// IsValidFunnelPhase checks membership in the fixed phase enumeration.
func IsValidFunnelPhase(phase string) bool {
	for _, p := range FunnelPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// Action is the closed set of side effects the decision engine may request.
// Adding a variant requires updating both the engine schema and the
// dispatcher's handler switch; the exhaustive switch in the dispatcher makes
// a missing handler a compile-visible gap rather than a silent string miss.
type Action string

const (
	ActionNone              Action = "none"
	ActionSendShowerPhoto   Action = "send_shower_photo"
	ActionSendLingeriePhoto Action = "send_lingerie_photo"
	ActionSendWetPhoto      Action = "send_wet_finger_photo"
	ActionSendVideoPreview  Action = "send_video_preview"
	ActionRequestPayment    Action = "request_payment"
	ActionCheckPayment      Action = "check_payment_status"
	ActionRequestAppInstall Action = "request_app_install"
)

// Actions lists every valid action value, for schema construction.
var Actions = []Action{
	ActionNone,
	ActionSendShowerPhoto,
	ActionSendLingeriePhoto,
	ActionSendWetPhoto,
	ActionSendVideoPreview,
	ActionRequestPayment,
	ActionCheckPayment,
	ActionRequestAppInstall,
}

// IsValid checks if the action is one of the known variants.
func (a Action) IsValid() bool {
	switch a {
	case ActionNone, ActionSendShowerPhoto, ActionSendLingeriePhoto, ActionSendWetPhoto,
		ActionSendVideoPreview, ActionRequestPayment, ActionCheckPayment, ActionRequestAppInstall:
		return true
	default:
		return false
	}
}

// IsMediaSend reports whether the action resolves to a media reference from
// the media lookup table.
func (a Action) IsMediaSend() bool {
	switch a {
	case ActionSendShowerPhoto, ActionSendLingeriePhoto, ActionSendWetPhoto, ActionSendVideoPreview:
		return true
	default:
		return false
	}
}

// LeadClassification values the engine may assign.
var LeadClassifications = []string{"needy", "aroused", "curious", "cold", "unknown"}

// PaymentDetails carries the optional parameters of a payment request.
type PaymentDetails struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// Decision is the structured output contract of the decision engine. A
// response that does not conform to this shape is an engine failure, not a
// pipeline bug.
type Decision struct {
	InternalThought    string          `json:"internal_thought"`
	LeadClassification string          `json:"lead_classification"`
	LeadScore          LeadScore       `json:"lead_score"`
	ExtractedUserName  *string         `json:"extracted_user_name"`
	FunnelPhase        string          `json:"funnel_phase"`
	Messages           []string        `json:"messages"`
	Action             Action          `json:"action"`
	PaymentDetails     *PaymentDetails `json:"payment_details,omitempty"`
}

// Validate checks the decision against the fixed contract.
func (d *Decision) Validate() error {
	if !d.Action.IsValid() {
		return ErrInvalidAction
	}
	if !IsValidFunnelPhase(d.FunnelPhase) {
		return ErrInvalidFunnelPhase
	}
	if len(d.Messages) == 0 {
		return ErrEmptyMessages
	}
	return nil
}
