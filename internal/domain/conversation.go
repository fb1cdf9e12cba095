package domain

// ConversationResult is the outcome of the "create conversation" call.
type ConversationResult struct {
	Success        bool
	ConversationID string
	Error          string
}

// MessageResult is the outcome of the "post message" call.
type MessageResult struct {
	Success   bool
	MessageID string
	Error     string
}

// BridgeStatus distinguishes full success, create-only partial success and
// total failure of the two-step conversation workflow.
type BridgeStatus string

const (
	StatusComplete         BridgeStatus = "complete"
	StatusConversationOnly BridgeStatus = "conversation_only"
	StatusFailed           BridgeStatus = "failed"
)

// BridgeResult is the tri-state result of creating a conversation with its
// initial message. With StatusConversationOnly the conversation exists
// upstream without a message.
type BridgeResult struct {
	Status       BridgeStatus
	Conversation ConversationResult
	Message      MessageResult
}

func (r BridgeResult) Succeeded() bool {
	return r.Status == StatusComplete
}

func (r BridgeResult) Partial() bool {
	return r.Status == StatusConversationOnly
}

// Err returns the error of the step that failed, if any.
func (r BridgeResult) Err() string {
	switch r.Status {
	case StatusFailed:
		return r.Conversation.Error
	case StatusConversationOnly:
		return r.Message.Error
	default:
		return ""
	}
}

// TicketOutcome is the single success/failure envelope returned to the
// request layer. TicketID and ConversationSlug carry the same upstream
// identifier. Code classifies failures for logging and status mapping; it
// is never shown to the end user.
type TicketOutcome struct {
	Success          bool   `json:"success"`
	TicketID         string `json:"ticket_id,omitempty"`
	ConversationSlug string `json:"conversation_slug,omitempty"`
	Error            string `json:"error_message,omitempty"`
	Code             string `json:"-"`
}
