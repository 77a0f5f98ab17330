package actions

// ActionType identifies an enforcement action kind.
type ActionType string

const (
	ActionAlert          ActionType = "alert"
	ActionBlock          ActionType = "block"
	ActionQuarantine     ActionType = "quarantine"
	ActionRedact         ActionType = "redact"
	ActionEncrypt        ActionType = "encrypt"
	ActionNotify         ActionType = "notify"
	ActionWebhook        ActionType = "webhook"
	ActionAudit          ActionType = "audit"
	ActionTag            ActionType = "tag"
	ActionEscalate       ActionType = "escalate"
	ActionDelete         ActionType = "delete"
	ActionPreserve       ActionType = "preserve"
	ActionFlagForReview  ActionType = "flag_for_review"
	ActionCreateIncident ActionType = "create_incident"
	ActionTrack          ActionType = "track"
)

// RedactionMethod selects how redaction transforms content.
type RedactionMethod string

const (
	RedactFull            RedactionMethod = "full"
	RedactPartial         RedactionMethod = "partial"
	RedactMaskExceptLast4 RedactionMethod = "mask_except_last4"
	RedactMaskExceptFirst4 RedactionMethod = "mask_except_first4"
	RedactHash            RedactionMethod = "hash"
)

// Notification channels.
const (
	ChannelEmail     = "email"
	ChannelSlack     = "slack"
	ChannelTeams     = "teams"
	ChannelPagerDuty = "pagerduty"
	ChannelSMS       = "sms"
	ChannelWebhook   = "webhook"
)

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	Type    ActionType     `json:"type"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// ExecutionSummary aggregates the results of executing a policy's actions
// against one event.
type ExecutionSummary struct {
	EventID           string         `json:"event_id"`
	PolicyID          string         `json:"policy_id"`
	RuleID            string         `json:"rule_id"`
	Results           []ActionResult `json:"results"`
	TotalActions      int            `json:"total_actions"`
	SuccessfulActions int            `json:"successful_actions"`
	FailedActions     int            `json:"failed_actions"`
	Blocked           bool           `json:"blocked"`
	Quarantined       bool           `json:"quarantined"`
	Encrypted         bool           `json:"encrypted"`
	Redacted          bool           `json:"redacted"`
	NotificationsSent int            `json:"notifications_sent"`
	WebhooksCalled    int            `json:"webhooks_called"`
	AlertsCreated     int            `json:"alerts_created"`
}
