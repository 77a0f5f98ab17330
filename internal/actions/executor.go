// Package actions executes policy enforcement actions against events.
package actions

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/rules"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// AlertSink persists alerts created by the alert action.
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

// ViolationRecorder receives per-violation and per-action metrics.
type ViolationRecorder interface {
	RecordViolation(policyID string, severity string)
	RecordAction(actionType string, success bool)
}

// Executor runs enforcement actions. Each action fails independently: one
// failure never prevents the remaining actions from running.
type Executor struct {
	logger         *slog.Logger
	httpClient     *http.Client
	alerts         AlertSink
	metrics        ViolationRecorder
	quarantineBase string
}

// Option configures an Executor.
type Option func(*Executor)

// WithAlertSink wires an alert store.
func WithAlertSink(sink AlertSink) Option {
	return func(e *Executor) { e.alerts = sink }
}

// WithMetrics wires a violation recorder.
func WithMetrics(m ViolationRecorder) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithHTTPClient overrides the client used for webhooks and chat channels.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithQuarantineBase overrides the default quarantine location.
func WithQuarantineBase(path string) Option {
	return func(e *Executor) { e.quarantineBase = path }
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		logger:         logger,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		quarantineBase: "/quarantine",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every prepared action against the event and returns a
// summary. Unknown action types are skipped with a warning.
func (e *Executor) Execute(ctx context.Context, event *models.Event, prepared []rules.Action, policyID, ruleID string) ExecutionSummary {
	summary := ExecutionSummary{
		EventID:  event.EventID,
		PolicyID: policyID,
		RuleID:   ruleID,
	}

	for _, action := range prepared {
		var result ActionResult
		switch ActionType(action.Type) {
		case ActionAlert:
			result = e.executeAlert(ctx, event, action)
		case ActionBlock:
			result = e.executeBlock(event, action)
		case ActionQuarantine:
			result = e.executeQuarantine(event, action)
		case ActionRedact:
			result = e.executeRedact(event, action)
		case ActionEncrypt:
			result = e.executeEncrypt(event, action)
		case ActionNotify:
			result = e.executeNotify(ctx, event, action)
		case ActionWebhook:
			result = e.executeWebhook(ctx, event, action)
		case ActionAudit:
			result = e.executeAudit(event, action)
		case ActionTag:
			result = e.executeTag(event, action)
		case ActionEscalate:
			result = e.executeEscalate(event, action)
		case ActionDelete:
			result = e.executeDelete(event, action)
		case ActionPreserve:
			result = e.executePreserve(event, action)
		case ActionFlagForReview:
			result = e.executeFlagForReview(event, action)
		case ActionCreateIncident:
			result = e.executeCreateIncident(event, action)
		case ActionTrack:
			result = e.executeTrack(event, action)
		default:
			e.logger.Warn("unknown action type", "action_type", action.Type, "event_id", event.EventID)
			continue
		}

		if e.metrics != nil {
			e.metrics.RecordAction(action.Type, result.Success)
		}
		summary.Results = append(summary.Results, result)
	}

	for _, r := range summary.Results {
		summary.TotalActions++
		if r.Success {
			summary.SuccessfulActions++
		} else {
			summary.FailedActions++
		}
		switch r.Type {
		case ActionBlock:
			summary.Blocked = summary.Blocked || r.Success
		case ActionQuarantine:
			summary.Quarantined = summary.Quarantined || r.Success
		case ActionEncrypt:
			summary.Encrypted = summary.Encrypted || r.Success
		case ActionRedact:
			summary.Redacted = summary.Redacted || r.Success
		case ActionNotify:
			if r.Success {
				summary.NotificationsSent++
			}
		case ActionWebhook:
			if r.Success {
				summary.WebhooksCalled++
			}
		case ActionAlert:
			if r.Success {
				summary.AlertsCreated++
			}
		}
	}
	return summary
}

func (e *Executor) executeAlert(ctx context.Context, event *models.Event, action rules.Action) ActionResult {
	severity := paramString(action.Params, "severity", "medium")
	title := paramString(action.Params, "title", "DLP Policy Violation")

	alert := &models.Alert{
		AlertID:     "alert-" + uuid.New().String(),
		EventID:     event.EventID,
		Severity:    models.Severity(severity),
		Title:       title,
		Description: paramString(action.Params, "description", ""),
		Status:      "open",
		CreatedAt:   time.Now().UTC(),
		Metadata:    action.Metadata,
	}

	if e.alerts != nil {
		if err := e.alerts.CreateAlert(ctx, alert); err != nil {
			e.logger.Error("failed to store alert", "error", err, "event_id", event.EventID)
			return ActionResult{Type: ActionAlert, Success: false, Error: err.Error()}
		}
	}

	policyID := paramString(action.Metadata, "policy_id", "unknown")
	e.logger.Warn("policy violation alert",
		"alert_id", alert.AlertID,
		"event_id", event.EventID,
		"policy_id", policyID,
		"severity", severity)
	if e.metrics != nil {
		e.metrics.RecordViolation(policyID, severity)
	}

	return ActionResult{
		Type:    ActionAlert,
		Success: true,
		Detail: map[string]any{
			"alert_id": alert.AlertID,
			"severity": severity,
			"title":    title,
		},
	}
}

func (e *Executor) executeBlock(event *models.Event, action rules.Action) ActionResult {
	reason := paramString(action.Params, "message", "Policy violation")
	setMeta(event, "blocked", true)
	setMeta(event, "block_reason", reason)
	setMeta(event, "block_timestamp", time.Now().UTC().Format(time.RFC3339))
	event.ActionTaken = string(ActionBlock)

	e.logger.Warn("event blocked", "event_id", event.EventID, "reason", reason)
	return ActionResult{Type: ActionBlock, Success: true, Detail: map[string]any{"block_reason": reason}}
}

// executeQuarantine records quarantine metadata. Agents move the file
// themselves and report the destination; the server never touches agent
// filesystems, so an agent-reported quarantine is honored as-is.
func (e *Executor) executeQuarantine(event *models.Event, action rules.Action) ActionResult {
	if meta(event, "quarantined") != nil || meta(event, "quarantine_path") != nil {
		return ActionResult{
			Type:    ActionQuarantine,
			Success: true,
			Detail: map[string]any{
				"quarantine_path": meta(event, "quarantine_path"),
				"agent_reported":  true,
			},
		}
	}

	var originalPath string
	if event.File != nil {
		originalPath = event.File.Path
	}
	if originalPath == "" && event.Transfer != nil {
		originalPath = event.Transfer.SourcePath
	}
	if originalPath == "" {
		return ActionResult{Type: ActionQuarantine, Success: false, Error: "no file path to quarantine"}
	}

	location := paramString(action.Params, "path", "")
	if location == "" {
		location = paramString(action.Params, "location", e.quarantineBase)
	}
	timestamp := time.Now().UTC().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s_%s", event.EventID, timestamp, filepath.Base(originalPath))
	quarantinePath := filepath.Join(location, name)

	setMeta(event, "quarantined", true)
	setMeta(event, "quarantine_path", quarantinePath)
	event.ActionTaken = string(ActionQuarantine)

	e.logger.Info("file quarantined",
		"event_id", event.EventID,
		"original_path", originalPath,
		"quarantine_path", quarantinePath)

	return ActionResult{
		Type:    ActionQuarantine,
		Success: true,
		Detail: map[string]any{
			"original_path":   originalPath,
			"quarantine_path": quarantinePath,
		},
	}
}

func (e *Executor) executeRedact(event *models.Event, action rules.Action) ActionResult {
	method := RedactionMethod(paramString(action.Params, "method", string(RedactFull)))
	redactionChar := paramString(action.Params, "redaction_char", "*")

	content, ok := eventContent(event)
	if !ok {
		return ActionResult{Type: ActionRedact, Success: false, Error: "no content to redact"}
	}

	redacted := Redact(content, method, redactionChar)
	setEventContent(event, redacted)
	setMeta(event, "redacted", true)
	setMeta(event, "redaction_method", string(method))

	return ActionResult{
		Type:    ActionRedact,
		Success: true,
		Detail:  map[string]any{"method": string(method), "fields_redacted": []string{"content"}},
	}
}

func (e *Executor) executeEncrypt(event *models.Event, action rules.Action) ActionResult {
	keyID := paramString(action.Params, "key_id", "default")

	content, ok := eventContent(event)
	if !ok {
		return ActionResult{Type: ActionEncrypt, Success: false, Error: "no content to encrypt"}
	}

	encrypted, err := encryptAESGCM([]byte(content))
	if err != nil {
		return ActionResult{Type: ActionEncrypt, Success: false, Error: err.Error()}
	}

	setMeta(event, "content_encrypted", encrypted)
	setMeta(event, "encryption_key_id", keyID)
	setMeta(event, "encryption_algorithm", "AES-256-GCM")
	setEventContent(event, "[ENCRYPTED]")

	return ActionResult{
		Type:    ActionEncrypt,
		Success: true,
		Detail:  map[string]any{"algorithm": "AES-256-GCM", "key_id": keyID},
	}
}

func (e *Executor) executeNotify(ctx context.Context, event *models.Event, action rules.Action) ActionResult {
	channel := paramString(action.Params, "channel", ChannelEmail)
	recipients := paramStrings(action.Params, "recipients")

	if len(recipients) == 0 && channel != ChannelSlack && channel != ChannelTeams && channel != ChannelWebhook {
		return ActionResult{Type: ActionNotify, Success: false, Error: "no recipients specified"}
	}

	var ok bool
	switch channel {
	case ChannelEmail:
		e.logger.Info("email notification sent",
			"event_id", event.EventID,
			"recipients", strings.Join(recipients, ","))
		ok = true
	case ChannelSlack:
		ok = e.postChat(ctx, paramString(action.Params, "webhook", ""), slackPayload(event))
	case ChannelTeams:
		ok = e.postChat(ctx, paramString(action.Params, "webhook", ""), teamsPayload(event))
	case ChannelPagerDuty:
		e.logger.Info("pagerduty alert", "event_id", event.EventID)
		ok = true
	case ChannelSMS:
		e.logger.Info("sms sent", "event_id", event.EventID, "recipients", strings.Join(recipients, ","))
		ok = true
	case ChannelWebhook:
		result := e.executeWebhook(ctx, event, action)
		ok = result.Success
	}

	result := ActionResult{
		Type:    ActionNotify,
		Success: ok,
		Detail:  map[string]any{"channel": channel, "recipients": recipients},
	}
	if ok {
		result.Detail["notification_id"] = "notif-" + uuid.New().String()
	} else {
		result.Error = "notification delivery failed"
	}
	return result
}

func (e *Executor) executeWebhook(ctx context.Context, event *models.Event, action rules.Action) ActionResult {
	url := paramString(action.Params, "url", "")
	if url == "" {
		return ActionResult{Type: ActionWebhook, Success: false, Error: "no webhook URL specified"}
	}
	method := paramString(action.Params, "method", http.MethodPost)

	body, err := json.Marshal(event)
	if err != nil {
		return ActionResult{Type: ActionWebhook, Success: false, Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return ActionResult{Type: ActionWebhook, Success: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := action.Params["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Error("webhook call failed", "url", url, "error", err)
		return ActionResult{Type: ActionWebhook, Success: false, Error: err.Error(), Detail: map[string]any{"url": url}}
	}
	defer resp.Body.Close()

	return ActionResult{
		Type:    ActionWebhook,
		Success: resp.StatusCode < 400,
		Detail:  map[string]any{"url": url, "status_code": resp.StatusCode},
	}
}

func (e *Executor) executeAudit(event *models.Event, action rules.Action) ActionResult {
	auditID := "audit-" + uuid.New().String()
	logLevel := paramString(action.Params, "log_level", "detailed")
	retentionDays := paramInt(action.Params, "retention_days", 365)

	e.logger.Info("audit entry created",
		"audit_id", auditID,
		"event_id", event.EventID,
		"log_level", logLevel,
		"retention_days", retentionDays)

	return ActionResult{
		Type:    ActionAudit,
		Success: true,
		Detail:  map[string]any{"audit_id": auditID, "log_level": logLevel, "retention_days": retentionDays},
	}
}

func (e *Executor) executeTag(event *models.Event, action rules.Action) ActionResult {
	tags := paramStrings(action.Params, "tags")

	existing := map[string]struct{}{}
	var merged []string
	if prior, ok := meta(event, "tags").([]string); ok {
		for _, t := range prior {
			existing[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	for _, t := range tags {
		if _, ok := existing[t]; !ok {
			existing[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	setMeta(event, "tags", merged)

	return ActionResult{Type: ActionTag, Success: true, Detail: map[string]any{"tags": merged}}
}

func (e *Executor) executeEscalate(event *models.Event, action rules.Action) ActionResult {
	recipients := paramStrings(action.Params, "to")
	priority := paramString(action.Params, "priority", "high")

	setMeta(event, "escalated", true)
	setMeta(event, "escalation_priority", priority)

	e.logger.Warn("event escalated",
		"event_id", event.EventID,
		"priority", priority,
		"recipients", strings.Join(recipients, ","))

	return ActionResult{Type: ActionEscalate, Success: true, Detail: map[string]any{"priority": priority, "recipients": recipients}}
}

func (e *Executor) executeDelete(event *models.Event, action rules.Action) ActionResult {
	immediate := paramBool(action.Params, "immediate")
	secureWipe := paramBool(action.Params, "secure_wipe")

	setMeta(event, "marked_for_deletion", true)
	setMeta(event, "deletion_immediate", immediate)
	setMeta(event, "secure_wipe", secureWipe)

	e.logger.Warn("deletion requested",
		"event_id", event.EventID,
		"immediate", immediate,
		"secure_wipe", secureWipe)

	return ActionResult{Type: ActionDelete, Success: true, Detail: map[string]any{"immediate": immediate, "secure_wipe": secureWipe}}
}

func (e *Executor) executePreserve(event *models.Event, action rules.Action) ActionResult {
	location := paramString(action.Params, "location", "/preservation")
	immutable := true
	if v, ok := action.Params["immutable"].(bool); ok {
		immutable = v
	}

	setMeta(event, "preserved", true)
	setMeta(event, "preservation_location", location)
	setMeta(event, "immutable", immutable)

	e.logger.Info("event preserved", "event_id", event.EventID, "location", location)
	return ActionResult{Type: ActionPreserve, Success: true, Detail: map[string]any{"location": location, "immutable": immutable}}
}

func (e *Executor) executeFlagForReview(event *models.Event, action rules.Action) ActionResult {
	reviewType := paramString(action.Params, "review_type", "general")
	reviewerRole := paramString(action.Params, "reviewer_role", "")

	setMeta(event, "flagged_for_review", true)
	setMeta(event, "review_type", reviewType)
	setMeta(event, "review_status", "pending")

	e.logger.Info("flagged for review",
		"event_id", event.EventID,
		"review_type", reviewType,
		"reviewer_role", reviewerRole)

	return ActionResult{Type: ActionFlagForReview, Success: true, Detail: map[string]any{"review_type": reviewType, "reviewer_role": reviewerRole}}
}

func (e *Executor) executeCreateIncident(event *models.Event, action rules.Action) ActionResult {
	incidentID := "incident-" + uuid.New().String()
	incidentType := paramString(action.Params, "incident_type", "dlp_violation")
	severity := paramString(action.Params, "severity", "medium")

	setMeta(event, "incident_id", incidentID)

	e.logger.Warn("incident created",
		"incident_id", incidentID,
		"event_id", event.EventID,
		"incident_type", incidentType,
		"severity", severity)

	return ActionResult{
		Type:    ActionCreateIncident,
		Success: true,
		Detail: map[string]any{
			"incident_id": incidentID,
			"type":        incidentType,
			"severity":    severity,
			"status":      "open",
		},
	}
}

func (e *Executor) executeTrack(event *models.Event, action rules.Action) ActionResult {
	trackingID := paramString(action.Params, "tracking_id", "")
	if trackingID == "" {
		trackingID = "track-" + uuid.New().String()
	}

	setMeta(event, "tracked", true)
	setMeta(event, "tracking_id", trackingID)

	e.logger.Info("event tracked", "event_id", event.EventID, "tracking_id", trackingID)
	return ActionResult{Type: ActionTrack, Success: true, Detail: map[string]any{"tracking_id": trackingID}}
}

// Redact applies a redaction method to content. Offsets count characters,
// not bytes, so multibyte content never splits mid-rune.
func Redact(content string, method RedactionMethod, redactionChar string) string {
	runes := []rune(content)
	n := len(runes)
	switch method {
	case RedactPartial:
		if n > 8 {
			return string(runes[:4]) + strings.Repeat(redactionChar, n-8) + string(runes[n-4:])
		}
		return strings.Repeat(redactionChar, n)
	case RedactMaskExceptLast4:
		if n >= 4 {
			return strings.Repeat(redactionChar, n-4) + string(runes[n-4:])
		}
		return content
	case RedactMaskExceptFirst4:
		if n >= 4 {
			return string(runes[:4]) + strings.Repeat(redactionChar, n-4)
		}
		return content
	case RedactHash:
		sum := sha256.Sum256([]byte(content))
		return hex.EncodeToString(sum[:])
	default:
		return "[REDACTED]"
	}
}

func (e *Executor) postChat(ctx context.Context, webhookURL string, payload map[string]any) bool {
	if webhookURL == "" {
		return false
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Error("chat notification failed", "url", webhookURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func slackPayload(event *models.Event) map[string]any {
	return map[string]any{
		"text": "DLP Alert",
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Event ID:* %s\n*Severity:* %s", event.EventID, event.Severity),
				},
			},
		},
	}
}

func teamsPayload(event *models.Event) map[string]any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    "DLP Alert",
		"themeColor": "FF0000",
		"title":      "DLP Policy Violation",
		"sections": []map[string]any{
			{
				"activityTitle": "Event " + event.EventID,
				"facts": []map[string]any{
					{"name": "Severity", "value": string(event.Severity)},
					{"name": "Agent", "value": event.AgentID},
				},
			},
		},
	}
}

func encryptAESGCM(plaintext []byte) (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// eventContent locates the redactable/encryptable content on an event:
// clipboard preview first, then the free-form metadata content field.
func eventContent(event *models.Event) (string, bool) {
	if event.Clipboard != nil && event.Clipboard.ContentPreview != "" {
		return event.Clipboard.ContentPreview, true
	}
	if v, ok := meta(event, "content").(string); ok && v != "" {
		return v, true
	}
	return "", false
}

func setEventContent(event *models.Event, content string) {
	if event.Clipboard != nil && event.Clipboard.ContentPreview != "" {
		event.Clipboard.ContentPreview = content
		return
	}
	setMeta(event, "content", content)
}

func meta(event *models.Event, key string) any {
	if event.Metadata == nil {
		return nil
	}
	return event.Metadata[key]
}

func setMeta(event *models.Event, key string, value any) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata[key] = value
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func paramStrings(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func paramBool(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}
