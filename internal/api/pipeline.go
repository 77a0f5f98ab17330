package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/metrics"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// Processor runs the server-side intake pipeline for one event:
// classification, policy evaluation, action execution, persistence.
type Processor struct {
	logger        *slog.Logger
	classifier    ContentClassifier
	matcher       Matcher
	runner        ActionRunner
	events        EventStore
	eventMetrics  *metrics.EventMetrics
	policyMetrics *metrics.PolicyMetrics
}

// NewProcessor creates an intake processor.
func NewProcessor(logger *slog.Logger, classifier ContentClassifier, matcher Matcher, runner ActionRunner, events EventStore) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger:     logger,
		classifier: classifier,
		matcher:    matcher,
		runner:     runner,
		events:     events,
	}
}

// WithMetrics attaches intake and policy metrics.
func (p *Processor) WithMetrics(em *metrics.EventMetrics, pm *metrics.PolicyMetrics) *Processor {
	p.eventMetrics = em
	p.policyMetrics = pm
	return p
}

// ProcessResult summarizes what the pipeline did with an event.
type ProcessResult struct {
	EventID     string          `json:"event_id"`
	Severity    models.Severity `json:"severity"`
	PolicyIDs   []string        `json:"policy_ids,omitempty"`
	ActionTaken string          `json:"action_taken,omitempty"`
	Blocked     bool            `json:"blocked"`
	Quarantined bool            `json:"quarantined"`
	Alerts      int             `json:"alerts"`
}

// Process runs an inbound event through the full pipeline and persists it.
func (p *Processor) Process(ctx context.Context, event *models.Event) (*ProcessResult, error) {
	if event.AgentID == "" {
		return nil, errors.NewValidationError("agent_id", "agent_id is required")
	}
	if event.Type == "" {
		return nil, errors.NewValidationError("type", "event type is required")
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	if p.eventMetrics != nil {
		p.eventMetrics.ReceivedTotal.WithLabelValues(string(event.Type)).Inc()
		defer func() {
			p.eventMetrics.ProcessLatency.WithLabelValues().Observe(time.Since(start).Seconds())
		}()
	}

	p.classify(event)

	matches, err := p.matcher.Evaluate(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if p.policyMetrics != nil {
		result := "no_match"
		if len(matches) > 0 {
			result = "match"
		}
		p.policyMetrics.EvaluationsTotal.WithLabelValues(result).Inc()
		p.policyMetrics.EvaluationLatency.WithLabelValues().Observe(time.Since(start).Seconds())
	}

	result := &ProcessResult{EventID: event.EventID}
	for _, m := range matches {
		summary := p.runner.Execute(ctx, event, m.Actions, m.PolicyID, m.RuleID)

		event.PolicyIDs = append(event.PolicyIDs, m.PolicyID)
		result.PolicyIDs = append(result.PolicyIDs, m.PolicyID)
		result.Blocked = result.Blocked || summary.Blocked
		result.Quarantined = result.Quarantined || summary.Quarantined
		result.Alerts += summary.AlertsCreated
		event.Severity = event.Severity.Max(m.Severity)
	}

	result.Severity = event.Severity
	result.ActionTaken = event.ActionTaken

	if err := p.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist event: %w", err)
	}

	if len(matches) > 0 {
		p.logger.InfoContext(ctx, "event matched policies",
			"event_id", event.EventID,
			"agent_id", event.AgentID,
			"event_type", event.Type,
			"policy_count", len(matches),
			"severity", event.Severity,
			"action_taken", event.ActionTaken,
		)
	}
	return result, nil
}

// classify scans event content when the agent did not classify it already.
func (p *Processor) classify(event *models.Event) {
	if p.classifier == nil || event.Classification != nil {
		return
	}

	var content string
	if event.Clipboard != nil && event.Clipboard.ContentPreview != "" {
		content = event.Clipboard.ContentPreview
	} else if event.Metadata != nil {
		if v, ok := event.Metadata["content"].(string); ok {
			content = v
		}
	}
	if content == "" {
		return
	}

	c := p.classifier.ClassifyText(content)
	if !c.Sensitive {
		return
	}
	event.Classification = &c
	event.Severity = event.Severity.Max(c.Severity)
}
