// Package rules evaluates events against policy condition trees.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// PolicySource provides the enabled policies to evaluate against.
type PolicySource interface {
	EnabledPolicies(ctx context.Context) ([]models.Policy, error)
}

// Action is a single prepared enforcement action from a matched policy.
type Action struct {
	Type     string
	Params   map[string]any
	Metadata map[string]any
}

// Match describes a policy that matched an event and what to do about it.
type Match struct {
	PolicyID     string
	PolicyName   string
	Severity     models.Severity
	Priority     int
	Actions      []Action
	MatchedRules []models.ConditionRule
	RuleID       string
}

// Evaluator caches enabled policies for a short TTL and evaluates events
// against their condition trees. Compiled regex patterns are cached per
// evaluator instance.
type Evaluator struct {
	source   PolicySource
	cacheTTL time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu           sync.Mutex
	cached       []models.Policy
	cacheExpires time.Time

	regexMu    sync.Mutex
	regexCache map[string]*regexp.Regexp
}

// NewEvaluator creates an Evaluator over the given policy source.
func NewEvaluator(source PolicySource, cacheTTL time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		source:     source,
		cacheTTL:   cacheTTL,
		clock:      clock.New(),
		logger:     logger,
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// NewEvaluatorWithClock creates an Evaluator with an injected clock.
func NewEvaluatorWithClock(source PolicySource, cacheTTL time.Duration, logger *slog.Logger, c clock.Clock) *Evaluator {
	e := NewEvaluator(source, cacheTTL, logger)
	e.clock = c
	return e
}

// Evaluate returns a Match for every enabled policy whose condition tree
// matches the event. Policies without rules never match.
func (e *Evaluator) Evaluate(ctx context.Context, event *models.Event) ([]Match, error) {
	policies, err := e.policies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	var matches []Match
	for _, policy := range policies {
		if policy.Conditions == nil || len(policy.Conditions.Rules) == 0 {
			continue
		}

		matched, matchedRules := e.evaluateTree(policy.Conditions.Match, policy.Conditions.Rules, event)
		if !matched {
			continue
		}

		matches = append(matches, Match{
			PolicyID:     policy.ID,
			PolicyName:   policy.Name,
			Severity:     policy.Severity,
			Priority:     policy.Priority,
			Actions:      prepareActions(policy),
			MatchedRules: matchedRules,
			RuleID:       policy.ID + "-root",
		})
	}
	return matches, nil
}

// Invalidate drops the policy cache so the next Evaluate reloads.
func (e *Evaluator) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cacheExpires = time.Time{}
	e.cached = nil
}

func (e *Evaluator) policies(ctx context.Context) ([]models.Policy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if now.Before(e.cacheExpires) && len(e.cached) > 0 {
		return e.cached, nil
	}

	policies, err := e.source.EnabledPolicies(ctx)
	if err != nil {
		return nil, err
	}
	e.cached = policies
	e.cacheExpires = now.Add(e.cacheTTL)
	e.logger.Info("policy cache refreshed",
		"policy_count", len(policies),
		"cache_ttl", e.cacheTTL.String())
	return policies, nil
}

// evaluateTree folds child results with the match mode. Nested rules
// recurse; unknown modes never match.
func (e *Evaluator) evaluateTree(mode models.MatchMode, ruleList []models.ConditionRule, event *models.Event) (bool, []models.ConditionRule) {
	if len(ruleList) == 0 {
		return false, nil
	}
	if mode == "" {
		mode = models.MatchAll
	}

	var matchedRules []models.ConditionRule
	results := make([]bool, 0, len(ruleList))

	for _, rule := range ruleList {
		if rule.IsNested() {
			result, nested := e.evaluateTree(rule.Match, rule.Rules, event)
			results = append(results, result)
			if result {
				matchedRules = append(matchedRules, nested...)
			}
			continue
		}
		result := e.evaluateLeaf(rule, event)
		results = append(results, result)
		if result {
			matchedRules = append(matchedRules, rule)
		}
	}

	switch mode {
	case models.MatchAll:
		for _, r := range results {
			if !r {
				return false, matchedRules
			}
		}
		return true, matchedRules
	case models.MatchAny:
		for _, r := range results {
			if r {
				return true, matchedRules
			}
		}
		return false, matchedRules
	case models.MatchNone:
		for _, r := range results {
			if r {
				return false, matchedRules
			}
		}
		return true, matchedRules
	}

	e.logger.Warn("unknown match mode", "mode", string(mode))
	return false, matchedRules
}

func (e *Evaluator) evaluateLeaf(rule models.ConditionRule, event *models.Event) bool {
	if rule.Field == "" {
		return false
	}

	eventValue, ok := lookupField(event, rule.Field)
	if !ok || eventValue == nil {
		return false
	}

	op := rule.Operator
	if op == "" {
		op = models.OperatorEquals
	}

	switch op {
	case models.OperatorMatchesRegex:
		pattern, err := e.regex(stringify(rule.Value))
		if err != nil {
			e.logger.Warn("failed to evaluate rule",
				"error", err, "field", rule.Field, "operator", string(op))
			return false
		}
		return pattern.MatchString(stringify(eventValue))
	case models.OperatorStartsWith:
		return strings.HasPrefix(
			strings.ToLower(stringify(eventValue)),
			strings.ToLower(stringify(rule.Value)))
	case models.OperatorMatchesAnyPrefix:
		candidate := strings.ToLower(stringify(eventValue))
		for _, prefix := range valueList(rule.Value) {
			if strings.HasPrefix(candidate, strings.ToLower(prefix)) {
				return true
			}
		}
		return false
	case models.OperatorIn:
		options := valueList(rule.Value)
		for _, item := range eventValueList(eventValue) {
			for _, opt := range options {
				if item == opt {
					return true
				}
			}
		}
		return false
	case models.OperatorEquals:
		return strings.EqualFold(stringify(eventValue), stringify(rule.Value))
	case models.OperatorContains:
		return strings.Contains(
			strings.ToLower(stringify(eventValue)),
			strings.ToLower(stringify(rule.Value)))
	}

	e.logger.Warn("unknown rule operator", "field", rule.Field, "operator", string(op))
	return false
}

// regex compiles a case-insensitive pattern, caching by source string.
func (e *Evaluator) regex(pattern string) (*regexp.Regexp, error) {
	e.regexMu.Lock()
	defer e.regexMu.Unlock()
	if re, ok := e.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	e.regexCache[pattern] = re
	return re, nil
}

// prepareActions flattens the policy action map into executable actions,
// dropping log actions and stamping policy provenance into metadata.
func prepareActions(policy models.Policy) []Action {
	var prepared []Action
	for actionType, params := range policy.Actions {
		if actionType == "log" {
			continue
		}
		action := Action{
			Type:     actionType,
			Params:   map[string]any{},
			Metadata: map[string]any{},
		}
		for k, v := range params {
			if k == "metadata" {
				if md, ok := v.(map[string]any); ok {
					for mk, mv := range md {
						action.Metadata[mk] = mv
					}
				}
				continue
			}
			action.Params[k] = v
		}
		if _, ok := action.Metadata["policy_id"]; !ok {
			action.Metadata["policy_id"] = policy.ID
		}
		if _, ok := action.Metadata["policy_name"]; !ok {
			action.Metadata["policy_name"] = policy.Name
		}
		if _, ok := action.Metadata["policy_severity"]; !ok {
			action.Metadata["policy_severity"] = string(policy.Severity)
		}
		prepared = append(prepared, action)
	}
	return prepared
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// valueList normalizes a rule value into a string slice: scalars become a
// single-element list.
func valueList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

// eventValueList normalizes the event-side value for the in operator.
func eventValueList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}
