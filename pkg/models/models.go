// Package models defines the core domain types for CyberSentinel DLP.
package models

import (
	"time"
)

// Severity represents the severity of a policy, event, or classification.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns a comparable ordering for the severity. Unknown severities
// rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Max returns the higher of the two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// PolicyType identifies which monitoring surface a policy governs.
type PolicyType string

const (
	PolicyTypeFileSystem   PolicyType = "file_system_monitoring"
	PolicyTypeClipboard    PolicyType = "clipboard_monitoring"
	PolicyTypeUSBDevice    PolicyType = "usb_device_monitoring"
	PolicyTypeUSBTransfer  PolicyType = "usb_file_transfer_monitoring"
	PolicyTypeFileTransfer PolicyType = "file_transfer_monitoring"
	PolicyTypeCloudLocal   PolicyType = "cloud_local_monitoring"
	PolicyTypeCloudCloud   PolicyType = "cloud_cloud_monitoring"
)

// RuleOperator is a closed enum of leaf-rule operators.
type RuleOperator string

const (
	OperatorMatchesRegex     RuleOperator = "matches_regex"
	OperatorStartsWith       RuleOperator = "starts_with"
	OperatorMatchesAnyPrefix RuleOperator = "matches_any_prefix"
	OperatorIn               RuleOperator = "in"
	OperatorEquals           RuleOperator = "equals"
	OperatorContains         RuleOperator = "contains"
)

// MatchMode combines the results of a condition tree's children.
type MatchMode string

const (
	MatchAll  MatchMode = "all"
	MatchAny  MatchMode = "any"
	MatchNone MatchMode = "none"
)

// ConditionRule is a leaf rule or a nested condition tree. Exactly one of
// the two forms is populated: leaf rules carry Field/Operator/Value, nested
// trees carry Match/Rules.
type ConditionRule struct {
	Field    string       `json:"field,omitempty"`
	Operator RuleOperator `json:"operator,omitempty"`
	Value    any          `json:"value,omitempty"`

	Match MatchMode       `json:"match,omitempty"`
	Rules []ConditionRule `json:"rules,omitempty"`
}

// IsNested reports whether the rule is a nested condition tree.
func (r ConditionRule) IsNested() bool {
	return len(r.Rules) > 0 || r.Match != ""
}

// ConditionTree is the boolean expression a policy matches events with.
type ConditionTree struct {
	Match MatchMode       `json:"match"`
	Rules []ConditionRule `json:"rules"`
}

// Policy is a centrally authored DLP policy.
type Policy struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	Description    string                    `json:"description,omitempty"`
	Type           PolicyType                `json:"type"`
	Severity       Severity                  `json:"severity"`
	Priority       int                       `json:"priority"`
	Enabled        bool                      `json:"enabled"`
	Config         map[string]any            `json:"config"`
	Conditions     *ConditionTree            `json:"conditions,omitempty"`
	Actions        map[string]map[string]any `json:"actions,omitempty"`
	AgentIDs       []string                  `json:"agent_ids,omitempty"`
	ComplianceTags []string                  `json:"compliance_tags,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// configStrings reads a []string-ish value out of the free-form config map.
func (p *Policy) configStrings(key string) []string {
	raw, ok := p.Config[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MonitoredPaths returns the config's monitored path list, if any.
func (p *Policy) MonitoredPaths() []string { return p.configStrings("monitoredPaths") }

// ProtectedPaths returns the transfer policy's protected source paths.
func (p *Policy) ProtectedPaths() []string { return p.configStrings("protectedPaths") }

// MonitoredDestinations returns the transfer policy's destination paths.
func (p *Policy) MonitoredDestinations() []string { return p.configStrings("monitoredDestinations") }

// TrackedExtensions returns the config's extension filter, if any.
func (p *Policy) TrackedExtensions() []string { return p.configStrings("fileExtensions") }

// ConfigAction returns the policy config's local action, defaulting when unset.
func (p *Policy) ConfigAction(fallback string) string {
	if raw, ok := p.Config["action"].(string); ok && raw != "" {
		return raw
	}
	return fallback
}

// QuarantinePath returns the policy-specific quarantine folder, if configured.
func (p *Policy) QuarantinePath() string {
	raw, _ := p.Config["quarantinePath"].(string)
	return raw
}

// BundlePolicy is the serialized projection of a Policy inside a bundle.
type BundlePolicy struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	Description    string                    `json:"description,omitempty"`
	Priority       int                       `json:"priority"`
	Severity       Severity                  `json:"severity"`
	Type           PolicyType                `json:"type"`
	Config         map[string]any            `json:"config"`
	Actions        map[string]map[string]any `json:"actions"`
	ComplianceTags []string                  `json:"compliance_tags"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// ToPolicy rebuilds a Policy view of the bundle entry for agent-side matching.
func (bp BundlePolicy) ToPolicy() Policy {
	return Policy{
		ID:             bp.ID,
		Name:           bp.Name,
		Description:    bp.Description,
		Type:           bp.Type,
		Severity:       bp.Severity,
		Priority:       bp.Priority,
		Enabled:        true,
		Config:         bp.Config,
		Actions:        bp.Actions,
		ComplianceTags: bp.ComplianceTags,
		UpdatedAt:      bp.UpdatedAt,
	}
}

// Bundle is the versioned, platform/capability-filtered policy set an agent
// enforces.
type Bundle struct {
	Version     string                        `json:"version"`
	GeneratedAt time.Time                     `json:"generated_at"`
	PolicyCount int                           `json:"policy_count"`
	Policies    map[PolicyType][]BundlePolicy `json:"policies"`
}

// PoliciesOfType returns the bundle group for a policy type.
func (b *Bundle) PoliciesOfType(t PolicyType) []BundlePolicy {
	if b == nil || b.Policies == nil {
		return nil
	}
	return b.Policies[t]
}

// SyncRequest is what an agent submits when asking for its bundle.
type SyncRequest struct {
	Platform         string          `json:"platform"`
	Capabilities     map[string]bool `json:"capabilities"`
	InstalledVersion string          `json:"installed_version,omitempty"`
}

// Sync response statuses.
const (
	SyncStatusUpToDate = "up_to_date"
	SyncStatusUpdated  = "updated"
)

// SyncResponse is the server's answer to a sync request. When Status is
// up_to_date the bundle fields are left empty.
type SyncResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	GeneratedAt time.Time                     `json:"generated_at,omitempty"`
	PolicyCount int                           `json:"policy_count,omitempty"`
	Policies    map[PolicyType][]BundlePolicy `json:"policies,omitempty"`
}

// Bundle converts an updated sync response into a Bundle.
func (r *SyncResponse) Bundle() *Bundle {
	return &Bundle{
		Version:     r.Version,
		GeneratedAt: r.GeneratedAt,
		PolicyCount: r.PolicyCount,
		Policies:    r.Policies,
	}
}

// Agent is a registered endpoint agent.
type Agent struct {
	AgentID            string          `json:"agent_id"`
	Name               string          `json:"name"`
	Hostname           string          `json:"hostname"`
	OS                 string          `json:"os"`
	OSVersion          string          `json:"os_version"`
	IPAddress          string          `json:"ip_address"`
	Version            string          `json:"version"`
	Capabilities       map[string]bool `json:"capabilities"`
	RegisteredAt       time.Time       `json:"registered_at"`
	LastHeartbeat      time.Time       `json:"last_heartbeat"`
	PolicyVersion      string          `json:"policy_version,omitempty"`
	PolicySyncStatus   string          `json:"policy_sync_status,omitempty"`
	PolicyLastSyncedAt string          `json:"policy_last_synced_at,omitempty"`
	PolicySyncError    string          `json:"policy_sync_error,omitempty"`
}

// Heartbeat is the periodic liveness report an agent sends.
type Heartbeat struct {
	Timestamp          time.Time `json:"timestamp"`
	IPAddress          string    `json:"ip_address"`
	PolicyVersion      string    `json:"policy_version,omitempty"`
	PolicySyncStatus   string    `json:"policy_sync_status,omitempty"`
	PolicyLastSyncedAt string    `json:"policy_last_synced_at,omitempty"`
	PolicySyncError    string    `json:"policy_sync_error,omitempty"`
}

// Alert is created by the alert action when a policy violation fires.
type Alert struct {
	AlertID     string         `json:"alert_id"`
	EventID     string         `json:"event_id"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
