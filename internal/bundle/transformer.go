// Package bundle turns stored policies into agent-ready policy bundles.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// platformSupport lists the platforms each policy type can run on. A type
// absent from the map is considered platform-agnostic.
var platformSupport = map[models.PolicyType][]string{
	models.PolicyTypeClipboard:    {"windows"},
	models.PolicyTypeFileSystem:   {"windows", "linux"},
	models.PolicyTypeFileTransfer: {"windows", "linux"},
	models.PolicyTypeUSBDevice:    {"windows"},
	models.PolicyTypeUSBTransfer:  {"windows"},
	models.PolicyTypeCloudLocal:   {"windows"},
	models.PolicyTypeCloudCloud:   {"windows"},
}

// capabilityMap names the agent capability flag that gates each policy type.
var capabilityMap = map[models.PolicyType]string{
	models.PolicyTypeClipboard:    "clipboard_monitoring",
	models.PolicyTypeFileSystem:   "file_monitoring",
	models.PolicyTypeFileTransfer: "file_monitoring",
	models.PolicyTypeUSBDevice:    "usb_monitoring",
	models.PolicyTypeUSBTransfer:  "usb_monitoring",
	models.PolicyTypeCloudLocal:   "file_monitoring",
	models.PolicyTypeCloudCloud:   "cloud_monitoring",
}

// Transformer builds versioned, filtered policy bundles for agents.
type Transformer struct {
	clock clock.Clock
}

// NewTransformer creates a Transformer using the wall clock.
func NewTransformer() *Transformer {
	return &Transformer{clock: clock.New()}
}

// NewTransformerWithClock creates a Transformer with an injected clock.
func NewTransformerWithClock(c clock.Clock) *Transformer {
	return &Transformer{clock: c}
}

// Build filters policies for the requesting agent, groups them by type in
// priority order, and stamps the bundle with a deterministic content version.
func (t *Transformer) Build(policies []models.Policy, platform string, capabilities map[string]bool, agentID string) *models.Bundle {
	platformKey := strings.ToLower(platform)
	if platformKey == "" {
		platformKey = "windows"
	}

	var filtered []models.Policy
	for _, p := range policies {
		if t.supports(p, platformKey, capabilities, agentID) {
			filtered = append(filtered, p)
		}
	}

	grouped := groupByType(filtered)
	count := 0
	for _, items := range grouped {
		count += len(items)
	}

	return &models.Bundle{
		Version:     Version(filtered),
		GeneratedAt: t.clock.Now().UTC(),
		PolicyCount: count,
		Policies:    grouped,
	}
}

// Version computes the deterministic content version for a policy set.
func (t *Transformer) Version(policies []models.Policy) string {
	return Version(policies)
}

// supports decides whether a single policy applies to the requesting agent.
func (t *Transformer) supports(p models.Policy, platform string, capabilities map[string]bool, agentID string) bool {
	if !p.Enabled || p.Type == "" {
		return false
	}

	// Agent scoping applies only when the policy names agents.
	if len(p.AgentIDs) > 0 {
		if agentID == "" {
			return false
		}
		found := false
		for _, id := range p.AgentIDs {
			if id == agentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if supported, ok := platformSupport[p.Type]; ok && len(supported) > 0 {
		match := false
		for _, plat := range supported {
			if plat == platform {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	// A capability flag the agent reported gates the type; an unreported
	// flag defaults to allowed.
	if flag, ok := capabilityMap[p.Type]; ok {
		if enabled, reported := capabilities[flag]; reported {
			return enabled
		}
	}
	return true
}

// groupByType buckets policies by type, each bucket ordered by priority
// descending with policy ID as the tie-break.
func groupByType(policies []models.Policy) map[models.PolicyType][]models.BundlePolicy {
	sorted := make([]models.Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	grouped := make(map[models.PolicyType][]models.BundlePolicy)
	for _, p := range sorted {
		grouped[p.Type] = append(grouped[p.Type], serialize(p))
	}
	return grouped
}

func serialize(p models.Policy) models.BundlePolicy {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = p.CreatedAt
	}
	config := p.Config
	if config == nil {
		config = map[string]any{}
	}
	actions := p.Actions
	if actions == nil {
		actions = map[string]map[string]any{}
	}
	tags := p.ComplianceTags
	if tags == nil {
		tags = []string{}
	}
	return models.BundlePolicy{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Priority:       p.Priority,
		Severity:       p.Severity,
		Type:           p.Type,
		Config:         config,
		Actions:        actions,
		ComplianceTags: tags,
		UpdatedAt:      updatedAt,
	}
}

// Version hashes the content-relevant fields of the policies in ID order.
// The same policy set always yields the same version regardless of input
// order, and any change to config, actions, scoping, or update time yields
// a new one.
func Version(policies []models.Policy) string {
	sorted := make([]models.Policy, len(policies))
	copy(sorted, policies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, p := range sorted {
		updatedAt := p.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = p.CreatedAt
		}
		h.Write([]byte(p.ID))
		h.Write([]byte(updatedAt.UTC().Format("2006-01-02T15:04:05.999999999")))
		h.Write(canonicalJSON(p.Config))
		h.Write(canonicalJSON(p.Actions))
		agentIDs := p.AgentIDs
		if agentIDs == nil {
			agentIDs = []string{}
		}
		sortedIDs := make([]string, len(agentIDs))
		copy(sortedIDs, agentIDs)
		sort.Strings(sortedIDs)
		h.Write(canonicalJSON(sortedIDs))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON marshals v with map keys sorted, which encoding/json
// guarantees for map types.
func canonicalJSON(v any) []byte {
	if v == nil {
		v = map[string]any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		// Policy config and actions come from JSON columns, so this
		// cannot happen with well-formed input.
		panic(fmt.Sprintf("bundle: canonical marshal: %v", err))
	}
	return data
}
