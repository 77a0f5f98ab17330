package bundle

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

func testPolicy(id string, ptype models.PolicyType, priority int) models.Policy {
	return models.Policy{
		ID:       id,
		Name:     "policy-" + id,
		Type:     ptype,
		Severity: models.SeverityHigh,
		Priority: priority,
		Enabled:  true,
		Config: map[string]any{
			"monitoredPaths": []any{"/home/docs"},
		},
		Actions: map[string]map[string]any{
			"alert": {"severity": "high"},
		},
		UpdatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildFiltering(t *testing.T) {
	tr := NewTransformer()

	t.Run("disabled policies are excluded", func(t *testing.T) {
		p := testPolicy("p1", models.PolicyTypeFileSystem, 10)
		p.Enabled = false
		b := tr.Build([]models.Policy{p}, "linux", nil, "agent-1")
		assert.Zero(t, b.PolicyCount)
	})

	t.Run("platform filtering", func(t *testing.T) {
		clip := testPolicy("p1", models.PolicyTypeClipboard, 10)
		fs := testPolicy("p2", models.PolicyTypeFileSystem, 10)
		b := tr.Build([]models.Policy{clip, fs}, "linux", nil, "agent-1")
		require.Equal(t, 1, b.PolicyCount)
		assert.Len(t, b.PoliciesOfType(models.PolicyTypeFileSystem), 1)
		assert.Empty(t, b.PoliciesOfType(models.PolicyTypeClipboard))
	})

	t.Run("empty platform defaults to windows", func(t *testing.T) {
		clip := testPolicy("p1", models.PolicyTypeClipboard, 10)
		b := tr.Build([]models.Policy{clip}, "", nil, "agent-1")
		assert.Equal(t, 1, b.PolicyCount)
	})

	t.Run("capability flag gates when reported", func(t *testing.T) {
		usb := testPolicy("p1", models.PolicyTypeUSBDevice, 10)
		caps := map[string]bool{"usb_monitoring": false}
		b := tr.Build([]models.Policy{usb}, "windows", caps, "agent-1")
		assert.Zero(t, b.PolicyCount)

		caps["usb_monitoring"] = true
		b = tr.Build([]models.Policy{usb}, "windows", caps, "agent-1")
		assert.Equal(t, 1, b.PolicyCount)
	})

	t.Run("unreported capability defaults to allowed", func(t *testing.T) {
		usb := testPolicy("p1", models.PolicyTypeUSBDevice, 10)
		b := tr.Build([]models.Policy{usb}, "windows", map[string]bool{}, "agent-1")
		assert.Equal(t, 1, b.PolicyCount)
	})

	t.Run("agent scoping", func(t *testing.T) {
		scoped := testPolicy("p1", models.PolicyTypeFileSystem, 10)
		scoped.AgentIDs = []string{"agent-1", "agent-2"}
		global := testPolicy("p2", models.PolicyTypeFileSystem, 5)

		b := tr.Build([]models.Policy{scoped, global}, "linux", nil, "agent-1")
		assert.Equal(t, 2, b.PolicyCount)

		b = tr.Build([]models.Policy{scoped, global}, "linux", nil, "agent-9")
		assert.Equal(t, 1, b.PolicyCount)

		b = tr.Build([]models.Policy{scoped, global}, "linux", nil, "")
		assert.Equal(t, 1, b.PolicyCount)
	})
}

func TestBuildGrouping(t *testing.T) {
	tr := NewTransformer()

	low := testPolicy("b", models.PolicyTypeFileSystem, 1)
	high := testPolicy("a", models.PolicyTypeFileSystem, 100)
	mid := testPolicy("c", models.PolicyTypeFileSystem, 50)

	b := tr.Build([]models.Policy{low, high, mid}, "linux", nil, "agent-1")
	group := b.PoliciesOfType(models.PolicyTypeFileSystem)
	require.Len(t, group, 3)
	assert.Equal(t, "a", group[0].ID)
	assert.Equal(t, "c", group[1].ID)
	assert.Equal(t, "b", group[2].ID)
}

func TestBuildGeneratedAt(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	tr := NewTransformerWithClock(mock)

	b := tr.Build(nil, "linux", nil, "agent-1")
	assert.Equal(t, mock.Now().UTC(), b.GeneratedAt)
}

func TestVersion(t *testing.T) {
	p1 := testPolicy("p1", models.PolicyTypeFileSystem, 10)
	p2 := testPolicy("p2", models.PolicyTypeClipboard, 20)

	t.Run("deterministic across input order", func(t *testing.T) {
		v1 := Version([]models.Policy{p1, p2})
		v2 := Version([]models.Policy{p2, p1})
		assert.Equal(t, v1, v2)
		assert.Len(t, v1, 64)
	})

	t.Run("changes when config changes", func(t *testing.T) {
		before := Version([]models.Policy{p1})
		changed := p1
		changed.Config = map[string]any{"monitoredPaths": []any{"/srv"}}
		assert.NotEqual(t, before, Version([]models.Policy{changed}))
	})

	t.Run("changes when updated_at changes", func(t *testing.T) {
		before := Version([]models.Policy{p1})
		changed := p1
		changed.UpdatedAt = changed.UpdatedAt.Add(time.Second)
		assert.NotEqual(t, before, Version([]models.Policy{changed}))
	})

	t.Run("changes when agent scoping changes", func(t *testing.T) {
		before := Version([]models.Policy{p1})
		changed := p1
		changed.AgentIDs = []string{"agent-7"}
		assert.NotEqual(t, before, Version([]models.Policy{changed}))
	})

	t.Run("insensitive to agent id ordering", func(t *testing.T) {
		a := p1
		a.AgentIDs = []string{"x", "y"}
		b := p1
		b.AgentIDs = []string{"y", "x"}
		assert.Equal(t, Version([]models.Policy{a}), Version([]models.Policy{b}))
	})

	t.Run("name change does not bump version", func(t *testing.T) {
		before := Version([]models.Policy{p1})
		changed := p1
		changed.Name = "renamed"
		assert.Equal(t, before, Version([]models.Policy{changed}))
	})

	t.Run("empty set has a stable version", func(t *testing.T) {
		assert.Equal(t, Version(nil), Version([]models.Policy{}))
	})
}
