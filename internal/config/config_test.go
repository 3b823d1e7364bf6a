package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Project.ID)
	assert.True(t, cfg.Workflow.PMReviewRequired())
	tpl, ok := cfg.QATemplate("standard")
	require.True(t, ok)
	assert.Len(t, tpl.Checks, 3)
	assert.Contains(t, cfg.RBAC.Roles, "owner")
}

func TestDefaultKeepsUnusualProjectID(t *testing.T) {
	var cfg *Config
	require.NotPanics(t, func() { cfg = Default("acme: [web]") })
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme: [web]", cfg.Project.ID)
	assert.Contains(t, cfg.QA.Templates, "bugfix")
}

func TestPMReviewDefaultsOn(t *testing.T) {
	cfg, err := FromYAML([]byte("project:\n  id: p\n  kind: client-project\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Workflow.PMReviewRequired())

	cfg, err = FromYAML([]byte("project:\n  id: p\n  kind: client-project\nworkflow:\n  require_pm_review: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Workflow.PMReviewRequired())
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"missing id":      "project:\n  kind: client-project\n",
		"missing kind":    "project:\n  id: p\n",
		"empty check key": "project:\n  id: p\n  kind: k\nqa:\n  templates:\n    t:\n      checks:\n        - label: x\n",
		"duplicate check": "project:\n  id: p\n  kind: k\nqa:\n  templates:\n    t:\n      checks:\n        - key: a\n        - key: a\n",
		"no owner role":   "project:\n  id: p\n  kind: k\nrbac:\n  roles:\n    dev:\n      permissions: [task.read]\n",
		"bad webhook url": "project:\n  id: p\n  kind: k\nwebhooks:\n  - url: not-a-url\n",
		"bad yaml":        "project: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestWebhookEnabled(t *testing.T) {
	off := false
	assert.True(t, WebhookConfig{}.IsEnabled())
	assert.False(t, WebhookConfig{Enabled: &off}.IsEnabled())
}
