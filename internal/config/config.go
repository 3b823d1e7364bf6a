package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskline.yml. It is imported into the project_configs table
// and read back from there; the file itself is only an import source.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Kind string `yaml:"kind" json:"kind"`
	} `yaml:"project" json:"project"`
	Workflow WorkflowConfig `yaml:"workflow" json:"workflow"`
	QA       struct {
		Templates map[string]QATemplate `yaml:"templates" json:"templates,omitempty"`
	} `yaml:"qa" json:"qa"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles,omitempty"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// WorkflowConfig shapes the lifecycle per project.
type WorkflowConfig struct {
	// RequirePMReview routes approved QA reviews to sent_to_pm instead of
	// completed. Defaults to true when unset.
	RequirePMReview *bool `yaml:"require_pm_review" json:"require_pm_review,omitempty"`
}

func (w WorkflowConfig) PMReviewRequired() bool {
	return w.RequirePMReview == nil || *w.RequirePMReview
}

type QATemplate struct {
	Description string            `yaml:"description" json:"description,omitempty"`
	Checks      []QATemplateCheck `yaml:"checks" json:"checks"`
}

type QATemplateCheck struct {
	Key      string `yaml:"key" json:"key"`
	Label    string `yaml:"label" json:"label"`
	Required bool   `yaml:"required" json:"required"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind == "" {
		return fmt.Errorf("config.project.kind is required")
	}
	for name, tpl := range c.QA.Templates {
		if name == "" {
			return fmt.Errorf("config.qa.templates contains empty template name")
		}
		seen := make(map[string]bool, len(tpl.Checks))
		for _, chk := range tpl.Checks {
			if chk.Key == "" {
				return fmt.Errorf("qa template %s has check with empty key", name)
			}
			if seen[chk.Key] {
				return fmt.Errorf("qa template %s repeats check %s", name, chk.Key)
			}
			seen[chk.Key] = true
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks[%d].url must be an absolute http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// QATemplate looks up a review template by name.
func (c *Config) QATemplate(name string) (QATemplate, bool) {
	if c == nil {
		return QATemplate{}, false
	}
	tpl, ok := c.QA.Templates[name]
	return tpl, ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project. The template is
// decoded with a placeholder id so odd project ids cannot break the YAML.
func Default(projectID string) *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(GenerateDefault("default"))).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("config: built-in template: %v", err))
	}
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: client-project

workflow:
  require_pm_review: true

qa:
  templates:
    standard:
      description: "Baseline review for any deliverable"
      checks:
        - key: acceptance
          label: "Acceptance criteria met"
          required: true
        - key: regression
          label: "No regressions in touched areas"
          required: true
        - key: polish
          label: "Copy, spacing and states reviewed"
          required: false
    bugfix:
      description: "Review for defect fixes"
      checks:
        - key: reproduced
          label: "Original defect reproduced before fix"
          required: true
        - key: verified
          label: "Fix verified on target environment"
          required: true

rbac:
  roles:
    owner:
      description: "Full control of the project"
      permissions:
        - task.create
        - task.read
        - task.assign
        - task.transition
        - task.qa_review
        - task.client_review
        - task.archive
        - checklist.write
        - project.events.read
        - rbac.manage
    developer:
      description: "Builds tasks and drives them to QA"
      permissions: [task.create, task.read, task.transition, checklist.write]
    qa:
      description: "Reviews submitted work"
      permissions: [task.read, task.qa_review, checklist.write]
    pm:
      description: "Owns client hand-off"
      permissions: [task.create, task.read, task.assign, task.transition, task.client_review, task.archive, project.events.read]
    viewer:
      description: "Read-only access"
      permissions: [task.read]
`
