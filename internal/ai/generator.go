package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/core/automation"
	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// DeviceDirectory is the slice of the device registry the generator needs to
// build its prompt context.
type DeviceDirectory interface {
	List(filter registry.Filter) []*registry.Device
}

// AutomationDirectory lists existing automations for prompt context, so the
// model can avoid duplicating them and can reference them by name.
type AutomationDirectory interface {
	List() []*automation.Automation
}

// AutomationGenerator turns natural-language requests into structured
// automation definitions via an LLM provider. Output is parsed strictly:
// anything that does not decode into a valid definition is rejected, and
// nothing is persisted on failure.
type AutomationGenerator struct {
	provider    LLMProvider
	devices     DeviceDirectory
	automations AutomationDirectory
	logger      *logrus.Logger
}

// NewAutomationGenerator creates a generator backed by the given provider
func NewAutomationGenerator(provider LLMProvider, devices DeviceDirectory, logger *logrus.Logger) *AutomationGenerator {
	return &AutomationGenerator{
		provider: provider,
		devices:  devices,
		logger:   logger,
	}
}

// BindAutomations attaches the automation listing after the engine exists.
// The engine depends on the generator, so this side is wired second.
func (g *AutomationGenerator) BindAutomations(automations AutomationDirectory) {
	g.automations = automations
}

const generationSchema = `Respond with a single JSON object and nothing else. Schema:
{
  "name": "short automation name",
  "description": "optional description",
  "trigger": {"type": "time", "time": {"at": "HH:MM", "days": ["mon","tue"]}}
          or {"type": "time", "time": {"cron": "0 7 * * *"}}
          or {"type": "state", "state": {"device_id": "...", "property": "...", "operator": "equals|changes_to|changes_from|greater_than|less_than|changes", "value": ...}},
  "conditions": [
    {"type": "device_state", "device_state": {"device_id": "...", "property": "...", "operator": "equals|not_equals|greater_than|less_than", "value": ...}},
    {"type": "time_of_day", "time_of_day": {"after": "HH:MM", "before": "HH:MM"}},
    {"type": "day_of_week", "day_of_week": {"days": ["sat","sun"]}}
  ],
  "actions": [
    {"type": "device_control", "device_control": {"device_id": "...", "command": "...", "parameters": {}}},
    {"type": "delay", "delay": {"duration": "5s"}},
    {"type": "notification", "notification": {"title": "...", "message": "..."}}
  ]
}
Only reference device ids from the device list. Conditions may be empty; at least one action is required.`

// GenerateAutomation asks the provider for a definition matching the prompt
func (g *AutomationGenerator) GenerateAutomation(ctx context.Context, prompt string) (*automation.Definition, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.NewValidation("prompt is required")
	}
	if g.provider == nil || !g.provider.IsAvailable(ctx) {
		return nil, errors.NewGeneration("no AI provider available", nil)
	}

	response, err := g.provider.Complete(ctx, prompt, CompletionOptions{
		SystemPrompt: g.systemPrompt(),
		Temperature:  0.2,
	})
	if err != nil {
		return nil, errors.NewGeneration("AI request failed", err)
	}

	def, err := parseDefinition(response.Text)
	if err != nil {
		g.logger.WithError(err).WithField("response", truncate(response.Text, 512)).Warn("Rejected AI automation output")
		return nil, errors.NewGeneration("AI returned an unusable automation definition", err)
	}

	if err := def.Validate(); err != nil {
		return nil, errors.NewGeneration("AI returned an invalid automation definition", err)
	}

	g.logger.WithFields(logrus.Fields{
		"name":         def.Name,
		"trigger_type": def.Trigger.Type,
		"model":        response.Model,
	}).Info("Generated automation from natural language")

	return def, nil
}

// systemPrompt renders the device inventory and the output schema
func (g *AutomationGenerator) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You translate smart-home automation requests into JSON definitions.\n\n")
	sb.WriteString("Available devices:\n")

	devices := g.devices.List(registry.Filter{})
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	for _, device := range devices {
		properties := make([]string, 0, len(device.State))
		for key := range device.State {
			properties = append(properties, key)
		}
		sort.Strings(properties)
		sb.WriteString(fmt.Sprintf("- id=%s name=%q type=%s room=%s properties=[%s]\n",
			device.ID, device.Name, device.Type, device.Room, strings.Join(properties, ", ")))
	}
	if len(devices) == 0 {
		sb.WriteString("(none registered)\n")
	}

	if g.automations != nil {
		existing := g.automations.List()
		if len(existing) > 0 {
			sb.WriteString("\nExisting automations:\n")
			sort.Slice(existing, func(i, j int) bool { return existing[i].Name < existing[j].Name })
			for _, a := range existing {
				sb.WriteString(fmt.Sprintf("- %q (trigger: %s, enabled: %t)\n", a.Name, a.Trigger.Type, a.Enabled))
			}
		}
	}

	sb.WriteString("\n")
	sb.WriteString(generationSchema)
	return sb.String()
}

// parseDefinition decodes the model output, tolerating markdown fences
func parseDefinition(text string) (*automation.Definition, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var def automation.Definition
	if err := json.Unmarshal([]byte(cleaned), &def); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	return &def, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
