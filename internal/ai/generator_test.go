package ai

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenhub/haven-backend-go/internal/core/automation"
	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

type fakeProvider struct {
	response    string
	err         error
	unavailable bool
	lastOptions CompletionOptions
	lastPrompt  string
}

func (p *fakeProvider) Complete(ctx context.Context, prompt string, options CompletionOptions) (*CompletionResponse, error) {
	p.lastPrompt = prompt
	p.lastOptions = options
	if p.err != nil {
		return nil, p.err
	}
	return &CompletionResponse{Text: p.response, Model: "test-model"}, nil
}

func (p *fakeProvider) GetName() string { return "fake" }

func (p *fakeProvider) IsAvailable(ctx context.Context) bool { return !p.unavailable }

type fakeDirectory []*registry.Device

func (d fakeDirectory) List(filter registry.Filter) []*registry.Device { return d }

func testGenerator(provider LLMProvider, devices fakeDirectory) *AutomationGenerator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewAutomationGenerator(provider, devices, logger)
}

const validDefinition = `{
	"name": "Evening Lights",
	"trigger": {"type": "time", "time": {"at": "19:30"}},
	"actions": [{"type": "device_control", "device_control": {"device_id": "dev-1", "command": "turn_on"}}]
}`

func TestGenerateAutomation(t *testing.T) {
	provider := &fakeProvider{response: validDefinition}
	generator := testGenerator(provider, nil)

	def, err := generator.GenerateAutomation(context.Background(), "turn the lamp on at 7:30pm")
	require.NoError(t, err)
	assert.Equal(t, "Evening Lights", def.Name)
	assert.Equal(t, "time", string(def.Trigger.Type))
	require.Len(t, def.Actions, 1)

	assert.Equal(t, "turn the lamp on at 7:30pm", provider.lastPrompt)
	assert.NotEmpty(t, provider.lastOptions.SystemPrompt)
}

func TestGenerateAutomationStripsFences(t *testing.T) {
	provider := &fakeProvider{response: "```json\n" + validDefinition + "\n```"}
	generator := testGenerator(provider, nil)

	def, err := generator.GenerateAutomation(context.Background(), "evening lights")
	require.NoError(t, err)
	assert.Equal(t, "Evening Lights", def.Name)
}

func TestGenerateAutomationRejectsGarbage(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"prose", "Sure! I'd be happy to help with that."},
		{"invalid definition", `{"name": "No Actions", "trigger": {"type": "time", "time": {"at": "19:30"}}, "actions": []}`},
		{"unknown trigger", `{"name": "X", "trigger": {"type": "sunset"}, "actions": [{"type": "delay", "delay": {"duration": "1s"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator := testGenerator(&fakeProvider{response: tt.response}, nil)
			_, err := generator.GenerateAutomation(context.Background(), "do something")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindGeneration))
		})
	}
}

func TestGenerateAutomationEmptyPrompt(t *testing.T) {
	generator := testGenerator(&fakeProvider{response: validDefinition}, nil)

	_, err := generator.GenerateAutomation(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestGenerateAutomationProviderUnavailable(t *testing.T) {
	generator := testGenerator(&fakeProvider{unavailable: true}, nil)

	_, err := generator.GenerateAutomation(context.Background(), "evening lights")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindGeneration))
}

func TestGenerateAutomationProviderError(t *testing.T) {
	provider := &fakeProvider{err: &ProviderError{Provider: "fake", Type: "network", Message: "connection refused"}}
	generator := testGenerator(provider, nil)

	_, err := generator.GenerateAutomation(context.Background(), "evening lights")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindGeneration))
}

func TestSystemPromptListsDevices(t *testing.T) {
	devices := fakeDirectory{
		{ID: "dev-2", Name: "Thermostat", Type: "climate", Room: "hall", State: map[string]interface{}{"temperature": 21.5}},
		{ID: "dev-1", Name: "Lamp", Type: "light", Room: "living room", State: map[string]interface{}{"on": true, "brightness": 80}},
	}
	provider := &fakeProvider{response: validDefinition}
	generator := testGenerator(provider, devices)

	_, err := generator.GenerateAutomation(context.Background(), "evening lights")
	require.NoError(t, err)

	prompt := provider.lastOptions.SystemPrompt
	assert.Contains(t, prompt, "id=dev-1")
	assert.Contains(t, prompt, "brightness, on")
	assert.Contains(t, prompt, "id=dev-2")
	// Devices are listed sorted by name
	assert.Less(t, strings.Index(prompt, "Lamp"), strings.Index(prompt, "Thermostat"))
}

type fakeAutomations []*automation.Automation

func (a fakeAutomations) List() []*automation.Automation { return a }

func TestSystemPromptListsExistingAutomations(t *testing.T) {
	provider := &fakeProvider{response: validDefinition}
	generator := testGenerator(provider, nil)
	generator.BindAutomations(fakeAutomations{
		{Name: "Morning Wakeup", Enabled: true, Trigger: automation.TriggerSpec{Type: automation.TriggerTime}},
	})

	_, err := generator.GenerateAutomation(context.Background(), "evening lights")
	require.NoError(t, err)

	prompt := provider.lastOptions.SystemPrompt
	assert.Contains(t, prompt, "Existing automations")
	assert.Contains(t, prompt, "Morning Wakeup")
}
