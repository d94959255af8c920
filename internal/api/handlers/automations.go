package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/havenhub/haven-backend-go/internal/core/automation"
	"github.com/havenhub/haven-backend-go/pkg/utils"
)

// GetAutomations returns all automations
func (h *Handlers) GetAutomations(c *gin.Context) {
	automations := h.engine.List()
	utils.SendSuccessWithMeta(c, automations, map[string]interface{}{"count": len(automations)})
}

// GetAutomation returns a single automation by id
func (h *Handlers) GetAutomation(c *gin.Context) {
	result, err := h.engine.Get(c.Param("id"))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, result)
}

// CreateAutomation creates an automation from a structured definition
func (h *Handlers) CreateAutomation(c *gin.Context) {
	var def automation.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	def.CreatedBy = actor(c)

	result, err := h.engine.Create(c.Request.Context(), def)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendCreated(c, result)
}

// GenerateAutomation creates an automation from a natural-language prompt
func (h *Handlers) GenerateAutomation(c *gin.Context) {
	var body struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.engine.CreateFromNaturalLanguage(c.Request.Context(), body.Prompt, actor(c))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendCreated(c, result)
}

// UpdateAutomation applies a partial update to an automation
func (h *Handlers) UpdateAutomation(c *gin.Context) {
	var patch automation.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.engine.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, result)
}

// DeleteAutomation removes an automation and its execution log
func (h *Handlers) DeleteAutomation(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}

// EnableAutomation enables an automation
func (h *Handlers) EnableAutomation(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableAutomation disables an automation
func (h *Handlers) DisableAutomation(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handlers) setEnabled(c *gin.Context, enabled bool) {
	result, err := h.engine.SetEnabled(c.Request.Context(), c.Param("id"), enabled)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, result)
}

// TriggerAutomation fires an automation manually. The run happens in the
// background; a trigger arriving while the automation is already running is
// dropped by the engine.
func (h *Handlers) TriggerAutomation(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.engine.Get(id); err != nil {
		h.sendServiceError(c, err)
		return
	}

	go h.engine.Trigger(id, automation.Event{
		Type:      "manual",
		Timestamp: time.Now().UTC(),
	})

	utils.SendSuccess(c, gin.H{"automation_id": id, "triggered": true})
}

// GetAutomationLogs returns recent runs of an automation, newest first
func (h *Handlers) GetAutomationLogs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.SendError(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	if _, err := h.engine.Get(c.Param("id")); err != nil {
		h.sendServiceError(c, err)
		return
	}

	logs, err := h.engine.GetLogs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, logs, map[string]interface{}{"count": len(logs)})
}

// GetAutomationStats returns engine activity counters
func (h *Handlers) GetAutomationStats(c *gin.Context) {
	utils.SendSuccess(c, h.engine.Statistics())
}

// exportedAutomation is the YAML document shape for export and import
type exportedAutomation struct {
	Name        string                     `yaml:"name" json:"name"`
	Description string                     `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool                       `yaml:"enabled" json:"enabled"`
	Trigger     automation.TriggerSpec     `yaml:"trigger" json:"trigger"`
	Conditions  []automation.ConditionSpec `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions     []automation.ActionSpec    `yaml:"actions" json:"actions"`
}

// ExportAutomations serializes all automations as a YAML document
func (h *Handlers) ExportAutomations(c *gin.Context) {
	automations := h.engine.List()

	exported := make([]exportedAutomation, 0, len(automations))
	for _, a := range automations {
		exported = append(exported, exportedAutomation{
			Name:        a.Name,
			Description: a.Description,
			Enabled:     a.Enabled,
			Trigger:     a.Trigger,
			Conditions:  a.Conditions,
			Actions:     a.Actions,
		})
	}

	data, err := yaml.Marshal(map[string]interface{}{"automations": exported})
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to serialize automations")
		return
	}

	c.Header("Content-Disposition", "attachment; filename=automations.yaml")
	c.Data(http.StatusOK, "application/x-yaml", data)
}

// ImportAutomations creates automations from an uploaded YAML document.
// Each entry is validated independently; invalid entries are reported and
// skipped while valid ones are created.
func (h *Handlers) ImportAutomations(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var doc struct {
		Automations []exportedAutomation `yaml:"automations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid YAML: "+err.Error())
		return
	}

	created := make([]string, 0, len(doc.Automations))
	var failures []map[string]string

	for _, entry := range doc.Automations {
		enabled := entry.Enabled
		result, err := h.engine.Create(c.Request.Context(), automation.Definition{
			Name:        entry.Name,
			Description: entry.Description,
			Enabled:     &enabled,
			Trigger:     entry.Trigger,
			Conditions:  entry.Conditions,
			Actions:     entry.Actions,
			CreatedBy:   actor(c),
		})
		if err != nil {
			failures = append(failures, map[string]string{"name": entry.Name, "error": err.Error()})
			continue
		}
		created = append(created, result.ID)
	}

	utils.SendSuccess(c, gin.H{
		"created":  created,
		"failures": failures,
	})
}
