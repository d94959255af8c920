package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/pkg/utils"
)

// GetDevices returns all devices, optionally filtered by query parameters
func (h *Handlers) GetDevices(c *gin.Context) {
	filter := registry.Filter{
		Protocol: c.Query("protocol"),
		Type:     c.Query("type"),
		Room:     c.Query("room"),
	}
	if online := c.Query("online"); online != "" {
		value, err := strconv.ParseBool(online)
		if err != nil {
			utils.SendError(c, http.StatusBadRequest, "Invalid online filter, expected true or false")
			return
		}
		filter.Online = &value
	}

	devices := h.devices.List(filter)
	utils.SendSuccessWithMeta(c, devices, map[string]interface{}{"count": len(devices)})
}

// GetDevice returns a single device by id
func (h *Handlers) GetDevice(c *gin.Context) {
	device, err := h.devices.GetByID(c.Param("id"))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, device)
}

// RegisterDevice registers a new device
func (h *Handlers) RegisterDevice(c *gin.Context) {
	var spec registry.RegisterSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	device, err := h.devices.Register(c.Request.Context(), spec)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendCreated(c, device)
}

// UpdateDeviceState merges a partial state into the device
func (h *Handlers) UpdateDeviceState(c *gin.Context) {
	var partial map[string]interface{}
	if err := c.ShouldBindJSON(&partial); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	state, err := h.devices.UpdateState(c.Request.Context(), c.Param("id"), partial, actor(c))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"device_id": c.Param("id"), "state": state})
}

// UpdateDeviceInfo updates descriptive device fields
func (h *Handlers) UpdateDeviceInfo(c *gin.Context) {
	var info registry.InfoUpdate
	if err := c.ShouldBindJSON(&info); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	device, err := h.devices.UpdateInfo(c.Request.Context(), c.Param("id"), info)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, device)
}

// DeleteDevice removes a device and its history
func (h *Handlers) DeleteDevice(c *gin.Context) {
	if err := h.devices.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}

// ControlDevice sends a command toward the device's protocol adapter
func (h *Handlers) ControlDevice(c *gin.Context) {
	var body struct {
		Command    string                 `json:"command" binding:"required"`
		Parameters map[string]interface{} `json:"parameters"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.devices.ControlDevice(c.Param("id"), body.Command, body.Parameters); err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"device_id": c.Param("id"), "command": body.Command})
}

// GetDeviceHistory returns recent state snapshots for a device
func (h *Handlers) GetDeviceHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.SendError(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	history, err := h.devices.GetHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, history, map[string]interface{}{"count": len(history)})
}

// MarkDeviceOnline marks a device reachable
func (h *Handlers) MarkDeviceOnline(c *gin.Context) {
	h.devices.MarkOnline(c.Request.Context(), c.Param("id"))
	utils.SendSuccess(c, gin.H{"device_id": c.Param("id"), "online": true})
}

// MarkDeviceOffline marks a device unreachable
func (h *Handlers) MarkDeviceOffline(c *gin.Context) {
	h.devices.MarkOffline(c.Request.Context(), c.Param("id"))
	utils.SendSuccess(c, gin.H{"device_id": c.Param("id"), "online": false})
}

// GetDeviceStats returns device table statistics
func (h *Handlers) GetDeviceStats(c *gin.Context) {
	utils.SendSuccess(c, h.devices.Statistics())
}
