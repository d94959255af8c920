package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/havenhub/haven-backend-go/pkg/utils"
)

var startTime = time.Now()

// Health reports service liveness plus basic host metrics
func (h *Handlers) Health(c *gin.Context) {
	health := gin.H{
		"status":  "healthy",
		"uptime":  time.Since(startTime).String(),
		"devices": h.devices.Statistics(),
	}

	if memory, err := mem.VirtualMemory(); err == nil {
		health["memory"] = gin.H{
			"total":        memory.Total,
			"used":         memory.Used,
			"used_percent": memory.UsedPercent,
		}
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health["cpu_percent"] = percents[0]
	}
	if info, err := host.Info(); err == nil {
		health["host"] = gin.H{
			"hostname": info.Hostname,
			"os":       info.OS,
			"platform": info.Platform,
			"uptime":   info.Uptime,
		}
	}

	utils.SendSuccess(c, health)
}
