// Package retention prunes aged device history snapshots and automation
// execution logs on a fixed interval.
package retention

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/config"
	"github.com/havenhub/haven-backend-go/internal/database/repositories"
)

const (
	defaultHistoryMaxAge   = 30 * 24 * time.Hour
	defaultLogMaxAge       = 30 * 24 * time.Hour
	defaultCleanupInterval = time.Hour
)

// Service deletes history and log rows older than the configured ages
type Service struct {
	devices     repositories.DeviceRepository
	automations repositories.AutomationRepository
	logger      *logrus.Logger

	historyMaxAge   time.Duration
	logMaxAge       time.Duration
	cleanupInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service from config. Unparseable durations
// fall back to the defaults.
func NewService(cfg config.RetentionConfig, devices repositories.DeviceRepository, automations repositories.AutomationRepository, logger *logrus.Logger) *Service {
	return &Service{
		devices:         devices,
		automations:     automations,
		logger:          logger,
		historyMaxAge:   parseDuration(cfg.HistoryMaxAge, defaultHistoryMaxAge, logger),
		logMaxAge:       parseDuration(cfg.LogMaxAge, defaultLogMaxAge, logger),
		cleanupInterval: parseDuration(cfg.CleanupInterval, defaultCleanupInterval, logger),
	}
}

// Start runs an immediate sweep and then sweeps on the interval
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.sweep(ctx)

		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"history_max_age":  s.historyMaxAge,
		"log_max_age":      s.logMaxAge,
		"cleanup_interval": s.cleanupInterval,
	}).Info("Retention cleanup started")
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Service) sweep(ctx context.Context) {
	now := time.Now().UTC()

	removed, err := s.devices.DeleteHistoryBefore(ctx, now.Add(-s.historyMaxAge))
	if err != nil {
		s.logger.WithError(err).Warn("Device history cleanup failed")
	} else if removed > 0 {
		s.logger.WithField("rows", removed).Debug("Pruned device history")
	}

	removed, err = s.automations.DeleteLogsBefore(ctx, now.Add(-s.logMaxAge))
	if err != nil {
		s.logger.WithError(err).Warn("Automation log cleanup failed")
	} else if removed > 0 {
		s.logger.WithField("rows", removed).Debug("Pruned automation logs")
	}
}

func parseDuration(value string, fallback time.Duration, logger *logrus.Logger) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		logger.WithField("value", value).Warn("Invalid retention duration, using default")
		return fallback
	}
	return parsed
}
