package database

import (
	"github.com/jmoiron/sqlx"

	"github.com/havenhub/haven-backend-go/internal/database/repositories"
	"github.com/havenhub/haven-backend-go/internal/database/sqlite"
)

// Repositories holds all repository instances
type Repositories struct {
	Device     repositories.DeviceRepository
	Automation repositories.AutomationRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Device:     sqlite.NewDeviceRepository(db),
		Automation: sqlite.NewAutomationRepository(db),
	}
}
