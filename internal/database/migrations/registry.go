package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/rebroadcastr/internal/models"
)

// AllMigrations returns every schema migration in version order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002AlertCreatedIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "create settings and alerts tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Setting{}, &models.Alert{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.Alert{}, &models.Setting{})
		},
	}
}

func migration002AlertCreatedIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "index alerts by creation time",
		Up: func(tx *gorm.DB) error {
			return tx.Exec("CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Exec("DROP INDEX IF EXISTS idx_alerts_created_at").Error
		},
	}
}
