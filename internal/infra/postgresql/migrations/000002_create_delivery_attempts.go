package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_subscription_id ON delivery_attempts (subscription_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_status_created ON delivery_attempts (status, created_at)`,
				// Partial index keeps the sweeper scan cheap.
				`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_pending ON delivery_attempts (created_at) WHERE status = 'PENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_event ON delivery_attempts (event)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{})
		},
	}
}
