package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"gorm.io/gorm"
)

func createSubscriptionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_subscriptions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubscriptionModel{}); err != nil {
				return err
			}
			indexes := []string{
				// GIN index serves the events @> containment match in
				// ListActiveForEvent.
				`CREATE INDEX IF NOT EXISTS idx_subscriptions_events ON subscriptions USING GIN (events)`,
				`CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions (active) WHERE active = TRUE`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubscriptionModel{})
		},
	}
}
