package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/overlay/internal/outbox"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// OpenPostgres connects gorm to the database the generated script was
// applied to. The changes table belongs to that script and is never
// migrated here; only consumer cursors are.
func OpenPostgres(url string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&outbox.Cursor{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "postgres"))
	}

	return db, nil
}
