package postgres

import (
	"testing"

	"github.com/joshu-sajeev/migrateq/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func SetupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // Disable logs during tests
		TranslateError: true,
	})
	require.NoError(t, err)

	// A single underlying connection keeps the shared in-memory database
	// alive and serializes concurrent writers.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.JobRecord{},
		&models.JobCounter{},
		&models.Document{},
		&models.DocumentArchive{},
	)
	require.NoError(t, err)

	return db
}
