package db

import (
	"log"

	"github.com/glebarez/sqlite"
	"github.com/otaviosnow/clipeiroai-sub000/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Printf("📦 Database ready at %s", dbPath)
	return db, nil
}

// Migrate creates or updates the tables used by the publisher.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Session{}, &models.TaskLog{})
}

// InsertTaskLog appends one task record.
func InsertTaskLog(db *gorm.DB, entry *models.TaskLog) error {
	return db.Create(entry).Error
}

// GetTaskStats aggregates all stored task logs.
func GetTaskStats(db *gorm.DB) (models.TaskStats, error) {
	var stats models.TaskStats
	if err := db.Model(&models.TaskLog{}).Count(&stats.TotalTasks).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.TaskLog{}).Where("success = ?", true).Count(&stats.SuccessCount).Error; err != nil {
		return stats, err
	}
	stats.FailureCount = stats.TotalTasks - stats.SuccessCount
	return stats, nil
}

// RecentTaskLogs returns up to limit logs for an account, newest first.
func RecentTaskLogs(db *gorm.DB, accountKey string, limit int) ([]models.TaskLog, error) {
	var logs []models.TaskLog
	err := db.Where("account_key = ?", accountKey).
		Order("timestamp DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
