package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"slate-connect/tool"
)

// CredentialRecord stores one provider's credentials as a JSON blob.
// There is at most one row per provider.
type CredentialRecord struct {
	ID          uint      `gorm:"primaryKey"`
	Provider    string    `gorm:"size:64;not null;uniqueIndex"`
	Credentials string    `gorm:"size:65536;not null"` // JSON-encoded key/value pairs
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// ValidationRecord stores the outcome of one credential validation run
type ValidationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Provider  string    `gorm:"size:64;not null;index"`
	Valid     bool      `gorm:"not null"`
	Message   string    `gorm:"size:4096"`
	CreatedAt time.Time `gorm:"not null"`
}

// InitializeDB initializes the SQLite database and migrates the schema
func InitializeDB() *gorm.DB {
	// Ensure db directory exists
	dbDir := "db"
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create db directory: %v", err)
	}

	dbPath := filepath.Join(dbDir, "slate_connect.db")

	// Connect to SQLite database
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Migrate the schema (create the tables if they don't exist)
	err = db.AutoMigrate(&CredentialRecord{}, &ValidationRecord{}, &tool.CheckinRecord{})
	if err != nil {
		log.Fatalf("Failed to migrate database schema: %v", err)
	}

	return db
}

// SaveCredentials upserts the credential row for a provider
func SaveCredentials(db *gorm.DB, provider string, creds map[string]string) error {
	blob, err := json.Marshal(creds)
	if err != nil {
		return err
	}

	var record CredentialRecord
	result := db.Where("provider = ?", provider).First(&record)
	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			return result.Error
		}
		record = CredentialRecord{Provider: provider, Credentials: string(blob)}
		return db.Create(&record).Error
	}

	record.Credentials = string(blob)
	return db.Save(&record).Error
}

// GetCredentials loads and decodes the credential row for a provider.
// Returns gorm.ErrRecordNotFound when nothing is stored.
func GetCredentials(db *gorm.DB, provider string) (map[string]string, *CredentialRecord, error) {
	var record CredentialRecord
	if err := db.Where("provider = ?", provider).First(&record).Error; err != nil {
		return nil, nil, err
	}

	creds := map[string]string{}
	if err := json.Unmarshal([]byte(record.Credentials), &creds); err != nil {
		return nil, nil, err
	}
	return creds, &record, nil
}

// ListCredentialRecords retrieves all stored credential rows
func ListCredentialRecords(db *gorm.DB) ([]CredentialRecord, error) {
	var records []CredentialRecord
	result := db.Order("provider asc").Find(&records)
	return records, result.Error
}

// InsertValidation inserts a new validation outcome into the database
func InsertValidation(db *gorm.DB, record ValidationRecord) error {
	result := db.Create(&record)
	return result.Error
}

// GetValidationHistory retrieves the most recent validation outcomes for a
// provider, newest first.
func GetValidationHistory(db *gorm.DB, provider string, limit int) ([]ValidationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []ValidationRecord
	result := db.Where("provider = ?", provider).
		Order("created_at desc").
		Limit(limit).
		Find(&records)
	return records, result.Error
}
