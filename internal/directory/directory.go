// Package directory provides account and provider persistence.
//
// Adds are idempotent (insert-if-absent) and deletes report whether a
// row was actually removed, so callers can distinguish "created" from
// "already there" and "removed" from "not found".
package directory

import (
	"fmt"
	"time"

	"github.com/telemost/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddOperator inserts an operator if absent. Returns true if a new row
// was created, false if the user was already registered.
func AddOperator(db *gorm.DB, userID int64, username, firstName string, addedBy int64) (bool, error) {
	if userID <= 0 {
		return false, fmt.Errorf("directory: add operator: user id must be positive, got %d", userID)
	}
	op := models.Operator{
		UserID:    userID,
		Username:  username,
		FirstName: firstName,
		AddedBy:   addedBy,
		CreatedAt: time.Now(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&op)
	if result.Error != nil {
		return false, fmt.Errorf("directory: add operator %d: %w", userID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RemoveOperator deletes an operator. Returns true if a row was removed,
// false if the user was not registered.
func RemoveOperator(db *gorm.DB, userID int64) (bool, error) {
	result := db.Where("user_id = ?", userID).Delete(&models.Operator{})
	if result.Error != nil {
		return false, fmt.Errorf("directory: remove operator %d: %w", userID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateOperatorInfo refreshes the stored username and first name for a
// known operator. Unknown users are a no-op.
func UpdateOperatorInfo(db *gorm.DB, userID int64, username, firstName string) error {
	err := db.Model(&models.Operator{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"username":   username,
			"first_name": firstName,
		}).Error
	if err != nil {
		return fmt.Errorf("directory: update operator %d: %w", userID, err)
	}
	return nil
}

// Operators returns all registered operators ordered by creation time.
func Operators(db *gorm.DB) ([]models.Operator, error) {
	var ops []models.Operator
	if err := db.Order("created_at ASC").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("directory: list operators: %w", err)
	}
	return ops, nil
}

// HasAccess reports whether the user is registered at all.
func HasAccess(db *gorm.DB, userID int64) bool {
	var count int64
	db.Model(&models.Operator{}).Where("user_id = ?", userID).Count(&count)
	return count > 0
}

// IsAdmin reports whether the user carries the admin flag.
func IsAdmin(db *gorm.DB, userID int64) bool {
	var count int64
	db.Model(&models.Operator{}).Where("user_id = ? AND admin = ?", userID, true).Count(&count)
	return count > 0
}

// IsConsole reports whether the user carries the console flag.
func IsConsole(db *gorm.DB, userID int64) bool {
	var count int64
	db.Model(&models.Operator{}).Where("user_id = ? AND console = ?", userID, true).Count(&count)
	return count > 0
}
