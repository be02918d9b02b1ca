package directory

import (
	"fmt"
	"time"

	"github.com/telemost/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddProvider inserts a provider if absent (keyed by code). Returns true
// if a new row was created, false if the code was already registered.
func AddProvider(db *gorm.DB, name, code, typ string, groupID, addedBy int64) (bool, error) {
	if name == "" || code == "" {
		return false, fmt.Errorf("directory: add provider: name and code are required")
	}
	if typ != models.ProviderWhite && typ != models.ProviderBlack {
		return false, fmt.Errorf("directory: add provider %s: unknown type %q", code, typ)
	}
	if groupID >= 0 {
		return false, fmt.Errorf("directory: add provider %s: group id must be negative, got %d", code, groupID)
	}
	p := models.Provider{
		Name:      name,
		Code:      code,
		Type:      typ,
		GroupID:   groupID,
		AddedBy:   addedBy,
		CreatedAt: time.Now(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&p)
	if result.Error != nil {
		return false, fmt.Errorf("directory: add provider %s: %w", code, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RemoveProvider deletes a provider by code. Returns true if a row was
// removed, false if the code was not registered.
func RemoveProvider(db *gorm.DB, code string) (bool, error) {
	result := db.Where("code = ?", code).Delete(&models.Provider{})
	if result.Error != nil {
		return false, fmt.Errorf("directory: remove provider %s: %w", code, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ProviderByCode looks up a provider by its code.
func ProviderByCode(db *gorm.DB, code string) (*models.Provider, error) {
	var p models.Provider
	err := db.Where("code = ?", code).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: provider by code %s: %w", code, err)
	}
	return &p, nil
}

// ProviderByName looks up a provider by its display name.
func ProviderByName(db *gorm.DB, name string) (*models.Provider, error) {
	var p models.Provider
	err := db.Where("name = ?", name).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: provider by name %s: %w", name, err)
	}
	return &p, nil
}

// Providers returns all providers ordered by name.
func Providers(db *gorm.DB) ([]models.Provider, error) {
	var ps []models.Provider
	if err := db.Order("name ASC").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("directory: list providers: %w", err)
	}
	return ps, nil
}

// SetQuickCapture toggles the quick-capture flag for a provider. Returns
// true if a row was updated.
func SetQuickCapture(db *gorm.DB, code string, enabled bool) (bool, error) {
	result := db.Model(&models.Provider{}).Where("code = ?", code).
		Update("quick_capture", enabled)
	if result.Error != nil {
		return false, fmt.Errorf("directory: set quick capture %s: %w", code, result.Error)
	}
	return result.RowsAffected > 0, nil
}
