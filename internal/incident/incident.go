// Package incident persists operator incident reports and daily SIP
// assignments.
package incident

import (
	"fmt"
	"time"

	"github.com/telemost/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LogReport records a new open incident report and returns it.
func LogReport(db *gorm.DB, userID int64, username, providerCode, text, sip string) (*models.IncidentReport, error) {
	if text == "" {
		return nil, fmt.Errorf("incident: log report: text is required")
	}
	if providerCode == "" {
		return nil, fmt.Errorf("incident: log report: provider code is required")
	}
	r := models.IncidentReport{
		UserID:       userID,
		Username:     username,
		ProviderCode: providerCode,
		Text:         text,
		Sip:          sip,
		Status:       models.ReportOpen,
		CreatedAt:    time.Now(),
	}
	if err := db.Create(&r).Error; err != nil {
		return nil, fmt.Errorf("incident: log report: %w", err)
	}
	return &r, nil
}

// ResolveReport moves an open report to a resolved status. Returns true
// if the report existed and was still open.
func ResolveReport(db *gorm.DB, reportID uint, status string, resolvedBy int64) (bool, error) {
	switch status {
	case models.ReportFixed, models.ReportWaiting, models.ReportWrong, models.ReportSimulated:
	default:
		return false, fmt.Errorf("incident: resolve report %d: unknown status %q", reportID, status)
	}
	now := time.Now()
	result := db.Model(&models.IncidentReport{}).
		Where("id = ? AND status = ?", reportID, models.ReportOpen).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return false, fmt.Errorf("incident: resolve report %d: %w", reportID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// OpenCount returns the number of unresolved reports.
func OpenCount(db *gorm.DB) (int64, error) {
	var count int64
	if err := db.Model(&models.IncidentReport{}).
		Where("status = ?", models.ReportOpen).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("incident: open count: %w", err)
	}
	return count, nil
}

// SaveSip upserts the operator's SIP assignment for today.
func SaveSip(db *gorm.DB, userID int64, sip string) error {
	if sip == "" {
		return fmt.Errorf("incident: save sip: sip is required")
	}
	a := models.SipAssignment{
		UserID:     userID,
		Sip:        sip,
		AssignedAt: time.Now(),
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sip", "assigned_at"}),
	}).Create(&a).Error
	if err != nil {
		return fmt.Errorf("incident: save sip for %d: %w", userID, err)
	}
	return nil
}

// SipForToday returns the operator's SIP assignment if it was made today,
// or empty string if absent or stale.
func SipForToday(db *gorm.DB, userID int64) (string, error) {
	var a models.SipAssignment
	err := db.Where("user_id = ?", userID).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("incident: sip for %d: %w", userID, err)
	}
	y1, m1, d1 := a.AssignedAt.Date()
	y2, m2, d2 := time.Now().Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		return "", nil
	}
	return a.Sip, nil
}

// ResetSips deletes all SIP assignments and returns how many were
// removed. Run by the daily scheduler job.
func ResetSips(db *gorm.DB) (int64, error) {
	result := db.Where("1 = 1").Delete(&models.SipAssignment{})
	if result.Error != nil {
		return 0, fmt.Errorf("incident: reset sips: %w", result.Error)
	}
	return result.RowsAffected, nil
}
