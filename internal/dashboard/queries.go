package dashboard

import (
	"time"

	"gorm.io/gorm"

	"github.com/telemost/switchboard/internal/models"
)

// Counts holds the headline numbers for /api/status.
type Counts struct {
	Operators     int64
	Providers     int64
	OpenIncidents int64
}

// StatusCounts gathers the headline numbers.
func StatusCounts(db *gorm.DB) (Counts, error) {
	var c Counts
	if err := db.Model(&models.Operator{}).Count(&c.Operators).Error; err != nil {
		return c, err
	}
	if err := db.Model(&models.Provider{}).Count(&c.Providers).Error; err != nil {
		return c, err
	}
	if err := db.Model(&models.IncidentReport{}).
		Where("status = ?", models.ReportOpen).Count(&c.OpenIncidents).Error; err != nil {
		return c, err
	}
	return c, nil
}

// IncidentRow holds incident data for display.
type IncidentRow struct {
	ID           uint      `json:"id"`
	ProviderCode string    `json:"provider_code"`
	Username     string    `json:"username"`
	Text         string    `json:"text"`
	Sip          string    `json:"sip,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// OpenIncidents returns the most recent open reports, newest first.
func OpenIncidents(db *gorm.DB, limit int) ([]IncidentRow, error) {
	var reports []models.IncidentReport
	if err := db.Where("status = ?", models.ReportOpen).
		Order("created_at DESC").Limit(limit).Find(&reports).Error; err != nil {
		return nil, err
	}
	rows := make([]IncidentRow, len(reports))
	for i, r := range reports {
		rows[i] = IncidentRow{
			ID:           r.ID,
			ProviderCode: r.ProviderCode,
			Username:     r.Username,
			Text:         r.Text,
			Sip:          r.Sip,
			CreatedAt:    r.CreatedAt,
		}
	}
	return rows, nil
}
