package models

import "time"

// Incident report statuses. A report is open until a support action
// (fix/wait/wrong/sim) resolves it.
const (
	ReportOpen      = "open"
	ReportFixed     = "fixed"
	ReportWaiting   = "waiting"
	ReportWrong     = "wrong"
	ReportSimulated = "simulated"
)

// IncidentReport is one raw incident filed by an operator against a
// provider.
type IncidentReport struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       int64  `gorm:"not null;index"`
	Username     string `gorm:"size:64"`
	ProviderCode string `gorm:"size:50;not null;index"`
	Text         string `gorm:"type:text;not null"`
	Sip          string `gorm:"size:16"` // set for quick-capture reports
	Status       string `gorm:"size:16;default:open;index"`
	CreatedAt    time.Time
	ResolvedAt   *time.Time
	ResolvedBy   int64
}

// Broadcast logs one admin fan-out to all operators with its delivery
// outcome.
type Broadcast struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SenderID  int64  `gorm:"not null"`
	Text      string `gorm:"type:text;not null"`
	Total     int
	Sent      int
	Failed    int
	CreatedAt time.Time
}
