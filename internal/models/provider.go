package models

import "time"

// Provider types. White providers get inline resolution buttons on
// forwarded reports; black providers get plain text.
const (
	ProviderWhite = "white"
	ProviderBlack = "black"
)

// Provider is a named telephony destination incidents are routed to.
// GroupID is the chat group that receives reports for this provider;
// platform group identifiers are negative.
type Provider struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"size:100;uniqueIndex;not null"`
	Code         string `gorm:"size:50;uniqueIndex;not null"`
	Type         string `gorm:"size:8;default:white"` // white, black
	GroupID      int64  `gorm:"not null"`
	QuickCapture bool   `gorm:"default:false"` // route reports through the sip/error-code capture flow
	AddedBy      int64
	CreatedAt    time.Time
}
