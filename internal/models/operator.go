// Package models defines the GORM models shared across Switchboard.
package models

import "time"

// Operator is a chat user allowed to talk to the bot. Admin and Console
// are role flags: admins manage the bot, console accounts see the
// reporting views. A plain operator files incident reports.
type Operator struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"uniqueIndex;not null"`
	Username  string `gorm:"size:64"`
	FirstName string `gorm:"size:64"`
	Admin     bool   `gorm:"default:false;index"`
	Console   bool   `gorm:"default:false"`
	AddedBy   int64
	CreatedAt time.Time
}

// SipAssignment records the SIP line an operator reported for the current
// day. Assignments are wiped by the daily reset job.
type SipAssignment struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	UserID     int64  `gorm:"uniqueIndex;not null"`
	Sip        string `gorm:"size:16;not null"`
	AssignedAt time.Time
}
