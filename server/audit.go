package main

import (
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// AuditLog records operator actions. The core only ever appends; reads are
// for the admin surface.
type AuditLog struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewAuditLog(db *gorm.DB, logger zerolog.Logger) *AuditLog {
	return &AuditLog{db: db, logger: logger}
}

// Append writes one entry. Failures are logged and swallowed: an audit write
// must never fail the action it describes.
func (a *AuditLog) Append(actor, action, targetComputer, targetUser, details string) {
	entry := AuditEntry{
		Actor:          actor,
		Action:         action,
		TargetComputer: targetComputer,
		TargetUser:     targetUser,
		Details:        details,
	}
	event := a.logger.Info().
		Str("actor", actor).
		Str("action", action)
	if targetComputer != "" {
		event = event.Str("computer", targetComputer)
	}
	if targetUser != "" {
		event = event.Str("user", targetUser)
	}
	event.Msg("audit")

	if err := a.db.Create(&entry).Error; err != nil {
		a.logger.Error().Err(err).Str("action", action).Msg("failed to persist audit entry")
	}
}

// Recent returns the newest entries, most recent first.
func (a *AuditLog) Recent(limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []AuditEntry
	err := a.db.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
