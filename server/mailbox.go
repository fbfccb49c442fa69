package main

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Mailbox is the per-computer queue of administrative commands. Delivery is
// one-way (pending -> sent) and happens at most once per command; there is
// no built-in redelivery. Completed and failed are terminal.
type Mailbox struct {
	db    *gorm.DB
	users *UserDirectory
	mu    sync.Mutex
}

func NewMailbox(db *gorm.DB, users *UserDirectory) *Mailbox {
	return &Mailbox{db: db, users: users}
}

// Enqueue creates a new pending command. Duplicates against existing pending
// commands for the same (computer, user, type) are not collapsed; callers
// wanting idempotence check FindPending first.
func (m *Mailbox) Enqueue(computerID uint, cmdType CommandType, targetUser string) (*Command, error) {
	if targetUser == "" {
		return nil, ErrValidation
	}
	cmd := Command{
		ComputerID: computerID,
		Type:       cmdType,
		TargetUser: targetUser,
		Status:     CommandPending,
	}
	if err := m.db.Create(&cmd).Error; err != nil {
		return nil, err
	}
	return &cmd, nil
}

// DrainPending fetches the computer's pending commands in creation order and
// marks them sent in the same transaction, so no command is ever handed out
// twice. Serialized against concurrent Enqueue/CancelPending on the same
// mailbox.
func (m *Mailbox) DrainPending(computerID uint) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var commands []Command
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("computer_id = ? AND status = ?", computerID, CommandPending).
			Order("created_at ASC, id ASC").
			Find(&commands).Error; err != nil {
			return err
		}
		if len(commands) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(commands))
		for _, cmd := range commands {
			ids = append(ids, cmd.ID)
		}
		return tx.Model(&Command{}).Where("id IN ?", ids).
			Update("status", CommandSent).Error
	})
	if err != nil {
		return nil, err
	}
	for i := range commands {
		commands[i].Status = CommandSent
	}
	return commands, nil
}

// ReportResult applies an agent's execution outcome. A successful
// disable/enable additionally flips the mirrored lock flag so the directory
// reflects the device without waiting for the next sync. A command that is
// not awaiting a result (already terminal, or never delivered) is left
// untouched.
func (m *Mailbox) ReportResult(commandID, computerID uint, success bool, message string) error {
	var cmd Command
	if err := m.db.First(&cmd, commandID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if cmd.ComputerID != computerID {
		return ErrForbidden
	}

	status := CommandCompleted
	if !success {
		status = CommandFailed
	}
	now := time.Now().UTC()
	result := m.db.Model(&Command{}).
		Where("id = ? AND status = ?", commandID, CommandSent).
		Updates(map[string]interface{}{
			"status":      status,
			"result":      message,
			"executed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Terminal or still pending: nothing to transition.
		return nil
	}

	if !success {
		return nil
	}

	switch cmd.Type {
	case CommandDisableUser:
		return m.reflectLock(cmd.ComputerID, cmd.TargetUser, true)
	case CommandEnableUser:
		return m.reflectLock(cmd.ComputerID, cmd.TargetUser, false)
	case CommandLogoutUser:
		return nil
	}
	return nil
}

func (m *Mailbox) reflectLock(computerID uint, username string, locked bool) error {
	user, err := m.users.FindByComputerAndUsername(computerID, username)
	if errors.Is(err, ErrNotFound) {
		// The account vanished from the mirror between enqueue and result.
		return nil
	}
	if err != nil {
		return err
	}
	return m.users.SetLocked(user.ID, locked)
}

// CancelPending hard-deletes matching pending commands, scoped to one target
// user when given. Already-sent commands are untouched.
func (m *Mailbox) CancelPending(computerID uint, targetUser string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := m.db.Where("computer_id = ? AND status = ?", computerID, CommandPending)
	if targetUser != "" {
		query = query.Where("target_user = ?", targetUser)
	}
	result := query.Delete(&Command{})
	return result.RowsAffected, result.Error
}

// FindPending lists pending commands without delivering them.
func (m *Mailbox) FindPending(computerID uint) ([]Command, error) {
	var commands []Command
	err := m.db.Where("computer_id = ? AND status = ?", computerID, CommandPending).
		Order("created_at ASC, id ASC").
		Find(&commands).Error
	if err != nil {
		return nil, err
	}
	return commands, nil
}

// PendingCount reports queue depth. Advisory only.
func (m *Mailbox) PendingCount(computerID uint) (int64, error) {
	var count int64
	err := m.db.Model(&Command{}).
		Where("computer_id = ? AND status = ?", computerID, CommandPending).
		Count(&count).Error
	return count, err
}

// ListByComputer returns recent history, newest first.
func (m *Mailbox) ListByComputer(computerID uint, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}
	var commands []Command
	err := m.db.Where("computer_id = ?", computerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&commands).Error
	if err != nil {
		return nil, err
	}
	return commands, nil
}
