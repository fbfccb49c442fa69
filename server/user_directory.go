package main

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// UserDirectory mirrors each computer's local OS account list. The stored
// rows are a full replace-by-diff of the agent's last report, never a
// grow-only log.
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// ReportedUser is one account entry as the agent reports it.
type ReportedUser struct {
	Username   string `json:"username"`
	UID        int    `json:"uid"`
	HomeDir    string `json:"home_dir"`
	Shell      string `json:"shell"`
	IsLocked   bool   `json:"is_locked"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// Sync replaces the computer's mirror with the reported list: rows for
// usernames no longer reported are deleted (all of them when the report is
// empty), then every reported entry is upserted on (computer, username).
// Returns the post-sync list in display order.
func (d *UserDirectory) Sync(computerID uint, reported []ReportedUser) ([]LocalUser, error) {
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if len(reported) == 0 {
			return tx.Where("computer_id = ?", computerID).Delete(&LocalUser{}).Error
		}

		usernames := make([]string, 0, len(reported))
		for _, u := range reported {
			usernames = append(usernames, u.Username)
		}
		if err := tx.Where("computer_id = ? AND username NOT IN ?", computerID, usernames).
			Delete(&LocalUser{}).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, u := range reported {
			var existing LocalUser
			err := tx.Where("computer_id = ? AND username = ?", computerID, u.Username).
				First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				row := LocalUser{
					ComputerID: computerID,
					Username:   u.Username,
					UID:        u.UID,
					HomeDir:    u.HomeDir,
					Shell:      u.Shell,
					IsLocked:   u.IsLocked,
					IsLoggedIn: u.IsLoggedIn,
				}
				if u.IsLoggedIn {
					at := now
					row.LastLoginAt = &at
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				updates := map[string]interface{}{
					"uid":          u.UID,
					"home_dir":     u.HomeDir,
					"shell":        u.Shell,
					"is_locked":    u.IsLocked,
					"is_logged_in": u.IsLoggedIn,
				}
				// Stamp only the transition into a session.
				if u.IsLoggedIn && !existing.IsLoggedIn {
					updates["last_login_at"] = now
				}
				if err := tx.Model(&existing).Updates(updates).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.ListByComputer(computerID)
}

// ListByComputer orders for display: logged-in users first, then idle ones,
// locked accounts last, alphabetical within each group.
func (d *UserDirectory) ListByComputer(computerID uint) ([]LocalUser, error) {
	var users []LocalUser
	err := d.db.Where("computer_id = ?", computerID).
		Order("CASE WHEN is_locked = 1 THEN 2 WHEN is_logged_in = 1 THEN 0 ELSE 1 END, username ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (d *UserDirectory) FindByComputerAndUsername(computerID uint, username string) (*LocalUser, error) {
	var user LocalUser
	err := d.db.Where("computer_id = ? AND username = ?", computerID, username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetLocked flips the mirrored lock flag directly, letting command outcomes
// land without waiting for the next full sync. Idempotent.
func (d *UserDirectory) SetLocked(userID uint, locked bool) error {
	result := d.db.Model(&LocalUser{}).Where("id = ?", userID).Update("is_locked", locked)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLoginStatus records a session change. LastLoginAt is stamped only on
// the transition to logged-in.
func (d *UserDirectory) UpdateLoginStatus(computerID uint, username string, loggedIn bool) error {
	updates := map[string]interface{}{"is_logged_in": loggedIn}
	if loggedIn {
		updates["last_login_at"] = time.Now().UTC()
	}
	return d.db.Model(&LocalUser{}).
		Where("computer_id = ? AND username = ? AND is_logged_in <> ?", computerID, username, loggedIn).
		Updates(updates).Error
}
