package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

// TokenStore manages one-time enrollment tokens. A token is redeemable until
// exactly one successful Redeem, then never again.
type TokenStore struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Issue creates a new unused token with an optional operator label.
func (ts *TokenStore) Issue(label string) (*EnrollmentToken, error) {
	raw, err := generateTokenSecret()
	if err != nil {
		return nil, err
	}
	record := EnrollmentToken{Token: raw, Label: label}
	if err := ts.db.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// IsRedeemable reports whether a matching, unused token exists.
func (ts *TokenStore) IsRedeemable(token string) (bool, error) {
	var record EnrollmentToken
	err := ts.db.Where("token = ?", token).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.UsedAt == nil, nil
}

// Redeem marks the token consumed by the given computer. Redemption is a
// single atomic check-and-set; a token that is unknown or already used is
// left untouched and the call reports consumed=false.
func (ts *TokenStore) Redeem(token string, computerID uint) (bool, error) {
	return ts.redeemTx(ts.db, token, computerID)
}

func (ts *TokenStore) redeemTx(tx *gorm.DB, token string, computerID uint) (bool, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now().UTC()
	result := tx.Model(&EnrollmentToken{}).
		Where("token = ? AND used_at IS NULL", token).
		Updates(map[string]interface{}{
			"used_at":             now,
			"used_by_computer_id": computerID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Revoke hard-deletes a token regardless of usage state. Revoking a used
// token does not invalidate the agent it already provisioned.
func (ts *TokenStore) Revoke(id uint) (bool, error) {
	result := ts.db.Delete(&EnrollmentToken{}, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Delete removes a token only while unused, preserving the provenance record
// of any agent it enrolled. Forced removal goes through Revoke.
func (ts *TokenStore) Delete(id uint) (bool, error) {
	result := ts.db.Where("id = ? AND used_at IS NULL", id).Delete(&EnrollmentToken{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (ts *TokenStore) Get(id uint) (*EnrollmentToken, error) {
	var record EnrollmentToken
	if err := ts.db.First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// List returns all tokens, newest first.
func (ts *TokenStore) List() ([]EnrollmentToken, error) {
	var tokens []EnrollmentToken
	if err := ts.db.Order("created_at desc").Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func generateTokenSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
