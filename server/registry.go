package main

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Registry tracks agent identity and liveness. Hostname is the natural key:
// enrolling a hostname that already exists rotates its credentials in place.
type Registry struct {
	db     *gorm.DB
	tokens *TokenStore
	mu     sync.Mutex
}

func NewRegistry(db *gorm.DB, tokens *TokenStore) *Registry {
	return &Registry{db: db, tokens: tokens}
}

// Registration carries the plaintext API key back to the agent. This is the
// only place the key exists unhashed.
type Registration struct {
	ComputerID uint
	APIKey     string
}

// Register exchanges an enrollment token for agent credentials. The token
// check, the hostname upsert, and the token redemption commit atomically:
// two registrations racing on the same token cannot both succeed.
func (r *Registry) Register(hostname, ip, version, token string) (*Registration, error) {
	if token == "" || hostname == "" {
		return nil, ErrValidation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	redeemable, err := r.tokens.IsRedeemable(token)
	if err != nil {
		return nil, err
	}
	if !redeemable {
		return nil, ErrInvalidToken
	}

	apiKey := uuid.NewString()
	keyHash := hashAPIKey(apiKey)
	now := time.Now().UTC()

	var computer Computer
	err = r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("hostname = ?", hostname).First(&computer).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			computer = Computer{
				Hostname:     hostname,
				IPAddress:    ip,
				AgentVersion: version,
				APIKeyHash:   keyHash,
				Status:       StatusOnline,
				LastSeenAt:   now,
			}
			if err := tx.Create(&computer).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			// Existing host re-enrolling: rotate the key. The old key stops
			// working the moment this commits.
			if err := tx.Model(&computer).Updates(map[string]interface{}{
				"ip_address":    ip,
				"agent_version": version,
				"current_user":  nil,
				"api_key_hash":  keyHash,
				"status":        StatusOnline,
				"last_seen_at":  now,
			}).Error; err != nil {
				return err
			}
		}

		consumed, err := r.tokens.redeemTx(tx, token, computer.ID)
		if err != nil {
			return err
		}
		if !consumed {
			return ErrInvalidToken
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Registration{ComputerID: computer.ID, APIKey: apiKey}, nil
}

// Authenticate resolves a bearer key against the claimed computer identity.
// Any mismatch, unknown id included, reports ErrUnauthorized.
func (r *Registry) Authenticate(bearerKey string, computerID uint) (*Computer, error) {
	var computer Computer
	if err := r.db.First(&computer, computerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if computer.APIKeyHash == "" || !secureCompare(hashAPIKey(bearerKey), computer.APIKeyHash) {
		return nil, ErrUnauthorized
	}
	return &computer, nil
}

// HeartbeatUpdate carries the optional fields of a heartbeat. Nil pointers
// leave the stored value untouched; a pointer to the empty string clears the
// current desktop user.
type HeartbeatUpdate struct {
	IPAddress    *string
	AgentVersion *string
	CurrentUser  *string
}

// Heartbeat refreshes liveness and whatever metadata the agent included.
func (r *Registry) Heartbeat(computerID uint, update HeartbeatUpdate) (*Computer, error) {
	updates := map[string]interface{}{
		"status":       StatusOnline,
		"last_seen_at": time.Now().UTC(),
	}
	if update.IPAddress != nil && *update.IPAddress != "" {
		updates["ip_address"] = *update.IPAddress
	}
	if update.AgentVersion != nil && *update.AgentVersion != "" {
		updates["agent_version"] = *update.AgentVersion
	}
	if update.CurrentUser != nil {
		if *update.CurrentUser == "" {
			updates["current_user"] = nil
		} else {
			updates["current_user"] = *update.CurrentUser
		}
	}

	result := r.db.Model(&Computer{}).Where("id = ?", computerID).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(computerID)
}

// SweepStale downgrades agents whose last report is older than the
// threshold. This is the only path to offline: agents never self-report it,
// and the sweep runs opportunistically from admin read paths, so offline
// status is eventually consistent, not real-time.
func (r *Registry) SweepStale(threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	result := r.db.Model(&Computer{}).
		Where("status = ? AND last_seen_at < ?", StatusOnline, cutoff).
		Update("status", StatusOffline)
	return result.RowsAffected, result.Error
}

func (r *Registry) Get(computerID uint) (*Computer, error) {
	var computer Computer
	if err := r.db.First(&computer, computerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &computer, nil
}

// List returns all computers, online hosts first, then by hostname.
func (r *Registry) List() ([]Computer, error) {
	var computers []Computer
	err := r.db.
		Order("CASE WHEN status = 'online' THEN 0 ELSE 1 END, hostname").
		Find(&computers).Error
	if err != nil {
		return nil, err
	}
	return computers, nil
}

// Remove deletes a computer and everything scoped to it. The screenshot
// cache is owned elsewhere; callers drop that separately.
func (r *Registry) Remove(computerID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("computer_id = ?", computerID).Delete(&LocalUser{}).Error; err != nil {
			return err
		}
		if err := tx.Where("computer_id = ?", computerID).Delete(&Command{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&Computer{}, computerID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
