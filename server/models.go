package main

import "time"

// Computer is a managed host. Hostname is the natural key: re-registering an
// existing hostname rotates the API key and resets liveness instead of
// creating a second row.
type Computer struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Hostname     string `gorm:"uniqueIndex" json:"hostname"`
	IPAddress    string `json:"ip_address"`
	AgentVersion string `json:"agent_version"`
	// CurrentUser is the desktop user last reported by the agent, if any.
	CurrentUser *string   `json:"current_user"`
	Status      string    `gorm:"index" json:"status"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	// APIKeyHash is the SHA-256 of the issued key. The raw key is returned
	// to the agent exactly once at registration and never stored.
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// LocalUser mirrors one OS account on one computer. Rows absent from the
// latest sync are deleted, not marked stale.
type LocalUser struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ComputerID  uint   `gorm:"uniqueIndex:computer_username" json:"computer_id"`
	Username    string `gorm:"uniqueIndex:computer_username" json:"username"`
	UID         int    `gorm:"column:uid" json:"uid"`
	HomeDir     string `json:"home_dir"`
	Shell       string `json:"shell"`
	IsLocked    bool   `json:"is_locked"`
	IsLoggedIn  bool   `json:"is_logged_in"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CommandType is the closed set of administrative actions an agent can run.
// Result side effects dispatch on it exhaustively; an unknown type is a bug,
// not a silently skipped branch.
type CommandType string

const (
	CommandDisableUser CommandType = "disable_user"
	CommandEnableUser  CommandType = "enable_user"
	CommandLogoutUser  CommandType = "logout_user"
)

// ParseCommandType validates a wire-level command type string.
func ParseCommandType(raw string) (CommandType, bool) {
	switch t := CommandType(raw); t {
	case CommandDisableUser, CommandEnableUser, CommandLogoutUser:
		return t, true
	default:
		return "", false
	}
}

const (
	CommandPending   = "pending"
	CommandSent      = "sent"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
)

// Command is one entry in a computer's mailbox. Lifecycle:
// pending -> sent -> completed|failed; pending rows may be cancelled
// (deleted); completed and failed are terminal.
type Command struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	ComputerID uint        `gorm:"index" json:"computer_id"`
	Type       CommandType `gorm:"column:command_type" json:"type"`
	TargetUser string      `json:"target_user"`
	Status     string      `gorm:"index" json:"status"`
	Result     *string     `json:"result"`
	ExecutedAt *time.Time  `json:"executed_at"`
	CreatedAt  time.Time   `json:"created_at"`
}

// EnrollmentToken is a single-use credential exchanged for an agent API key.
// Redeemable iff UsedAt is null.
type EnrollmentToken struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Token            string    `gorm:"uniqueIndex" json:"token"`
	Label            string    `json:"label"`
	UsedAt           *time.Time `json:"used_at"`
	UsedByComputerID *uint      `json:"used_by_computer_id"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AuditEntry records an operator action. Append-only from the core's
// perspective; the admin surface reads it back for display.
type AuditEntry struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Actor          string    `json:"actor"`
	Action         string    `json:"action"`
	TargetComputer string    `json:"target_computer"`
	TargetUser     string    `json:"target_user"`
	Details        string    `json:"details"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	AuditDisableUser   = "disable_user"
	AuditEnableUser    = "enable_user"
	AuditLogoutUser    = "logout_user"
	AuditCancelCommand = "cancel_command"
	AuditGenerateToken = "generate_token"
	AuditRevokeToken   = "revoke_token"
	AuditRemoveAgent   = "remove_agent"
)
