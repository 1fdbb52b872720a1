package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is a host user. Username is nil for accounts provisioned by
// external identity sources that never chose one.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acct"`

	ID             int64      `bun:"id,pk,autoincrement"`
	Username       *string    `bun:"username,unique"`
	FullName       string     `bun:"full_name"`
	PreferredEmail string     `bun:"preferred_email"`
	PasswordHash   *string    `bun:"password_hash"` // bcrypt; nil disables password login
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	LastLoginAt    *time.Time `bun:"last_login_at"`
	DisabledAt     *time.Time `bun:"disabled_at"`
}

// DisplayUsername returns the username or "" for unnamed accounts.
func (a *Account) DisplayUsername() string {
	if a == nil || a.Username == nil {
		return ""
	}
	return *a.Username
}

// HostSession is a signed-in host web session. The raw token only lives in
// the host cookie; the table keeps its SHA-256.
type HostSession struct {
	bun.BaseModel `bun:"table:host_sessions,alias:hs"`

	ID         string    `bun:"id,pk,type:varchar(36)"`
	AccountID  int64     `bun:"account_id,notnull"`
	TokenHash  string    `bun:"token_hash,notnull,unique"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	LastUsedAt time.Time `bun:"last_used_at,notnull,default:current_timestamp"`
	UserAgent  *string   `bun:"user_agent"`
	Revoked    bool      `bun:"revoked,notnull,default:false"`
}

// Project is a repository known to the host.
type Project struct {
	bun.BaseModel `bun:"table:projects,alias:proj"`

	Name        string    `bun:"name,pk"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
