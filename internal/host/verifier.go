package host

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Verifier is the host's credential-check entry point.
type Verifier interface {
	// Verify returns ErrAuthenticationFailed for any rejected credential.
	// Other errors mean the account backend is unavailable.
	Verify(ctx context.Context, username, password string) (*AuthResult, error)
}

// dummyHash is compared against when the account does not exist so a
// missing user costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("viewbridge-timing-equalizer"), bcrypt.DefaultCost)

// AccountVerifier checks bcrypt password hashes in the account store.
type AccountVerifier struct {
	accounts repository.AccountRepository
}

// NewAccountVerifier creates a verifier over accounts.
func NewAccountVerifier(accounts repository.AccountRepository) *AccountVerifier {
	return &AccountVerifier{accounts: accounts}
}

// Verify implements Verifier.
func (v *AccountVerifier) Verify(ctx context.Context, username, password string) (*AuthResult, error) {
	acct, err := v.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("verify %q: %w", username, err)
	}

	if acct.PasswordHash == nil || acct.DisabledAt != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrAuthenticationFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*acct.PasswordHash), []byte(password)); err != nil {
		return nil, ErrAuthenticationFailed
	}

	if err := v.accounts.TouchLastLogin(ctx, acct.ID); err != nil {
		log.WithError(err).WithField("account_id", acct.ID).Debug("record last login")
	}

	return &AuthResult{AccountID: acct.ID, Principal: principalFromAccount(acct)}, nil
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
