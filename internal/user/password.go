package user

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrWeakPassword    = errors.New("password must be at least 6 characters")
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
)

const (
	MinPasswordLength = 6
	maxPasswordBytes  = 72
)

// Hasher is the one-way password hash used for credentials.
type Hasher struct {
	cost int

	// dummy is compared against when the account does not exist so that
	// unknown usernames cost the same as wrong passwords.
	dummy []byte
}

func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}

	return &Hasher{cost: cost, dummy: dummy}, nil
}

func (h *Hasher) Hash(raw string) (string, error) {
	if len(raw) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	if len(raw) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares in constant time with respect to the stored hash.
func (h *Hasher) Verify(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// VerifyMissing burns one comparison for a user that does not exist.
func (h *Hasher) VerifyMissing(raw string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(raw))
}
