package credits

import (
	"errors"
	"time"
)

// Account is a user's recycling-credit balance. Credits are whole units.
type Account struct {
	UserID    string    `json:"userId"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is one credit grant.
type Transaction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Amount         int64     `json:"amount"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Sequence       uint64    `json:"sequence"`
	CreatedAt      time.Time `json:"createdAt"`
}

var (
	ErrNotFound      = errors.New("credit account not found")
	ErrInvalidAmount = errors.New("invalid amount (must be > 0)")
	ErrInvalidUser   = errors.New("user id is required")
)
