package domain

import "errors"

var (
	ErrAccountExists         = errors.New("account already exists")
	ErrAccountNotFound       = errors.New("account not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidDescription    = errors.New("description is required")
	ErrIdempotencyMismatch   = errors.New("idempotency key reuse with different parameters")
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is in progress")
	ErrInvalidPageToken      = errors.New("invalid page_token")
)
