package models

import "errors"

// Error kinds returned by the market core. Operations wrap them with
// context, so callers should match with errors.Is.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrAlreadyLocked        = errors.New("already locked")
	ErrAlreadySettled       = errors.New("already settled")
	ErrAlreadyRated         = errors.New("already rated")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNotFound             = errors.New("not found")
	ErrNodeUnavailable      = errors.New("node unavailable")
	ErrSettlementInProgress = errors.New("settlement in progress")
)
