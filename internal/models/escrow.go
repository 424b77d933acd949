package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EscrowState int

const (
	EscrowLocked EscrowState = iota
	EscrowReleased
	EscrowRefunded
	EscrowSplit
)

var escrowStateNames = []string{"Locked", "Released", "Refunded", "Split"}

func (s EscrowState) String() string {
	if s < 0 || int(s) >= len(escrowStateNames) {
		return fmt.Sprintf("EscrowState(%d)", int(s))
	}
	return escrowStateNames[s]
}

func (s EscrowState) IsTerminal() bool {
	switch s {
	case EscrowReleased, EscrowRefunded, EscrowSplit:
		return true
	case EscrowLocked:
		return false
	default:
		panic(fmt.Sprintf("unhandled escrow state %d", int(s)))
	}
}

func (s EscrowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *EscrowState) UnmarshalText(text []byte) error {
	i, err := parseEnum(escrowStateNames, string(text))
	if err != nil {
		return fmt.Errorf("escrow state: %w", err)
	}
	*s = EscrowState(i)
	return nil
}

type EscrowKind string

const (
	EscrowKindJob    EscrowKind = "job"
	EscrowKindRental EscrowKind = "rental"
)

// Escrow holds the funds locked against one job or rental.
type Escrow struct {
	EntityId    string         `json:"entity_id"`
	Kind        EscrowKind     `json:"kind"`
	Amount      *big.Int       `json:"amount"`
	Payer       common.Address `json:"payer"`
	Payee       common.Address `json:"payee"`
	State       EscrowState    `json:"state"`
	PayeeAmount *big.Int       `json:"payee_amount,omitempty"`
	PayerAmount *big.Int       `json:"payer_amount,omitempty"`
	// Managed escrows belong to a job or rental record and settle only
	// through it.
	Managed     bool           `json:"managed,omitempty"`
	LockedAt    int64          `json:"locked_at"`
	SettledAt   int64          `json:"settled_at,omitempty"`
}

// Settlement describes how a locked amount is divided between payee and payer.
type Settlement struct {
	State       EscrowState
	PayeeAmount *big.Int
	PayerAmount *big.Int
}
