package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Rental is a direct, time-metered rental of a whole node.
type Rental struct {
	RentalId       string         `json:"rental_id"`
	GpuId          string         `json:"gpu_id"`
	Renter         common.Address `json:"renter"`
	Owner          common.Address `json:"owner"`
	PricePerHour   *big.Int       `json:"price_per_hour"`
	RentalStart    int64          `json:"rental_start"`
	RentalDuration int64          `json:"rental_duration"`
	TotalCost      *big.Int       `json:"total_cost"`
	Active         bool           `json:"active"`
	Completed      bool           `json:"completed"`
	UsedSeconds    int64          `json:"used_seconds"`
	Payment        *big.Int       `json:"payment,omitempty"`
	Refund         *big.Int       `json:"refund,omitempty"`
	EndedAt        int64          `json:"ended_at,omitempty"`
}

// ExpiresAt is the instant the rental cap is reached.
func (r *Rental) ExpiresAt() int64 {
	return r.RentalStart + r.RentalDuration
}
