// Package settlement computes time-proportional payment for metered rentals.
// Every function here is pure.
package settlement

import (
	"math/big"

	"github.com/lagrangedao/go-computing-market/constants"
)

var secondsPerHour = big.NewInt(constants.SECONDS_PER_HOUR)

type Result struct {
	// Used is the billable time in seconds, clamped to [0, duration].
	Used    int64
	Payment *big.Int
	Refund  *big.Int
}

// RentalCost is the amount locked for a rental of duration seconds.
func RentalCost(pricePerHour *big.Int, duration int64) *big.Int {
	return prorate(pricePerHour, duration)
}

// Compute splits total between payee and payer after now-start seconds of a
// rental capped at duration seconds. Payment + Refund always equals total.
func Compute(pricePerHour, total *big.Int, start, duration, now int64) Result {
	used := now - start
	if used < 0 {
		used = 0
	}
	if duration < 0 {
		duration = 0
	}
	if used > duration {
		used = duration
	}

	payment := prorate(pricePerHour, used)
	if payment.Cmp(total) > 0 {
		payment.Set(total)
	}
	return Result{
		Used:    used,
		Payment: payment,
		Refund:  new(big.Int).Sub(total, payment),
	}
}

func prorate(pricePerHour *big.Int, seconds int64) *big.Int {
	if pricePerHour == nil || seconds <= 0 {
		return new(big.Int)
	}
	amount := new(big.Int).Mul(pricePerHour, big.NewInt(seconds))
	// operands are non-negative so Quo floors
	return amount.Quo(amount, secondsPerHour)
}
