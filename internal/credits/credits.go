// Package credits holds the pure pricing rules that turn a meeting duration and
// a guest's balance into a payment classification.
package credits

import (
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// Quantum is the time covered by one credit unit.
const Quantum = 15 * time.Minute

// Cost returns the number of credits a guest needs for a meeting of duration d.
// Partial quanta round up; non-positive durations cost nothing.
func Cost(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	units := d / Quantum
	if d%Quantum != 0 {
		units++
	}
	return int(units)
}

// Plan is the outcome of classifying one guest at invitation time.
type Plan struct {
	Cost             int
	Payment          persistence.PaymentStatus
	FullDebit        int
	PartialDebit     int
	ShortfallCredits int
	// AmountDue is the priced shortfall in minor currency units. Free meetings owe nothing.
	AmountDue int64
}

// Debit returns the number of credits the plan consumes.
func (p Plan) Debit() int {
	return p.FullDebit + p.PartialDebit
}

// Classify decides a guest's payment status for a meeting costing cost credits.
// A balance covering the cost is always preferred; otherwise free meetings stay
// free and priced meetings are unpaid. Any partial balance is consumed either way.
func Classify(pricing persistence.Pricing, balance, cost int) Plan {
	if balance < 0 {
		balance = 0
	}
	plan := Plan{Cost: cost}
	if balance >= cost {
		plan.Payment = persistence.PaymentCreditDeduction
		plan.FullDebit = cost
		return plan
	}

	plan.PartialDebit = balance
	plan.ShortfallCredits = cost - balance
	if pricing.IsFree {
		plan.Payment = persistence.PaymentFree
		return plan
	}
	plan.Payment = persistence.PaymentUnpaid
	plan.AmountDue = Shortfall(pricing.Price, cost, balance)
	return plan
}

// Shortfall prices the uncovered credits proportionally: price/cost per credit,
// rounded half up to the nearest minor unit.
func Shortfall(price int64, cost, available int) int64 {
	if cost <= 0 || price <= 0 {
		return 0
	}
	if available < 0 {
		available = 0
	}
	missing := cost - available
	if missing <= 0 {
		return 0
	}
	numerator := price * int64(missing)
	denominator := int64(cost)
	return (2*numerator + denominator) / (2 * denominator)
}
