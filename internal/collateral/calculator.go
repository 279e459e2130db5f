// Package collateral computes the collateral a member must lock to join a
// circle.
package collateral

import (
	"circlepot/pkg/money"
)

// Required returns contribution * members * (1 + lateFeeBps/10000) with
// truncating division: the full cycle exposure plus a late-fee buffer.
// Pure; the only failure mode is arithmetic overflow.
func Required(contribution money.Amount, members int, lateFeeBps int64) (money.Amount, error) {
	exposure, err := money.CheckedMul(contribution, money.Amount(members))
	if err != nil {
		return 0, err
	}
	scaled, err := money.CheckedMul(exposure, money.Amount(money.BpsDenominator+lateFeeBps))
	if err != nil {
		return 0, err
	}
	return scaled / money.BpsDenominator, nil
}

// LateFee returns the penalty portion charged on top of a missed
// contribution.
func LateFee(contribution money.Amount, lateFeeBps int64) (money.Amount, error) {
	return money.ApplyBps(contribution, lateFeeBps)
}
