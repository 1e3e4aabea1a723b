// Package allocation splits the rebalancer's EURe balance between the debt-repayment
// (USDC) and collateral (ETH) swap legs.
//
// Units: balance is EURe with 18 decimals, debt is USDC with 6 decimals and both prices
// are USD quotes with 8 decimals. All arithmetic is exact integer arithmetic.
package allocation

import (
	"errors"
	"math/big"
)

const (
	// BalanceDecimals is the fixed-point scale of the EURe balance.
	BalanceDecimals = 18
	// DebtDecimals is the fixed-point scale of the vault debt.
	DebtDecimals = 6
	// PriceDecimals is the fixed-point scale of oracle answers.
	PriceDecimals = 8

	bufferNumerator   = 101
	bufferDenominator = 100
)

// ErrInvalidInput is returned for negative amounts or unusable prices.
var ErrInvalidInput = errors.New("allocation: invalid input")

var debtToBalanceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(BalanceDecimals-DebtDecimals), nil)

// Plan is the EURe split between the two legs. ForUSDC + ForETH always equals the
// balance the plan was computed from.
type Plan struct {
	ForUSDC *big.Int
	ForETH  *big.Int
}

// Total returns the sum of both legs.
func (p Plan) Total() *big.Int {
	return new(big.Int).Add(orZero(p.ForUSDC), orZero(p.ForETH))
}

// Equal reports whether both plans allocate identical amounts.
func (p Plan) Equal(other Plan) bool {
	return orZero(p.ForUSDC).Cmp(orZero(other.ForUSDC)) == 0 && orZero(p.ForETH).Cmp(orZero(other.ForETH)) == 0
}

// DebtInBalanceUnits converts a USDC debt into the EURe amount that repays it at the
// supplied prices, before any buffer is applied.
func DebtInBalanceUnits(debt, eurUsd, usdcUsd *big.Int) (*big.Int, error) {
	if debt == nil || debt.Sign() < 0 {
		return nil, ErrInvalidInput
	}
	if eurUsd == nil || eurUsd.Sign() <= 0 || usdcUsd == nil || usdcUsd.Sign() <= 0 {
		return nil, ErrInvalidInput
	}
	needed := new(big.Int).Mul(debt, debtToBalanceScale)
	needed.Mul(needed, usdcUsd)
	return needed.Quo(needed, eurUsd), nil
}

// Compute derives the allocation plan. With no debt the whole balance goes to the ETH
// leg; otherwise the USDC leg receives the debt value plus a 1% buffer, capped at the
// balance, and the ETH leg the remainder.
func Compute(balance, debt, eurUsd, usdcUsd *big.Int) (Plan, error) {
	if balance == nil || balance.Sign() < 0 || debt == nil || debt.Sign() < 0 {
		return Plan{}, ErrInvalidInput
	}
	if debt.Sign() == 0 {
		return Plan{ForUSDC: new(big.Int), ForETH: new(big.Int).Set(balance)}, nil
	}
	needed, err := DebtInBalanceUnits(debt, eurUsd, usdcUsd)
	if err != nil {
		return Plan{}, err
	}
	forUSDC := needed.Mul(needed, big.NewInt(bufferNumerator))
	forUSDC.Quo(forUSDC, big.NewInt(bufferDenominator))
	if forUSDC.Cmp(balance) > 0 {
		forUSDC.Set(balance)
	}
	forETH := new(big.Int).Sub(balance, forUSDC)
	return Plan{ForUSDC: forUSDC, ForETH: forETH}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
