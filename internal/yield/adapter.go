// Package yield passes idle circle collateral through an external vault.
// Vault calls sit on the critical path of join, forfeiture and release, so
// unlike reputation notifications their failures always propagate.
package yield

import (
	"context"

	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/logger"
	"circlepot/pkg/money"
)

// Vault is the external yield vault.
type Vault interface {
	Deposit(ctx context.Context, amount money.Amount) (money.Amount, error)
	Redeem(ctx context.Context, shares money.Amount) (money.Amount, error)
	PreviewRedeem(ctx context.Context, shares money.Amount) (money.Amount, error)
}

// Adapter converts between circle collateral amounts and vault shares. The
// share balance itself lives on the circle aggregate so it is persisted and
// rolled back with the rest of the circle's state.
type Adapter struct {
	vault  Vault
	logger logger.Logger
}

func NewAdapter(vault Vault, log logger.Logger) *Adapter {
	return &Adapter{vault: vault, logger: log}
}

// Configured reports whether a vault is wired in.
func (a *Adapter) Configured() bool {
	return a != nil && a.vault != nil
}

// Deposit places collateral into the vault and returns the shares minted.
func (a *Adapter) Deposit(ctx context.Context, circleID uint64, amount money.Amount) (money.Amount, error) {
	if !a.Configured() {
		return 0, pkgerrors.ErrVaultNotConfigured
	}
	shares, err := a.vault.Deposit(ctx, amount)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "vault deposit failed")
	}
	a.logger.Debug("Collateral deposited into vault", map[string]interface{}{
		"circle_id": circleID,
		"amount":    amount,
		"shares":    shares,
	})
	return shares, nil
}

// RedeemAll redeems the circle's entire share balance and returns the
// amount realized.
func (a *Adapter) RedeemAll(ctx context.Context, circleID uint64, shares money.Amount) (money.Amount, error) {
	if !a.Configured() {
		return 0, pkgerrors.ErrVaultNotConfigured
	}
	if shares <= 0 {
		return 0, nil
	}
	amount, err := a.vault.Redeem(ctx, shares)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "vault redeem failed")
	}
	a.logger.Debug("Vault position redeemed in full", map[string]interface{}{
		"circle_id": circleID,
		"shares":    shares,
		"amount":    amount,
	})
	return amount, nil
}

// RedeemAmount redeems just enough shares to realize target, capped at the
// previewable redeemable value. It returns the amount realized and the
// shares spent.
func (a *Adapter) RedeemAmount(ctx context.Context, circleID uint64, held money.Amount, target money.Amount) (money.Amount, money.Amount, error) {
	if !a.Configured() {
		return 0, 0, pkgerrors.ErrVaultNotConfigured
	}
	if held <= 0 {
		return 0, 0, pkgerrors.ErrNoVaultShares
	}
	if target <= 0 {
		return 0, 0, nil
	}

	redeemable, err := a.vault.PreviewRedeem(ctx, held)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(err, "vault preview failed")
	}
	if target >= redeemable {
		amount, err := a.RedeemAll(ctx, circleID, held)
		if err != nil {
			return 0, 0, err
		}
		return amount, held, nil
	}

	// shares needed, rounded up so truncation never under-redeems
	scaled, err := money.CheckedMul(held, target)
	if err != nil {
		return 0, 0, err
	}
	shares := (scaled + redeemable - 1) / redeemable
	shares = money.Min(shares, held)

	amount, err := a.vault.Redeem(ctx, shares)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(err, "vault redeem failed")
	}
	a.logger.Debug("Vault shares redeemed for shortfall", map[string]interface{}{
		"circle_id": circleID,
		"target":    target,
		"shares":    shares,
		"amount":    amount,
	})
	return amount, shares, nil
}
