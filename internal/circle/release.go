package circle

import (
	"context"

	"github.com/google/uuid"

	"circlepot/internal/domain"
	"circlepot/internal/treasury"
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/money"
)

// releaseOnCompletionLocked bulk-returns collateral when the final round
// has been paid. For yield circles the vault position is redeemed and the
// surplus (vault gain plus the accumulated late-fee pool) is split between
// members (pro-rata by performance points) and the platform.
func (s *Service) releaseOnCompletionLocked(ctx context.Context, c *domain.Circle) error {
	principal := c.TotalCollateral()

	var surplus money.Amount
	if c.Config.YieldEnabled && s.vault.Configured() && c.VaultShares > 0 {
		redeemed, err := s.vault.RedeemAll(ctx, c.Config.ID, c.VaultShares)
		if err != nil {
			return err
		}
		c.VaultShares = 0
		if redeemed > principal {
			surplus = redeemed - principal
		}
	}
	surplus += c.LateFeePool
	c.LateFeePool = 0

	memberShare, err := money.MulDiv(surplus, money.Amount(s.cfg.SurplusMemberPercent), 100)
	if err != nil {
		return err
	}
	platformShare := surplus - memberShare

	totalPoints := c.TotalPerformancePoints()
	if totalPoints == 0 {
		// nobody accrued points; the whole surplus goes to the platform
		platformShare += memberShare
		memberShare = 0
	}

	var distributed money.Amount
	for _, m := range c.Members {
		if !m.Active {
			continue
		}
		amount := m.CollateralLocked
		if memberShare > 0 && m.PerformancePoints > 0 {
			share, err := money.MulDiv(memberShare, money.Amount(m.PerformancePoints), money.Amount(totalPoints))
			if err != nil {
				return err
			}
			amount += share
			distributed += share
		}
		if amount > 0 {
			if err := s.transfer.TransferOut(ctx, m.UserID, amount); err != nil {
				return pkgerrors.Wrap(err, "collateral release transfer failed")
			}
		}
		m.CollateralLocked = 0
		m.Active = false

		s.bestEffort("notify_circle_completed", func() error {
			return s.reputation.NotifyCircleCompleted(ctx, m.UserID, c.Config.ID)
		})
	}

	// truncation dust from the pro-rata split stays with the platform
	platformShare += memberShare - distributed
	c.StageFee(platformShare, string(treasury.ReasonSurplusShare))

	s.logger.Info("Circle completed, collateral released", map[string]interface{}{
		"circle_id":  c.Config.ID,
		"principal":  principal,
		"surplus":    surplus,
		"to_members": principal + distributed,
	})
	return nil
}

// Dissolve is the manual dead-circle path: once the ultimatum has elapsed
// and membership remains below the voting threshold, any member's single
// call releases everyone's collateral and marks the circle DEAD.
func (s *Service) Dissolve(ctx context.Context, circleID uint64, caller uuid.UUID) error {
	l := s.lockFor(circleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return err
	}
	if c.Status.State.Terminal() {
		// terminal states are final; a repeat call is a no-op
		return nil
	}
	if c.Status.State != domain.CircleStateCreated {
		return pkgerrors.ErrInvalidCircleState
	}
	m := c.MemberByUser(caller)
	if m == nil || !m.Active {
		return pkgerrors.ErrNotAMember
	}
	if s.aboveQuorum(c) {
		return pkgerrors.ErrAboveThreshold
	}
	if s.clock().Before(c.Config.CreatedAt.Add(s.ultimatum(c))) {
		return pkgerrors.ErrCircleNotStalled
	}

	if err := s.dissolveLocked(ctx, c); err != nil {
		return err
	}
	return s.saveLocked(ctx, c)
}

// dissolveLocked releases all members' collateral in one pass and marks
// the circle DEAD. The creator pays the dissolution fee out of their own
// refund; any vault redemption above principal is swept to the platform.
func (s *Service) dissolveLocked(ctx context.Context, c *domain.Circle) error {
	if c.Status.State.Terminal() {
		return nil
	}
	// guard first so a partial failure cannot double-process
	c.Status.State = domain.CircleStateDead

	principal := c.TotalCollateral()
	var redeemed money.Amount
	if c.Config.YieldEnabled && s.vault.Configured() && c.VaultShares > 0 {
		var err error
		redeemed, err = s.vault.RedeemAll(ctx, c.Config.ID, c.VaultShares)
		if err != nil {
			return err
		}
		c.VaultShares = 0
	}

	dissolutionFee := money.Amount(s.cfg.DissolutionFeePub)
	if c.Config.Visibility == domain.VisibilityPrivate {
		dissolutionFee = money.Amount(s.cfg.DissolutionFeePriv)
	}

	for _, m := range c.Members {
		if !m.Active {
			continue
		}
		refund := m.CollateralLocked
		if m.UserID == c.Config.Creator {
			fee := money.Min(dissolutionFee, refund)
			refund -= fee
			c.StageFee(fee, string(treasury.ReasonDissolutionFee))
		}
		if refund > 0 {
			if err := s.transfer.TransferOut(ctx, m.UserID, refund); err != nil {
				return pkgerrors.Wrap(err, "collateral refund transfer failed")
			}
		}
		m.CollateralLocked = 0
		m.Active = false
	}

	// a dead circle never earned member surplus-sharing
	if redeemed > principal {
		c.StageFee(redeemed-principal, string(treasury.ReasonUnclaimedExcess))
	}
	c.StageFee(c.LateFeePool, string(treasury.ReasonLateFee))
	c.LateFeePool = 0

	s.logger.Info("Circle dissolved", map[string]interface{}{
		"circle_id": c.Config.ID,
		"principal": principal,
		"redeemed":  redeemed,
		"fee":       dissolutionFee,
	})
	return nil
}
