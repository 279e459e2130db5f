package circle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"circlepot/internal/collateral"
	"circlepot/internal/domain"
	"circlepot/internal/treasury"
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/money"
)

type ForfeitRequest struct {
	CircleID   uint64      `json:"circle_id" validate:"required"`
	Caller     uuid.UUID   `json:"caller" validate:"required"`
	Candidates []uuid.UUID `json:"candidates" validate:"required,min=1"`
}

// Forfeit lets any active member penalize candidates who missed the
// current round past its grace window. The round recipient is structurally
// exempt: if their absence is the only blocker the round auto-resolves.
func (s *Service) Forfeit(ctx context.Context, req *ForfeitRequest) (int, error) {
	if err := s.validator.Validate(req); err != nil {
		return 0, err
	}

	l := s.lockFor(req.CircleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, req.CircleID)
	if err != nil {
		return 0, err
	}
	if c.Status.State != domain.CircleStateActive {
		return 0, pkgerrors.ErrInvalidCircleState
	}
	caller := c.MemberByUser(req.Caller)
	if caller == nil || !caller.Active {
		return 0, pkgerrors.ErrNotAMember
	}
	now := s.clock()
	if !now.After(c.Status.RoundDeadline.Add(s.gracePeriod(c))) {
		return 0, pkgerrors.ErrGracePeriodActive
	}

	round := c.Status.CurrentRound
	recipient := c.MemberAtPosition(round)

	forfeited := 0
	for _, candidateID := range req.Candidates {
		m := c.MemberByUser(candidateID)
		if m == nil || !m.Active {
			continue
		}
		if recipient != nil && m.UserID == recipient.UserID {
			continue
		}
		if c.IsSettled(round, m.UserID) {
			continue
		}
		if err := s.penalizeLocked(ctx, c, m, round); err != nil {
			return 0, err
		}
		forfeited++
	}

	// recipient excusal: contribute() can never mark the recipient settled
	// after grace, so when everyone else has settled the round resolves
	// with the recipient excused and paid via completion.
	if recipient != nil &&
		c.Status.ContributionsThisRound == c.Status.CurrentMembers-1 &&
		!c.IsSettled(round, recipient.UserID) {
		c.MarkSettled(round, recipient.UserID)
		c.Status.ContributionsThisRound++
	}

	if err := s.checkRoundCompletionLocked(ctx, c, now); err != nil {
		return 0, err
	}
	if err := s.saveLocked(ctx, c); err != nil {
		return 0, err
	}

	s.logger.Info("Forfeiture processed", map[string]interface{}{
		"circle_id": req.CircleID,
		"round":     round,
		"caller":    req.Caller,
		"forfeited": forfeited,
	})
	return forfeited, nil
}

// penalizeLocked deducts contribution plus late fee from a late member's
// collateral, capped at what remains. The contribution-sized portion feeds
// the pot; the fee portion goes to the circle's late-fee pool for yield
// circles or to the platform otherwise.
func (s *Service) penalizeLocked(ctx context.Context, c *domain.Circle, m *domain.Member, round int) error {
	contribution := c.Config.Contribution
	lateFee, err := collateral.LateFee(contribution, s.cfg.LateFeeBps)
	if err != nil {
		return err
	}
	owed, err := money.CheckedAdd(contribution, lateFee)
	if err != nil {
		return err
	}
	deducted := money.Min(owed, m.CollateralLocked)
	potPortion := money.Min(contribution, deducted)
	feePortion := deducted - potPortion

	// yield circles keep the forfeited collateral in the vault; cash it out
	if c.Config.YieldEnabled && s.vault.Configured() && c.VaultShares > 0 && deducted > 0 {
		_, spent, err := s.vault.RedeemAmount(ctx, c.Config.ID, c.VaultShares, deducted)
		if err != nil {
			return err
		}
		c.VaultShares -= spent
	}

	m.CollateralLocked -= deducted
	pot, err := money.CheckedAdd(c.Status.PotBalance, potPortion)
	if err != nil {
		return err
	}
	c.Status.PotBalance = pot
	if feePortion > 0 {
		if c.Config.YieldEnabled {
			c.LateFeePool += feePortion
		} else {
			c.StageFee(feePortion, string(treasury.ReasonLateFee))
		}
	}

	c.MarkSettled(round, m.UserID)
	c.Status.ContributionsThisRound++

	s.bestEffort("notify_decrease", func() error {
		return s.reputation.NotifyDecrease(ctx, m.UserID, 1, "missed circle contribution")
	})
	s.bestEffort("notify_late_payment", func() error {
		return s.reputation.NotifyLatePayment(ctx, m.UserID, c.Config.ID, round, lateFee)
	})

	s.logger.Warn("Member forfeited for round", map[string]interface{}{
		"circle_id": c.Config.ID,
		"user_id":   m.UserID,
		"round":     round,
		"deducted":  deducted,
		"remaining": m.CollateralLocked,
	})
	return nil
}

// selfForfeitLocked handles a contribution attempted after the grace
// window: the member settles out of their own collateral. The round
// recipient is excused with no penalty, they simply receive a smaller pot.
func (s *Service) selfForfeitLocked(ctx context.Context, c *domain.Circle, m *domain.Member, now time.Time) error {
	round := c.Status.CurrentRound
	recipient := c.MemberAtPosition(round)
	if recipient != nil && recipient.UserID == m.UserID {
		c.MarkSettled(round, m.UserID)
		c.Status.ContributionsThisRound++
		return s.checkRoundCompletionLocked(ctx, c, now)
	}
	if err := s.penalizeLocked(ctx, c, m, round); err != nil {
		return err
	}
	return s.checkRoundCompletionLocked(ctx, c, now)
}
