package circle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"circlepot/internal/domain"
	"circlepot/internal/treasury"
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/money"
)

type ContributeRequest struct {
	CircleID uint64    `json:"circle_id" validate:"required"`
	UserID   uuid.UUID `json:"user_id" validate:"required"`
}

// Contribute settles the caller's obligation for the current round. Past
// the grace window the call routes to the self-forfeiture path instead of
// a normal transfer.
func (s *Service) Contribute(ctx context.Context, req *ContributeRequest) error {
	if err := s.validator.Validate(req); err != nil {
		return err
	}

	l := s.lockFor(req.CircleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, req.CircleID)
	if err != nil {
		return err
	}
	if c.Status.State != domain.CircleStateActive {
		return pkgerrors.ErrInvalidCircleState
	}
	m := c.MemberByUser(req.UserID)
	if m == nil {
		return pkgerrors.ErrNotAMember
	}
	if !m.Active {
		return pkgerrors.ErrMemberInactive
	}
	round := c.Status.CurrentRound
	if c.IsSettled(round, req.UserID) {
		return pkgerrors.ErrAlreadyContributed
	}

	now := s.clock()
	if now.After(c.Status.RoundDeadline.Add(s.gracePeriod(c))) {
		if err := s.selfForfeitLocked(ctx, c, m, now); err != nil {
			return err
		}
		return s.saveLocked(ctx, c)
	}

	amount := c.Config.Contribution
	if err := s.transfer.TransferIn(ctx, req.UserID, amount); err != nil {
		return pkgerrors.Wrap(err, "contribution transfer failed")
	}

	pot, err := money.CheckedAdd(c.Status.PotBalance, amount)
	if err != nil {
		return err
	}
	total, err := money.CheckedAdd(m.TotalContributed, amount)
	if err != nil {
		return err
	}
	c.Status.PotBalance = pot
	m.TotalContributed = total
	if c.Config.YieldEnabled {
		m.PerformancePoints += s.cfg.PointsPerOnTime
	}
	c.MarkSettled(round, req.UserID)
	c.Status.ContributionsThisRound++

	s.logger.Info("Contribution received", map[string]interface{}{
		"circle_id": req.CircleID,
		"user_id":   req.UserID,
		"round":     round,
		"pot":       c.Status.PotBalance,
		"settled":   c.Status.ContributionsThisRound,
	})

	if err := s.checkRoundCompletionLocked(ctx, c, now); err != nil {
		return err
	}
	return s.saveLocked(ctx, c)
}

// checkRoundCompletionLocked pays out the round once every current member
// has settled it.
func (s *Service) checkRoundCompletionLocked(ctx context.Context, c *domain.Circle, now time.Time) error {
	if c.Status.ContributionsThisRound != c.Status.CurrentMembers {
		return nil
	}
	return s.payoutRoundLocked(ctx, c, now)
}

// payoutRoundLocked pays the pot (minus the platform fee) to the member
// whose position matches the current round, then advances the rotation or
// completes the circle.
func (s *Service) payoutRoundLocked(ctx context.Context, c *domain.Circle, now time.Time) error {
	round := c.Status.CurrentRound
	recipient := c.MemberAtPosition(round)
	if recipient == nil {
		return pkgerrors.ErrNotAMember
	}
	if recipient.PayoutReceived {
		// a previous call already resolved this round
		return nil
	}

	pot := c.Status.PotBalance
	var fee money.Amount
	if recipient.UserID != c.Config.Creator {
		var err error
		fee, err = s.payoutFee(pot)
		if err != nil {
			return err
		}
	}
	payout := pot - fee

	if payout > 0 {
		if err := s.transfer.TransferOut(ctx, recipient.UserID, payout); err != nil {
			return pkgerrors.Wrap(err, "payout transfer failed")
		}
	}
	if fee > 0 {
		c.StageFee(fee, string(treasury.ReasonPayoutFee))
	}
	recipient.PayoutReceived = true
	c.Status.PotBalance = 0

	s.bestEffort("notify_increase", func() error {
		return s.reputation.NotifyIncrease(ctx, recipient.UserID, 1, "circle round payout received")
	})

	s.logger.Info("Round paid out", map[string]interface{}{
		"circle_id": c.Config.ID,
		"round":     round,
		"recipient": recipient.UserID,
		"payout":    payout,
		"fee":       fee,
	})

	if round < c.Status.TotalRounds {
		c.Status.CurrentRound = round + 1
		c.Status.ContributionsThisRound = 0
		c.Status.RoundDeadline = now.Add(c.Config.Frequency.Interval())
		return nil
	}

	// final round: the circle is complete
	c.Status.State = domain.CircleStateCompleted
	return s.releaseOnCompletionLocked(ctx, c)
}

// payoutFee applies the tiered platform fee: a percentage of the pot up to
// the tier threshold, a flat fee above it, never more than the pot.
func (s *Service) payoutFee(pot money.Amount) (money.Amount, error) {
	if pot <= money.Amount(s.cfg.FeeTierThreshold) {
		return money.ApplyBps(pot, s.cfg.PlatformFeeBps)
	}
	return money.Min(money.Amount(s.cfg.PlatformFlatFee), pot), nil
}
