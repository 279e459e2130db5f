package circle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"circlepot/internal/domain"
	pkgerrors "circlepot/pkg/errors"
)

// InitiateVote opens a governance session for a circle that crossed the
// membership threshold but stalled past its ultimatum period. The eligible
// voter count is snapshotted at initiation.
func (s *Service) InitiateVote(ctx context.Context, circleID uint64, caller uuid.UUID) error {
	l := s.lockFor(circleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return err
	}
	if c.Status.State != domain.CircleStateCreated {
		if c.Status.State == domain.CircleStateVoting {
			return pkgerrors.ErrVoteActive
		}
		return pkgerrors.ErrInvalidCircleState
	}
	m := c.MemberByUser(caller)
	if m == nil || !m.Active {
		return pkgerrors.ErrNotAMember
	}
	if !s.aboveQuorum(c) {
		return pkgerrors.ErrBelowThreshold
	}
	now := s.clock()
	if now.Before(c.Config.CreatedAt.Add(s.ultimatum(c))) {
		return pkgerrors.ErrCircleNotStalled
	}

	c.Vote = &domain.Vote{
		StartedAt:      now,
		EndsAt:         now.Add(s.cfg.VoteWindow),
		Active:         true,
		EligibleVoters: c.Status.CurrentMembers,
		Ballots:        make(map[uuid.UUID]bool),
	}
	c.Status.State = domain.CircleStateVoting

	if err := s.store.Save(ctx, c); err != nil {
		return pkgerrors.Wrap(err, "failed to persist circle")
	}
	s.logger.Info("Governance vote initiated", map[string]interface{}{
		"circle_id": circleID,
		"caller":    caller,
		"eligible":  c.Vote.EligibleVoters,
		"ends_at":   c.Vote.EndsAt,
	})
	return nil
}

// CastVote records one member's ballot. When every eligible voter has cast
// a ballot, the vote resolves immediately.
func (s *Service) CastVote(ctx context.Context, circleID uint64, voter uuid.UUID, choice domain.VoteChoice) error {
	if choice != domain.VoteStart && choice != domain.VoteWithdraw {
		return pkgerrors.ErrInvalidVote
	}

	l := s.lockFor(circleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return err
	}
	if c.Status.State != domain.CircleStateVoting || c.Vote == nil || !c.Vote.Active {
		return pkgerrors.ErrNoVoteInSession
	}
	m := c.MemberByUser(voter)
	if m == nil || !m.Active {
		return pkgerrors.ErrNotAMember
	}
	// the eligible set was frozen at initiation; later joiners sit this one out
	if m.JoinedAt.After(c.Vote.StartedAt) {
		return pkgerrors.ErrNotEligible
	}
	now := s.clock()
	if now.After(c.Vote.EndsAt) {
		return pkgerrors.ErrVoteClosed
	}
	if c.Vote.Ballots[voter] {
		return pkgerrors.ErrAlreadyVoted
	}

	c.Vote.Ballots[voter] = true
	if choice == domain.VoteStart {
		c.Vote.StartVotes++
	} else {
		c.Vote.WithdrawVotes++
	}

	s.logger.Info("Vote cast", map[string]interface{}{
		"circle_id": circleID,
		"voter":     voter,
		"choice":    choice,
		"start":     c.Vote.StartVotes,
		"withdraw":  c.Vote.WithdrawVotes,
	})

	// early resolution once every eligible voter has spoken
	if c.Vote.StartVotes+c.Vote.WithdrawVotes >= c.Vote.EligibleVoters {
		if err := s.executeVoteLocked(ctx, c, now); err != nil {
			return err
		}
	}
	return s.saveLocked(ctx, c)
}

// ExecuteVote resolves a session whose window has closed. Callable by
// anyone; a second call is rejected as already executed.
func (s *Service) ExecuteVote(ctx context.Context, circleID uint64) error {
	l := s.lockFor(circleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return err
	}
	if c.Vote == nil {
		return pkgerrors.ErrNoVoteInSession
	}
	if c.Vote.Executed {
		return pkgerrors.ErrVoteExecuted
	}
	if c.Status.State != domain.CircleStateVoting {
		return pkgerrors.ErrNoVoteInSession
	}
	now := s.clock()
	if now.Before(c.Vote.EndsAt) || now.Equal(c.Vote.EndsAt) {
		return pkgerrors.ErrVoteOpen
	}

	if err := s.executeVoteLocked(ctx, c, now); err != nil {
		return err
	}
	return s.saveLocked(ctx, c)
}

// executeVoteLocked applies the resolution rule: WITHDRAW needs a strict
// majority to dissolve; a tie or start-majority starts the circle, the
// status quo favoring continuation.
func (s *Service) executeVoteLocked(ctx context.Context, c *domain.Circle, now time.Time) error {
	c.Vote.Executed = true
	c.Vote.Active = false

	if c.Vote.WithdrawVotes > c.Vote.StartVotes {
		s.logger.Info("Vote resolved: dissolve", map[string]interface{}{
			"circle_id": c.Config.ID,
			"start":     c.Vote.StartVotes,
			"withdraw":  c.Vote.WithdrawVotes,
		})
		return s.dissolveLocked(ctx, c)
	}

	s.logger.Info("Vote resolved: start", map[string]interface{}{
		"circle_id": c.Config.ID,
		"start":     c.Vote.StartVotes,
		"withdraw":  c.Vote.WithdrawVotes,
	})
	s.activateLocked(ctx, c, now)
	return nil
}
