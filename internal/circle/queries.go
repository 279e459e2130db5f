package circle

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"circlepot/internal/domain"
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/money"
)

// CircleDetail is the read model for a single circle.
type CircleDetail struct {
	Config domain.CircleConfig `json:"config"`
	Status domain.CircleStatus `json:"status"`
}

func (s *Service) GetCircle(ctx context.Context, circleID uint64) (*CircleDetail, error) {
	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return nil, err
	}
	return &CircleDetail{Config: c.Config, Status: c.Status}, nil
}

func (s *Service) GetMember(ctx context.Context, circleID uint64, userID uuid.UUID) (*domain.Member, error) {
	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return nil, err
	}
	m := c.MemberByUser(userID)
	if m == nil {
		return nil, pkgerrors.ErrNotAMember
	}
	return m, nil
}

// ListMembers returns the members ordered by rotation position, falling
// back to join order before activation.
func (s *Service) ListMembers(ctx context.Context, circleID uint64) ([]*domain.Member, error) {
	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return nil, err
	}
	members := c.Members
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Position < members[j].Position
	})
	return members, nil
}

func (s *Service) GetVote(ctx context.Context, circleID uint64) (*domain.Vote, error) {
	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if c.Vote == nil {
		return nil, pkgerrors.ErrNoVoteInSession
	}
	return c.Vote, nil
}

// Progress summarizes how far a circle has advanced.
type Progress struct {
	State                  domain.CircleState `json:"state"`
	CurrentRound           int                `json:"current_round"`
	TotalRounds            int                `json:"total_rounds"`
	CurrentMembers         int                `json:"current_members"`
	ContributionsThisRound int                `json:"contributions_this_round"`
	PotBalance             money.Amount       `json:"pot_balance"`
	PercentComplete        decimal.Decimal    `json:"percent_complete"`
	AverageContribution    decimal.Decimal    `json:"average_contribution"`
}

func (s *Service) GetProgress(ctx context.Context, circleID uint64) (*Progress, error) {
	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return nil, err
	}

	roundsDone := 0
	switch c.Status.State {
	case domain.CircleStateActive:
		roundsDone = c.Status.CurrentRound - 1
	case domain.CircleStateCompleted:
		roundsDone = c.Status.TotalRounds
	}

	percent := decimal.Zero
	if c.Status.TotalRounds > 0 {
		percent = decimal.NewFromInt(int64(roundsDone) * 100).
			Div(decimal.NewFromInt(int64(c.Status.TotalRounds))).
			Round(2)
	}

	var contributed int64
	for _, m := range c.Members {
		contributed += int64(m.TotalContributed)
	}
	average := decimal.Zero
	if len(c.Members) > 0 {
		average = decimal.NewFromInt(contributed).
			Div(decimal.NewFromInt(int64(len(c.Members)))).
			Round(2)
	}

	return &Progress{
		State:                  c.Status.State,
		CurrentRound:           c.Status.CurrentRound,
		TotalRounds:            c.Status.TotalRounds,
		CurrentMembers:         c.Status.CurrentMembers,
		ContributionsThisRound: c.Status.ContributionsThisRound,
		PotBalance:             c.Status.PotBalance,
		PercentComplete:        percent,
		AverageContribution:    average,
	}, nil
}

// ListCirclesForUser returns every circle the user has a member record in.
func (s *Service) ListCirclesForUser(ctx context.Context, userID uuid.UUID) ([]*CircleDetail, error) {
	circles, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*CircleDetail
	for _, c := range circles {
		if c.MemberByUser(userID) != nil {
			out = append(out, &CircleDetail{Config: c.Config, Status: c.Status})
		}
	}
	return out, nil
}
