// Package domain defines the circle engine's core data model.
package domain

import (
	"time"

	"github.com/google/uuid"

	"circlepot/pkg/money"
)

type CircleState string

const (
	CircleStateCreated   CircleState = "CREATED"
	CircleStateVoting    CircleState = "VOTING"
	CircleStateActive    CircleState = "ACTIVE"
	CircleStateCompleted CircleState = "COMPLETED"
	CircleStateDead      CircleState = "DEAD"
)

// Terminal reports whether the state admits no further transitions.
func (s CircleState) Terminal() bool {
	return s == CircleStateCompleted || s == CircleStateDead
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Interval returns the round length for the frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

type VoteChoice string

const (
	VoteStart    VoteChoice = "START"
	VoteWithdraw VoteChoice = "WITHDRAW"
)

// CircleConfig is fixed at creation. The only post-creation change allowed
// is a single fee-gated visibility flip, recorded by VisibilityChanged.
type CircleConfig struct {
	ID                uint64       `json:"id" db:"id"`
	Title             string       `json:"title" db:"title"`
	Description       string       `json:"description" db:"description"`
	Creator           uuid.UUID    `json:"creator" db:"creator"`
	Contribution      money.Amount `json:"contribution" db:"contribution"`
	Frequency         Frequency    `json:"frequency" db:"frequency"`
	MaxMembers        int          `json:"max_members" db:"max_members"`
	Visibility        Visibility   `json:"visibility" db:"visibility"`
	VisibilityChanged bool         `json:"visibility_changed" db:"visibility_changed"`
	YieldEnabled      bool         `json:"yield_enabled" db:"yield_enabled"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}

// CircleStatus is the mutable per-circle state.
type CircleStatus struct {
	State                  CircleState  `json:"state" db:"state"`
	CurrentMembers         int          `json:"current_members" db:"current_members"`
	CurrentRound           int          `json:"current_round" db:"current_round"`
	TotalRounds            int          `json:"total_rounds" db:"total_rounds"`
	StartedAt              time.Time    `json:"started_at" db:"started_at"`
	PotBalance             money.Amount `json:"pot_balance" db:"pot_balance"`
	ContributionsThisRound int          `json:"contributions_this_round" db:"contributions_this_round"`
	RoundDeadline          time.Time    `json:"round_deadline" db:"round_deadline"`
}

// Member is a participant's state within one circle. Position is 0 until
// activation assigns the payout rotation, then unique in 1..TotalRounds.
type Member struct {
	UserID            uuid.UUID    `json:"user_id" db:"user_id"`
	Position          int          `json:"position" db:"position"`
	TotalContributed  money.Amount `json:"total_contributed" db:"total_contributed"`
	PayoutReceived    bool         `json:"payout_received" db:"payout_received"`
	Active            bool         `json:"active" db:"active"`
	CollateralLocked  money.Amount `json:"collateral_locked" db:"collateral_locked"`
	JoinedAt          time.Time    `json:"joined_at" db:"joined_at"`
	PerformancePoints int64        `json:"performance_points" db:"performance_points"`
}

// Vote is a governance session for a stalled circle.
type Vote struct {
	StartedAt      time.Time          `json:"started_at" db:"started_at"`
	EndsAt         time.Time          `json:"ends_at" db:"ends_at"`
	StartVotes     int                `json:"start_votes" db:"start_votes"`
	WithdrawVotes  int                `json:"withdraw_votes" db:"withdraw_votes"`
	Active         bool               `json:"active" db:"active"`
	Executed       bool               `json:"executed" db:"executed"`
	EligibleVoters int                `json:"eligible_voters" db:"eligible_voters"`
	Ballots        map[uuid.UUID]bool `json:"-" db:"-"`
}

// FeeAccrual is a platform fee staged by an in-flight operation. Staged
// fees reach the treasury only after the aggregate persists.
type FeeAccrual struct {
	Amount money.Amount
	Reason string
}

// Circle is the aggregate the engine operates on: one unit of mutual
// exclusion. Members keeps join order; Settled is keyed round -> user so
// round advancement never rescans or clears prior rounds.
type Circle struct {
	Config      CircleConfig
	Status      CircleStatus
	Members     []*Member
	Vote        *Vote
	Settled     map[int]map[uuid.UUID]bool
	LateFeePool money.Amount
	VaultShares money.Amount

	// pendingFees lives only for the duration of one operation; it is
	// never persisted and never survives Clone.
	pendingFees []FeeAccrual
}

// StageFee queues a platform fee to be accrued once the aggregate is
// saved.
func (c *Circle) StageFee(amount money.Amount, reason string) {
	if amount <= 0 {
		return
	}
	c.pendingFees = append(c.pendingFees, FeeAccrual{Amount: amount, Reason: reason})
}

// DrainFees returns the staged fees and clears them.
func (c *Circle) DrainFees() []FeeAccrual {
	fees := c.pendingFees
	c.pendingFees = nil
	return fees
}

// MemberByUser returns the member record for a user, or nil.
func (c *Circle) MemberByUser(userID uuid.UUID) *Member {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// MemberAtPosition returns the member holding a rotation position, or nil.
func (c *Circle) MemberAtPosition(pos int) *Member {
	for _, m := range c.Members {
		if m.Position == pos {
			return m
		}
	}
	return nil
}

// IsSettled reports whether a member has settled the given round.
func (c *Circle) IsSettled(round int, userID uuid.UUID) bool {
	return c.Settled[round][userID]
}

// MarkSettled records that a member settled the given round.
func (c *Circle) MarkSettled(round int, userID uuid.UUID) {
	if c.Settled == nil {
		c.Settled = make(map[int]map[uuid.UUID]bool)
	}
	if c.Settled[round] == nil {
		c.Settled[round] = make(map[uuid.UUID]bool)
	}
	c.Settled[round][userID] = true
}

// TotalCollateral sums all members' locked collateral.
func (c *Circle) TotalCollateral() money.Amount {
	var total money.Amount
	for _, m := range c.Members {
		total += m.CollateralLocked
	}
	return total
}

// TotalPerformancePoints sums performance points across active members.
func (c *Circle) TotalPerformancePoints() int64 {
	var total int64
	for _, m := range c.Members {
		if m.Active {
			total += m.PerformancePoints
		}
	}
	return total
}

// Clone deep-copies the aggregate so a failed operation never leaks partial
// mutations back into the store.
func (c *Circle) Clone() *Circle {
	cp := &Circle{
		Config:      c.Config,
		Status:      c.Status,
		LateFeePool: c.LateFeePool,
		VaultShares: c.VaultShares,
	}
	cp.Members = make([]*Member, len(c.Members))
	for i, m := range c.Members {
		mc := *m
		cp.Members[i] = &mc
	}
	if c.Vote != nil {
		v := *c.Vote
		v.Ballots = make(map[uuid.UUID]bool, len(c.Vote.Ballots))
		for k, b := range c.Vote.Ballots {
			v.Ballots[k] = b
		}
		cp.Vote = &v
	}
	if c.Settled != nil {
		cp.Settled = make(map[int]map[uuid.UUID]bool, len(c.Settled))
		for round, set := range c.Settled {
			inner := make(map[uuid.UUID]bool, len(set))
			for k, b := range set {
				inner[k] = b
			}
			cp.Settled[round] = inner
		}
	}
	return cp
}
