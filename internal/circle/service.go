// Package circle implements the rotating savings circle lifecycle engine:
// membership and collateral accounting, round rotation, forfeiture,
// governance votes for stalled circles, and collateral release.
package circle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"circlepot/internal/collateral"
	"circlepot/internal/domain"
	"circlepot/internal/position"
	"circlepot/internal/treasury"
	"circlepot/internal/yield"
	"circlepot/pkg/config"
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/logger"
	"circlepot/pkg/money"
	"circlepot/pkg/validator"
)

// TransferService moves value between participants and the platform
// account. Failures abort the enclosing operation.
type TransferService interface {
	TransferIn(ctx context.Context, payer uuid.UUID, amount money.Amount) error
	TransferOut(ctx context.Context, payee uuid.UUID, amount money.Amount) error
	BalanceOf(ctx context.Context, holder uuid.UUID) (money.Amount, error)
}

// ReputationService scores members and receives lifecycle notifications.
// ScoreOf failure is treated as a zero score; all Notify* calls are
// best-effort and their errors are discarded at the call site.
type ReputationService interface {
	ScoreOf(ctx context.Context, user uuid.UUID) (int64, error)
	NotifyIncrease(ctx context.Context, user uuid.UUID, points int64, reason string) error
	NotifyDecrease(ctx context.Context, user uuid.UUID, points int64, reason string) error
	NotifyCircleCompleted(ctx context.Context, user uuid.UUID, circleID uint64) error
	NotifyLatePayment(ctx context.Context, user uuid.UUID, circleID uint64, round int, fee money.Amount) error
}

// Store persists circle aggregates. Get must return a private copy: the
// service mutates the copy and only a successful Save publishes it, which
// is what makes every operation all-or-nothing.
type Store interface {
	NextID(ctx context.Context) (uint64, error)
	Create(ctx context.Context, c *domain.Circle) error
	Get(ctx context.Context, id uint64) (*domain.Circle, error)
	Save(ctx context.Context, c *domain.Circle) error
	List(ctx context.Context) ([]*domain.Circle, error)
}

// InviteStore records invites for private circles.
type InviteStore interface {
	Invite(ctx context.Context, circleID uint64, user uuid.UUID) error
	IsInvited(ctx context.Context, circleID uint64, user uuid.UUID) (bool, error)
}

// Clock supplies the current time. Deadlines, grace periods and ultimatums
// are evaluated lazily against it; there is no background scheduler.
type Clock func() time.Time

type Service struct {
	store      Store
	transfer   TransferService
	reputation ReputationService
	vault      *yield.Adapter
	invites    InviteStore
	treasury   *treasury.Manager
	validator  *validator.Validator
	logger     logger.Logger
	cfg        config.EngineConfig
	clock      Clock

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func NewService(
	store Store,
	transfer TransferService,
	reputation ReputationService,
	vaultAdapter *yield.Adapter,
	invites InviteStore,
	treasuryMgr *treasury.Manager,
	cfg config.EngineConfig,
	clock Clock,
	log logger.Logger,
) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:      store,
		transfer:   transfer,
		reputation: reputation,
		vault:      vaultAdapter,
		invites:    invites,
		treasury:   treasuryMgr,
		validator:  validator.New(),
		logger:     log,
		cfg:        cfg,
		clock:      clock,
		locks:      make(map[uint64]*sync.Mutex),
	}
}

// lockFor serializes all operations on one circle; different circles
// proceed in parallel.
func (s *Service) lockFor(circleID uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[circleID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[circleID] = l
	}
	return l
}

// saveLocked persists the aggregate and only then applies the platform
// fees the operation staged. A failed save drops the staged fees along
// with the rest of the mutation.
func (s *Service) saveLocked(ctx context.Context, c *domain.Circle) error {
	if err := s.store.Save(ctx, c); err != nil {
		return pkgerrors.Wrap(err, "failed to persist circle")
	}
	for _, f := range c.DrainFees() {
		s.treasury.Accrue(c.Config.ID, f.Amount, treasury.Reason(f.Reason))
	}
	return nil
}

// bestEffort runs a reputation call and swallows its error. The contract
// with the reputation service is explicitly fire-and-forget: it can never
// block or revert the caller's primary state transition.
func (s *Service) bestEffort(what string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn("Best-effort reputation call failed", map[string]interface{}{
			"call":  what,
			"error": err.Error(),
		})
	}
}

type CreateCircleRequest struct {
	Creator      uuid.UUID `json:"creator" validate:"required"`
	Title        string    `json:"title" validate:"required,min=3,max=80"`
	Description  string    `json:"description" validate:"max=500"`
	Contribution int64     `json:"contribution" validate:"required,gt=0"`
	Frequency    string    `json:"frequency" validate:"required,frequency"`
	MaxMembers   int       `json:"max_members" validate:"required,gte=2,lte=100"`
	Visibility   string    `json:"visibility" validate:"required,visibility"`
	YieldEnabled bool      `json:"yield_enabled"`
}

// CreateCircle registers a new circle with the creator as its first member,
// locking the creator's collateral up front.
func (s *Service) CreateCircle(ctx context.Context, req *CreateCircleRequest) (*domain.Circle, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	req.Title = validator.Sanitize(req.Title)
	req.Description = validator.Sanitize(req.Description)

	required, err := collateral.Required(money.Amount(req.Contribution), req.MaxMembers, s.cfg.LateFeeBps)
	if err != nil {
		return nil, err
	}

	id, err := s.store.NextID(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to allocate circle id")
	}

	now := s.clock()
	c := &domain.Circle{
		Config: domain.CircleConfig{
			ID:           id,
			Title:        req.Title,
			Description:  req.Description,
			Creator:      req.Creator,
			Contribution: money.Amount(req.Contribution),
			Frequency:    domain.Frequency(req.Frequency),
			MaxMembers:   req.MaxMembers,
			Visibility:   domain.Visibility(req.Visibility),
			YieldEnabled: req.YieldEnabled,
			CreatedAt:    now,
		},
		Status: domain.CircleStatus{
			State:          domain.CircleStateCreated,
			CurrentMembers: 1,
			TotalRounds:    1,
		},
		Members: []*domain.Member{{
			UserID:           req.Creator,
			Active:           true,
			CollateralLocked: required,
			JoinedAt:         now,
		}},
		Settled: make(map[int]map[uuid.UUID]bool),
	}

	if err := s.transfer.TransferIn(ctx, req.Creator, required); err != nil {
		return nil, pkgerrors.Wrap(err, "collateral transfer failed")
	}
	if err := s.depositCollateral(ctx, id, req.YieldEnabled, required, c); err != nil {
		// nothing persisted yet; undo the transfer and surface the failure
		if refundErr := s.transfer.TransferOut(ctx, req.Creator, required); refundErr != nil {
			s.logger.Error("Collateral refund failed after vault error", map[string]interface{}{
				"circle_id": id,
				"user_id":   req.Creator,
				"error":     refundErr.Error(),
			})
		}
		return nil, err
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to persist circle")
	}

	s.logger.Info("Circle created", map[string]interface{}{
		"circle_id":    id,
		"creator":      req.Creator,
		"contribution": req.Contribution,
		"max_members":  req.MaxMembers,
		"frequency":    req.Frequency,
		"yield":        req.YieldEnabled,
	})
	return c, nil
}

// depositCollateral routes freshly locked collateral into the vault for
// yield circles and records the minted shares on the aggregate.
func (s *Service) depositCollateral(ctx context.Context, circleID uint64, yieldEnabled bool, amount money.Amount, c *domain.Circle) error {
	if !yieldEnabled || !s.vault.Configured() || amount <= 0 {
		return nil
	}
	shares, err := s.vault.Deposit(ctx, circleID, amount)
	if err != nil {
		return err
	}
	c.VaultShares += shares
	return nil
}

// InviteMember lets the creator of a private circle invite a prospective
// member.
func (s *Service) InviteMember(ctx context.Context, circleID uint64, caller, invitee uuid.UUID) error {
	l := s.lockFor(circleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return err
	}
	if caller != c.Config.Creator {
		return pkgerrors.ErrNotCreator
	}
	if c.Status.State != domain.CircleStateCreated && c.Status.State != domain.CircleStateVoting {
		return pkgerrors.ErrInvalidCircleState
	}
	if err := s.invites.Invite(ctx, circleID, invitee); err != nil {
		return pkgerrors.Wrap(err, "failed to record invite")
	}
	s.logger.Info("Member invited", map[string]interface{}{
		"circle_id": circleID,
		"invitee":   invitee,
	})
	return nil
}

type JoinRequest struct {
	CircleID uint64    `json:"circle_id" validate:"required"`
	UserID   uuid.UUID `json:"user_id" validate:"required"`
}

// JoinCircle adds a member to a circle that has not started, locking their
// collateral. Reaching max capacity auto-starts the circle.
func (s *Service) JoinCircle(ctx context.Context, req *JoinRequest) (*domain.Member, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	l := s.lockFor(req.CircleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, req.CircleID)
	if err != nil {
		return nil, err
	}
	if c.Status.State != domain.CircleStateCreated && c.Status.State != domain.CircleStateVoting {
		return nil, pkgerrors.ErrInvalidCircleState
	}
	if m := c.MemberByUser(req.UserID); m != nil && m.Active {
		return nil, pkgerrors.ErrAlreadyMember
	}
	if c.Status.CurrentMembers >= c.Config.MaxMembers {
		return nil, pkgerrors.ErrCircleFull
	}
	if c.Config.Visibility == domain.VisibilityPrivate {
		invited, err := s.invites.IsInvited(ctx, req.CircleID, req.UserID)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "invite lookup failed")
		}
		if !invited {
			return nil, pkgerrors.ErrNotInvited
		}
	}

	required, err := collateral.Required(c.Config.Contribution, c.Config.MaxMembers, s.cfg.LateFeeBps)
	if err != nil {
		return nil, err
	}
	if err := s.transfer.TransferIn(ctx, req.UserID, required); err != nil {
		return nil, pkgerrors.Wrap(err, "collateral transfer failed")
	}
	if err := s.depositCollateral(ctx, req.CircleID, c.Config.YieldEnabled, required, c); err != nil {
		if refundErr := s.transfer.TransferOut(ctx, req.UserID, required); refundErr != nil {
			s.logger.Error("Collateral refund failed after vault error", map[string]interface{}{
				"circle_id": req.CircleID,
				"user_id":   req.UserID,
				"error":     refundErr.Error(),
			})
		}
		return nil, err
	}

	now := s.clock()
	member := &domain.Member{
		UserID:           req.UserID,
		Active:           true,
		CollateralLocked: required,
		JoinedAt:         now,
	}
	c.Members = append(c.Members, member)
	c.Status.CurrentMembers++
	// totalRounds tracks the live member count until the circle starts
	c.Status.TotalRounds = c.Status.CurrentMembers

	if c.Status.CurrentMembers == c.Config.MaxMembers {
		s.activateLocked(ctx, c, now)
	}

	if err := s.saveLocked(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("Member joined circle", map[string]interface{}{
		"circle_id":  req.CircleID,
		"user_id":    req.UserID,
		"collateral": required,
		"members":    c.Status.CurrentMembers,
		"state":      c.Status.State,
	})
	return member, nil
}

// activateLocked transitions a circle to ACTIVE: assigns the payout
// rotation, fixes the round count and arms the first deadline. Reputation
// lookup failures inside the assigner degrade to score zero, so activation
// itself cannot fail.
func (s *Service) activateLocked(ctx context.Context, c *domain.Circle, now time.Time) {
	// starting the circle settles the very question an open session was
	// asking; retire it so the stale tally can never be executed later
	if c.Vote != nil && c.Vote.Active {
		c.Vote.Active = false
		c.Vote.Executed = true
	}

	joined := make([]uuid.UUID, 0, len(c.Members))
	for _, m := range c.Members {
		joined = append(joined, m.UserID)
	}
	rotation := position.Assign(ctx, joined, c.Config.Creator, s.reputation)
	for i, user := range rotation {
		c.MemberByUser(user).Position = i + 1
	}

	c.Status.State = domain.CircleStateActive
	c.Status.StartedAt = now
	c.Status.CurrentRound = 1
	c.Status.TotalRounds = c.Status.CurrentMembers
	c.Status.ContributionsThisRound = 0
	c.Status.RoundDeadline = now.Add(c.Config.Frequency.Interval())

	s.logger.Info("Circle activated", map[string]interface{}{
		"circle_id":    c.Config.ID,
		"members":      c.Status.CurrentMembers,
		"total_rounds": c.Status.TotalRounds,
		"deadline":     c.Status.RoundDeadline,
	})
}

// StartCircle is the manual start path: the creator may start an
// under-subscribed circle once membership has reached the voting threshold
// and the ultimatum period has elapsed.
func (s *Service) StartCircle(ctx context.Context, circleID uint64, caller uuid.UUID) error {
	l := s.lockFor(circleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return err
	}
	if c.Status.State != domain.CircleStateCreated {
		return pkgerrors.ErrInvalidCircleState
	}
	if caller != c.Config.Creator {
		return pkgerrors.ErrNotCreator
	}
	if !s.aboveQuorum(c) {
		return pkgerrors.ErrBelowThreshold
	}
	now := s.clock()
	if now.Before(c.Config.CreatedAt.Add(s.ultimatum(c))) {
		return pkgerrors.ErrCircleNotStalled
	}

	s.activateLocked(ctx, c, now)
	return s.saveLocked(ctx, c)
}

// SetVisibility flips a circle's visibility once, for a platform fee paid
// by the creator.
func (s *Service) SetVisibility(ctx context.Context, circleID uint64, caller uuid.UUID, visibility domain.Visibility) error {
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityPublic {
		return pkgerrors.ErrInvalidCircleState
	}

	l := s.lockFor(circleID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, circleID)
	if err != nil {
		return err
	}
	if caller != c.Config.Creator {
		return pkgerrors.ErrNotCreator
	}
	if c.Config.VisibilityChanged {
		return pkgerrors.ErrVisibilityChanged
	}
	if c.Status.State.Terminal() {
		return pkgerrors.ErrInvalidCircleState
	}
	if visibility == c.Config.Visibility {
		return pkgerrors.ErrVisibilityUnchanged
	}

	fee := money.Amount(s.cfg.VisibilityChangeFee)
	if err := s.transfer.TransferIn(ctx, caller, fee); err != nil {
		return pkgerrors.Wrap(err, "visibility fee transfer failed")
	}
	c.StageFee(fee, string(treasury.ReasonVisibilityFee))

	c.Config.Visibility = visibility
	c.Config.VisibilityChanged = true
	if err := s.saveLocked(ctx, c); err != nil {
		return err
	}

	s.logger.Info("Circle visibility changed", map[string]interface{}{
		"circle_id":  circleID,
		"visibility": visibility,
		"fee":        fee,
	})
	return nil
}

// aboveQuorum reports whether membership has reached the governance
// threshold (default 60% of max members).
func (s *Service) aboveQuorum(c *domain.Circle) bool {
	return c.Status.CurrentMembers*100 >= s.cfg.StartQuorumPercent*c.Config.MaxMembers
}

// ultimatum returns how long a circle may stall before governance or
// dissolution applies.
func (s *Service) ultimatum(c *domain.Circle) time.Duration {
	if c.Config.Frequency == domain.FrequencyMonthly {
		return s.cfg.UltimatumLong
	}
	return s.cfg.UltimatumShort
}

// gracePeriod returns the post-deadline window before forfeiture applies.
func (s *Service) gracePeriod(c *domain.Circle) time.Duration {
	if c.Config.Frequency == domain.FrequencyDaily {
		return s.cfg.GraceDaily
	}
	return s.cfg.GraceDefault
}
