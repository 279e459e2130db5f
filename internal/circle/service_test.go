package circle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"circlepot/internal/domain"
	"circlepot/internal/repository/memory"
	"circlepot/internal/treasury"
	"circlepot/internal/yield"
	"circlepot/pkg/config"
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/logger"
	"circlepot/pkg/money"
)

// --- Mocks ---

type MockTransfer struct {
	mock.Mock
}

func (m *MockTransfer) TransferIn(ctx context.Context, payer uuid.UUID, amount money.Amount) error {
	args := m.Called(ctx, payer, amount)
	return args.Error(0)
}

func (m *MockTransfer) TransferOut(ctx context.Context, payee uuid.UUID, amount money.Amount) error {
	args := m.Called(ctx, payee, amount)
	return args.Error(0)
}

func (m *MockTransfer) BalanceOf(ctx context.Context, holder uuid.UUID) (money.Amount, error) {
	args := m.Called(ctx, holder)
	return args.Get(0).(money.Amount), args.Error(1)
}

type MockReputation struct {
	mock.Mock
}

func (m *MockReputation) ScoreOf(ctx context.Context, user uuid.UUID) (int64, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockReputation) NotifyIncrease(ctx context.Context, user uuid.UUID, points int64, reason string) error {
	args := m.Called(ctx, user, points, reason)
	return args.Error(0)
}

func (m *MockReputation) NotifyDecrease(ctx context.Context, user uuid.UUID, points int64, reason string) error {
	args := m.Called(ctx, user, points, reason)
	return args.Error(0)
}

func (m *MockReputation) NotifyCircleCompleted(ctx context.Context, user uuid.UUID, circleID uint64) error {
	args := m.Called(ctx, user, circleID)
	return args.Error(0)
}

func (m *MockReputation) NotifyLatePayment(ctx context.Context, user uuid.UUID, circleID uint64, round int, fee money.Amount) error {
	args := m.Called(ctx, user, circleID, round, fee)
	return args.Error(0)
}

type MockVault struct {
	mock.Mock
}

func (m *MockVault) Deposit(ctx context.Context, amount money.Amount) (money.Amount, error) {
	args := m.Called(ctx, amount)
	return args.Get(0).(money.Amount), args.Error(1)
}

func (m *MockVault) Redeem(ctx context.Context, shares money.Amount) (money.Amount, error) {
	args := m.Called(ctx, shares)
	return args.Get(0).(money.Amount), args.Error(1)
}

func (m *MockVault) PreviewRedeem(ctx context.Context, shares money.Amount) (money.Amount, error) {
	args := m.Called(ctx, shares)
	return args.Get(0).(money.Amount), args.Error(1)
}

// --- Fixture ---

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		LateFeeBps:           100,
		PlatformFeeBps:       100,
		FeeTierThreshold:     1_000_000,
		PlatformFlatFee:      10_000,
		GraceDaily:           12 * time.Hour,
		GraceDefault:         48 * time.Hour,
		UltimatumShort:       7 * 24 * time.Hour,
		UltimatumLong:        14 * 24 * time.Hour,
		VoteWindow:           48 * time.Hour,
		StartQuorumPercent:   60,
		DissolutionFeePub:    1_000,
		DissolutionFeePriv:   2_500,
		VisibilityChangeFee:  5_000,
		SurplusMemberPercent: 90,
		PointsPerOnTime:      10,
	}
}

type fixture struct {
	service    *Service
	store      *memory.Store
	transfer   *MockTransfer
	reputation *MockReputation
	vault      *MockVault
	treasury   *treasury.Manager
	now        time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// newFixture wires the service against the in-memory store with a fixed,
// manually advanced clock. withVault controls whether a vault is configured.
func newFixture(withVault bool) *fixture {
	f := &fixture{
		store:      memory.NewStore(),
		transfer:   new(MockTransfer),
		reputation: new(MockReputation),
		vault:      new(MockVault),
		treasury:   treasury.NewManager(),
		now:        time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	adapter := yield.NewAdapter(nil, logger.NewNop())
	if withVault {
		adapter = yield.NewAdapter(f.vault, logger.NewNop())
	}
	f.service = NewService(
		f.store,
		f.transfer,
		f.reputation,
		adapter,
		memory.NewInviteStore(),
		f.treasury,
		testEngineConfig(),
		func() time.Time { return f.now },
		logger.NewNop(),
	)
	return f
}

func (f *fixture) allowTransfers() {
	f.transfer.On("TransferIn", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.transfer.On("TransferOut", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func (f *fixture) allowReputation() {
	f.reputation.On("ScoreOf", mock.Anything, mock.Anything).Return(int64(0), nil)
	f.reputation.On("NotifyIncrease", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.reputation.On("NotifyDecrease", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.reputation.On("NotifyCircleCompleted", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.reputation.On("NotifyLatePayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func createRequest(creator uuid.UUID) *CreateCircleRequest {
	return &CreateCircleRequest{
		Creator:      creator,
		Title:        "Neighborhood savings",
		Contribution: 100,
		Frequency:    "weekly",
		MaxMembers:   5,
		Visibility:   "public",
	}
}

// mustCreate is the common path for tests that need an existing circle.
func mustCreate(t *testing.T, f *fixture, req *CreateCircleRequest) *domain.Circle {
	t.Helper()
	c, err := f.service.CreateCircle(context.Background(), req)
	require.NoError(t, err)
	return c
}

// mustFill joins members until the circle auto-activates, returning the
// member ids in join order (creator first).
func mustFill(t *testing.T, f *fixture, c *domain.Circle) []uuid.UUID {
	t.Helper()
	users := []uuid.UUID{c.Config.Creator}
	for i := 1; i < c.Config.MaxMembers; i++ {
		u := uuid.New()
		_, err := f.service.JoinCircle(context.Background(), &JoinRequest{CircleID: c.Config.ID, UserID: u})
		require.NoError(t, err)
		users = append(users, u)
	}
	return users
}

// --- Tests ---

func TestCreateCircleLocksCollateral(t *testing.T) {
	f := newFixture(false)
	creator := uuid.New()
	ctx := context.Background()

	// 100 * 5 * 1.01 = 505
	f.transfer.On("TransferIn", ctx, creator, money.Amount(505)).Return(nil)

	c, err := f.service.CreateCircle(ctx, createRequest(creator))
	require.NoError(t, err)

	assert.Equal(t, domain.CircleStateCreated, c.Status.State)
	assert.Equal(t, 1, c.Status.CurrentMembers)
	require.Len(t, c.Members, 1)
	assert.Equal(t, creator, c.Members[0].UserID)
	assert.Equal(t, money.Amount(505), c.Members[0].CollateralLocked)
	f.transfer.AssertExpectations(t)

	stored, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Config.Title, stored.Config.Title)
}

func TestCreateCircleRejectsInvalidRequest(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	req := createRequest(uuid.New())
	req.MaxMembers = 1
	_, err := f.service.CreateCircle(ctx, req)
	assert.Error(t, err)

	req = createRequest(uuid.New())
	req.Frequency = "hourly"
	_, err = f.service.CreateCircle(ctx, req)
	assert.Error(t, err)

	req = createRequest(uuid.New())
	req.Contribution = 0
	_, err = f.service.CreateCircle(ctx, req)
	assert.Error(t, err)

	f.transfer.AssertNotCalled(t, "TransferIn", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateCircleTransferFailureAbortsCreation(t *testing.T) {
	f := newFixture(false)
	creator := uuid.New()
	ctx := context.Background()

	f.transfer.On("TransferIn", ctx, creator, money.Amount(505)).Return(pkgerrors.ErrInsufficientFunds)

	_, err := f.service.CreateCircle(ctx, createRequest(creator))
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

	all, listErr := f.store.List(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, all)
}

func TestCreateYieldCircleVaultFailureRefunds(t *testing.T) {
	f := newFixture(true)
	creator := uuid.New()
	ctx := context.Background()

	req := createRequest(creator)
	req.YieldEnabled = true

	f.transfer.On("TransferIn", ctx, creator, money.Amount(505)).Return(nil)
	f.vault.On("Deposit", ctx, money.Amount(505)).Return(money.Amount(0), assert.AnError)
	f.transfer.On("TransferOut", ctx, creator, money.Amount(505)).Return(nil)

	_, err := f.service.CreateCircle(ctx, req)
	assert.Error(t, err)
	f.transfer.AssertExpectations(t)

	all, listErr := f.store.List(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, all)
}

func TestJoinCircleAutoStartsWhenFull(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	mustFill(t, f, c)

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CircleStateActive, got.Status.State)
	assert.Equal(t, 5, got.Status.TotalRounds)
	assert.Equal(t, 1, got.Status.CurrentRound)
	assert.Equal(t, f.now.Add(7*24*time.Hour), got.Status.RoundDeadline)

	// creator holds position 1
	creator := got.MemberByUser(c.Config.Creator)
	require.NotNil(t, creator)
	assert.Equal(t, 1, creator.Position)
}

func TestJoinCircleRejectsDuplicateAndOverflow(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))

	_, err := f.service.JoinCircle(ctx, &JoinRequest{CircleID: c.Config.ID, UserID: c.Config.Creator})
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadyMember)

	mustFill(t, f, c)

	// the circle is full and already active
	_, err = f.service.JoinCircle(ctx, &JoinRequest{CircleID: c.Config.ID, UserID: uuid.New()})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidCircleState)
}

func TestJoinPrivateCircleRequiresInvite(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	ctx := context.Background()

	req := createRequest(uuid.New())
	req.Visibility = "private"
	c := mustCreate(t, f, req)

	stranger := uuid.New()
	_, err := f.service.JoinCircle(ctx, &JoinRequest{CircleID: c.Config.ID, UserID: stranger})
	assert.ErrorIs(t, err, pkgerrors.ErrNotInvited)

	require.NoError(t, f.service.InviteMember(ctx, c.Config.ID, c.Config.Creator, stranger))
	_, err = f.service.JoinCircle(ctx, &JoinRequest{CircleID: c.Config.ID, UserID: stranger})
	assert.NoError(t, err)
}

func TestInviteMemberOnlyCreator(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	ctx := context.Background()

	req := createRequest(uuid.New())
	req.Visibility = "private"
	c := mustCreate(t, f, req)

	err := f.service.InviteMember(ctx, c.Config.ID, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, pkgerrors.ErrNotCreator)
}

func TestStartCircleManually(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	creator := c.Config.Creator

	// 3 of 5 members is 60%, exactly at quorum
	for i := 0; i < 2; i++ {
		_, err := f.service.JoinCircle(ctx, &JoinRequest{CircleID: c.Config.ID, UserID: uuid.New()})
		require.NoError(t, err)
	}

	err := f.service.StartCircle(ctx, c.Config.ID, uuid.New())
	assert.ErrorIs(t, err, pkgerrors.ErrNotCreator)

	// ultimatum not elapsed yet
	err = f.service.StartCircle(ctx, c.Config.ID, creator)
	assert.ErrorIs(t, err, pkgerrors.ErrCircleNotStalled)

	f.advance(7*24*time.Hour + time.Minute)
	require.NoError(t, f.service.StartCircle(ctx, c.Config.ID, creator))

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CircleStateActive, got.Status.State)
	// rounds lock to the members actually present
	assert.Equal(t, 3, got.Status.TotalRounds)
}

func TestStartCircleBelowQuorum(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	f.advance(8 * 24 * time.Hour)

	// 2 of 5 members is 40%, below the 60% threshold
	_, err := f.service.JoinCircle(ctx, &JoinRequest{CircleID: c.Config.ID, UserID: uuid.New()})
	require.NoError(t, err)

	err = f.service.StartCircle(ctx, c.Config.ID, c.Config.Creator)
	assert.ErrorIs(t, err, pkgerrors.ErrBelowThreshold)
}

func TestSetVisibilityOnce(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	creator := c.Config.Creator

	err := f.service.SetVisibility(ctx, c.Config.ID, uuid.New(), domain.VisibilityPrivate)
	assert.ErrorIs(t, err, pkgerrors.ErrNotCreator)

	require.NoError(t, f.service.SetVisibility(ctx, c.Config.ID, creator, domain.VisibilityPrivate))
	assert.Equal(t, money.Amount(5_000), f.treasury.Balance())

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPrivate, got.Config.Visibility)

	// the flip is one-shot
	err = f.service.SetVisibility(ctx, c.Config.ID, creator, domain.VisibilityPublic)
	assert.ErrorIs(t, err, pkgerrors.ErrVisibilityChanged)
}

func TestSetVisibilitySameValueRejected(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	creator := c.Config.Creator

	err := f.service.SetVisibility(ctx, c.Config.ID, creator, domain.VisibilityPublic)
	assert.ErrorIs(t, err, pkgerrors.ErrVisibilityUnchanged)
	assert.Equal(t, money.Amount(0), f.treasury.Balance())

	// the no-op attempt does not consume the one-shot flip
	require.NoError(t, f.service.SetVisibility(ctx, c.Config.ID, creator, domain.VisibilityPrivate))
}

// failingStore serves reads from the wrapped store but refuses to persist.
type failingStore struct {
	*memory.Store
}

func (s *failingStore) Save(ctx context.Context, c *domain.Circle) error {
	return assert.AnError
}

func TestVisibilityFeeDroppedWhenSaveFails(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))

	broken := NewService(
		&failingStore{f.store},
		f.transfer,
		f.reputation,
		yield.NewAdapter(nil, logger.NewNop()),
		memory.NewInviteStore(),
		f.treasury,
		testEngineConfig(),
		func() time.Time { return f.now },
		logger.NewNop(),
	)

	err := broken.SetVisibility(ctx, c.Config.ID, c.Config.Creator, domain.VisibilityPrivate)
	assert.Error(t, err)

	// the fee accrues only alongside the state it was charged for
	assert.Equal(t, money.Amount(0), f.treasury.Balance())
	got, getErr := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.VisibilityPublic, got.Config.Visibility)
}

func TestGetCircleNotFound(t *testing.T) {
	f := newFixture(false)
	_, err := f.service.GetCircle(context.Background(), 404)
	assert.ErrorIs(t, err, pkgerrors.ErrCircleNotFound)
}
