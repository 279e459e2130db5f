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
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/money"
)

func TestContributeAccumulatesPot(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	users := mustFill(t, f, c)

	require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: users[1]}))
	require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: users[2]}))

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(200), got.Status.PotBalance)
	assert.Equal(t, 2, got.Status.ContributionsThisRound)
	assert.Equal(t, money.Amount(100), got.MemberByUser(users[1]).TotalContributed)
}

func TestContributeTwiceRejected(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	users := mustFill(t, f, c)

	require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: users[1]}))
	err := f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: users[1]})
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadyContributed)
}

func TestContributeOutsiderRejected(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	mustFill(t, f, c)

	err := f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: uuid.New()})
	assert.ErrorIs(t, err, pkgerrors.ErrNotAMember)
}

func TestContributeBeforeStartRejected(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))

	err := f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: c.Config.Creator})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidCircleState)
}

func TestRoundPaysOutCreatorWithoutFee(t *testing.T) {
	f := newFixture(false)
	f.allowReputation()
	ctx := context.Background()

	creator := uuid.New()
	f.transfer.On("TransferIn", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	// round 1 goes to the creator: full pot of 500, no platform fee
	f.transfer.On("TransferOut", ctx, creator, money.Amount(500)).Return(nil)

	c := mustCreate(t, f, createRequest(creator))
	users := mustFill(t, f, c)

	for _, u := range users {
		require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: u}))
	}

	f.transfer.AssertExpectations(t)
	assert.Equal(t, money.Amount(0), f.treasury.Balance())

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Status.CurrentRound)
	assert.Equal(t, 0, got.Status.ContributionsThisRound)
	assert.Equal(t, money.Amount(0), got.Status.PotBalance)
	assert.True(t, got.MemberByUser(creator).PayoutReceived)
}

func TestRoundPayoutChargesPercentFee(t *testing.T) {
	f := newFixture(false)
	f.allowReputation()
	ctx := context.Background()

	creator := uuid.New()
	f.transfer.On("TransferIn", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.transfer.On("TransferOut", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	c := mustCreate(t, f, createRequest(creator))
	users := mustFill(t, f, c)

	// round 1: creator, fee-free
	for _, u := range users {
		require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: u}))
	}
	// round 2: a regular member, 1% of 500 = 5
	for _, u := range users {
		require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: u}))
	}

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	recipient := got.MemberAtPosition(2)
	require.NotNil(t, recipient)

	f.transfer.AssertCalled(t, "TransferOut", ctx, recipient.UserID, money.Amount(495))
	assert.Equal(t, money.Amount(5), f.treasury.Balance())
}

func TestPayoutFeeTiers(t *testing.T) {
	f := newFixture(false)

	// at or below the threshold: percentage
	fee, err := f.service.payoutFee(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(10_000), fee)

	fee, err = f.service.payoutFee(505)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(5), fee)

	// above the threshold: flat
	fee, err = f.service.payoutFee(5_000_000)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(10_000), fee)
}

func TestCircleCompletesAfterFinalRound(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	req := createRequest(uuid.New())
	req.MaxMembers = 2
	c := mustCreate(t, f, req)
	users := mustFill(t, f, c)

	for round := 0; round < 2; round++ {
		for _, u := range users {
			require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: u}))
		}
	}

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CircleStateCompleted, got.Status.State)
	for _, m := range got.Members {
		assert.False(t, m.Active)
		assert.Equal(t, money.Amount(0), m.CollateralLocked)
	}

	// completed circles accept nothing further
	err = f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: users[0]})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidCircleState)
}

func TestContributeAfterGraceSelfForfeits(t *testing.T) {
	f := newFixture(false)
	f.allowTransfers()
	f.allowReputation()
	ctx := context.Background()

	c := mustCreate(t, f, createRequest(uuid.New()))
	users := mustFill(t, f, c)

	// past deadline (7d) plus grace (48h)
	f.advance(10 * 24 * time.Hour)

	require.NoError(t, f.service.Contribute(ctx, &ContributeRequest{CircleID: c.Config.ID, UserID: users[2]}))

	got, err := f.store.Get(ctx, c.Config.ID)
	require.NoError(t, err)
	m := got.MemberByUser(users[2])
	// contribution 100 + late fee 1 came out of collateral, not a transfer
	assert.Equal(t, money.Amount(505-101), m.CollateralLocked)
	assert.Equal(t, money.Amount(100), got.Status.PotBalance)
	assert.True(t, got.IsSettled(1, users[2]))
	f.transfer.AssertNotCalled(t, "TransferIn", ctx, users[2], money.Amount(100))
}
