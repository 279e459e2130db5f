package collateral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/money"
)

func TestRequired(t *testing.T) {
	// 100 * 5 members * 1.01 = 505
	required, err := Required(100, 5, 100)
	assert.NoError(t, err)
	assert.Equal(t, money.Amount(505), required)
}

func TestRequiredTruncates(t *testing.T) {
	// 33 * 3 * 1.01 = 99.99, integer math keeps 99
	required, err := Required(33, 3, 100)
	assert.NoError(t, err)
	assert.Equal(t, money.Amount(99), required)
}

func TestRequiredOverflow(t *testing.T) {
	_, err := Required(math.MaxInt64/2, 3, 100)
	assert.ErrorIs(t, err, pkgerrors.ErrArithmeticOverflow)

	// exposure fits but the bps scaling does not
	_, err = Required(math.MaxInt64/4, 2, 100)
	assert.ErrorIs(t, err, pkgerrors.ErrArithmeticOverflow)
}

func TestLateFee(t *testing.T) {
	fee, err := LateFee(10_000, 100)
	assert.NoError(t, err)
	assert.Equal(t, money.Amount(100), fee)

	// small contributions can carry a zero fee
	fee, err = LateFee(99, 100)
	assert.NoError(t, err)
	assert.Equal(t, money.Amount(0), fee)
}
