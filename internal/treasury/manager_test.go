package treasury

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"circlepot/pkg/money"
)

func TestAccrueAndBalance(t *testing.T) {
	m := NewManager()

	m.Accrue(1, 100, ReasonPayoutFee)
	m.Accrue(2, 50, ReasonLateFee)
	m.Accrue(1, 25, ReasonDissolutionFee)

	assert.Equal(t, money.Amount(175), m.Balance())
	assert.Len(t, m.Entries(0), 3)
	assert.Len(t, m.Entries(1), 2)
	assert.Len(t, m.Entries(2), 1)
	assert.Equal(t, ReasonLateFee, m.Entries(2)[0].Reason)
}

func TestAccrueIgnoresNonPositive(t *testing.T) {
	m := NewManager()

	m.Accrue(1, 0, ReasonPayoutFee)
	m.Accrue(1, -5, ReasonPayoutFee)

	assert.Equal(t, money.Amount(0), m.Balance())
	assert.Empty(t, m.Entries(0))
}

func TestAccrueConcurrent(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Accrue(1, 10, ReasonLateFee)
		}()
	}
	wg.Wait()

	assert.Equal(t, money.Amount(500), m.Balance())
	assert.Len(t, m.Entries(1), 50)
}
