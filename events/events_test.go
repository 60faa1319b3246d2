package events

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatlabsxyz/privacy-pools-client/common"
)

// flakySource fails a fixed number of times before succeeding
type flakySource struct {
	failures int
	calls    int

	deposits []*DepositEvent
}

func (f *flakySource) tick() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient rpc failure")
	}
	return nil
}

func (f *flakySource) GetDepositEvents(ctx context.Context, pool *common.PoolDescriptor) ([]*DepositEvent, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	return f.deposits, nil
}

func (f *flakySource) GetWithdrawalEvents(ctx context.Context, pool *common.PoolDescriptor, nullifierHash *big.Int) ([]*WithdrawalEvent, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakySource) GetRagequitEvents(ctx context.Context, pool *common.PoolDescriptor, label *big.Int) ([]*RagequitEvent, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakySource) GetBlockTimestamp(ctx context.Context, pool *common.PoolDescriptor, blockNumber uint64) (uint64, error) {
	if err := f.tick(); err != nil {
		return 0, err
	}
	return 1700000000, nil
}

func (f *flakySource) GetScope(ctx context.Context, pool *common.PoolDescriptor) (*big.Int, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	return big.NewInt(7), nil
}

func testRetryingSource(source Source) *RetryingSource {
	return &RetryingSource{
		source:       source,
		maxRetries:   3,
		retryBackoff: time.Millisecond,
		queryTimeout: time.Second,
	}
}

func TestRetryingSourceRecovers(t *testing.T) {
	flaky := &flakySource{failures: 2}
	source := testRetryingSource(flaky)

	scope, err := source.GetScope(context.Background(), &common.PoolDescriptor{})
	require.NoError(t, err)
	assert.Equal(t, "7", scope.String())
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingSourceGivesUp(t *testing.T) {
	flaky := &flakySource{failures: 100}
	source := testRetryingSource(flaky)

	_, err := source.GetScope(context.Background(), &common.PoolDescriptor{})
	require.Error(t, err)
	assert.Equal(t, 4, flaky.calls) // initial attempt plus three retries
}

func TestRetryingSourceHonorsContext(t *testing.T) {
	flaky := &flakySource{failures: 100}
	source := &RetryingSource{
		source:       flaky,
		maxRetries:   10,
		retryBackoff: time.Minute,
		queryTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()

	_, err := source.GetScope(ctx, &common.PoolDescriptor{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, flaky.calls)
}

func TestWaiterObservesLateDeposit(t *testing.T) {
	deposit := &DepositEvent{
		Precommitment: big.NewInt(12345),
		Label:         big.NewInt(1),
		Value:         big.NewInt(1000),
	}

	// the first two polls fail before the event becomes visible
	flaky := &flakySource{failures: 2, deposits: []*DepositEvent{deposit}}
	waiter := &Waiter{source: flaky, attempts: 5, interval: time.Millisecond}

	observed, err := waiter.WaitForDeposit(context.Background(), &common.PoolDescriptor{}, big.NewInt(12345))
	require.NoError(t, err)
	assert.Zero(t, observed.Precommitment.Cmp(big.NewInt(12345)))
}

func TestWaiterGivesUp(t *testing.T) {
	waiter := &Waiter{source: &flakySource{}, attempts: 3, interval: time.Millisecond}

	_, err := waiter.WaitForDeposit(context.Background(), &common.PoolDescriptor{}, big.NewInt(999))
	require.Error(t, err)
}
