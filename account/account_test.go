package account

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatlabsxyz/privacy-pools-client/common"
	"github.com/fatlabsxyz/privacy-pools-client/events"
)

func testChains(pools ...*common.PoolDescriptor) map[string]*common.ChainDescriptor {
	return map[string]*common.ChainDescriptor{
		"11155111": {
			ChainID: "11155111",
			Name:    "sepolia",
			RPCURL:  "http://localhost:8545",
			Pools:   pools,
		},
	}
}

func TestNewSessionInvalidSeed(t *testing.T) {
	_, err := NewSession("", testChains(), newFakeSource())
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestSessionLoadAndCounters(t *testing.T) {
	source := newFakeSource()
	pool := testPool("0xpool", 7)

	source.addDeposit(t, pool, "test-seed", 0, big.NewInt(100), big.NewInt(1000), 10, "0xd0")
	source.addDeposit(t, pool, "test-seed", 1, big.NewInt(101), big.NewInt(2000), 15, "0xd1")

	session, err := NewSession("test-seed", testChains(pool), source)
	require.NoError(t, err)
	defer session.Close()

	positions, err := session.Load(context.Background(), "11155111")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	// the next deposit index continues after the replayed ones
	assert.Equal(t, uint64(2), session.NextDepositIndex("11155111", pool.Scope))

	secrets, index, err := session.CreateDepositSecrets("11155111", pool.Scope)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	// an abandoned attempt does not burn the index
	assert.Equal(t, uint64(2), session.NextDepositIndex("11155111", pool.Scope))

	_, err = session.AddPoolAccount("11155111", pool.Scope, big.NewInt(500), secrets.Nullifier, secrets.Secret, big.NewInt(102), 20, "0xd2")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), session.NextDepositIndex("11155111", pool.Scope))
}

func TestSessionAddPoolAccountDuplicateLabel(t *testing.T) {
	source := newFakeSource()
	pool := testPool("0xpool", 7)

	session, err := NewSession("test-seed", testChains(pool), source)
	require.NoError(t, err)
	defer session.Close()

	secrets, _, err := session.CreateDepositSecrets("11155111", pool.Scope)
	require.NoError(t, err)

	_, err = session.AddPoolAccount("11155111", pool.Scope, big.NewInt(500), secrets.Nullifier, secrets.Secret, big.NewInt(102), 20, "0xd0")
	require.NoError(t, err)

	_, err = session.AddPoolAccount("11155111", pool.Scope, big.NewInt(700), secrets.Nullifier, secrets.Secret, big.NewInt(102), 21, "0xd1")
	assert.ErrorIs(t, err, ErrDuplicateLabel)
}

func TestSessionAddWithdrawalUnknownParent(t *testing.T) {
	source := newFakeSource()
	pool := testPool("0xpool", 7)

	session, err := NewSession("test-seed", testChains(pool), source)
	require.NoError(t, err)
	defer session.Close()

	orphan, err := NewCommitment(big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), 1, "0xnone")
	require.NoError(t, err)

	_, err = session.AddWithdrawal(orphan, big.NewInt(0), big.NewInt(5), big.NewInt(6), 2, "0xw")
	assert.ErrorIs(t, err, ErrUnknownParent)
}

func TestSessionLoadCoalesces(t *testing.T) {
	source := newFakeSource()
	pool := testPool("0xpool", 7)
	source.addDeposit(t, pool, "test-seed", 0, big.NewInt(100), big.NewInt(1000), 10, "0xd0")

	source.entered = make(chan struct{}, 4)
	source.gate = make(chan struct{})

	session, err := NewSession("test-seed", testChains(pool), source)
	require.NoError(t, err)
	defer session.Close()

	var wg sync.WaitGroup
	results := make(chan int, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		positions, err := session.Load(context.Background(), "11155111")
		require.NoError(t, err)
		results <- len(positions)
	}()

	// wait for the first load to reach the event source, then pile on
	<-source.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		positions, err := session.Load(context.Background(), "11155111")
		require.NoError(t, err)
		results <- len(positions)
	}()

	close(source.gate)
	wg.Wait()
	close(results)

	for count := range results {
		assert.Equal(t, 1, count)
	}

	source.mutex.Lock()
	defer source.mutex.Unlock()
	assert.Equal(t, 1, source.depositCalls, "coalesced loads must share one replay")
}

func TestSessionLoadRunsPerChain(t *testing.T) {
	source := newFakeSource()
	poolA := testPool("0xpoolA", 7)
	poolB := &common.PoolDescriptor{
		ChainID:         "17000",
		Address:         "0xpoolB",
		EntryPoint:      "0xentrypoint",
		AssetSymbol:     "ETH",
		DeploymentBlock: 1,
		Scope:           big.NewInt(8),
	}

	source.addDeposit(t, poolA, "test-seed", 0, big.NewInt(100), big.NewInt(1000), 10, "0xa0")
	source.addDeposit(t, poolB, "test-seed", 0, big.NewInt(200), big.NewInt(5000), 11, "0xb0")

	source.entered = make(chan struct{}, 4)
	source.gate = make(chan struct{})

	chains := testChains(poolA)
	chains["17000"] = &common.ChainDescriptor{
		ChainID: "17000",
		Name:    "holesky",
		RPCURL:  "http://localhost:8546",
		Pools:   []*common.PoolDescriptor{poolB},
	}

	session, err := NewSession("test-seed", chains, source)
	require.NoError(t, err)
	defer session.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		positions, err := session.Load(context.Background(), "11155111")
		require.NoError(t, err)
		assert.Len(t, positions, 1)
	}()

	// park the first chain's replay at the event source
	<-source.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		positions, err := session.Load(context.Background(), "17000")
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.Equal(t, "5000", positions[0].Balance().String())
	}()

	// the second replay reaching the source proves a Load for a different
	// chain never rides along on the in-flight one; coalescing there would
	// hand back positions that chain has never replayed
	<-source.entered

	close(source.gate)
	wg.Wait()

	source.mutex.Lock()
	defer source.mutex.Unlock()
	assert.Equal(t, 2, source.depositCalls, "each chain performs its own replay")
}

func TestSessionReloadPreservesASPStatus(t *testing.T) {
	source := newFakeSource()
	pool := testPool("0xpool", 7)
	source.addDeposit(t, pool, "test-seed", 0, big.NewInt(100), big.NewInt(1000), 10, "0xd0")

	session, err := NewSession("test-seed", testChains(pool), source)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Load(context.Background(), "11155111")
	require.NoError(t, err)

	err = session.Reconcile(context.Background(), "11155111", &fakeReviewProvider{
		state: &ReviewState{ASPLeaves: []*big.Int{big.NewInt(100)}},
	})
	require.NoError(t, err)

	positions := session.Positions("11155111")
	require.Len(t, positions, 1)
	require.Equal(t, ReviewStatusApproved, positions[0].ReviewStatus())

	// a reload replaces the index; approval must not flicker back to pending
	_, err = session.Load(context.Background(), "11155111")
	require.NoError(t, err)

	positions = session.Positions("11155111")
	require.Len(t, positions, 1)
	assert.Equal(t, ReviewStatusApproved, positions[0].ReviewStatus())
}

func TestSessionLoadPreservesStalePoolOnFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises retry backoff")
	}

	source := newFakeSource()
	poolA := testPool("0xpoolA", 7)
	poolB := testPool("0xpoolB", 8)

	source.addDeposit(t, poolA, "test-seed", 0, big.NewInt(100), big.NewInt(1000), 10, "0xa0")
	source.addDeposit(t, poolB, "test-seed", 0, big.NewInt(200), big.NewInt(5000), 11, "0xb0")

	session, err := NewSession("test-seed", testChains(poolA, poolB), source)
	require.NoError(t, err)
	defer session.Close()

	positions, err := session.Load(context.Background(), "11155111")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	// pool B's RPC goes dark; its previous positions must survive the reload
	source.mutex.Lock()
	source.failingPools[poolB.Address] = true
	source.mutex.Unlock()

	positions, err = session.Load(context.Background(), "11155111")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	preserved := session.SelectByChainScope("11155111", poolB.Scope)
	require.Len(t, preserved, 1)
	assert.Equal(t, "5000", preserved[0].Balance().String())
}

type fakeReviewProvider struct {
	state *ReviewState
}

func (f *fakeReviewProvider) GetReviewState(ctx context.Context, chainID string, scope *big.Int) (*ReviewState, error) {
	return f.state, nil
}

func TestSessionReconcileStatuses(t *testing.T) {
	source := newFakeSource()
	pool := testPool("0xpool", 7)
	source.addDeposit(t, pool, "test-seed", 0, big.NewInt(100), big.NewInt(1000), 10, "0xd0")

	session, err := NewSession("test-seed", testChains(pool), source)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Load(context.Background(), "11155111")
	require.NoError(t, err)

	provider := &fakeReviewProvider{state: &ReviewState{
		Statuses: map[string]ReviewStatus{"100": ReviewStatusApproved},
	}}
	require.NoError(t, session.Reconcile(context.Background(), "11155111", provider))

	positions := session.Positions("11155111")
	require.Len(t, positions, 1)
	assert.Equal(t, ReviewStatusApproved, positions[0].ReviewStatus())

	// a provider reporting pending later must not regress the position
	provider.state = &ReviewState{Statuses: map[string]ReviewStatus{"100": ReviewStatusPending}}
	require.NoError(t, session.Reconcile(context.Background(), "11155111", provider))

	positions = session.Positions("11155111")
	assert.Equal(t, ReviewStatusApproved, positions[0].ReviewStatus())
}

func TestSessionClose(t *testing.T) {
	source := newFakeSource()
	pool := testPool("0xpool", 7)

	session, err := NewSession("test-seed", testChains(pool), source)
	require.NoError(t, err)

	session.Close()

	_, err = session.Load(context.Background(), "11155111")
	assert.Error(t, err)

	_, _, err = session.CreateDepositSecrets("11155111", pool.Scope)
	assert.Error(t, err)
}

var _ events.Source = (*fakeSource)(nil)
