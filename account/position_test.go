package account

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatlabsxyz/privacy-pools-client/events"
)

func newTestPosition(t *testing.T, value int64) *PoolAccount {
	t.Helper()

	secrets, err := DeriveDepositSecrets("test-seed", big.NewInt(7), 0)
	require.NoError(t, err)

	deposit, err := NewCommitment(big.NewInt(value), big.NewInt(42), secrets.Nullifier, secrets.Secret, 100, "0xdeposit")
	require.NoError(t, err)

	position, err := NewPoolAccount("11155111", big.NewInt(7), 0, deposit)
	require.NoError(t, err)
	return position
}

func withdrawFrom(t *testing.T, position *PoolAccount, amount int64, txHash string) *Commitment {
	t.Helper()

	parent := position.LastCommitment()
	remaining := new(big.Int).Sub(parent.Value, big.NewInt(amount))

	spend, err := DeriveSpendSecrets("test-seed", parent)
	require.NoError(t, err)

	child, err := NewCommitment(remaining, position.Label, spend.Nullifier, spend.Secret, parent.BlockNumber+10, txHash)
	require.NoError(t, err)

	require.NoError(t, position.AppendWithdrawal(parent, child))
	return child
}

func TestPositionLifecycle(t *testing.T) {
	position := newTestPosition(t, 1000000000000000000)
	assert.Equal(t, "1000000000000000000", position.Balance().String())
	assert.Equal(t, ReviewStatusPending, position.ReviewStatus())

	withdrawFrom(t, position, 400000000000000000, "0xwithdrawal")
	assert.Equal(t, "600000000000000000", position.Balance().String())
	assert.Equal(t, "600000000000000000", position.LastCommitment().Value.String())

	err := position.AppendRagequit(&events.RagequitEvent{
		Label:       position.Label,
		Value:       big.NewInt(600000000000000000),
		BlockNumber: 120,
		TxHash:      "0xragequit",
	})
	require.NoError(t, err)

	assert.Zero(t, position.Balance().Sign())
	assert.Equal(t, ReviewStatusExited, position.ReviewStatus())

	parent := position.LastCommitment()
	err = position.AppendWithdrawal(parent, parent)
	assert.ErrorIs(t, err, ErrAlreadyExited)
}

func TestAppendWithdrawalUnknownParent(t *testing.T) {
	position := newTestPosition(t, 1000)
	withdrawFrom(t, position, 400, "0xfirst")

	// the deposit is no longer the frontier commitment
	stale := position.Deposit
	spend, err := DeriveSpendSecrets("test-seed", stale)
	require.NoError(t, err)
	child, err := NewCommitment(big.NewInt(100), position.Label, spend.Nullifier, spend.Secret, 130, "0xstale")
	require.NoError(t, err)

	err = position.AppendWithdrawal(stale, child)
	assert.ErrorIs(t, err, ErrUnknownParent)
	assert.Len(t, position.Children, 1)
}

func TestAppendWithdrawalValueExceedsParent(t *testing.T) {
	position := newTestPosition(t, 1000)

	parent := position.LastCommitment()
	spend, err := DeriveSpendSecrets("test-seed", parent)
	require.NoError(t, err)
	child, err := NewCommitment(big.NewInt(1001), position.Label, spend.Nullifier, spend.Secret, 110, "0xbad")
	require.NoError(t, err)

	err = position.AppendWithdrawal(parent, child)
	assert.ErrorIs(t, err, ErrValueExceedsParent)
	assert.Empty(t, position.Children)
}

func TestAppendRagequitIdempotence(t *testing.T) {
	position := newTestPosition(t, 1000)

	event := &events.RagequitEvent{Label: position.Label, Value: big.NewInt(1000), BlockNumber: 110, TxHash: "0xragequit"}
	require.NoError(t, position.AppendRagequit(event))
	require.NoError(t, position.AppendRagequit(event))

	conflicting := &events.RagequitEvent{Label: position.Label, Value: big.NewInt(1000), BlockNumber: 111, TxHash: "0xother"}
	err := position.AppendRagequit(conflicting)
	assert.ErrorIs(t, err, ErrConflictingRagequit)
}

func TestReviewStatusMonotonicity(t *testing.T) {
	position := newTestPosition(t, 1000)

	position.SetASPStatus(ReviewStatusApproved)
	assert.Equal(t, ReviewStatusApproved, position.ReviewStatus())
	assert.True(t, position.IsValid)

	// an ASP lagging behind must not regress an approved position
	position.SetASPStatus(ReviewStatusPending)
	assert.Equal(t, ReviewStatusApproved, position.ReviewStatus())

	withdrawFrom(t, position, 1000, "0xfull")
	assert.Equal(t, ReviewStatusSpent, position.ReviewStatus())

	// terminal states always win over provider-reported approval
	position.SetASPStatus(ReviewStatusApproved)
	assert.Equal(t, ReviewStatusSpent, position.ReviewStatus())
}

func TestHistoryAmounts(t *testing.T) {
	position := newTestPosition(t, 1000)
	withdrawFrom(t, position, 400, "0xfirst")
	withdrawFrom(t, position, 100, "0xsecond")

	entries := position.History()
	require.Len(t, entries, 3)

	assert.Equal(t, EventTypeDeposit, entries[0].Type)
	assert.Equal(t, "1000", entries[0].Amount.String())

	assert.Equal(t, EventTypeWithdrawal, entries[1].Type)
	assert.Equal(t, "400", entries[1].Amount.String())

	assert.Equal(t, EventTypeWithdrawal, entries[2].Type)
	assert.Equal(t, "100", entries[2].Amount.String())
}
