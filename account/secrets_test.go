package account

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveDepositSecretsDeterminism(t *testing.T) {
	scope := big.NewInt(7)

	first, err := DeriveDepositSecrets("test-seed", scope, 0)
	require.NoError(t, err)
	second, err := DeriveDepositSecrets("test-seed", scope, 0)
	require.NoError(t, err)

	assert.Zero(t, first.Nullifier.Cmp(second.Nullifier))
	assert.Zero(t, first.Secret.Cmp(second.Secret))
	assert.Zero(t, first.Precommitment.Cmp(second.Precommitment))
}

func TestDeriveDepositSecretsNoCollision(t *testing.T) {
	scope := big.NewInt(7)
	otherScope := big.NewInt(8)

	seen := map[string]bool{}
	for index := uint64(0); index < 8; index++ {
		secrets, err := DeriveDepositSecrets("test-seed", scope, index)
		require.NoError(t, err)

		key := secrets.Precommitment.String()
		assert.False(t, seen[key], "index %d collided", index)
		seen[key] = true
	}

	same, err := DeriveDepositSecrets("test-seed", scope, 0)
	require.NoError(t, err)
	other, err := DeriveDepositSecrets("test-seed", otherScope, 0)
	require.NoError(t, err)
	assert.NotZero(t, same.Precommitment.Cmp(other.Precommitment))

	otherSeed, err := DeriveDepositSecrets("another-seed", scope, 0)
	require.NoError(t, err)
	assert.NotZero(t, same.Precommitment.Cmp(otherSeed.Precommitment))
}

func TestDeriveDepositSecretsInvalidSeed(t *testing.T) {
	_, err := DeriveDepositSecrets("", big.NewInt(7), 0)
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = DeriveDepositSecrets("   ", big.NewInt(7), 0)
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestDeriveSpendSecretsDeterminism(t *testing.T) {
	deposit, err := DeriveDepositSecrets("test-seed", big.NewInt(7), 0)
	require.NoError(t, err)

	commitment, err := NewCommitment(big.NewInt(1000), big.NewInt(42), deposit.Nullifier, deposit.Secret, 1, "0xabc")
	require.NoError(t, err)

	first, err := DeriveSpendSecrets("test-seed", commitment)
	require.NoError(t, err)
	second, err := DeriveSpendSecrets("test-seed", commitment)
	require.NoError(t, err)

	assert.Zero(t, first.Nullifier.Cmp(second.Nullifier))
	assert.Zero(t, first.Secret.Cmp(second.Secret))

	// spend secrets must not collide with the deposit generation
	assert.NotZero(t, first.Nullifier.Cmp(deposit.Nullifier))
}

func TestCommitmentHashBinding(t *testing.T) {
	hash, err := CommitmentHash(big.NewInt(1000), big.NewInt(42), big.NewInt(3), big.NewInt(4))
	require.NoError(t, err)

	differentValue, err := CommitmentHash(big.NewInt(1001), big.NewInt(42), big.NewInt(3), big.NewInt(4))
	require.NoError(t, err)
	assert.NotZero(t, hash.Cmp(differentValue))

	differentSecret, err := CommitmentHash(big.NewInt(1000), big.NewInt(42), big.NewInt(3), big.NewInt(5))
	require.NoError(t, err)
	assert.NotZero(t, hash.Cmp(differentSecret))
}
