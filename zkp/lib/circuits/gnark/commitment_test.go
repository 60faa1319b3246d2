package gnark

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/test"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/stretchr/testify/require"
)

// the off-circuit hashes are iden3 poseidon digests; the circuit must accept
// exactly those values
func TestCommitmentCircuitAcceptsPoseidonPreimage(t *testing.T) {
	nullifier := big.NewInt(31337)
	secret := big.NewInt(271828)
	value := big.NewInt(1000)
	label := big.NewInt(42)

	precommitment, err := poseidon.Hash([]*big.Int{nullifier, secret})
	require.NoError(t, err)
	commitment, err := poseidon.Hash([]*big.Int{value, label, precommitment})
	require.NoError(t, err)
	nullifierHash, err := poseidon.Hash([]*big.Int{nullifier})
	require.NoError(t, err)

	assignment := &CommitmentCircuit{
		Nullifier:     nullifier,
		Secret:        secret,
		Value:         value,
		Label:         label,
		Commitment:    commitment,
		NullifierHash: nullifierHash,
	}

	assert := test.NewAssert(t)
	assert.SolvingSucceeded(&CommitmentCircuit{}, assignment, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestCommitmentCircuitRejectsWrongNullifierHash(t *testing.T) {
	nullifier := big.NewInt(31337)
	secret := big.NewInt(271828)
	value := big.NewInt(1000)
	label := big.NewInt(42)

	precommitment, err := poseidon.Hash([]*big.Int{nullifier, secret})
	require.NoError(t, err)
	commitment, err := poseidon.Hash([]*big.Int{value, label, precommitment})
	require.NoError(t, err)

	assignment := &CommitmentCircuit{
		Nullifier:     nullifier,
		Secret:        secret,
		Value:         value,
		Label:         label,
		Commitment:    commitment,
		NullifierHash: big.NewInt(1),
	}

	assert := test.NewAssert(t)
	assert.SolvingFailed(&CommitmentCircuit{}, assignment, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}
