package gnark

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/stretchr/testify/require"

	"github.com/fatlabsxyz/privacy-pools-client/store/merkle"
)

const testTreeDepth = 4

// paddedPath builds an inclusion path over the given leaves and zero-pads it
// to the fixed circuit depth, the same shape the witness assembler produces
func paddedPath(t *testing.T, leaves []*big.Int, leaf *big.Int) (*big.Int, []frontend.Variable, []frontend.Variable) {
	t.Helper()

	tree, err := merkle.NewTree(leaves)
	require.NoError(t, err)
	proof, err := tree.ProofFor(leaf)
	require.NoError(t, err)

	siblings := make([]frontend.Variable, testTreeDepth)
	helpers := make([]frontend.Variable, testTreeDepth)
	for i := 0; i < testTreeDepth; i++ {
		if i < len(proof.Siblings) {
			siblings[i] = proof.Siblings[i]
		} else {
			siblings[i] = 0
		}
		helpers[i] = (proof.Index >> uint(i)) & 1
	}

	return proof.Root, siblings, helpers
}

func withdrawalAssignment(t *testing.T) *WithdrawalCircuit {
	t.Helper()

	nullifier := big.NewInt(31337)
	secret := big.NewInt(271828)
	label := big.NewInt(42)
	spentValue := big.NewInt(1000)
	withdrawnValue := big.NewInt(400)
	remainingValue := big.NewInt(600)

	precommitment, err := poseidon.Hash([]*big.Int{nullifier, secret})
	require.NoError(t, err)
	commitment, err := poseidon.Hash([]*big.Int{spentValue, label, precommitment})
	require.NoError(t, err)
	nullifierHash, err := poseidon.Hash([]*big.Int{nullifier})
	require.NoError(t, err)

	// three leaves per tree; the padded path carries real siblings below and
	// zero siblings above the lean tree's actual height
	stateRoot, stateSiblings, stateHelpers := paddedPath(t, []*big.Int{big.NewInt(111), commitment, big.NewInt(333)}, commitment)
	aspRoot, aspSiblings, aspHelpers := paddedPath(t, []*big.Int{big.NewInt(41), label, big.NewInt(43)}, label)

	return &WithdrawalCircuit{
		Nullifier:      nullifier,
		Secret:         secret,
		Label:          label,
		SpentValue:     spentValue,
		RemainingValue: remainingValue,
		StateSiblings:  stateSiblings,
		StateHelpers:   stateHelpers,
		ASPSiblings:    aspSiblings,
		ASPHelpers:     aspHelpers,
		StateRoot:      stateRoot,
		ASPRoot:        aspRoot,
		WithdrawnValue: withdrawnValue,
		Context:        big.NewInt(777),
		SpentNullifier: nullifierHash,
	}
}

func withdrawalCircuitTemplate() *WithdrawalCircuit {
	return &WithdrawalCircuit{
		StateSiblings: make([]frontend.Variable, testTreeDepth),
		StateHelpers:  make([]frontend.Variable, testTreeDepth),
		ASPSiblings:   make([]frontend.Variable, testTreeDepth),
		ASPHelpers:    make([]frontend.Variable, testTreeDepth),
	}
}

// the circuit must recombine the zero-padded lean paths to the same poseidon
// roots the off-circuit tree produced
func TestWithdrawalCircuitAcceptsLeanTreePaths(t *testing.T) {
	assignment := withdrawalAssignment(t)

	assert := test.NewAssert(t)
	assert.SolvingSucceeded(withdrawalCircuitTemplate(), assignment, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestWithdrawalCircuitRejectsValueImbalance(t *testing.T) {
	assignment := withdrawalAssignment(t)
	assignment.WithdrawnValue = big.NewInt(500)

	assert := test.NewAssert(t)
	assert.SolvingFailed(withdrawalCircuitTemplate(), assignment, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestWithdrawalCircuitRejectsForeignStateRoot(t *testing.T) {
	assignment := withdrawalAssignment(t)
	assignment.StateRoot = big.NewInt(999)

	assert := test.NewAssert(t)
	assert.SolvingFailed(withdrawalCircuitTemplate(), assignment, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}
