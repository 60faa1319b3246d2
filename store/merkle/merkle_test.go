package merkle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLeaves(n int64) []*big.Int {
	leaves := make([]*big.Int, n)
	for i := int64(0); i < n; i++ {
		leaf, _ := poseidon.Hash([]*big.Int{big.NewInt(i + 1)})
		leaves[i] = leaf
	}
	return leaves
}

func TestProofRoundTrip(t *testing.T) {
	for _, n := range []int64{1, 2, 3, 4, 5, 7, 8, 16, 33} {
		leaves := testLeaves(n)
		tree, err := NewTree(leaves)
		require.NoError(t, err)

		for _, leaf := range leaves {
			proof, err := tree.ProofFor(leaf)
			require.NoError(t, err)

			ok, err := VerifyProof(proof)
			require.NoError(t, err)
			assert.True(t, ok, "proof for leaf %s in %d-leaf tree did not recombine to root", leaf, n)
		}
	}
}

func TestLeafNotFound(t *testing.T) {
	tree, err := NewTree(testLeaves(8))
	require.NoError(t, err)

	_, err = tree.ProofFor(big.NewInt(424242))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLeafNotFound))

	_, err = tree.IndexOf(big.NewInt(424242))
	assert.True(t, errors.Is(err, ErrLeafNotFound))
}

func TestEmptyTree(t *testing.T) {
	tree, err := NewTree(nil)
	require.NoError(t, err)

	_, err = tree.Root()
	assert.True(t, errors.Is(err, ErrEmptyTree))

	_, err = tree.ProofFor(big.NewInt(1))
	assert.True(t, errors.Is(err, ErrEmptyTree))
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	leaves := testLeaves(1)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	root, err := tree.Root()
	require.NoError(t, err)
	assert.Zero(t, root.Cmp(leaves[0]))

	proof, err := tree.ProofFor(leaves[0])
	require.NoError(t, err)
	assert.Empty(t, proof.Siblings)
	assert.Zero(t, proof.Root.Cmp(leaves[0]))
}

func TestRootDependsOnLeafOrdering(t *testing.T) {
	leaves := testLeaves(4)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	reordered := []*big.Int{leaves[1], leaves[0], leaves[2], leaves[3]}
	other, err := NewTree(reordered)
	require.NoError(t, err)

	root, _ := tree.Root()
	otherRoot, _ := other.Root()
	assert.NotZero(t, root.Cmp(otherRoot), "reordering leaves must change the root")
}

func TestDeterministicRoot(t *testing.T) {
	leaves := testLeaves(9)

	a, err := NewTree(leaves)
	require.NoError(t, err)
	b, err := NewTree(leaves)
	require.NoError(t, err)

	rootA, _ := a.Root()
	rootB, _ := b.Root()
	assert.Zero(t, rootA.Cmp(rootB))
}

func TestOddFrontierPropagation(t *testing.T) {
	// with 3 leaves the third propagates up unpaired; its proof must still verify
	leaves := testLeaves(3)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	proof, err := tree.ProofFor(leaves[2])
	require.NoError(t, err)
	assert.Len(t, proof.Siblings, 1)

	ok, err := VerifyProof(proof)
	require.NoError(t, err)
	assert.True(t, ok)
}
