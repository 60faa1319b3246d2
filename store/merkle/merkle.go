/*
 * Copyright 2025-2026 Fat Solutions
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package merkle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// ErrLeafNotFound is returned when a proof is requested for a leaf that is not in the tree;
// callers must treat this as fatal for the proof attempt rather than defaulting the index
var ErrLeafNotFound = errors.New("target leaf not found in tree")

// ErrEmptyTree is returned when a proof is requested against a tree with no leaves
var ErrEmptyTree = errors.New("tree has no leaves")

// Proof is an inclusion proof against the tree root; Siblings is ordered
// leaf-to-root and Index encodes the left/right position of the proven node
// at each level a sibling exists (bit k set means the node was the right child
// when Siblings[k] was absorbed)
type Proof struct {
	Root     *big.Int
	Leaf     *big.Int
	Index    uint64
	Siblings []*big.Int
}

// Tree is a lean incremental Merkle tree over ordered field-element leaves.
// Node pairing uses poseidon(left, right); a node without a right sibling is
// propagated to the next level unchanged, so the tree never pads with zero
// leaves and its root depends on the exact leaf ordering supplied.
type Tree struct {
	levels [][]*big.Int
	index  map[string]int

	mutex sync.RWMutex
}

// NewTree builds a tree over the given leaves; leaf ordering is a protocol
// invariant and must match the ordering used by the on-chain/ASP tree builder
func NewTree(leaves []*big.Int) (*Tree, error) {
	tree := &Tree{
		levels: make([][]*big.Int, 1),
		index:  map[string]int{},
	}

	tree.levels[0] = make([]*big.Int, len(leaves))
	for i, leaf := range leaves {
		if leaf == nil {
			return nil, fmt.Errorf("nil leaf at index %d", i)
		}
		tree.levels[0][i] = new(big.Int).Set(leaf)

		key := leaf.String()
		if _, exists := tree.index[key]; !exists {
			tree.index[key] = i
		}
	}

	err := tree.recalculate()
	if err != nil {
		return nil, err
	}

	return tree, nil
}

func (tree *Tree) recalculate() error {
	level := tree.levels[0]
	tree.levels = tree.levels[:1]

	for len(level) > 1 {
		next := make([]*big.Int, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				parent, err := poseidon.Hash([]*big.Int{level[i], level[i+1]})
				if err != nil {
					return err
				}
				next = append(next, parent)
			} else {
				next = append(next, level[i])
			}
		}
		tree.levels = append(tree.levels, next)
		level = next
	}

	return nil
}

// Root returns the current tree root
func (tree *Tree) Root() (*big.Int, error) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()

	if len(tree.levels[0]) == 0 {
		return nil, ErrEmptyTree
	}

	top := tree.levels[len(tree.levels)-1]
	return new(big.Int).Set(top[0]), nil
}

// Size returns the number of leaves
func (tree *Tree) Size() int {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return len(tree.levels[0])
}

// Depth returns the number of levels above the leaves
func (tree *Tree) Depth() int {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return len(tree.levels) - 1
}

// IndexOf resolves the leaf index for the given value
func (tree *Tree) IndexOf(leaf *big.Int) (int, error) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()

	i, exists := tree.index[leaf.String()]
	if !exists {
		return 0, ErrLeafNotFound
	}
	return i, nil
}

// ProofFor builds an inclusion proof for the given leaf value, surfacing
// ErrLeafNotFound when the leaf is absent rather than proving index 0
func (tree *Tree) ProofFor(leaf *big.Int) (*Proof, error) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()

	if len(tree.levels[0]) == 0 {
		return nil, ErrEmptyTree
	}

	idx, exists := tree.index[leaf.String()]
	if !exists {
		return nil, ErrLeafNotFound
	}

	proof := &Proof{
		Leaf:     new(big.Int).Set(leaf),
		Siblings: []*big.Int{},
	}

	bit := uint(0)
	i := idx
	for level := 0; level < len(tree.levels)-1; level++ {
		sibling := i ^ 1
		if sibling < len(tree.levels[level]) {
			proof.Siblings = append(proof.Siblings, new(big.Int).Set(tree.levels[level][sibling]))
			proof.Index |= uint64(i&1) << bit
			bit++
		}
		i >>= 1
	}

	top := tree.levels[len(tree.levels)-1]
	proof.Root = new(big.Int).Set(top[0])

	return proof, nil
}

// VerifyProof recombines the leaf with the sibling path and reports whether
// the reconstructed root matches the proof root
func VerifyProof(proof *Proof) (bool, error) {
	if proof == nil || proof.Root == nil || proof.Leaf == nil {
		return false, fmt.Errorf("malformed proof")
	}

	node := new(big.Int).Set(proof.Leaf)
	for k, sibling := range proof.Siblings {
		var err error
		if proof.Index>>uint(k)&1 == 1 {
			node, err = poseidon.Hash([]*big.Int{sibling, node})
		} else {
			node, err = poseidon.Hash([]*big.Int{node, sibling})
		}
		if err != nil {
			return false, err
		}
	}

	return node.Cmp(proof.Root) == 0, nil
}
