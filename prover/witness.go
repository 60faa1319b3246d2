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

package prover

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/fatlabsxyz/privacy-pools-client/account"
	"github.com/fatlabsxyz/privacy-pools-client/common"
	"github.com/fatlabsxyz/privacy-pools-client/store/merkle"
)

var (
	// ErrMissingLeaves a required leaf set is empty or the target leaf is not
	// yet present; recoverable once the provider catches up with the chain
	ErrMissingLeaves = errors.New("merkle leaves missing or unavailable")
	// ErrAmountExceedsBalance the requested withdrawal exceeds the position balance
	ErrAmountExceedsBalance = errors.New("withdrawal amount exceeds position balance")
)

// MerkleProofInput is an inclusion proof padded to a fixed tree depth, the
// shape the proving backend consumes
type MerkleProofInput struct {
	Root     *big.Int   `json:"root"`
	Leaf     *big.Int   `json:"leaf"`
	Index    uint64     `json:"index"`
	Siblings []*big.Int `json:"siblings"`
}

// WithdrawalProofInput is the complete witness for a withdrawal proof
type WithdrawalProofInput struct {
	WithdrawalAmount *big.Int `json:"withdrawal_amount"`

	StateProof *MerkleProofInput `json:"state_proof"`
	ASPProof   *MerkleProofInput `json:"asp_proof"`

	StateRoot      *big.Int `json:"state_root"`
	StateTreeDepth int      `json:"state_tree_depth"`
	ASPRoot        *big.Int `json:"asp_root"`
	ASPTreeDepth   int      `json:"asp_tree_depth"`

	Context *big.Int `json:"context"`

	// existing commitment being spent
	ExistingValue      *big.Int `json:"-"`
	ExistingNullifier  *big.Int `json:"-"`
	ExistingSecret     *big.Int `json:"-"`
	SpentNullifierHash *big.Int `json:"spent_nullifier_hash"`

	// freshly derived secrets for the change commitment
	NewNullifier *big.Int `json:"-"`
	NewSecret    *big.Int `json:"-"`

	Label *big.Int `json:"label"`
}

// RagequitInput is the witness for a commitment ownership (ragequit) proof
type RagequitInput struct {
	Value     *big.Int `json:"value"`
	Label     *big.Int `json:"label"`
	Nullifier *big.Int `json:"-"`
	Secret    *big.Int `json:"-"`
}

// SpendDeriver yields next-generation spend secrets for a commitment;
// satisfied by account.Session
type SpendDeriver interface {
	CreateSpendSecrets(commitment *account.Commitment) (*account.SpendSecrets, error)
}

// BuildWithdrawalWitness assembles the witness for withdrawing amount from the
// position's last commitment. Performs no I/O; leaf sets and relay parameters
// are the caller's to supply. Computed fresh per attempt, never cached, so a
// refreshed fee quote always yields a new context.
func BuildWithdrawalWitness(deriver SpendDeriver, position *account.PoolAccount, amount *big.Int, stateLeaves, aspLeaves []*big.Int, request *account.WithdrawRequest) (*WithdrawalProofInput, error) {
	if position == nil || amount == nil || request == nil {
		return nil, fmt.Errorf("withdrawal witness requires a position, amount and withdraw request")
	}
	if position.Ragequit != nil {
		return nil, account.ErrAlreadyExited
	}
	if amount.Sign() <= 0 || amount.Cmp(position.Balance()) > 0 {
		return nil, fmt.Errorf("%w; requested %s of %s", ErrAmountExceedsBalance, amount, position.Balance())
	}
	if len(stateLeaves) == 0 || len(aspLeaves) == 0 {
		return nil, fmt.Errorf("%w; state and association set leaves are both required", ErrMissingLeaves)
	}

	last := position.LastCommitment()
	depth := common.MerkleTreeDepth

	stateProof, err := proveInclusion(stateLeaves, last.Hash, depth)
	if err != nil {
		return nil, fmt.Errorf("%w; commitment %s not present in state tree; %s", ErrMissingLeaves, last.Hash, err.Error())
	}

	aspProof, err := proveInclusion(aspLeaves, position.Label, depth)
	if err != nil {
		return nil, fmt.Errorf("%w; label %s not present in association set; %s", ErrMissingLeaves, position.Label, err.Error())
	}

	spend, err := deriver.CreateSpendSecrets(last)
	if err != nil {
		return nil, err
	}

	spentNullifierHash, err := account.NullifierHash(last.Nullifier)
	if err != nil {
		return nil, err
	}

	withdrawalContext, err := account.Context(request, position.Scope)
	if err != nil {
		return nil, err
	}

	return &WithdrawalProofInput{
		WithdrawalAmount:   new(big.Int).Set(amount),
		StateProof:         stateProof,
		ASPProof:           aspProof,
		StateRoot:          stateProof.Root,
		StateTreeDepth:     depth,
		ASPRoot:            aspProof.Root,
		ASPTreeDepth:       depth,
		Context:            withdrawalContext,
		ExistingValue:      new(big.Int).Set(last.Value),
		ExistingNullifier:  new(big.Int).Set(last.Nullifier),
		ExistingSecret:     new(big.Int).Set(last.Secret),
		SpentNullifierHash: spentNullifierHash,
		NewNullifier:       spend.Nullifier,
		NewSecret:          spend.Secret,
		Label:              new(big.Int).Set(position.Label),
	}, nil
}

// BuildRagequitWitness packages the last commitment's preimage for a
// commitment ownership proof; value and label are revealed on exit
func BuildRagequitWitness(position *account.PoolAccount) (*RagequitInput, error) {
	if position == nil {
		return nil, fmt.Errorf("ragequit witness requires a position")
	}
	if position.Ragequit != nil {
		return nil, account.ErrAlreadyExited
	}

	last := position.LastCommitment()
	return &RagequitInput{
		Value:     new(big.Int).Set(last.Value),
		Label:     new(big.Int).Set(last.Label),
		Nullifier: new(big.Int).Set(last.Nullifier),
		Secret:    new(big.Int).Set(last.Secret),
	}, nil
}

// proveInclusion builds an inclusion proof over the given leaves and pads its
// sibling path with zeros to the fixed circuit depth
func proveInclusion(leaves []*big.Int, leaf *big.Int, depth int) (*MerkleProofInput, error) {
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return nil, err
	}

	proof, err := tree.ProofFor(leaf)
	if err != nil {
		return nil, err
	}

	siblings := make([]*big.Int, depth)
	for i := 0; i < depth; i++ {
		if i < len(proof.Siblings) {
			siblings[i] = proof.Siblings[i]
		} else {
			siblings[i] = big.NewInt(0)
		}
	}

	return &MerkleProofInput{
		Root:     proof.Root,
		Leaf:     proof.Leaf,
		Index:    proof.Index,
		Siblings: siblings,
	}, nil
}

// WitnessInputs flattens the withdrawal witness into the named-input map the
// gnark witness factory consumes
func (w *WithdrawalProofInput) WitnessInputs() map[string]interface{} {
	remaining := new(big.Int).Sub(w.ExistingValue, w.WithdrawalAmount)

	inputs := map[string]interface{}{
		"StateSiblings_count": strconv.Itoa(len(w.StateProof.Siblings)),
		"StateHelpers_count":  strconv.Itoa(len(w.StateProof.Siblings)),
		"ASPSiblings_count":   strconv.Itoa(len(w.ASPProof.Siblings)),
		"ASPHelpers_count":    strconv.Itoa(len(w.ASPProof.Siblings)),

		"Nullifier": w.ExistingNullifier.String(),
		"Secret":    w.ExistingSecret.String(),
		"Label":     w.Label.String(),

		"SpentValue":     w.ExistingValue.String(),
		"RemainingValue": remaining.String(),

		"StateRoot":      w.StateRoot.String(),
		"ASPRoot":        w.ASPRoot.String(),
		"WithdrawnValue": w.WithdrawalAmount.String(),
		"Context":        w.Context.String(),
		"SpentNullifier": w.SpentNullifierHash.String(),
	}

	packProofPath(inputs, "StateSiblings", "StateHelpers", w.StateProof)
	packProofPath(inputs, "ASPSiblings", "ASPHelpers", w.ASPProof)

	return inputs
}

// WitnessInputs flattens the ragequit witness into named inputs for the
// commitment circuit
func (r *RagequitInput) WitnessInputs() (map[string]interface{}, error) {
	hash, err := account.CommitmentHash(r.Value, r.Label, r.Nullifier, r.Secret)
	if err != nil {
		return nil, err
	}
	nullifierHash, err := account.NullifierHash(r.Nullifier)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"Nullifier":     r.Nullifier.String(),
		"Secret":        r.Secret.String(),
		"Value":         r.Value.String(),
		"Label":         r.Label.String(),
		"Commitment":    hash.String(),
		"NullifierHash": nullifierHash.String(),
	}, nil
}

// packProofPath writes a proof's sibling path and direction helpers into the
// input map using indexed field names. Padding levels carry a zero sibling
// and a zero direction bit; the circuit passes the running node through
// unchanged at those levels, so the fixed-depth path recombines to the same
// root the lean tree produced.
func packProofPath(inputs map[string]interface{}, siblingField, helperField string, proof *MerkleProofInput) {
	for i, sibling := range proof.Siblings {
		inputs[fmt.Sprintf("%s[%d]", siblingField, i)] = sibling.String()
		inputs[fmt.Sprintf("%s[%d]", helperField, i)] = strconv.FormatUint((proof.Index>>uint(i))&1, 10)
	}
}
