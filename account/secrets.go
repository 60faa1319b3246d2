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

package account

import (
	"errors"
	"math/big"
	"strings"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// ErrInvalidSeed is returned when the supplied seed is absent or malformed;
// never retried, since retrying with the same input cannot succeed
var ErrInvalidSeed = errors.New("invalid account seed")

// domain separators for deposit vs spend derivation branches
var derivationNullifierBranch = big.NewInt(0)
var derivationSecretBranch = big.NewInt(1)

// DepositSecrets is the secret material for a fresh deposit at a given scope and index
type DepositSecrets struct {
	Nullifier     *big.Int
	Secret        *big.Int
	Precommitment *big.Int
}

// SpendSecrets is the secret material for the next commitment in a position's chain
type SpendSecrets struct {
	Nullifier *big.Int
	Secret    *big.Int
}

// seedElement maps the raw seed onto a field element; the seed itself never
// leaves process memory and is never serialized by this package
func seedElement(seed string) (*big.Int, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, ErrInvalidSeed
	}

	return poseidon.HashBytes([]byte(seed))
}

// DeriveDepositSecrets derives the (nullifier, secret, precommitment) triple
// for a deposit. It is a pure function of (seed, scope, index): identical
// inputs always yield identical outputs across sessions and platforms, and
// outputs for distinct scopes or indices never collide under poseidon's
// collision resistance. index must be the monotonic per-scope deposit counter.
func DeriveDepositSecrets(seed string, scope *big.Int, index uint64) (*DepositSecrets, error) {
	master, err := seedElement(seed)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return nil, ErrInvalidSeed
	}

	idx := new(big.Int).SetUint64(index)

	nullifier, err := poseidon.Hash([]*big.Int{master, scope, idx, derivationNullifierBranch})
	if err != nil {
		return nil, err
	}

	secret, err := poseidon.Hash([]*big.Int{master, scope, idx, derivationSecretBranch})
	if err != nil {
		return nil, err
	}

	precommitment, err := poseidon.Hash([]*big.Int{nullifier, secret})
	if err != nil {
		return nil, err
	}

	return &DepositSecrets{
		Nullifier:     nullifier,
		Secret:        secret,
		Precommitment: precommitment,
	}, nil
}

// DeriveSpendSecrets derives the secrets for the next commitment in the chain
// rooted at the given commitment: the change output of a withdrawal, or the
// placeholder for a full ragequit. Deterministic in (seed, commitment).
func DeriveSpendSecrets(seed string, commitment *Commitment) (*SpendSecrets, error) {
	master, err := seedElement(seed)
	if err != nil {
		return nil, err
	}
	if commitment == nil || commitment.Label == nil || commitment.Hash == nil {
		return nil, ErrInvalidSeed
	}

	nullifier, err := poseidon.Hash([]*big.Int{master, commitment.Label, commitment.Hash, derivationNullifierBranch})
	if err != nil {
		return nil, err
	}

	secret, err := poseidon.Hash([]*big.Int{master, commitment.Label, commitment.Hash, derivationSecretBranch})
	if err != nil {
		return nil, err
	}

	return &SpendSecrets{
		Nullifier: nullifier,
		Secret:    secret,
	}, nil
}
