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
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/fatlabsxyz/privacy-pools-client/common"
	"github.com/fatlabsxyz/privacy-pools-client/events"
)

// Replayer reconstructs the complete position history for a seed by replaying
// on-chain deposit/withdrawal/ragequit events against derived secrets
type Replayer struct {
	source events.Source
}

// NewReplayer returns a replayer reading from the given event source
func NewReplayer(source events.Source) *Replayer {
	return &Replayer{source: source}
}

// ReplayResult groups reconstructed positions by chain-scope partition key;
// pools whose queries failed after retries appear in Failed instead, so the
// caller can preserve its previous state for them rather than showing an
// empty balance
type ReplayResult struct {
	Accounts map[string][]*PoolAccount
	Failed   map[string]error
}

type poolReplay struct {
	key      string
	accounts []*PoolAccount
	err      error
}

// Replay reconstructs every position belonging to the seed across the given
// pool descriptors. Pool queries fan out concurrently (read-only); each
// descriptor must carry a resolved scope. The returned structure is the
// caller's to persist or display; Replay itself has no side effects.
func (r *Replayer) Replay(ctx context.Context, seed string, pools []*common.PoolDescriptor) (*ReplayResult, error) {
	if _, err := seedElement(seed); err != nil {
		return nil, err
	}

	result := &ReplayResult{
		Accounts: map[string][]*PoolAccount{},
		Failed:   map[string]error{},
	}

	results := make(chan *poolReplay, len(pools))
	var wg sync.WaitGroup

	for _, pool := range pools {
		wg.Add(1)
		go func(pool *common.PoolDescriptor) {
			defer wg.Done()

			key := common.ChainScopeKey(pool.ChainID, pool.Scope)
			accounts, err := r.replayPool(ctx, seed, pool)
			results <- &poolReplay{key: key, accounts: accounts, err: err}
		}(pool)
	}

	wg.Wait()
	close(results)

	for replay := range results {
		if replay.err != nil {
			common.Log.Warningf("replay failed for pool %s; previous state preserved; %s", replay.key, replay.err.Error())
			result.Failed[replay.key] = replay.err
			continue
		}
		result.Accounts[replay.key] = replay.accounts
	}

	return result, nil
}

// replayPool reconstructs the positions for a single pool descriptor
func (r *Replayer) replayPool(ctx context.Context, seed string, pool *common.PoolDescriptor) ([]*PoolAccount, error) {
	if pool.Scope == nil {
		return nil, fmt.Errorf("pool descriptor %s on chain %s has no resolved scope", pool.Address, pool.ChainID)
	}

	deposits, err := r.source.GetDepositEvents(ctx, pool)
	if err != nil {
		return nil, err
	}

	byPrecommitment := make(map[string]*events.DepositEvent, len(deposits))
	for _, deposit := range deposits {
		byPrecommitment[deposit.Precommitment.String()] = deposit
	}

	accounts := []*PoolAccount{}

	// derive deposit secrets at increasing indices until no on-chain
	// precommitment matches; the first miss is the end of this seed's
	// deposits for the scope
	for index := uint64(0); ; index++ {
		secrets, err := DeriveDepositSecrets(seed, pool.Scope, index)
		if err != nil {
			return nil, err
		}

		deposit, matched := byPrecommitment[secrets.Precommitment.String()]
		if !matched {
			break
		}

		position, err := r.replayPosition(ctx, seed, pool, index, secrets, deposit)
		if err != nil {
			return nil, err
		}

		accounts = append(accounts, position)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].DepositIndex < accounts[j].DepositIndex
	})
	for i, position := range accounts {
		position.Name = i + 1
	}

	return accounts, nil
}

// replayPosition folds a deposit and its subsequent withdrawals/ragequit into
// a position, advancing the commitment frontier until no matching withdrawal
// remains or a ragequit terminates the chain
func (r *Replayer) replayPosition(ctx context.Context, seed string, pool *common.PoolDescriptor, index uint64, secrets *DepositSecrets, event *events.DepositEvent) (*PoolAccount, error) {
	deposit, err := NewCommitment(event.Value, event.Label, secrets.Nullifier, secrets.Secret, event.BlockNumber, event.TxHash)
	if err != nil {
		return nil, err
	}
	deposit.Timestamp = r.blockTimestamp(ctx, pool, event.BlockNumber)

	position, err := NewPoolAccount(pool.ChainID, pool.Scope, index, deposit)
	if err != nil {
		return nil, err
	}

	current := deposit
	for {
		nullifierHash, err := NullifierHash(current.Nullifier)
		if err != nil {
			return nil, err
		}

		withdrawals, err := r.source.GetWithdrawalEvents(ctx, pool, nullifierHash)
		if err != nil {
			return nil, err
		}
		if len(withdrawals) == 0 {
			break
		}

		sort.Slice(withdrawals, func(i, j int) bool {
			return withdrawals[i].BlockNumber < withdrawals[j].BlockNumber
		})
		if len(withdrawals) > 1 {
			// spending a commitment invalidates it, so a second confirmed
			// withdrawal at the same frontier is chain/client divergence
			return nil, fmt.Errorf("%w; label %s; txs %s and %s", ErrChainDiverged, position.Label, withdrawals[0].TxHash, withdrawals[1].TxHash)
		}

		withdrawal := withdrawals[0]
		remaining := new(big.Int).Sub(current.Value, withdrawal.WithdrawnValue)
		if remaining.Sign() < 0 {
			return nil, fmt.Errorf("%w; label %s; withdrawal %s exceeds commitment value", ErrValueExceedsParent, position.Label, withdrawal.TxHash)
		}

		spend, err := DeriveSpendSecrets(seed, current)
		if err != nil {
			return nil, err
		}

		child, err := NewCommitment(remaining, position.Label, spend.Nullifier, spend.Secret, withdrawal.BlockNumber, withdrawal.TxHash)
		if err != nil {
			return nil, err
		}
		child.Timestamp = r.blockTimestamp(ctx, pool, withdrawal.BlockNumber)

		if withdrawal.NewCommitmentHash != nil && withdrawal.NewCommitmentHash.Cmp(child.Hash) != 0 {
			return nil, fmt.Errorf("%w; label %s; reconstructed commitment does not match on-chain leaf in tx %s", ErrChainDiverged, position.Label, withdrawal.TxHash)
		}

		err = position.AppendWithdrawal(current, child)
		if err != nil {
			return nil, err
		}
		current = child
	}

	ragequits, err := r.source.GetRagequitEvents(ctx, pool, position.Label)
	if err != nil {
		return nil, err
	}
	if len(ragequits) > 0 {
		sort.Slice(ragequits, func(i, j int) bool {
			return ragequits[i].BlockNumber < ragequits[j].BlockNumber
		})

		ragequit := ragequits[0]
		if ragequit.Timestamp == 0 {
			ragequit.Timestamp = r.blockTimestamp(ctx, pool, ragequit.BlockNumber)
		}

		err = position.AppendRagequit(ragequit)
		if err != nil {
			return nil, err
		}
	}

	return position, nil
}

// blockTimestamp resolves a block timestamp, tolerating failure; a zero
// timestamp only degrades display ordering, never balance correctness
func (r *Replayer) blockTimestamp(ctx context.Context, pool *common.PoolDescriptor, blockNumber uint64) uint64 {
	timestamp, err := r.source.GetBlockTimestamp(ctx, pool, blockNumber)
	if err != nil {
		common.Log.Debugf("failed to resolve timestamp for block %d on chain %s; %s", blockNumber, pool.ChainID, err.Error())
		return 0
	}
	return timestamp
}
