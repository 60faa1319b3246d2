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

package events

import (
	"context"
	"math/big"
	"time"

	"github.com/fatlabsxyz/privacy-pools-client/common"
)

// DepositEvent mirrors a pool Deposited log
type DepositEvent struct {
	Precommitment *big.Int `json:"precommitment"`
	Label         *big.Int `json:"label"`
	Value         *big.Int `json:"value"`
	BlockNumber   uint64   `json:"block_number"`
	TxHash        string   `json:"tx_hash"`
}

// WithdrawalEvent mirrors a pool Withdrawn log; SpentNullifierHash identifies
// the commitment consumed and NewCommitmentHash the change commitment inserted
type WithdrawalEvent struct {
	SpentNullifierHash *big.Int `json:"spent_nullifier_hash"`
	NewCommitmentHash  *big.Int `json:"new_commitment_hash"`
	WithdrawnValue     *big.Int `json:"withdrawn_value"`
	BlockNumber        uint64   `json:"block_number"`
	TxHash             string   `json:"tx_hash"`
}

// RagequitEvent mirrors a pool Ragequit log; terminal for the labeled position
type RagequitEvent struct {
	Ragequitter string   `json:"ragequitter"`
	Commitment  *big.Int `json:"commitment"`
	Label       *big.Int `json:"label"`
	Value       *big.Int `json:"value"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	Timestamp   uint64   `json:"timestamp"`
}

// Source exposes idempotent, re-queryable reads of pool events; implementations
// wrap the chain RPC transport and are supplied by the surrounding infrastructure
type Source interface {
	GetDepositEvents(ctx context.Context, pool *common.PoolDescriptor) ([]*DepositEvent, error)
	GetWithdrawalEvents(ctx context.Context, pool *common.PoolDescriptor, nullifierHash *big.Int) ([]*WithdrawalEvent, error)
	GetRagequitEvents(ctx context.Context, pool *common.PoolDescriptor, label *big.Int) ([]*RagequitEvent, error)
	GetBlockTimestamp(ctx context.Context, pool *common.PoolDescriptor, blockNumber uint64) (uint64, error)
	GetScope(ctx context.Context, pool *common.PoolDescriptor) (*big.Int, error)
}

const defaultMaxRetries = 3
const defaultRetryBackoff = time.Second * 1
const defaultQueryTimeout = time.Second * 30

// RetryingSource decorates a Source with bounded exponential backoff and a
// hard per-query timeout; a timed-out query fails without blocking others
type RetryingSource struct {
	source Source

	maxRetries   int
	retryBackoff time.Duration
	queryTimeout time.Duration
}

// NewRetryingSource wraps the given source with default retry policy
func NewRetryingSource(source Source) *RetryingSource {
	return &RetryingSource{
		source:       source,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
		queryTimeout: defaultQueryTimeout,
	}
}

func retryQuery[T any](ctx context.Context, r *RetryingSource, query func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var err error

	backoff := r.retryBackoff
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			common.Log.Debugf("retrying event source query; attempt %d of %d", attempt, r.maxRetries)
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		queryCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
		result, err = query(queryCtx)
		cancel()
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	common.Log.Warningf("event source query failed after %d retries; %s", r.maxRetries, err.Error())
	return result, err
}

// GetDepositEvents retries the underlying query with bounded backoff
func (r *RetryingSource) GetDepositEvents(ctx context.Context, pool *common.PoolDescriptor) ([]*DepositEvent, error) {
	return retryQuery(ctx, r, func(ctx context.Context) ([]*DepositEvent, error) {
		return r.source.GetDepositEvents(ctx, pool)
	})
}

// GetWithdrawalEvents retries the underlying query with bounded backoff
func (r *RetryingSource) GetWithdrawalEvents(ctx context.Context, pool *common.PoolDescriptor, nullifierHash *big.Int) ([]*WithdrawalEvent, error) {
	return retryQuery(ctx, r, func(ctx context.Context) ([]*WithdrawalEvent, error) {
		return r.source.GetWithdrawalEvents(ctx, pool, nullifierHash)
	})
}

// GetRagequitEvents retries the underlying query with bounded backoff
func (r *RetryingSource) GetRagequitEvents(ctx context.Context, pool *common.PoolDescriptor, label *big.Int) ([]*RagequitEvent, error) {
	return retryQuery(ctx, r, func(ctx context.Context) ([]*RagequitEvent, error) {
		return r.source.GetRagequitEvents(ctx, pool, label)
	})
}

// GetBlockTimestamp retries the underlying query with bounded backoff
func (r *RetryingSource) GetBlockTimestamp(ctx context.Context, pool *common.PoolDescriptor, blockNumber uint64) (uint64, error) {
	return retryQuery(ctx, r, func(ctx context.Context) (uint64, error) {
		return r.source.GetBlockTimestamp(ctx, pool, blockNumber)
	})
}

// GetScope retries the underlying query with bounded backoff
func (r *RetryingSource) GetScope(ctx context.Context, pool *common.PoolDescriptor) (*big.Int, error) {
	return retryQuery(ctx, r, func(ctx context.Context) (*big.Int, error) {
		return r.source.GetScope(ctx, pool)
	})
}
