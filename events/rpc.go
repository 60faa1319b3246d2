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
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fatlabsxyz/privacy-pools-client/common"
)

// pool contract log signatures; indexed params allow server-side filtering by
// nullifier hash and label
var (
	depositedTopic = crypto.Keccak256Hash([]byte("Deposited(address,uint256,uint256,uint256,uint256)"))
	withdrawnTopic = crypto.Keccak256Hash([]byte("Withdrawn(address,uint256,uint256,uint256)"))
	ragequitTopic  = crypto.Keccak256Hash([]byte("Ragequit(address,uint256,uint256,uint256)"))

	scopeSelector = crypto.Keccak256([]byte("SCOPE()"))[:4]
)

// RPCSource reads pool events over chain RPC endpoints; one lazily dialed
// client per configured chain. All queries are idempotent reads.
type RPCSource struct {
	chains map[string]*common.ChainDescriptor

	mutex   sync.Mutex
	clients map[string]*ethclient.Client
}

// NewRPCSource creates an event source over the given chain descriptors
func NewRPCSource(chains map[string]*common.ChainDescriptor) *RPCSource {
	return &RPCSource{
		chains:  chains,
		clients: map[string]*ethclient.Client{},
	}
}

func (s *RPCSource) client(chainID string) (*ethclient.Client, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if client, dialed := s.clients[chainID]; dialed {
		return client, nil
	}

	chain, exists := s.chains[chainID]
	if !exists {
		return nil, fmt.Errorf("no rpc endpoint configured for chain %s", chainID)
	}

	client, err := ethclient.Dial(chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint for chain %s; %s", chainID, err.Error())
	}

	s.clients[chainID] = client
	return client, nil
}

func (s *RPCSource) filterLogs(ctx context.Context, pool *common.PoolDescriptor, topics [][]ethcommon.Hash) ([]types.Log, error) {
	client, err := s.client(pool.ChainID)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(pool.DeploymentBlock),
		Addresses: []ethcommon.Address{ethcommon.HexToAddress(pool.Address)},
		Topics:    topics,
	}

	return client.FilterLogs(ctx, query)
}

// GetDepositEvents returns every Deposited log emitted by the pool since deployment
func (s *RPCSource) GetDepositEvents(ctx context.Context, pool *common.PoolDescriptor) ([]*DepositEvent, error) {
	logs, err := s.filterLogs(ctx, pool, [][]ethcommon.Hash{{depositedTopic}})
	if err != nil {
		return nil, err
	}

	deposits := make([]*DepositEvent, 0, len(logs))
	for _, log := range logs {
		words, err := dataWords(log.Data, 4)
		if err != nil {
			return nil, fmt.Errorf("malformed Deposited log in tx %s; %s", log.TxHash, err.Error())
		}

		// data layout: commitment, label, value, precommitment
		deposits = append(deposits, &DepositEvent{
			Label:         words[1],
			Value:         words[2],
			Precommitment: words[3],
			BlockNumber:   log.BlockNumber,
			TxHash:        log.TxHash.Hex(),
		})
	}

	return deposits, nil
}

// GetWithdrawalEvents returns Withdrawn logs spending the given nullifier hash
func (s *RPCSource) GetWithdrawalEvents(ctx context.Context, pool *common.PoolDescriptor, nullifierHash *big.Int) ([]*WithdrawalEvent, error) {
	logs, err := s.filterLogs(ctx, pool, [][]ethcommon.Hash{
		{withdrawnTopic},
		nil,
		{ethcommon.BigToHash(nullifierHash)},
	})
	if err != nil {
		return nil, err
	}

	withdrawals := make([]*WithdrawalEvent, 0, len(logs))
	for _, log := range logs {
		words, err := dataWords(log.Data, 2)
		if err != nil {
			return nil, fmt.Errorf("malformed Withdrawn log in tx %s; %s", log.TxHash, err.Error())
		}

		// data layout: newCommitment, withdrawnValue
		withdrawals = append(withdrawals, &WithdrawalEvent{
			SpentNullifierHash: new(big.Int).Set(nullifierHash),
			NewCommitmentHash:  words[0],
			WithdrawnValue:     words[1],
			BlockNumber:        log.BlockNumber,
			TxHash:             log.TxHash.Hex(),
		})
	}

	return withdrawals, nil
}

// GetRagequitEvents returns Ragequit logs for the given label
func (s *RPCSource) GetRagequitEvents(ctx context.Context, pool *common.PoolDescriptor, label *big.Int) ([]*RagequitEvent, error) {
	logs, err := s.filterLogs(ctx, pool, [][]ethcommon.Hash{
		{ragequitTopic},
		nil,
		{ethcommon.BigToHash(label)},
	})
	if err != nil {
		return nil, err
	}

	ragequits := make([]*RagequitEvent, 0, len(logs))
	for _, log := range logs {
		words, err := dataWords(log.Data, 2)
		if err != nil {
			return nil, fmt.Errorf("malformed Ragequit log in tx %s; %s", log.TxHash, err.Error())
		}

		ragequitter := ""
		if len(log.Topics) > 1 {
			ragequitter = ethcommon.BytesToAddress(log.Topics[1].Bytes()).Hex()
		}

		// data layout: commitment, value
		ragequits = append(ragequits, &RagequitEvent{
			Ragequitter: ragequitter,
			Commitment:  words[0],
			Value:       words[1],
			Label:       new(big.Int).Set(label),
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash.Hex(),
		})
	}

	return ragequits, nil
}

// GetBlockTimestamp resolves a block's timestamp
func (s *RPCSource) GetBlockTimestamp(ctx context.Context, pool *common.PoolDescriptor, blockNumber uint64) (uint64, error) {
	client, err := s.client(pool.ChainID)
	if err != nil {
		return 0, err
	}

	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, err
	}

	return header.Time, nil
}

// GetScope reads the pool contract's scope value
func (s *RPCSource) GetScope(ctx context.Context, pool *common.PoolDescriptor) (*big.Int, error) {
	client, err := s.client(pool.ChainID)
	if err != nil {
		return nil, err
	}

	address := ethcommon.HexToAddress(pool.Address)
	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &address,
		Data: scopeSelector,
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(result) != 32 {
		return nil, fmt.Errorf("unexpected SCOPE() response length %d from pool %s", len(result), pool.Address)
	}

	return new(big.Int).SetBytes(result), nil
}

func dataWords(data []byte, count int) ([]*big.Int, error) {
	if len(data) < count*32 {
		return nil, fmt.Errorf("expected %d data words, got %d bytes", count, len(data))
	}

	words := make([]*big.Int, count)
	for i := 0; i < count; i++ {
		words[i] = new(big.Int).SetBytes(data[i*32 : (i+1)*32])
	}
	return words, nil
}
